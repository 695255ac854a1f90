// Package report renders a finished parity run twice over: a results
// JSON document for machines and an aligned text summary for people.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/corpus"
	"github.com/wavecheck/audparity/coverage"
	"github.com/wavecheck/audparity/errors"
	"github.com/wavecheck/audparity/parity"
	"github.com/wavecheck/audparity/probe"
)

// Report bundles one finished run for rendering. Probes carry the
// rebuilt side's rows; Verdicts is empty in rebuilt-only mode.
type Report struct {
	Timestamp time.Time
	Original  string
	Rebuilt   string
	CorpusDir string
	Files     []corpus.File
	Probes    []probe.Result
	Verdicts  []parity.FileVerdict
	Summary   parity.Summary
	Ledger    *coverage.Ledger
}

// Results is the JSON document written next to a run. Coverage embeds
// the ledger's canonical export verbatim, so two runs with the same
// observations produce byte-identical snapshots.
type Results struct {
	Timestamp time.Time            `json:"timestamp"`
	Original  string               `json:"original,omitempty"`
	Rebuilt   string               `json:"rebuilt"`
	CorpusDir string               `json:"corpus_dir,omitempty"`
	Verdicts  []parity.FileVerdict `json:"verdicts,omitempty"`
	Summary   parity.Summary       `json:"summary"`
	Coverage  json.RawMessage      `json:"coverage,omitempty"`
}

// Results assembles the machine document.
func (r Report) Results() (Results, error) {
	doc := Results{
		Timestamp: r.Timestamp,
		Original:  r.Original,
		Rebuilt:   r.Rebuilt,
		CorpusDir: r.CorpusDir,
		Verdicts:  r.Verdicts,
		Summary:   r.Summary,
	}
	if r.Ledger != nil {
		raw, err := r.Ledger.ExportJSON()
		if err != nil {
			return Results{}, err
		}
		doc.Coverage = json.RawMessage(raw)
	}
	return doc, nil
}

// Stamp formats the timestamp the results file is named after.
func Stamp(ts time.Time) string {
	return ts.UTC().Format("20060102_150405")
}

// WriteJSON writes results_<stamp>.json under dir and returns the
// full path.
func (r Report) WriteJSON(dir string) (string, error) {
	doc, err := r.Results()
	if err != nil {
		return "", err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.PhaseReport, errors.KindInternal, err, "encode results")
	}
	path := filepath.Join(dir, "results_"+Stamp(r.Timestamp)+".json")
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return "", errors.IO(errors.PhaseReport, path, err)
	}
	return path, nil
}

// Render prints the header, the per-file table, verdict totals, and
// coverage percentages.
func (r Report) Render(w io.Writer) error {
	if r.Original != "" {
		fmt.Fprintf(w, "parity: %s vs %s\n", r.Original, r.Rebuilt)
	} else {
		fmt.Fprintf(w, "rebuilt-only: %s\n", r.Rebuilt)
	}
	fmt.Fprintf(w, "run:    %s (%s)\n", r.Timestamp.UTC().Format(time.RFC3339), humanize.Time(r.Timestamp))
	if r.CorpusDir != "" {
		var total int64
		for _, f := range r.Files {
			total += f.Size
		}
		fmt.Fprintf(w, "corpus: %s, %d files, %s\n", r.CorpusDir, len(r.Files), humanize.Bytes(uint64(total)))
	}
	fmt.Fprintln(w)

	byFile := make(map[string]probe.Result, len(r.Probes))
	for _, p := range r.Probes {
		byFile[p.File] = p
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tOPEN\tFILES\tCHANS\tSAMPLES\tVERDICT")
	if len(r.Verdicts) > 0 {
		for _, v := range r.Verdicts {
			row, found := byFile[v.File]
			fmt.Fprintf(tw, "%s\t%s\t%s\n", v.File, probeCells(row, found), verdictCell(v.Verdict))
		}
	} else {
		for _, p := range r.Probes {
			fmt.Fprintf(tw, "%s\t%s\t-\n", p.File, probeCells(p, true))
		}
	}
	if err := tw.Flush(); err != nil {
		return errors.Wrap(errors.PhaseReport, errors.KindIO, err, "render table")
	}

	fmt.Fprintln(w)
	s := r.Summary
	if len(r.Verdicts) > 0 {
		fmt.Fprintf(w, "verdicts: %d match, %d expected divergence, %d mismatch, %d indeterminate (%d rows)\n",
			s.Matches, s.Expected, s.Mismatches, s.Indeterminate, s.Total)
	}
	if r.Ledger != nil {
		snap := r.Ledger.Snapshot()
		parts := make([]string, 0, len(snap.Dimensions))
		for _, d := range snap.Dimensions {
			parts = append(parts, fmt.Sprintf("%s %.1f%%", d.Name, d.Percent))
		}
		fmt.Fprintf(w, "coverage: %s\n", strings.Join(parts, "  "))
		fmt.Fprintf(w, "aggregate: %.1f%%\n", snap.Aggregate)
	}
	return nil
}

// probeCells formats the open/files/chans/samples columns for one row.
// The session pseudo-row and rows with no probe data show dashes.
func probeCells(p probe.Result, found bool) string {
	if !found || p.OpenRet == abi.OpenNotAttempted {
		return "-\t-\t-\t-"
	}
	return strconv.FormatInt(int64(p.OpenRet), 10) + "\t" +
		strconv.FormatUint(uint64(p.FileCount), 10) + "\t" +
		strconv.FormatUint(uint64(p.ChannelCount), 10) + "\t" +
		strconv.FormatUint(uint64(p.SampleCount), 10)
}

func verdictCell(v parity.Verdict) string {
	switch {
	case v.Reason != "":
		return string(v.Class) + " (" + v.Reason + ")"
	case len(v.Fields) > 0:
		return string(v.Class) + " (" + strings.Join(v.Fields, ",") + ")"
	}
	return string(v.Class)
}

// RunLine is one row of the stored-run history listing.
type RunLine struct {
	ID        string
	StartedAt time.Time
	Original  string
	Rebuilt   string
	Passed    int
	Failed    int
	Aggregate float64
}

// RenderRuns lists stored runs with ages, for the non-interactive
// history view.
func RenderRuns(w io.Writer, runs []RunLine) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tWHEN\tORIGINAL\tREBUILT\tPASS\tFAIL\tAGGREGATE")
	for _, r := range runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%.1f%%\n",
			id, humanize.Time(r.StartedAt), r.Original, r.Rebuilt, r.Passed, r.Failed, r.Aggregate)
	}
	return tw.Flush()
}
