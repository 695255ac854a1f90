package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/binding"
	"github.com/wavecheck/audparity/corpus"
	"github.com/wavecheck/audparity/coverage"
	"github.com/wavecheck/audparity/parity"
	"github.com/wavecheck/audparity/probe"
	"github.com/wavecheck/audparity/report"
	"github.com/wavecheck/audparity/store"
)

// callTimeout bounds every module call; a build stuck in a guest loop
// is cut off and recorded as a failure row instead of hanging the run.
const callTimeout = 30 * time.Second

func main() {
	var (
		origFile    = flag.String("orig", "", "Path to the original module build")
		rebuiltFile = flag.String("rebuilt", "", "Path to the rebuilt module build")
		corpusDir   = flag.String("corpus", "corpus", "Corpus directory (generated when missing)")
		dbFile      = flag.String("db", "", "Run database path (default $AUDPARITY_DB or audparity.sqlite3)")
		jsonDir     = flag.String("json", "", "Directory to write the results document into")
		writeProbes = flag.Bool("write", false, "Exercise the put path with a write round trip")
		verbose     = flag.Bool("v", false, "Verbose logging")
		listFile    = flag.String("list", "", "Print a build's capability map and exit")
		interactive = flag.Bool("i", false, "Browse stored runs interactively")
	)
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
			binding.SetLogger(dev)
		}
	}

	if *interactive {
		if err := runInteractive(*dbFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *listFile != "" {
		if err := listEntries(*listFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *rebuiltFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: audparity -rebuilt <file.wasm> [-orig <file.wasm>] [-corpus dir] [-json dir] [-write]")
		fmt.Fprintln(os.Stderr, "       audparity -list <file.wasm>")
		fmt.Fprintln(os.Stderr, "       audparity -i  (browse stored runs)")
		os.Exit(1)
	}

	if err := run(*origFile, *rebuiltFile, *corpusDir, *dbFile, *jsonDir, *writeProbes, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(origFile, rebuiltFile, corpusDir, dbFile, jsonDir string, writeProbes bool, logger *zap.Logger) error {
	ctx := context.Background()
	started := time.Now().UTC()

	man, err := ensureCorpus(ctx, corpusDir)
	if err != nil {
		return err
	}

	battery := probe.Battery{
		Dir:         corpusDir,
		GuestDir:    binding.GuestCorpusDir,
		Files:       man.Files,
		Timeout:     callTimeout,
		WriteProbes: writeProbes,
		Logger:      logger,
	}

	// Baseline side, when a build is given.
	var origRows []probe.Result
	if origFile != "" {
		origRows, err = exercise(ctx, origFile, store.SideOriginal, corpusDir, battery, probe.NewLedger())
		if err != nil {
			return err
		}
	}

	ledger := probe.NewLedger()
	rebuiltRows, err := exercise(ctx, rebuiltFile, store.SideRebuilt, corpusDir, battery, ledger)
	if err != nil {
		return err
	}

	var verdicts []parity.FileVerdict
	var summary parity.Summary
	origLabel := ""
	if origFile != "" {
		origLabel = filepath.Base(origFile)
		verdicts = parity.CompareAll(origRows, rebuiltRows, parity.Policy{})
		summary = parity.Summarize(verdicts)
	}

	rep := report.Report{
		Timestamp: started,
		Original:  origLabel,
		Rebuilt:   filepath.Base(rebuiltFile),
		CorpusDir: corpusDir,
		Files:     man.Files,
		Probes:    rebuiltRows,
		Verdicts:  verdicts,
		Summary:   summary,
		Ledger:    ledger,
	}
	if err := rep.Render(os.Stdout); err != nil {
		return err
	}
	if jsonDir != "" {
		path, err := rep.WriteJSON(jsonDir)
		if err != nil {
			return err
		}
		fmt.Printf("results: %s\n", path)
	}

	if err := persist(ctx, dbFile, rep, origRows); err != nil {
		return err
	}

	if origFile != "" && !summary.Clean() {
		return fmt.Errorf("parity check failed: %d of %d files mismatched", summary.Mismatches, summary.Total)
	}
	return nil
}

// ensureCorpus reuses a directory that already carries a manifest and
// generates the fixture tree otherwise.
func ensureCorpus(ctx context.Context, dir string) (*corpus.Manifest, error) {
	manifestFile := filepath.Join(dir, corpus.ManifestName)
	if man, err := corpus.LoadManifest(manifestFile); err == nil {
		return man, nil
	}
	man, err := corpus.Generate(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("generate corpus: %w", err)
	}
	if err := man.Save(manifestFile); err != nil {
		return nil, err
	}
	return man, nil
}

// exercise loads one build and drives the battery against it.
func exercise(ctx context.Context, path, side, corpusDir string, battery probe.Battery, ledger *coverage.Ledger) ([]probe.Result, error) {
	be, err := binding.Load(ctx, binding.Config{
		Path:      path,
		Label:     side,
		CorpusDir: corpusDir,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s build: %w", side, err)
	}
	defer be.Close(ctx)

	battery.Ledger = ledger
	return probe.Exercise(ctx, binding.NewModule(be), battery)
}

// persist records the finished run with both sides' probe rows.
func persist(ctx context.Context, dbFile string, rep report.Report, origRows []probe.Result) error {
	db, err := store.Open(dbFile)
	if err != nil {
		return err
	}
	defer db.Close()

	run := store.NewRun(rep.Original, rep.Rebuilt, rep.CorpusDir)
	run.StartedAt = rep.Timestamp
	run.FinishedAt = time.Now().UTC()
	run.Aggregate = rep.Ledger.Aggregate()
	run.Passed = rep.Summary.Matches
	run.Failed = rep.Summary.Mismatches
	run.Expected = rep.Summary.Expected
	run.Indeterminate = rep.Summary.Indeterminate

	probes := store.ProbeRows(store.SideRebuilt, rep.Probes)
	if len(origRows) > 0 {
		probes = append(store.ProbeRows(store.SideOriginal, origRows), probes...)
	}
	return db.SaveRun(ctx, run, probes, store.VerdictRows(rep.Verdicts))
}

// listEntries prints which of the canonical exports one build ships.
func listEntries(path string) error {
	ctx := context.Background()

	be, err := binding.Load(ctx, binding.Config{Path: path})
	if err != nil {
		return fmt.Errorf("load build: %w", err)
	}
	defer be.Close(ctx)

	mod := binding.NewModule(be)
	fmt.Printf("Build: %s\n\nRecovered surface:\n", path)
	present := 0
	for _, entry := range abi.Entries() {
		mark := "-"
		if mod.Supports(entry) {
			mark = "+"
			present++
		}
		fmt.Printf("  %s %s\n", mark, entry)
	}
	fmt.Printf("\n%d of %d entries exported\n", present, len(abi.Entries()))
	return nil
}
