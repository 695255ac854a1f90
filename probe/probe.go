// Package probe drives one bound build through the exercise battery
// and records everything it observes: status words, counts, samples,
// decoded property records, handshake outcomes, and transport faults.
//
// The driver only records. Nothing here decides whether an observation
// is correct; judging two builds against each other is the comparator's
// job. The one hard rule is isolation: every module call runs behind a
// recover, so a trapping or panicking build yields a classified Failure
// in its Result and the battery moves on.
package probe

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/binding"
	"github.com/wavecheck/audparity/codec"
	"github.com/wavecheck/audparity/corpus"
	"github.com/wavecheck/audparity/coverage"
	"github.com/wavecheck/audparity/errors"
	"github.com/wavecheck/audparity/format"
	"github.com/wavecheck/audparity/handshake"
)

// SessionFile keys the pseudo-row carrying session-level observations:
// version words, the handshake outcome, and the init edge probes.
const SessionFile = "(session)"

// Failure classifies a transport fault: a trap, a panic, or an
// out-of-bounds access. Negative status words are never failures.
type Failure struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
}

// Props carries a decoded property record with its plausibility
// assessment.
type Props struct {
	Record     codec.Record     `json:"record"`
	Assessment codec.Assessment `json:"assessment"`
}

// Result is everything one probed file yielded on one build.
type Result struct {
	File             string            `json:"file"`
	Format           format.Code       `json:"format"`
	InterfaceVersion float64           `json:"interface_version"`
	DllVersion       float64           `json:"dll_version"`
	Handshake        handshake.Outcome `json:"handshake"`
	OpenRet          int32             `json:"open_ret"`
	FileCount        uint32            `json:"file_count"`
	ChannelCount     uint32            `json:"channel_count"`
	SampleCount      uint32            `json:"sample_count"`
	FirstSample      float64           `json:"first_sample"`
	LastSample       float64           `json:"last_sample"`
	Conversion       abi.Conversion    `json:"conversion,omitempty"`
	Props            *Props            `json:"props,omitempty"`
	Warnings         string            `json:"warnings,omitempty"`
	Absent           []string          `json:"absent,omitempty"`
	Failure          *Failure          `json:"failure,omitempty"`
	Elapsed          time.Duration     `json:"elapsed"`
}

// noteAbsent records a skipped entry once.
func (r *Result) noteAbsent(entry string) {
	for _, e := range r.Absent {
		if e == entry {
			return
		}
	}
	r.Absent = append(r.Absent, entry)
}

// Battery configures one exercise run.
type Battery struct {
	// Dir is the corpus directory on the host.
	Dir string
	// GuestDir is the corpus directory as the module addresses it,
	// e.g. the preopen mount point of a wasm build. Dir when empty.
	GuestDir string
	// Files selects what to probe, in order.
	Files []corpus.File
	// Timeout bounds each module call. Zero means no bound.
	Timeout time.Duration
	// WriteProbes enables the put-path round trip.
	WriteProbes bool

	Ledger *coverage.Ledger
	Logger *zap.Logger
}

// Exercise runs the battery against one bound module. The first result
// row is the session pseudo-row; per-file rows follow in battery order,
// then the synthetic probes. The error is reserved for cancellation;
// everything a build does wrong lives inside the results.
func Exercise(ctx context.Context, mod *binding.Module, b Battery) ([]Result, error) {
	if b.Logger == nil {
		b.Logger = zap.NewNop()
	}
	if b.Ledger == nil {
		b.Ledger = NewLedger()
	}
	if b.GuestDir == "" {
		b.GuestDir = b.Dir
	}
	d := &driver{Battery: b, mod: mod}

	sess := &Result{File: SessionFile, OpenRet: abi.OpenNotAttempted}
	d.openSession(ctx, sess)
	rows := []*Result{sess}

	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			return deref(rows), errors.Wrap(errors.PhaseDrive, errors.KindIO, err, "battery canceled")
		}
		rows = append(rows, d.probeFile(ctx, sess, f))
	}

	rows = append(rows, d.missingFileProbe(ctx, sess))
	if row := d.mismatchProbe(ctx, sess); row != nil {
		rows = append(rows, row)
	}
	if b.WriteProbes {
		rows = append(rows, d.writeRoundTrip(ctx, sess))
	}

	// Last because a build may treat a fresh init as a reset.
	d.reauthProbe(ctx, sess)

	d.Logger.Info("battery finished",
		zap.String("module", mod.Label()),
		zap.Int("rows", len(rows)),
		zap.Float64("coverage", b.Ledger.Aggregate()))
	return deref(rows), nil
}

func deref(rows []*Result) []Result {
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out
}

type driver struct {
	Battery
	mod *binding.Module
}

// newResult seeds a per-file row with the session observations.
func (d *driver) newResult(sess *Result, file string) *Result {
	return &Result{
		File:             file,
		InterfaceVersion: sess.InterfaceVersion,
		DllVersion:       sess.DllVersion,
		Handshake:        sess.Handshake,
		OpenRet:          abi.OpenNotAttempted,
	}
}

// step runs one probe action under the per-call deadline and converts
// whatever goes wrong into the row. An absent entry is a recorded skip;
// anything else is a classified Failure. The return value says whether
// dependent steps may run.
func (d *driver) step(ctx context.Context, res *Result, stage string, fn func(context.Context) error) (ok bool) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Warn("probe panicked",
				zap.String("file", res.File),
				zap.String("stage", stage),
				zap.Any("panic", r))
			d.fail(res, stage, fmt.Sprintf("panic: %v", r))
			ok = false
		}
	}()
	err := fn(ctx)
	if err == nil {
		return true
	}
	var fault *errors.Error
	if stderrors.As(err, &fault) && fault.Kind == errors.KindAbsentEntry {
		res.noteAbsent(fault.Entry)
		return false
	}
	d.Logger.Warn("probe faulted",
		zap.String("file", res.File),
		zap.String("stage", stage),
		zap.Error(err))
	d.fail(res, stage, err.Error())
	return false
}

// fail keeps the first classified failure of a row.
func (d *driver) fail(res *Result, stage, detail string) {
	if res.Failure == nil {
		res.Failure = &Failure{Stage: stage, Detail: detail}
	}
}

func (d *driver) guestPath(parts ...string) string {
	p := d.GuestDir
	for _, part := range parts {
		p = p + "/" + part
	}
	return p
}

// Coverage marking. The ledger drops keys outside the documented
// surface, so probes mark freely.

func (d *driver) markEntry(e abi.Entry) {
	d.Ledger.Mark(coverage.DimFunctions, string(e))
}

func (d *driver) markStatus(s abi.Status) {
	d.Ledger.Mark(coverage.DimStatuses, abi.StatusName(s))
}

func (d *driver) markFormat(c format.Code) {
	if c != format.Auto {
		d.Ledger.Mark(coverage.DimFormats, format.Name(c))
	}
}

func (d *driver) markConversion(c abi.Conversion) {
	d.Ledger.Mark(coverage.DimConversions, string(c))
}

func (d *driver) markEdge(key string) {
	d.Ledger.Mark(coverage.DimEdges, key)
}
