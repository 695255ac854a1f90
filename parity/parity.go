// Package parity classifies pairs of probe results from the original
// and the rebuilt build.
//
// Compare is pure: no I/O, no clock, no logging. Identical inputs
// always produce the identical verdict, so a parity run is
// reproducible from its recorded probe rows alone.
//
// The one deliberate asymmetry: an original that demands host context
// the harness cannot supply (status -28, a rejected handshake, or an
// outright crash) is allowed to disagree with a rebuilt that works,
// as long as the rebuilt's own numbers hold up. That case classifies
// as ExpectedDivergence, not Mismatch.
package parity

import (
	"math"

	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/codec"
	"github.com/wavecheck/audparity/handshake"
	"github.com/wavecheck/audparity/probe"
)

// Class is the overall classification of one compared row.
type Class string

const (
	Match              Class = "match"
	ExpectedDivergence Class = "expected_divergence"
	Mismatch           Class = "mismatch"
	Indeterminate      Class = "indeterminate"
)

// Verdict reasons.
const (
	ReasonBaselineAbsent    = "baseline-absent"
	ReasonRebuiltAbsent     = "rebuilt-absent"
	ReasonContextRequired   = "context-required"
	ReasonAuthRejected      = "auth-rejected"
	ReasonModuleFault       = "module-fault"
	ReasonEquivalentFailure = "equivalent-failure"
)

// Default comparison policy.
const (
	// DefaultTolerance is the relative sample tolerance, 0.1%.
	DefaultTolerance = 1e-3
	// DefaultEpsilon floors the comparison scale so near-zero samples
	// do not blow the ratio up.
	DefaultEpsilon = 1e-9
)

// Verdict is the outcome of comparing one probe row across builds.
type Verdict struct {
	Class  Class    `json:"class"`
	Reason string   `json:"reason,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// FileVerdict pairs a verdict with the corpus row it judges.
type FileVerdict struct {
	File    string  `json:"file"`
	Verdict Verdict `json:"verdict"`
}

// Policy tunes the sample comparison. The zero value means defaults.
type Policy struct {
	Tolerance float64
	Epsilon   float64
}

func (p Policy) withDefaults() Policy {
	if p.Tolerance <= 0 {
		p.Tolerance = DefaultTolerance
	}
	if p.Epsilon <= 0 {
		p.Epsilon = DefaultEpsilon
	}
	return p
}

// Close reports whether two samples agree within the relative
// tolerance |a-b| <= Tolerance * max(|a|, |b|, Epsilon).
func (p Policy) Close(a, b float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < p.Epsilon {
		scale = p.Epsilon
	}
	return math.Abs(a-b) <= p.Tolerance*scale
}

// Compare judges one row of the rebuilt build against the same row of
// the original. A nil side means the row was never produced.
//
// Decision order: baseline availability, the expected-divergence rule,
// failure equivalence, then field-by-field equality with the sample
// tolerance. Counts compare after both sides' fallback substitution,
// so a refused count query on both builds still matches.
func Compare(orig, rebuilt *probe.Result, pol Policy) Verdict {
	pol = pol.withDefaults()
	if orig == nil {
		return Verdict{Class: Indeterminate, Reason: ReasonBaselineAbsent}
	}
	if rebuilt == nil {
		return Verdict{Class: Indeterminate, Reason: ReasonRebuiltAbsent}
	}

	if reason, bound := contextBound(orig); bound && succeeded(rebuilt) {
		if bad := sanity(rebuilt); len(bad) > 0 {
			return Verdict{Class: Mismatch, Reason: reason, Fields: bad}
		}
		return Verdict{Class: ExpectedDivergence, Reason: reason}
	}

	// Two builds that fail at the same stage agree about the input.
	// Their partial numbers are not comparable, so stop here.
	if orig.Failure != nil && rebuilt.Failure != nil {
		if orig.Failure.Stage == rebuilt.Failure.Stage {
			return Verdict{Class: Match, Reason: ReasonEquivalentFailure}
		}
		return Verdict{Class: Mismatch, Fields: []string{"failure"}}
	}
	if (orig.Failure != nil) != (rebuilt.Failure != nil) {
		return Verdict{Class: Mismatch, Fields: []string{"failure"}}
	}

	if orig.File == probe.SessionFile || rebuilt.File == probe.SessionFile {
		return compareSession(orig, rebuilt)
	}
	// An open that never ran on the original leaves no baseline to
	// hold the rebuilt against.
	if orig.OpenRet == abi.OpenNotAttempted {
		return Verdict{Class: Indeterminate, Reason: ReasonBaselineAbsent}
	}

	var fields []string
	if orig.OpenRet != rebuilt.OpenRet {
		fields = append(fields, "open_ret")
	}
	if orig.FileCount != rebuilt.FileCount {
		fields = append(fields, "file_count")
	}
	if orig.ChannelCount != rebuilt.ChannelCount {
		fields = append(fields, "channel_count")
	}
	if codec.EffectiveCount(orig.SampleCount) != codec.EffectiveCount(rebuilt.SampleCount) {
		fields = append(fields, "sample_count")
	}
	if !pol.Close(orig.FirstSample, rebuilt.FirstSample) {
		fields = append(fields, "first_sample")
	}
	if !pol.Close(orig.LastSample, rebuilt.LastSample) {
		fields = append(fields, "last_sample")
	}
	if len(fields) > 0 {
		return Verdict{Class: Mismatch, Fields: fields}
	}
	return Verdict{Class: Match}
}

// compareSession judges the pseudo-row carrying version words and the
// handshake outcome. Versions compare exactly and only here, so a
// version skew yields one verdict instead of one per file.
func compareSession(orig, rebuilt *probe.Result) Verdict {
	var fields []string
	if orig.InterfaceVersion != rebuilt.InterfaceVersion {
		fields = append(fields, "interface_version")
	}
	if orig.DllVersion != rebuilt.DllVersion {
		fields = append(fields, "dll_version")
	}
	if orig.Handshake.State != rebuilt.Handshake.State {
		fields = append(fields, "handshake")
	}
	if len(fields) > 0 {
		return Verdict{Class: Mismatch, Fields: fields}
	}
	return Verdict{Class: Match}
}

// contextBound reports whether the original's row shows the class of
// failure the divergence policy forgives, and the reason label for it.
func contextBound(r *probe.Result) (string, bool) {
	switch r.Handshake.State {
	case handshake.StateContextRequired:
		return ReasonContextRequired, true
	case handshake.StateRejected:
		return ReasonAuthRejected, true
	}
	if r.OpenRet == abi.StatusContextRequired {
		return ReasonContextRequired, true
	}
	if r.Failure != nil {
		return ReasonModuleFault, true
	}
	return "", false
}

// succeeded reports whether the rebuilt side worked on its own terms:
// a verified handshake for the session row, a clean open for file
// rows, and no transport fault either way.
func succeeded(r *probe.Result) bool {
	if r.Failure != nil {
		return false
	}
	if r.File == probe.SessionFile {
		return r.Handshake.Verified()
	}
	return r.OpenRet == abi.StatusOK
}

// sanity validates a rebuilt row standing alone, for the divergence
// rule: one logical file, at least one channel, at least one sample.
func sanity(r *probe.Result) []string {
	if r.File == probe.SessionFile {
		return nil
	}
	var bad []string
	if r.FileCount != 1 {
		bad = append(bad, "file_count")
	}
	if r.ChannelCount < 1 {
		bad = append(bad, "channel_count")
	}
	if r.SampleCount < 1 {
		bad = append(bad, "sample_count")
	}
	return bad
}

// CompareAll aligns two probe runs by row key and compares them row by
// row. The rebuilt run fixes the output order; original rows with no
// rebuilt counterpart append as indeterminate at the end.
func CompareAll(orig, rebuilt []probe.Result, pol Policy) []FileVerdict {
	base := make(map[string]*probe.Result, len(orig))
	for i := range orig {
		base[orig[i].File] = &orig[i]
	}
	out := make([]FileVerdict, 0, len(rebuilt))
	seen := make(map[string]bool, len(rebuilt))
	for i := range rebuilt {
		row := &rebuilt[i]
		seen[row.File] = true
		out = append(out, FileVerdict{File: row.File, Verdict: Compare(base[row.File], row, pol)})
	}
	for i := range orig {
		if !seen[orig[i].File] {
			out = append(out, FileVerdict{
				File:    orig[i].File,
				Verdict: Verdict{Class: Indeterminate, Reason: ReasonRebuiltAbsent},
			})
		}
	}
	return out
}

// Summary counts verdicts by class.
type Summary struct {
	Total         int `json:"total"`
	Matches       int `json:"matches"`
	Expected      int `json:"expected_divergences"`
	Mismatches    int `json:"mismatches"`
	Indeterminate int `json:"indeterminate"`
}

func Summarize(verdicts []FileVerdict) Summary {
	s := Summary{Total: len(verdicts)}
	for _, v := range verdicts {
		switch v.Verdict.Class {
		case Match:
			s.Matches++
		case ExpectedDivergence:
			s.Expected++
		case Mismatch:
			s.Mismatches++
		case Indeterminate:
			s.Indeterminate++
		}
	}
	return s
}

// Clean reports whether the run holds parity: nothing mismatched.
// Expected divergences and indeterminate rows do not break parity.
func (s Summary) Clean() bool { return s.Mismatches == 0 }
