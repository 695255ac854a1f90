// Package format maps measurement-file paths to the numeric format codes
// the Aud module takes in its open calls.
//
// The registry below is the documented slice of the module's format table,
// recovered from its dispatch switch and the vendor wrapper. It is data,
// not behavior: several extensions are claimed by more than one code and
// the recovery could not settle which one the module really dispatches to.
// Those entries are flagged Doubtful and kept side by side; Resolve picks
// the same code the recovered wrapper used, and Conflicts exposes the full
// contender list so a probe can exercise the losers explicitly.
package format

import (
	"path/filepath"
	"sort"
	"strings"
)

// Code is a numeric file-format code passed to the module's open calls.
type Code int32

// Auto asks the module to detect the format itself. The recovered wrapper
// falls back to it for any extension outside the table.
const Auto Code = 0

// The documented codes, with the recovered numbering gaps left as-is.
const (
	AudioMeasureTime    Code = 1
	AudioMeasureFreq    Code = 2
	AudioMeasureData    Code = 3
	AudioMeasureText    Code = 5
	AudioMeasureImpulse Code = 6
	MsWave              Code = 9
	MlssaTim            Code = 10
	MlssaFrq            Code = 11
	MonkeyForestDat     Code = 12
	MonkeyForestSpk     Code = 13
	MonkeyForestRes     Code = 14
	TimeText            Code = 15
	LoudspeakerLabTim   Code = 16
	MlsSignal           Code = 17
	ClioMlsBinary       Code = 20
	ClioFreqText        Code = 24
	ImpedanceText       Code = 25
	FrdFreqAlt          Code = 27
	ZmaImpedanceAlt     Code = 28
)

// Spec describes one documented format code.
type Spec struct {
	Code       Code
	Name       string
	Extensions []string
	// Priority orders probing: 1 for the formats the corpus covers
	// directly, 3 for codes only seen in the dispatch table.
	Priority int
	// Doubtful marks codes whose extension claim conflicts with another
	// entry.
	Doubtful bool
}

// The table preserves the gaps of the recovered numbering (4, 7, 8, ...
// never appeared). Conflicting claims: .tim between 10 and 16, .mls
// between 17 and 20, .frd/.zma between 24 and 27/28.
var registry = []Spec{
	{Code: AudioMeasureTime, Name: "AudioMeasureTime", Extensions: []string{".etm"}, Priority: 1},
	{Code: AudioMeasureFreq, Name: "AudioMeasureFreq", Extensions: []string{".efr"}, Priority: 1},
	{Code: AudioMeasureData, Name: "AudioMeasureData", Extensions: []string{".emd"}, Priority: 1},
	{Code: AudioMeasureText, Name: "AudioMeasureText", Extensions: []string{".etx"}, Priority: 1},
	{Code: AudioMeasureImpulse, Name: "AudioMeasureImpulse", Extensions: []string{".eim"}, Priority: 3},
	{Code: MsWave, Name: "MsWave", Extensions: []string{".wav"}, Priority: 1},
	{Code: MlssaTim, Name: "MlssaTim", Extensions: []string{".tim"}, Priority: 1, Doubtful: true},
	{Code: MlssaFrq, Name: "MlssaFrq", Extensions: []string{".frq"}, Priority: 1},
	{Code: MonkeyForestDat, Name: "MonkeyForestDat", Extensions: []string{".dat"}, Priority: 2},
	{Code: MonkeyForestSpk, Name: "MonkeyForestSpk", Extensions: []string{".spk"}, Priority: 2},
	{Code: MonkeyForestRes, Name: "MonkeyForestRes", Extensions: []string{".res"}, Priority: 3},
	{Code: TimeText, Name: "TimeText", Extensions: []string{".txt"}, Priority: 2},
	{Code: LoudspeakerLabTim, Name: "LoudspeakerLabTim", Extensions: []string{".tim"}, Priority: 3, Doubtful: true},
	{Code: MlsSignal, Name: "MlsSignal", Extensions: []string{".mls"}, Priority: 2, Doubtful: true},
	{Code: ClioMlsBinary, Name: "ClioMlsBinary", Extensions: []string{".mls"}, Priority: 3, Doubtful: true},
	{Code: ClioFreqText, Name: "ClioFreqText", Extensions: []string{".frd", ".zma"}, Priority: 1, Doubtful: true},
	{Code: ImpedanceText, Name: "ImpedanceText", Extensions: []string{".imp"}, Priority: 3},
	{Code: FrdFreqAlt, Name: "FrdFreqAlt", Extensions: []string{".frd"}, Priority: 3, Doubtful: true},
	{Code: ZmaImpedanceAlt, Name: "ZmaImpedanceAlt", Extensions: []string{".zma"}, Priority: 3, Doubtful: true},
}

// All returns the documented table sorted by code. The slice and its specs
// are copies.
func All() []Spec {
	out := make([]Spec, len(registry))
	for i, s := range registry {
		out[i] = copySpec(s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Lookup finds the spec for a code.
func Lookup(code Code) (Spec, bool) {
	for _, s := range registry {
		if s.Code == code {
			return copySpec(s), true
		}
	}
	return Spec{}, false
}

// Name renders a code for reports.
func Name(code Code) string {
	if code == Auto {
		return "auto"
	}
	if s, ok := Lookup(code); ok {
		return s.Name
	}
	return "unknown"
}

// Resolve maps a path to the code the recovered wrapper would pass for it.
// Matching is on the final extension, case-insensitive. Contested
// extensions resolve to the lowest-priority-number claimant, then to the
// lowest code. Anything else resolves to Auto.
func Resolve(path string) Code {
	claims := Conflicts(filepath.Ext(path))
	if len(claims) == 0 {
		return Auto
	}
	return claims[0].Code
}

// Conflicts returns every documented claimant of ext, ordered by
// (priority, code). One element means the extension is uncontested; zero
// means it is outside the table.
func Conflicts(ext string) []Spec {
	ext = strings.ToLower(ext)
	if ext == "" {
		return nil
	}
	var out []Spec
	for _, s := range registry {
		for _, e := range s.Extensions {
			if e == ext {
				out = append(out, copySpec(s))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// Codes returns the documented code values in ascending order.
func Codes() []Code {
	out := make([]Code, len(registry))
	for i, s := range registry {
		out[i] = s.Code
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func copySpec(s Spec) Spec {
	exts := make([]string, len(s.Extensions))
	copy(exts, s.Extensions)
	s.Extensions = exts
	return s
}
