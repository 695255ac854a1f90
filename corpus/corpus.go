// Package corpus generates the fixture tree the probe battery drives
// both builds over: a matrix of tone WAVs across bit depths, rates and
// channel counts, value-pattern files, measurement text exports, and a
// set of deliberately malformed files for the parser edges.
//
// Content is deterministic: fixed tone frequency and phase, no clock
// and no randomness, so repeated runs produce byte-identical trees.
package corpus

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/wavecheck/audparity/errors"
	"github.com/wavecheck/audparity/format"
)

// Tone parameters of the generated bursts.
const (
	ToneHz       = 1000.0
	toneAmp      = 0.5
	burstSeconds = 0.1
)

// Kind classifies a corpus entry for the battery.
type Kind string

const (
	// KindTone is a well-formed sine burst.
	KindTone Kind = "tone"
	// KindPattern is a structurally valid file with degenerate content.
	KindPattern Kind = "pattern"
	// KindText is a measurement text export.
	KindText Kind = "text"
	// KindMalformed is expected to fail the module's parser.
	KindMalformed Kind = "malformed"
	// KindDirectory is a directory named like a measurement file.
	KindDirectory Kind = "directory"
)

// File is one manifest entry.
type File struct {
	Name     string      `json:"name"`
	Format   format.Code `json:"format"`
	Rate     int         `json:"rate,omitempty"`
	Bits     int         `json:"bits,omitempty"`
	Float    bool        `json:"float,omitempty"`
	Channels int         `json:"channels,omitempty"`
	Kind     Kind        `json:"kind"`
	Size     int64       `json:"size"`
}

// Manifest lists what Generate wrote, in generation order.
type Manifest struct {
	Dir   string `json:"dir"`
	Files []File `json:"files"`
}

// ByKind filters the manifest.
func (m *Manifest) ByKind(kind Kind) []File {
	var out []File
	for _, f := range m.Files {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Lookup finds an entry by name.
func (m *Manifest) Lookup(name string) (File, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

// Names lists the manifest file names in order.
func (m *Manifest) Names() []string {
	out := make([]string, len(m.Files))
	for i, f := range m.Files {
		out[i] = f.Name
	}
	return out
}

// ManifestName is the manifest file name inside a corpus directory.
const ManifestName = "manifest.json"

// Save writes the manifest as indented JSON.
func (m *Manifest) Save(file string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(errors.PhaseCorpus, errors.KindInternal, err, "marshal manifest")
	}
	if err := os.WriteFile(file, append(data, '\n'), 0o644); err != nil {
		return errors.IO(errors.PhaseCorpus, file, err)
	}
	return nil
}

// LoadManifest reads a manifest written by Save. Callers use it to
// reuse a corpus directory across runs without regenerating.
func LoadManifest(file string) (*Manifest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.IO(errors.PhaseCorpus, file, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.PhaseCorpus, errors.KindInternal, err, "decode manifest")
	}
	return &m, nil
}

// generator accumulates files and stops at the first error.
type generator struct {
	ctx      context.Context
	dir      string
	manifest Manifest
	err      error
}

// Generate writes the corpus under dir and returns its manifest.
func Generate(ctx context.Context, dir string) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.IO(errors.PhaseCorpus, dir, err)
	}
	g := &generator{ctx: ctx, dir: dir, manifest: Manifest{Dir: dir}}

	// Bit-depth axis at the reference rate.
	for _, bits := range []int{8, 16, 24, 32} {
		g.intTone(toneName(48000, bits, false, 1), 48000, bits, 1)
	}
	g.floatTone(toneName(48000, 32, true, 1), 48000, 32, 1)
	g.floatTone(toneName(48000, 64, true, 1), 48000, 64, 1)

	// Rate axis.
	g.intTone(toneName(44100, 16, false, 1), 44100, 16, 1)
	g.intTone(toneName(96000, 16, false, 1), 96000, 16, 1)

	// Channel axis.
	g.intTone(toneName(48000, 16, false, 2), 48000, 16, 2)
	g.intTone(toneName(48000, 16, false, 4), 48000, 16, 4)

	// Non-ASCII path for the filesystem edges.
	g.intTone("mätning_µ.wav", 48000, 16, 1)

	// Detection edges: valid PCM images behind names the resolver
	// cannot place, plus an upper-cased extension.
	g.intTone("TONE_UPPER.WAV", 48000, 16, 1)
	g.pcmImage("mystery.xyz", format.Auto)
	g.pcmImage("noext", format.Auto)

	// Value patterns.
	g.pattern("silence.wav", patternSilence)
	g.pattern("dc_offset.wav", patternDC)
	g.pattern("clipping.wav", patternClipping)
	g.pattern("short.wav", patternShort)
	g.rateZero("rate_zero.wav")

	// Count edges: an empty data chunk, and a data chunk whose size
	// word claims two gigabytes over a few real samples.
	g.countZero("count_zero.wav")
	g.giantCount("giant_count.wav")

	// Text exports.
	g.text("measure_sine.etx", false)
	g.text("comment_only.etx", true)

	// Contested extensions: .tim and .frd each have two claimant codes.
	g.malformed("overload.tim", format.MlssaTim, []byte("MLSSA\x00\x01\x00\x00\x00"))
	g.freqText("overload.frd")

	// Malformed set.
	g.malformed("empty.wav", format.MsWave, nil)
	g.malformed("truncated_header.wav", format.MsWave, truncatedHeader())
	g.malformed("bad_magic.wav", format.MsWave, badMagicWAV())
	g.malformed("oversized_chunk.wav", format.MsWave, oversizedChunk())
	g.malformed("missing_data_chunk.wav", format.MsWave, missingDataChunk())
	g.malformed("bad_magic.etm", format.AudioMeasureTime, []byte("NOT AmFmt\x00\x00\x00\x00\x00\x00\x00"))
	g.malformed("bad_magic.emd", format.AudioMeasureData, append([]byte("Measurement10MS"), make([]byte, 49)...))

	// A directory wearing a measurement extension.
	g.directory("folder.wav")

	if g.err != nil {
		return nil, g.err
	}
	return &g.manifest, nil
}

func toneName(rate, bits int, isFloat bool, channels int) string {
	kind := "bit"
	if isFloat {
		kind = "bit_float"
	}
	return fmt.Sprintf("tone_%dhz_%d%s_%dch.wav", rate, bits, kind, channels)
}

// tone renders the burst for one channel; each channel is phase
// shifted so channels are distinguishable.
func tone(rate, frames, channel int) []float64 {
	out := make([]float64, frames)
	for i := range out {
		out[i] = toneAmp * math.Sin(2*math.Pi*ToneHz*float64(i)/float64(rate)+float64(channel)*math.Pi/6)
	}
	return out
}

func (g *generator) record(f File) {
	if g.err != nil {
		return
	}
	info, err := os.Stat(filepath.Join(g.dir, f.Name))
	if err == nil {
		f.Size = info.Size()
	}
	g.manifest.Files = append(g.manifest.Files, f)
}

func (g *generator) canceled() bool {
	if g.err != nil {
		return true
	}
	if err := g.ctx.Err(); err != nil {
		g.err = errors.Wrap(errors.PhaseCorpus, errors.KindIO, err, "generation canceled")
		return true
	}
	return false
}

func (g *generator) intTone(name string, rate, bits, channels int) {
	if g.canceled() {
		return
	}
	frames := int(float64(rate) * burstSeconds)
	data := make([]int, frames*channels)
	limit := float64(int64(1) << (bits - 1))
	for ch := 0; ch < channels; ch++ {
		samples := tone(rate, frames, ch)
		for i, v := range samples {
			n := int(math.Round(v * limit))
			if bits == 8 {
				n = int(math.Round(v*128)) + 128
			}
			data[i*channels+ch] = n
		}
	}
	g.writeInts(name, rate, bits, channels, data)
	g.record(File{Name: name, Format: format.MsWave, Rate: rate, Bits: bits, Channels: channels, Kind: KindTone})
}

func (g *generator) floatTone(name string, rate, bits, channels int) {
	if g.canceled() {
		return
	}
	frames := int(float64(rate) * burstSeconds)
	data := make([]float64, frames*channels)
	for ch := 0; ch < channels; ch++ {
		samples := tone(rate, frames, ch)
		for i, v := range samples {
			data[i*channels+ch] = v
		}
	}
	if err := writeFloatWAV(filepath.Join(g.dir, name), rate, bits, channels, data); err != nil {
		g.err = err
		return
	}
	g.record(File{Name: name, Format: format.MsWave, Rate: rate, Bits: bits, Float: true, Channels: channels, Kind: KindTone})
}

type patternKind int

const (
	patternSilence patternKind = iota
	patternDC
	patternClipping
	patternShort
)

func (g *generator) pattern(name string, kind patternKind) {
	if g.canceled() {
		return
	}
	const rate = 48000
	frames := int(rate * burstSeconds)
	var data []int
	switch kind {
	case patternSilence:
		data = make([]int, frames)
	case patternDC:
		data = make([]int, frames)
		for i := range data {
			data[i] = 1 << 14 // +0.5 at 16 bit
		}
	case patternClipping:
		data = make([]int, frames)
		for i := range data {
			if i%2 == 0 {
				data[i] = 32767
			} else {
				data[i] = -32768
			}
		}
	case patternShort:
		data = []int{0, 16384, -16384, 0}
	}
	g.writeInts(name, rate, 16, 1, data)
	g.record(File{Name: name, Format: format.MsWave, Rate: rate, Bits: 16, Channels: 1, Kind: KindPattern})
}

func (g *generator) writeInts(name string, rate, bits, channels int, data []int) {
	if g.err != nil {
		return
	}
	file := filepath.Join(g.dir, name)
	f, err := os.Create(file)
	if err != nil {
		g.err = errors.IO(errors.PhaseCorpus, name, err)
		return
	}
	enc := wav.NewEncoder(f, rate, bits, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bits,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		g.err = errors.IO(errors.PhaseCorpus, name, err)
		return
	}
	if err := enc.Close(); err != nil {
		f.Close()
		g.err = errors.IO(errors.PhaseCorpus, name, err)
		return
	}
	if err := f.Close(); err != nil {
		g.err = errors.IO(errors.PhaseCorpus, name, err)
	}
}

// rateZero writes a structurally valid 16-bit WAV whose fmt chunk
// declares a zero sample rate.
func (g *generator) rateZero(name string) {
	if g.canceled() {
		return
	}
	samples := make([]float64, 16)
	for i := range samples {
		samples[i] = toneAmp * math.Sin(2*math.Pi*float64(i)/16)
	}
	raw := buildWAV(0, 16, 1, wavePCM, PCM16Bytes(samples))
	g.write(name, raw)
	g.record(File{Name: name, Format: format.MsWave, Rate: 0, Bits: 16, Channels: 1, Kind: KindPattern})
}

// pcmImage writes the reference tone as a plain PCM image under an
// arbitrary name.
func (g *generator) pcmImage(name string, code format.Code) {
	if g.canceled() {
		return
	}
	raw := buildWAV(48000, 16, 1, wavePCM, PCM16Bytes(tone(48000, 4800, 0)))
	g.write(name, raw)
	g.record(File{Name: name, Format: code, Rate: 48000, Bits: 16, Channels: 1, Kind: KindPattern})
}

func (g *generator) countZero(name string) {
	if g.canceled() {
		return
	}
	g.write(name, buildWAV(48000, 16, 1, wavePCM, nil))
	g.record(File{Name: name, Format: format.MsWave, Rate: 48000, Bits: 16, Channels: 1, Kind: KindPattern})
}

func (g *generator) giantCount(name string) {
	if g.canceled() {
		return
	}
	samples := make([]float64, 16)
	for i := range samples {
		samples[i] = toneAmp * math.Sin(2*math.Pi*float64(i)/16)
	}
	raw := buildWAV(48000, 16, 1, wavePCM, PCM16Bytes(samples))
	binary.LittleEndian.PutUint32(raw[40:], 0x7FF00000)
	g.write(name, raw)
	g.record(File{Name: name, Format: format.MsWave, Kind: KindMalformed})
}

// freqText writes a frequency-response export claimed by two codes.
func (g *generator) freqText(name string) {
	if g.canceled() {
		return
	}
	var body strings.Builder
	body.WriteString("# frd export\n")
	for _, row := range []struct{ hz, db float64 }{
		{20, 85.2}, {100, 88.4}, {1000, 90.1}, {10000, 84.7},
	} {
		body.WriteString(strconv.FormatFloat(row.hz, 'g', 17, 64))
		body.WriteByte('\t')
		body.WriteString(strconv.FormatFloat(row.db, 'g', 17, 64))
		body.WriteByte('\n')
	}
	g.write(name, []byte(body.String()))
	g.record(File{Name: name, Format: format.ClioFreqText, Rate: 48000, Bits: 64, Float: true, Channels: 1, Kind: KindText})
}

func (g *generator) text(name string, commentOnly bool) {
	if g.canceled() {
		return
	}
	const rate = 48000
	var body strings.Builder
	body.WriteString("# AudioMeasure Text Export\n# rate\t48000\n")
	kind := KindText
	if commentOnly {
		kind = KindMalformed
	} else {
		for i := 0; i < 480; i++ {
			t := float64(i) / rate
			v := toneAmp * math.Sin(2*math.Pi*ToneHz*t)
			body.WriteString(strconv.FormatFloat(t, 'g', 17, 64))
			body.WriteByte('\t')
			body.WriteString(strconv.FormatFloat(v, 'g', 17, 64))
			body.WriteByte('\n')
		}
	}
	g.write(name, []byte(body.String()))
	g.record(File{Name: name, Format: format.AudioMeasureText, Rate: rate, Bits: 64, Float: true, Channels: 1, Kind: kind})
}

func (g *generator) malformed(name string, code format.Code, raw []byte) {
	if g.canceled() {
		return
	}
	g.write(name, raw)
	g.record(File{Name: name, Format: code, Kind: KindMalformed})
}

func (g *generator) directory(name string) {
	if g.canceled() {
		return
	}
	if err := os.MkdirAll(filepath.Join(g.dir, name), 0o755); err != nil {
		g.err = errors.IO(errors.PhaseCorpus, name, err)
		return
	}
	g.manifest.Files = append(g.manifest.Files, File{Name: name, Format: format.MsWave, Kind: KindDirectory})
}

func (g *generator) write(name string, raw []byte) {
	if g.err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(g.dir, name), raw, 0o644); err != nil {
		g.err = errors.IO(errors.PhaseCorpus, name, err)
	}
}
