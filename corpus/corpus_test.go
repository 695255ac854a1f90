package corpus

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-audio/wav"
)

func generate(t *testing.T) (*Manifest, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := Generate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return m, dir
}

func TestGenerateManifest(t *testing.T) {
	m, dir := generate(t)
	if m.Dir != dir {
		t.Fatalf("manifest dir = %q, want %q", m.Dir, dir)
	}

	counts := map[Kind]int{}
	for _, f := range m.Files {
		counts[f.Kind]++
	}
	want := map[Kind]int{
		KindTone:      12,
		KindPattern:   8,
		KindText:      2,
		KindMalformed: 10,
		KindDirectory: 1,
	}
	for kind, n := range want {
		if counts[kind] != n {
			t.Errorf("%s entries = %d, want %d", kind, counts[kind], n)
		}
	}

	for _, name := range []string{
		"tone_48000hz_16bit_1ch.wav",
		"tone_48000hz_64bit_float_1ch.wav",
		"tone_96000hz_16bit_1ch.wav",
		"tone_48000hz_16bit_4ch.wav",
		"mätning_µ.wav",
		"TONE_UPPER.WAV",
		"mystery.xyz",
		"noext",
		"silence.wav",
		"rate_zero.wav",
		"count_zero.wav",
		"giant_count.wav",
		"measure_sine.etx",
		"overload.tim",
		"overload.frd",
		"empty.wav",
		"bad_magic.emd",
		"folder.wav",
	} {
		if _, ok := m.Lookup(name); !ok {
			t.Errorf("manifest missing %q", name)
		}
	}
	if _, ok := m.Lookup("nope.wav"); ok {
		t.Error("Lookup accepted an absent name")
	}

	empty, _ := m.Lookup("empty.wav")
	if empty.Size != 0 {
		t.Errorf("empty.wav size = %d, want 0", empty.Size)
	}
	toneEntry, _ := m.Lookup("tone_48000hz_16bit_1ch.wav")
	if toneEntry.Size == 0 {
		t.Error("tone entry recorded zero size")
	}

	info, err := os.Stat(filepath.Join(dir, "folder.wav"))
	if err != nil || !info.IsDir() {
		t.Errorf("folder.wav should be a directory, stat: %v", err)
	}
}

func TestGeneratedPCMDecodes(t *testing.T) {
	_, dir := generate(t)
	f, err := os.Open(filepath.Join(dir, "tone_48000hz_16bit_1ch.wav"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("generated tone rejected by wav decoder")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if dec.NumChans != 1 || dec.SampleRate != 48000 || dec.BitDepth != 16 {
		t.Fatalf("format = %d ch %d Hz %d bit", dec.NumChans, dec.SampleRate, dec.BitDepth)
	}
	if len(buf.Data) != 4800 {
		t.Fatalf("frames = %d, want 4800", len(buf.Data))
	}
	for i := 0; i < 32; i++ {
		want := toneAmp * math.Sin(2*math.Pi*ToneHz*float64(i)/48000)
		got := float64(buf.Data[i]) / 32768
		if math.Abs(got-want) > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, got, want)
		}
	}
}

func TestFloatWAVImage(t *testing.T) {
	_, dir := generate(t)
	raw, err := os.ReadFile(filepath.Join(dir, "tone_48000hz_64bit_float_1ch.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw[:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		t.Fatal("container tags wrong")
	}
	if tag := binary.LittleEndian.Uint16(raw[20:]); tag != waveFloat {
		t.Fatalf("audio format = %d, want %d", tag, waveFloat)
	}
	if bits := binary.LittleEndian.Uint16(raw[34:]); bits != 64 {
		t.Fatalf("bit depth = %d, want 64", bits)
	}
	if n := binary.LittleEndian.Uint32(raw[40:]); n != 4800*8 {
		t.Fatalf("data length = %d, want %d", n, 4800*8)
	}
	// Sample 12 of a 1 kHz tone at 48 kHz is on a quarter period.
	got := math.Float64frombits(binary.LittleEndian.Uint64(raw[44+12*8:]))
	if math.Abs(got-toneAmp) > 1e-12 {
		t.Fatalf("quarter-period sample = %v, want %v", got, toneAmp)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	m1, dir1 := generate(t)
	m2, dir2 := generate(t)
	if len(m1.Files) != len(m2.Files) {
		t.Fatalf("manifest lengths differ: %d vs %d", len(m1.Files), len(m2.Files))
	}
	for i, f := range m1.Files {
		if f != m2.Files[i] {
			t.Fatalf("entry %d differs: %+v vs %+v", i, f, m2.Files[i])
		}
		if f.Kind == KindDirectory {
			continue
		}
		a, err := os.ReadFile(filepath.Join(dir1, f.Name))
		if err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(filepath.Join(dir2, f.Name))
		if err != nil {
			t.Fatal(err)
		}
		if sha256.Sum256(a) != sha256.Sum256(b) {
			t.Fatalf("%s not byte-identical across runs", f.Name)
		}
	}
}

func TestMalformedImages(t *testing.T) {
	_, dir := generate(t)
	read := func(name string) []byte {
		t.Helper()
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		return raw
	}

	if raw := read("truncated_header.wav"); len(raw) != 8 {
		t.Errorf("truncated_header.wav is %d bytes, want 8", len(raw))
	}
	if raw := read("bad_magic.wav"); string(raw[:4]) != "XXXX" {
		t.Errorf("bad_magic.wav magic = %q", raw[:4])
	}
	if raw := read("oversized_chunk.wav"); binary.LittleEndian.Uint32(raw[16:]) != 999 {
		t.Error("oversized_chunk.wav fmt size not inflated")
	}
	raw := read("missing_data_chunk.wav")
	if len(raw) != 36 || bytes.Contains(raw, []byte("data")) {
		t.Errorf("missing_data_chunk.wav: %d bytes, data present %v",
			len(raw), bytes.Contains(raw, []byte("data")))
	}
	if raw := read("rate_zero.wav"); binary.LittleEndian.Uint32(raw[24:]) != 0 {
		t.Error("rate_zero.wav declares a nonzero rate")
	}
	if raw := read("count_zero.wav"); binary.LittleEndian.Uint32(raw[40:]) != 0 {
		t.Error("count_zero.wav data chunk not empty")
	}
	if raw := read("giant_count.wav"); binary.LittleEndian.Uint32(raw[40:]) != 0x7FF00000 {
		t.Error("giant_count.wav size word not inflated")
	}
	if raw := read("bad_magic.etm"); !bytes.HasPrefix(raw, []byte("NOT AmFmt")) {
		t.Errorf("bad_magic.etm prefix = %q", raw[:9])
	}
	if raw := read("bad_magic.emd"); !bytes.HasPrefix(raw, []byte("Measurement10MS")) {
		t.Errorf("bad_magic.emd prefix = %q", raw[:15])
	}
}

func TestTextExport(t *testing.T) {
	_, dir := generate(t)
	raw, err := os.ReadFile(filepath.Join(dir, "measure_sine.etx"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if lines[0] != "# AudioMeasure Text Export" {
		t.Fatalf("header = %q", lines[0])
	}
	var values []float64
	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			t.Fatalf("data line %q is not time<TAB>value", line)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			t.Fatalf("parse %q: %v", fields[1], err)
		}
		values = append(values, v)
	}
	if len(values) != 480 {
		t.Fatalf("data lines = %d, want 480", len(values))
	}
	want := toneAmp * math.Sin(2*math.Pi*ToneHz*12.0/48000)
	if math.Abs(values[12]-want) > 1e-12 {
		t.Fatalf("line 12 value = %v, want %v", values[12], want)
	}

	comment, err := os.ReadFile(filepath.Join(dir, "comment_only.etx"))
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(strings.TrimRight(string(comment), "\n"), "\n") {
		if !strings.HasPrefix(line, "#") {
			t.Fatalf("comment_only.etx has a data line: %q", line)
		}
	}
}

func TestManifestSaveLoad(t *testing.T) {
	m, dir := generate(t)
	path := filepath.Join(dir, ManifestName)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Manifest
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal saved manifest: %v", err)
	}
	if len(decoded.Files) != len(m.Files) {
		t.Fatalf("round-tripped %d entries, want %d", len(decoded.Files), len(m.Files))
	}

	loaded, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if loaded.Dir != m.Dir || len(loaded.Files) != len(m.Files) {
		t.Fatalf("loaded manifest %q/%d entries, want %q/%d",
			loaded.Dir, len(loaded.Files), m.Dir, len(m.Files))
	}
	if _, err := LoadManifest(filepath.Join(dir, "absent.json")); err == nil {
		t.Fatal("loading a missing manifest should fail")
	}
}

func TestGenerateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Generate(ctx, t.TempDir()); err == nil {
		t.Fatal("canceled generation should fail")
	}
}

func TestDominantFrequency(t *testing.T) {
	synth := func(freq float64, rate, n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
		}
		return out
	}

	if got := DominantFrequency(synth(1000, 48000, 4800), 48000); math.Abs(got-1000) > 10 {
		t.Errorf("1 kHz tone detected at %v Hz", got)
	}
	if got := DominantFrequency(synth(440, 44100, 4410), 44100); math.Abs(got-440) > 10 {
		t.Errorf("440 Hz tone detected at %v Hz", got)
	}
	if got := DominantFrequency(make([]float64, 4800), 48000); got != 0 {
		t.Errorf("silence detected at %v Hz", got)
	}
	if got := DominantFrequency(nil, 48000); got != 0 {
		t.Errorf("empty input detected at %v Hz", got)
	}
	if got := DominantFrequency(synth(1000, 48000, 4800), 0); got != 0 {
		t.Errorf("zero rate detected at %v Hz", got)
	}
}
