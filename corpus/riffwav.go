package corpus

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"

	"github.com/go-audio/riff"

	"github.com/wavecheck/audparity/errors"
)

// RIFF format tags.
const (
	wavePCM   = 1
	waveFloat = 3
)

// buildWAV assembles a minimal RIFF/WAVE image: a 16-byte fmt chunk
// followed by a data chunk. The wav encoder cannot emit IEEE float or
// deliberately broken images, so those are built here byte by byte.
func buildWAV(rate, bits, channels, audioFormat int, payload []byte) []byte {
	var buf bytes.Buffer
	blockAlign := channels * bits / 8
	byteRate := rate * blockAlign

	buf.Write(riff.RiffID[:])
	writeU32(&buf, uint32(4+8+16+8+len(payload)))
	buf.Write(riff.WavFormatID[:])

	buf.Write(riff.FmtID[:])
	writeU32(&buf, 16)
	writeU16(&buf, uint16(audioFormat))
	writeU16(&buf, uint16(channels))
	writeU32(&buf, uint32(rate))
	writeU32(&buf, uint32(byteRate))
	writeU16(&buf, uint16(blockAlign))
	writeU16(&buf, uint16(bits))

	buf.Write(riff.DataFormatID[:])
	writeU32(&buf, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// writeFloatWAV writes interleaved samples as a 32 or 64 bit IEEE
// float WAVE file.
func writeFloatWAV(file string, rate, bits, channels int, data []float64) error {
	payload := make([]byte, 0, len(data)*bits/8)
	switch bits {
	case 32:
		var b [4]byte
		for _, v := range data {
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
			payload = append(payload, b[:]...)
		}
	case 64:
		var b [8]byte
		for _, v := range data {
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
			payload = append(payload, b[:]...)
		}
	default:
		return errors.New(errors.PhaseCorpus, errors.KindInvalidInput).
			Detail("float depth must be 32 or 64, got %d", bits).Build()
	}
	raw := buildWAV(rate, bits, channels, waveFloat, payload)
	if err := os.WriteFile(file, raw, 0o644); err != nil {
		return errors.IO(errors.PhaseCorpus, file, err)
	}
	return nil
}

// PCM16Bytes quantizes samples to little-endian 16-bit PCM, clamping
// at full scale.
func PCM16Bytes(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		n := int(math.Round(v * 32768))
		if n > 32767 {
			n = 32767
		} else if n < -32768 {
			n = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(n)))
	}
	return out
}

// PCM16Image renders a complete mono-or-multichannel 16-bit PCM WAVE
// image in memory. The probe driver uses it for header material.
func PCM16Image(rate, channels int, samples []float64) []byte {
	return buildWAV(rate, 16, channels, wavePCM, PCM16Bytes(samples))
}

// Each malformed image below breaks exactly one structural rule.

// truncatedHeader stops after the RIFF tag and size word.
func truncatedHeader() []byte {
	var buf bytes.Buffer
	buf.Write(riff.RiffID[:])
	writeU32(&buf, 36)
	return buf.Bytes()
}

// badMagicWAV carries a wrong container tag over an otherwise valid
// image.
func badMagicWAV() []byte {
	raw := buildWAV(48000, 16, 1, wavePCM, PCM16Bytes(tone(48000, 16, 0)))
	copy(raw[:4], "XXXX")
	return raw
}

// oversizedChunk declares a fmt chunk far larger than the bytes that
// follow it.
func oversizedChunk() []byte {
	raw := buildWAV(48000, 16, 1, wavePCM, PCM16Bytes(tone(48000, 16, 0)))
	binary.LittleEndian.PutUint32(raw[16:], 999)
	return raw
}

// missingDataChunk ends after the fmt chunk, with the RIFF size word
// adjusted so the truncation is structural rather than an IO artifact.
func missingDataChunk() []byte {
	raw := buildWAV(48000, 16, 1, wavePCM, nil)
	raw = raw[:36]
	binary.LittleEndian.PutUint32(raw[4:], 28)
	return raw
}
