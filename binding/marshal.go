package binding

import (
	"context"
	"encoding/binary"
	"math"
	"unicode/utf16"

	audparity "github.com/wavecheck/audparity"
)

// The recovered surface takes paths as wchar_t*. The builds carry the
// original's 16-bit wide characters, so paths cross the boundary as
// UTF-16LE with a trailing 16-bit NUL.

// encodeWidePath renders s as UTF-16LE bytes with a terminating NUL.
func encodeWidePath(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, (len(units)+1)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return buf
}

// decodeNarrow cuts a NUL-terminated byte buffer down to a Go string.
// The module's diagnostic strings are plain ASCII.
func decodeNarrow(raw []byte) string {
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}

// encodeNarrow renders s as NUL-terminated bytes.
func encodeNarrow(s string) []byte {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return buf
}

// encodeF64Slice packs samples little-endian, 8 bytes each.
func encodeF64Slice(samples []float64) []byte {
	buf := make([]byte, len(samples)*8)
	for i, v := range samples {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeF64Slice unpacks count little-endian doubles from raw.
func decodeF64Slice(raw []byte, count uint32) []float64 {
	if uint32(len(raw))/8 < count {
		count = uint32(len(raw)) / 8
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out
}

// i32 widens a signed 32-bit value onto the call stack without sign
// contamination of the upper half.
func i32(v int32) uint64 {
	return uint64(uint32(v))
}

// scratch is one guest-side allocation with deferred release.
type scratch struct {
	be  audparity.Backend
	ptr uint32
}

// allocScratch reserves size bytes and optionally seeds them with data.
// Size zero takes the data length. A zero-filled region is written when
// data is nil so stale heap contents never leak into decoded results.
func allocScratch(ctx context.Context, be audparity.Backend, size uint32, data []byte) (*scratch, error) {
	if size == 0 {
		size = uint32(len(data))
	}
	ptr, err := be.Alloc(ctx, size)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = make([]byte, size)
	}
	if err := be.Memory().Write(ptr, data); err != nil {
		_ = be.Free(ctx, ptr)
		return nil, err
	}
	return &scratch{be: be, ptr: ptr}, nil
}

func (s *scratch) release(ctx context.Context) {
	if s == nil || s.ptr == 0 {
		return
	}
	_ = s.be.Free(ctx, s.ptr)
	s.ptr = 0
}
