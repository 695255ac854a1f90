// Package codec encodes and decodes the 560-byte property records the Aud
// module exchanges through its Get/PutFileProperties and
// Get/PutChannelProperties entry points.
//
// The layout was recovered field by field from memory dumps of the
// original build. Ten fields at fixed offsets are understood; the
// remaining 504 bytes are carried verbatim and never interpreted. A record
// that decodes cleanly but fails the plausibility bounds is reported as
// indeterminate, not as an error: the build may be using a layout variant
// the recovery never saw.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/errors"
)

// Size is the exact record length on the wire.
const Size = abi.PropertyRecordSize

// TailSize is the undecoded remainder after the last recovered field.
const TailSize = Size - offTail

// Recovered field offsets. The layout is packed little-endian.
const (
	offSampleRate    = 0  // float64
	offReserved1     = 8  // int32
	offSampleCount   = 12 // uint32
	offReserved2     = 16 // uint32
	offBitsPerSample = 20 // int32
	offCalibration   = 24 // float64
	offReserved3     = 32 // int32
	offDataType      = 36 // int32
	offStartTime     = 40 // float64
	offSensitivity   = 48 // float64
	offTail          = 56
)

// Record is a decoded property record. Reserved fields hold values whose
// meaning was not recovered; they still take part in round trips.
type Record struct {
	SampleRate    float64
	Reserved1     int32
	SampleCount   uint32
	Reserved2     uint32
	BitsPerSample int32
	Calibration   float64
	Reserved3     int32
	DataType      int32
	StartTime     float64
	Sensitivity   float64
	Tail          [TailSize]byte
}

// Decode parses a raw record. The input must be exactly Size bytes;
// anything else means the caller read the wrong region, not that the
// record is malformed.
func Decode(raw []byte) (Record, error) {
	if len(raw) != Size {
		return Record{}, errors.New(errors.PhaseDecode, errors.KindInvalidInput).
			Path("record").
			Detail("record is %d bytes, want exactly %d", len(raw), Size).
			Build()
	}

	var r Record
	r.SampleRate = math.Float64frombits(binary.LittleEndian.Uint64(raw[offSampleRate:]))
	r.Reserved1 = int32(binary.LittleEndian.Uint32(raw[offReserved1:]))
	r.SampleCount = binary.LittleEndian.Uint32(raw[offSampleCount:])
	r.Reserved2 = binary.LittleEndian.Uint32(raw[offReserved2:])
	r.BitsPerSample = int32(binary.LittleEndian.Uint32(raw[offBitsPerSample:]))
	r.Calibration = math.Float64frombits(binary.LittleEndian.Uint64(raw[offCalibration:]))
	r.Reserved3 = int32(binary.LittleEndian.Uint32(raw[offReserved3:]))
	r.DataType = int32(binary.LittleEndian.Uint32(raw[offDataType:]))
	r.StartTime = math.Float64frombits(binary.LittleEndian.Uint64(raw[offStartTime:]))
	r.Sensitivity = math.Float64frombits(binary.LittleEndian.Uint64(raw[offSensitivity:]))
	copy(r.Tail[:], raw[offTail:])
	return r, nil
}

// Encode renders the record back to its wire form. Decode(Encode(r))
// reproduces r exactly, tail included.
func Encode(r Record) []byte {
	raw := make([]byte, Size)
	binary.LittleEndian.PutUint64(raw[offSampleRate:], math.Float64bits(r.SampleRate))
	binary.LittleEndian.PutUint32(raw[offReserved1:], uint32(r.Reserved1))
	binary.LittleEndian.PutUint32(raw[offSampleCount:], r.SampleCount)
	binary.LittleEndian.PutUint32(raw[offReserved2:], r.Reserved2)
	binary.LittleEndian.PutUint32(raw[offBitsPerSample:], uint32(r.BitsPerSample))
	binary.LittleEndian.PutUint64(raw[offCalibration:], math.Float64bits(r.Calibration))
	binary.LittleEndian.PutUint32(raw[offReserved3:], uint32(r.Reserved3))
	binary.LittleEndian.PutUint32(raw[offDataType:], uint32(r.DataType))
	binary.LittleEndian.PutUint64(raw[offStartTime:], math.Float64bits(r.StartTime))
	binary.LittleEndian.PutUint64(raw[offSensitivity:], math.Float64bits(r.Sensitivity))
	copy(raw[offTail:], r.Tail[:])
	return raw
}

// Conversion maps the record's data-type discriminant and bit width to a
// documented conversion case.
func (r Record) Conversion() (abi.Conversion, bool) {
	return abi.ConversionFor(r.DataType, r.BitsPerSample)
}
