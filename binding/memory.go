package binding

import (
	"github.com/tetratelabs/wazero/api"

	audparity "github.com/wavecheck/audparity"
	"github.com/wavecheck/audparity/errors"
)

// wazeroMemory adapts wazero's ok-bool memory API to the error-returning
// Memory interface so out-of-bounds access carries phase and offsets.
type wazeroMemory struct {
	memory api.Memory
}

var _ audparity.Memory = (*wazeroMemory)(nil)

func oob(op string, offset, length uint32) *errors.Error {
	return errors.New(errors.PhaseCall, errors.KindOutOfBounds).
		Detail("memory %s of %d bytes at 0x%x out of range", op, length, offset).
		Build()
}

func (m *wazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.memory.Read(offset, length)
	if !ok {
		return nil, oob("read", offset, length)
	}
	// wazero returns a view into linear memory; copy so later module
	// calls cannot mutate what we already decoded.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *wazeroMemory) Write(offset uint32, data []byte) error {
	if !m.memory.Write(offset, data) {
		return oob("write", offset, uint32(len(data)))
	}
	return nil
}

func (m *wazeroMemory) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.memory.ReadUint16Le(offset)
	if !ok {
		return 0, oob("read", offset, 2)
	}
	return v, nil
}

func (m *wazeroMemory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.memory.ReadUint32Le(offset)
	if !ok {
		return 0, oob("read", offset, 4)
	}
	return v, nil
}

func (m *wazeroMemory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.memory.ReadUint64Le(offset)
	if !ok {
		return 0, oob("read", offset, 8)
	}
	return v, nil
}

func (m *wazeroMemory) WriteU16(offset uint32, value uint16) error {
	if !m.memory.WriteUint16Le(offset, value) {
		return oob("write", offset, 2)
	}
	return nil
}

func (m *wazeroMemory) WriteU32(offset uint32, value uint32) error {
	if !m.memory.WriteUint32Le(offset, value) {
		return oob("write", offset, 4)
	}
	return nil
}

func (m *wazeroMemory) WriteU64(offset uint32, value uint64) error {
	if !m.memory.WriteUint64Le(offset, value) {
		return oob("write", offset, 8)
	}
	return nil
}
