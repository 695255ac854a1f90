// Package modtest provides module backends for tests: Script, a
// scriptable in-memory backend with a handler table per entry point,
// Reference, a Script wired up to behave like a correct rebuilt build
// over real fixture files, and Flaky, a wrapper that injects faults.
//
// The fakes implement audparity.Backend at the same seam the wazero
// binding does, so everything above the binding runs unmodified
// against them.
package modtest

import (
	"context"
	"encoding/binary"
	"math"
	"unicode/utf16"

	audparity "github.com/wavecheck/audparity"
	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/errors"
)

// Handler services one entry-point call. Parameters arrive in stack;
// the result goes back into stack[0].
type Handler func(stack []uint64)

// Script is an in-memory Backend: flat byte memory, bump allocator,
// and a handler per exported entry. The zero value is not usable; use
// NewScript.
type Script struct {
	label    string
	mem      []byte
	next     uint32
	handlers map[string]Handler
	order    []string

	// Allocation accounting for leak assertions in tests.
	Allocs int
	Frees  int

	closed bool
}

// NewScript returns an empty backend with no exported entries.
func NewScript(label string) *Script {
	return &Script{
		label:    label,
		mem:      make([]byte, 64*1024),
		next:     4096,
		handlers: make(map[string]Handler),
	}
}

// On installs or replaces the handler for one entry and returns the
// script for chaining.
func (s *Script) On(entry abi.Entry, h Handler) *Script {
	name := string(entry)
	if _, ok := s.handlers[name]; !ok {
		s.order = append(s.order, name)
	}
	s.handlers[name] = h
	return s
}

// OnStatus installs a handler that answers with a constant status.
func (s *Script) OnStatus(entry abi.Entry, status abi.Status) *Script {
	return s.On(entry, func(stack []uint64) {
		stack[0] = uint64(uint32(status))
	})
}

// Drop removes an entry, as if the build never exported it.
func (s *Script) Drop(entry abi.Entry) *Script {
	name := string(entry)
	if _, ok := s.handlers[name]; !ok {
		return s
	}
	delete(s.handlers, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return s
}

// Backend implementation.

func (s *Script) Label() string { return s.label }

func (s *Script) Has(name string) bool {
	_, ok := s.handlers[name]
	return ok
}

func (s *Script) EntryNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Script) Call(_ context.Context, name string, stack []uint64) error {
	if s.closed {
		return errors.NotInitialized(errors.PhaseCall, "backend")
	}
	h, ok := s.handlers[name]
	if !ok {
		return errors.EntryAbsent(name)
	}
	h(stack)
	return nil
}

func (s *Script) Memory() audparity.Memory { return (*scriptMemory)(s) }

func (s *Script) Alloc(_ context.Context, size uint32) (uint32, error) {
	if s.closed {
		return 0, errors.NotInitialized(errors.PhaseCall, "backend")
	}
	ptr := (s.next + 7) &^ 7
	end := int(ptr) + int(size)
	for end > len(s.mem) {
		s.mem = append(s.mem, make([]byte, len(s.mem))...)
	}
	s.next = ptr + size
	s.Allocs++
	return ptr, nil
}

func (s *Script) Free(_ context.Context, ptr uint32) error {
	if ptr != 0 {
		s.Frees++
	}
	return nil
}

func (s *Script) Close(context.Context) error {
	s.closed = true
	return nil
}

var _ audparity.Backend = (*Script)(nil)

// Memory helpers for handlers. These panic on out-of-range access;
// a handler reaching outside the arena is a broken test.

// U32 reads a little-endian uint32 at ptr.
func (s *Script) U32(ptr uint32) uint32 {
	return binary.LittleEndian.Uint32(s.mem[ptr:])
}

// PutU32 writes a little-endian uint32 at ptr.
func (s *Script) PutU32(ptr uint32, v uint32) {
	binary.LittleEndian.PutUint32(s.mem[ptr:], v)
}

// F64 reads a little-endian double at ptr.
func (s *Script) F64(ptr uint32) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(s.mem[ptr:]))
}

// PutF64 writes a little-endian double at ptr.
func (s *Script) PutF64(ptr uint32, v float64) {
	binary.LittleEndian.PutUint64(s.mem[ptr:], math.Float64bits(v))
}

// Bytes copies n bytes starting at ptr.
func (s *Script) Bytes(ptr, n uint32) []byte {
	out := make([]byte, n)
	copy(out, s.mem[ptr:])
	return out
}

// PutBytes writes b at ptr.
func (s *Script) PutBytes(ptr uint32, b []byte) {
	copy(s.mem[ptr:], b)
}

// WidePath decodes the NUL-terminated UTF-16LE string at ptr, the
// form the binding marshals paths in.
func (s *Script) WidePath(ptr uint32) string {
	var units []uint16
	for off := ptr; int(off)+1 < len(s.mem); off += 2 {
		u := binary.LittleEndian.Uint16(s.mem[off:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// Narrow decodes the NUL-terminated byte string at ptr.
func (s *Script) Narrow(ptr uint32) string {
	for off := ptr; int(off) < len(s.mem); off++ {
		if s.mem[off] == 0 {
			return string(s.mem[ptr:off])
		}
	}
	return string(s.mem[ptr:])
}

// PutNarrow writes v NUL-terminated at ptr, truncating to max bytes
// including the terminator.
func (s *Script) PutNarrow(ptr uint32, v string, max uint32) {
	if max == 0 {
		return
	}
	b := []byte(v)
	if uint32(len(b)) >= max {
		b = b[:max-1]
	}
	copy(s.mem[ptr:], b)
	s.mem[ptr+uint32(len(b))] = 0
}

// scriptMemory exposes the arena through the Memory interface.
type scriptMemory Script

var _ audparity.Memory = (*scriptMemory)(nil)

func (m *scriptMemory) check(offset, length uint32) error {
	if int(offset)+int(length) > len(m.mem) {
		return errors.New(errors.PhaseCall, errors.KindOutOfBounds).
			Detail("access of %d bytes at 0x%x outside the %d-byte arena", length, offset, len(m.mem)).
			Build()
	}
	return nil
}

func (m *scriptMemory) Read(offset uint32, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.mem[offset:])
	return out, nil
}

func (m *scriptMemory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.mem[offset:], data)
	return nil
}

func (m *scriptMemory) ReadU16(offset uint32) (uint16, error) {
	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.mem[offset:]), nil
}

func (m *scriptMemory) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.mem[offset:]), nil
}

func (m *scriptMemory) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.mem[offset:]), nil
}

func (m *scriptMemory) WriteU16(offset uint32, value uint16) error {
	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.mem[offset:], value)
	return nil
}

func (m *scriptMemory) WriteU32(offset uint32, value uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.mem[offset:], value)
	return nil
}

func (m *scriptMemory) WriteU64(offset uint32, value uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.mem[offset:], value)
	return nil
}
