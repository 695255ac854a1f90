package audparity

import "context"

// Memory is byte-addressed access to a bound module's linear memory.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// Backend is one loaded build of the Aud module: a set of named entry
// points plus the linear memory and allocator needed to marshal arguments
// across the boundary. The wazero adapter in package binding implements it
// for real .wasm builds; package modtest provides scripted backends.
//
// Has and EntryNames reflect what the build actually exports. Call with a
// name the build does not export must fail without touching the module.
type Backend interface {
	// Label identifies the build in logs and reports ("original", "rebuilt").
	Label() string

	Has(name string) bool
	EntryNames() []string

	// Call invokes an entry point using the raw stack calling convention:
	// params are read from stack, results written back into it.
	Call(ctx context.Context, name string, stack []uint64) error

	Memory() Memory

	// Alloc reserves size bytes in module memory via the build's exported
	// allocator. Free releases a prior allocation; backends whose allocator
	// has no free entry may treat it as a no-op.
	Alloc(ctx context.Context, size uint32) (uint32, error)
	Free(ctx context.Context, ptr uint32) error

	Close(ctx context.Context) error
}
