package modtest

import (
	"context"

	audparity "github.com/wavecheck/audparity"
	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/errors"
)

// Flaky wraps a Backend and injects faults per entry point: hidden
// exports, traps, guest panics, and status overrides. Everything not
// configured passes through.
type Flaky struct {
	inner audparity.Backend

	hidden   map[string]bool
	traps    map[string]error
	panics   map[string]bool
	override map[string]abi.Status
}

var _ audparity.Backend = (*Flaky)(nil)

// NewFlaky wraps inner with no faults configured.
func NewFlaky(inner audparity.Backend) *Flaky {
	return &Flaky{
		inner:    inner,
		hidden:   make(map[string]bool),
		traps:    make(map[string]error),
		panics:   make(map[string]bool),
		override: make(map[string]abi.Status),
	}
}

// Hide makes an entry look unexported.
func (f *Flaky) Hide(entry abi.Entry) *Flaky {
	f.hidden[string(entry)] = true
	return f
}

// Trap makes calls to an entry fail with the given cause.
func (f *Flaky) Trap(entry abi.Entry, cause error) *Flaky {
	f.traps[string(entry)] = cause
	return f
}

// Panic makes calls to an entry panic, for isolation tests.
func (f *Flaky) Panic(entry abi.Entry) *Flaky {
	f.panics[string(entry)] = true
	return f
}

// Override forces the status an entry returns, after the inner call
// ran with its side effects.
func (f *Flaky) Override(entry abi.Entry, status abi.Status) *Flaky {
	f.override[string(entry)] = status
	return f
}

func (f *Flaky) Label() string { return f.inner.Label() }

func (f *Flaky) Has(name string) bool {
	if f.hidden[name] {
		return false
	}
	return f.inner.Has(name)
}

func (f *Flaky) EntryNames() []string {
	var out []string
	for _, name := range f.inner.EntryNames() {
		if f.hidden[name] {
			continue
		}
		out = append(out, name)
	}
	return out
}

func (f *Flaky) Call(ctx context.Context, name string, stack []uint64) error {
	if f.hidden[name] {
		return errors.EntryAbsent(name)
	}
	if f.panics[name] {
		panic("injected panic in " + name)
	}
	if cause, ok := f.traps[name]; ok {
		return errors.Trap(name, cause)
	}
	if err := f.inner.Call(ctx, name, stack); err != nil {
		return err
	}
	if status, ok := f.override[name]; ok {
		stack[0] = uint64(uint32(status))
	}
	return nil
}

func (f *Flaky) Memory() audparity.Memory { return f.inner.Memory() }

func (f *Flaky) Alloc(ctx context.Context, size uint32) (uint32, error) {
	return f.inner.Alloc(ctx, size)
}

func (f *Flaky) Free(ctx context.Context, ptr uint32) error {
	return f.inner.Free(ctx, ptr)
}

func (f *Flaky) Close(ctx context.Context) error {
	return f.inner.Close(ctx)
}
