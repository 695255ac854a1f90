package binding

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	audparity "github.com/wavecheck/audparity"
	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/errors"
)

// GuestCorpusDir is the guest-side mount point for Config.CorpusDir.
// Drivers hand the module paths under this prefix, never host paths.
const GuestCorpusDir = "/work"

// Allocator export names, in resolution order. Builds produced with
// wasi-libc export malloc/free; component-style builds export the
// realloc shape instead.
const (
	allocMalloc  = "malloc"
	allocRealloc = "cabi_realloc"
	allocLegacy  = "canonical_abi_realloc"
	allocSimple  = "allocate"
	allocShort   = "alloc"

	freeLibc   = "free"
	freeCabi   = "cabi_free"
	freeLegacy = "deallocate"
)

// reallocArity is the parameter count of realloc-shaped allocators
// (old pointer, old size, alignment, new size).
const reallocArity = 4

// Config controls how a module build is loaded.
type Config struct {
	// Path is the wasm file on the host filesystem.
	Path string

	// Label names the build in logs and reports, e.g. "original"
	// or "rebuilt". Defaults to the file's base name.
	Label string

	// CorpusDir, when set, is mounted read-write at GuestCorpusDir
	// so the module's file I/O can reach the fixture tree.
	CorpusDir string

	// MemoryLimitPages caps the module's memory in 64KB pages.
	// Zero keeps the runtime default.
	MemoryLimitPages uint32

	// Stdout and Stderr receive the module's WASI output streams.
	// Nil discards.
	Stdout io.Writer
	Stderr io.Writer
}

// WazeroBackend drives one loaded module build through the wazero
// runtime. It is not safe for concurrent use; the verifier calls each
// build from a single goroutine.
type WazeroBackend struct {
	label    string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	instance api.Module
	memory   *wazeroMemory

	funcs      map[string]api.Function
	entryNames []string

	allocFn      api.Function
	allocRealloc bool
	freeFn       api.Function
	freeName     string
	freeArity    int

	// Pre-allocated call stack, reused across allocator calls.
	stackBuf []uint64
}

var _ audparity.Backend = (*WazeroBackend)(nil)

// Load reads, compiles and instantiates a module build. The returned
// backend owns its runtime; Close releases both.
func Load(ctx context.Context, cfg Config) (*WazeroBackend, error) {
	wasmBytes, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, errors.Load("read module file", err)
	}

	label := cfg.Label
	if label == "" {
		label = filepath.Base(cfg.Path)
	}

	// CloseOnContextDone lets the probe driver's per-call deadlines
	// interrupt a build stuck in a guest loop.
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	// The measurement builds are wasi-libc reactors; their fopen and
	// mkdir calls route through preview1.
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, errors.Load("instantiate WASI host module", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, errors.Load("compile module", err)
	}

	moduleCfg := wazero.NewModuleConfig().
		WithName(label).
		WithStartFunctions("_initialize")
	if cfg.CorpusDir != "" {
		fsCfg := wazero.NewFSConfig().WithDirMount(cfg.CorpusDir, GuestCorpusDir)
		moduleCfg = moduleCfg.WithFSConfig(fsCfg)
	}
	if cfg.Stdout != nil {
		moduleCfg = moduleCfg.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		moduleCfg = moduleCfg.WithStderr(cfg.Stderr)
	}

	instance, err := runtime.InstantiateModule(ctx, compiled, moduleCfg)
	if err != nil {
		runtime.Close(ctx)
		return nil, errors.Load("instantiate module", err)
	}

	b := &WazeroBackend{
		label:    label,
		runtime:  runtime,
		compiled: compiled,
		instance: instance,
		memory:   &wazeroMemory{memory: instance.Memory()},
		funcs:    make(map[string]api.Function),
		stackBuf: make([]uint64, 8),
	}
	b.resolveEntries()
	b.resolveAllocator()

	Logger().Debug("module build loaded",
		zap.String("label", label),
		zap.String("path", cfg.Path),
		zap.Int("entries", len(b.entryNames)))
	return b, nil
}

// resolveEntries caches the exported functions of the recovered
// surface, in canonical order. Absent entries are simply skipped; the
// capability map reflects what the build actually ships.
func (b *WazeroBackend) resolveEntries() {
	for _, name := range abi.EntryNames() {
		fn := b.instance.ExportedFunction(name)
		if fn == nil {
			continue
		}
		b.funcs[name] = fn
		b.entryNames = append(b.entryNames, name)
	}
}

// resolveAllocator walks the allocator fallback chain. A build with no
// recognizable allocator still loads; Alloc reports the gap per call.
func (b *WazeroBackend) resolveAllocator() {
	for _, name := range []string{allocMalloc, allocRealloc, allocLegacy, allocSimple, allocShort} {
		fn := b.instance.ExportedFunction(name)
		if fn == nil {
			continue
		}
		b.allocFn = fn
		b.allocRealloc = len(fn.Definition().ParamTypes()) >= reallocArity
		Logger().Debug("allocator resolved", zap.String("export", name))
		break
	}
	for _, name := range []string{freeLibc, freeCabi, freeLegacy} {
		fn := b.instance.ExportedFunction(name)
		if fn == nil {
			continue
		}
		b.freeFn = fn
		b.freeName = name
		b.freeArity = len(fn.Definition().ParamTypes())
		break
	}
}

// Label reports which build this backend drives.
func (b *WazeroBackend) Label() string {
	return b.label
}

// Has reports whether the build exports the named function.
func (b *WazeroBackend) Has(name string) bool {
	if _, ok := b.funcs[name]; ok {
		return true
	}
	if b.instance == nil {
		return false
	}
	fn := b.instance.ExportedFunction(name)
	if fn == nil {
		return false
	}
	b.funcs[name] = fn
	return true
}

// EntryNames lists the recovered-surface entries this build exports,
// in canonical export order.
func (b *WazeroBackend) EntryNames() []string {
	out := make([]string, len(b.entryNames))
	copy(out, b.entryNames)
	return out
}

// Call invokes an exported function with the given parameter/result
// stack. Traps and runtime faults come back as call-phase errors; the
// status codes the module itself returns are data in stack[0], not
// errors.
func (b *WazeroBackend) Call(ctx context.Context, name string, stack []uint64) error {
	fn, ok := b.funcs[name]
	if !ok {
		if !b.Has(name) {
			return errors.EntryAbsent(name)
		}
		fn = b.funcs[name]
	}
	if err := fn.CallWithStack(ctx, stack); err != nil {
		return errors.Trap(name, err)
	}
	return nil
}

// Memory exposes the instance's linear memory.
func (b *WazeroBackend) Memory() audparity.Memory {
	return b.memory
}

// Alloc obtains size bytes of guest memory from the module's own
// allocator so that pointer arguments stay inside the instance heap.
func (b *WazeroBackend) Alloc(ctx context.Context, size uint32) (uint32, error) {
	if b.allocFn == nil {
		return 0, errors.New(errors.PhaseCall, errors.KindAllocation).
			Detail("module exports no allocator").
			Build()
	}
	stack := b.stackBuf[:reallocArity]
	for i := range stack {
		stack[i] = 0
	}
	if b.allocRealloc {
		// realloc(ptr=0, oldSize=0, align=8, newSize=size)
		stack[2] = 8
		stack[3] = uint64(size)
	} else {
		stack[0] = uint64(size)
	}
	if err := b.allocFn.CallWithStack(ctx, stack); err != nil {
		return 0, errors.AllocationFailed(size, err)
	}
	ptr := uint32(stack[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(size, nil)
	}
	return ptr, nil
}

// Free returns guest memory to the module. A build without a free
// export makes this a no-op.
func (b *WazeroBackend) Free(ctx context.Context, ptr uint32) error {
	if ptr == 0 || b.freeFn == nil {
		return nil
	}
	n := b.freeArity
	if n < 1 {
		n = 1
	}
	stack := b.stackBuf[:n]
	for i := range stack {
		stack[i] = 0
	}
	stack[0] = uint64(ptr)
	if err := b.freeFn.CallWithStack(ctx, stack); err != nil {
		return errors.Trap(b.freeName, err)
	}
	return nil
}

// Close releases the instance and its runtime.
func (b *WazeroBackend) Close(ctx context.Context) error {
	var firstErr error
	if b.instance != nil {
		if err := b.instance.Close(ctx); err != nil {
			firstErr = err
		}
		b.instance = nil
	}
	if b.runtime != nil {
		if err := b.runtime.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		b.runtime = nil
	}
	b.compiled = nil
	b.memory = nil
	b.funcs = nil
	b.allocFn = nil
	b.freeFn = nil
	return firstErr
}

