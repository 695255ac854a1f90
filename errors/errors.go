package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the verification pipeline the error occurred
type Phase string

const (
	PhaseLoad      Phase = "load"      // module loading
	PhaseHandshake Phase = "handshake" // authentication sequence
	PhaseCall      Phase = "call"      // entry-point invocation
	PhaseDecode    Phase = "decode"    // property-record decoding
	PhaseDrive     Phase = "drive"     // probe battery execution
	PhaseCompare   Phase = "compare"   // parity comparison
	PhaseCorpus    Phase = "corpus"    // corpus generation
	PhaseStore     Phase = "store"     // run-history persistence
	PhaseReport    Phase = "report"    // results rendering
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidData    Kind = "invalid_data"
	KindAbsentEntry    Kind = "absent_entry"
	KindTrap           Kind = "trap"
	KindAllocation     Kind = "allocation"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindNotInitialized Kind = "not_initialized"
	KindUnsupported    Kind = "unsupported"
	KindMismatch       Kind = "mismatch"
	KindIO             Kind = "io"
	KindInternal       Kind = "internal"
)

// Error is the structured error type used throughout the verifier
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Entry  string // ABI entry point involved, if any
	File   string // corpus file involved, if any
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Entry != "" || e.File != "" {
		b.WriteString(": ")
		if e.Entry != "" && e.File != "" {
			b.WriteString("entry ")
			b.WriteString(e.Entry)
			b.WriteString(", file ")
			b.WriteString(e.File)
		} else if e.Entry != "" {
			b.WriteString("entry ")
			b.WriteString(e.Entry)
		} else {
			b.WriteString("file ")
			b.WriteString(e.File)
		}
	}

	if e.Detail != "" {
		if e.Entry != "" || e.File != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Entry sets the ABI entry point name
func (b *Builder) Entry(name string) *Builder {
	b.err.Entry = name
	return b
}

// File sets the corpus file name
func (b *Builder) File(name string) *Builder {
	b.err.File = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// EntryAbsent reports a call against an entry point the build does not export.
// Probes treat it as a capability gap, not a failure.
func EntryAbsent(entry string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindAbsentEntry,
		Entry:  entry,
		Detail: "entry point not exported by this build",
	}
}

// Trap reports a guest trap or memory fault raised inside an entry point
func Trap(entry string, cause error) *Error {
	return &Error{
		Phase: PhaseCall,
		Kind:  KindTrap,
		Entry: entry,
		Cause: cause,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes in module memory", size),
		Cause:  cause,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error for a missing module/ledger
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// DecodeFailed creates a property-record decoding error
func DecodeFailed(path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// IO wraps a filesystem error from corpus or report handling
func IO(phase Phase, file string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindIO,
		File:  file,
		Cause: cause,
	}
}
