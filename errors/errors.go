package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which runtime stage produced the error
type Phase string

const (
	PhaseBuild    Phase = "build"    // script compilation (external collaborator)
	PhaseLoad     Phase = "load"     // module loading and export resolution
	PhaseInit     Phase = "init"     // script init entry point
	PhaseUpdate   Phase = "update"   // script update entry point
	PhaseShutdown Phase = "shutdown" // script shutdown entry point
	PhaseMigrate  Phase = "migrate"  // state transfer during hot reload
	PhaseSwap     Phase = "swap"     // module repointing during hot reload
	PhaseApply    Phase = "apply"    // event application to the host world
	PhaseSignal   Phase = "signal"   // signal fan-out
)

// Kind categorizes the error
type Kind string

const (
	KindBuildFailure     Kind = "build_failure"
	KindOpenFailed       Kind = "open_failed"
	KindSymbolMissing    Kind = "symbol_missing"
	KindAbiMismatch      Kind = "abi_mismatch"
	KindInitFailure      Kind = "init_failure"
	KindMigrationFailure Kind = "migration_failure"
	KindStaleTarget      Kind = "stale_target"
	KindTimeout          Kind = "timeout"
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindInUse            Kind = "in_use"
	KindCancelled        Kind = "cancelled"
	KindUnhealthy        Kind = "unhealthy"
	KindTrap             Kind = "trap"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Cause      error
	Phase      Phase
	Kind       Kind
	Script     string
	Symbol     string
	Detail     string
	InstanceID uint64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Script != "" {
		b.WriteString(" script ")
		b.WriteString(e.Script)
	}
	if e.InstanceID != 0 {
		fmt.Fprintf(&b, " instance %d", e.InstanceID)
	}
	if e.Symbol != "" {
		b.WriteString(" symbol ")
		b.WriteString(e.Symbol)
	}

	if e.Detail != "" {
		b.WriteString(": ")
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

// Script sets the script definition name
func (b *Builder) Script(name string) *Builder {
	b.err.Script = name
	return b
}

// Instance sets the originating instance id
func (b *Builder) Instance(id uint64) *Builder {
	b.err.InstanceID = id
	return b
}

// Symbol sets the export name involved
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
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
