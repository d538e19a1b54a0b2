package errors

import "fmt"

// BuildFailure wraps a compiler/toolchain error. Build failures never touch
// runtime state; the previously loaded module keeps running.
func BuildFailure(script string, cause error) *Error {
	return &Error{
		Phase:  PhaseBuild,
		Kind:   KindBuildFailure,
		Script: script,
		Cause:  cause,
	}
}

// OpenFailed creates a load error for a binary that could not be opened.
func OpenFailed(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindOpenFailed,
		Detail: fmt.Sprintf("open %s", path),
		Cause:  cause,
	}
}

// SymbolMissing creates a load error for an absent required export.
func SymbolMissing(script, symbol string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSymbolMissing,
		Script: script,
		Symbol: symbol,
		Detail: "required export not found",
	}
}

// AbiMismatch creates a load error for a module outside the supported
// ABI version range.
func AbiMismatch(script string, got, min, max uint32) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindAbiMismatch,
		Script: script,
		Detail: fmt.Sprintf("module abi version %d outside supported range [%d, %d]", got, min, max),
	}
}

// InitFailure creates an attach error for an init entry point that
// reported failure. The instance is never registered.
func InitFailure(script string, instance uint64, status uint32) *Error {
	return &Error{
		Phase:      PhaseInit,
		Kind:       KindInitFailure,
		Script:     script,
		InstanceID: instance,
		Detail:     fmt.Sprintf("init returned status %d", status),
	}
}

// MigrationFailure creates a reload error for a failed state transfer.
// The swap is aborted for every instance of the module.
func MigrationFailure(script string, instance uint64, detail string, cause error) *Error {
	return &Error{
		Phase:      PhaseMigrate,
		Kind:       KindMigrationFailure,
		Script:     script,
		InstanceID: instance,
		Detail:     detail,
		Cause:      cause,
	}
}

// StaleTarget creates an apply error for an event whose target handle no
// longer names a live entity. The event is dropped; the batch continues.
func StaleTarget(phase Phase, origin uint64, target uint64) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindStaleTarget,
		InstanceID: origin,
		Detail:     fmt.Sprintf("target handle %#x is stale", target),
	}
}

// Timeout creates a watchdog error for an entry point that exceeded its
// bound. The instance is force-detached and flagged unhealthy.
func Timeout(phase Phase, script string, instance uint64, detail string) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindTimeout,
		Script:     script,
		InstanceID: instance,
		Detail:     detail,
	}
}

// Trap wraps a fault raised by the script engine mid-call.
func Trap(phase Phase, script string, instance uint64, cause error) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindTrap,
		Script:     script,
		InstanceID: instance,
		Cause:      cause,
	}
}

// NotFound creates a lookup error
func NotFound(phase Phase, what string, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InstanceNotFound creates a lookup error for a dead or unknown instance id.
func InstanceNotFound(phase Phase, instance uint64) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindNotFound,
		InstanceID: instance,
		Detail:     "no live instance with this id",
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

// InUse creates an unload precondition error: references to the module
// still exist or a call against it is mid-execution.
func InUse(script string, refs int32) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInUse,
		Script: script,
		Detail: fmt.Sprintf("%d live references", refs),
	}
}

// Unhealthy creates a validation error for a pending module whose health
// check reported failure. The swap is rejected before any instance is
// touched.
func Unhealthy(script string, status uint32) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindUnhealthy,
		Script: script,
		Detail: fmt.Sprintf("health check returned status %d", status),
	}
}

// Cancelled creates a reload cancellation error.
func Cancelled(script string) *Error {
	return &Error{
		Phase:  PhaseSwap,
		Kind:   KindCancelled,
		Script: script,
		Detail: "reload cancelled before swap",
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
