// Package errors provides structured error types for the script runtime.
//
// Errors are categorized by Phase (which runtime stage produced the error)
// and Kind (error category). Failures local to one event or one instance
// carry enough context for host-side logging without ever aborting a frame.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMigrate, errors.KindMigrationFailure).
//		Script("enemy_ai").
//		Instance(42).
//		Detail("deserialize-state returned status %d", code).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AbiMismatch(path, got, min, max)
//	err := errors.StaleTarget(errors.PhaseApply, origin, target)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
