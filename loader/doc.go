// Package loader loads compiled script modules and resolves their exports
// against the ABI contract.
//
// Load opens the binary through the engine seam, resolves every required
// export (failing the whole load if any is absent or mistyped), resolves
// optional exports individually, probes the module's abi-version, and
// rejects versions outside the supported range. No failure path leaves a
// partially initialized module behind: the library is closed before the
// error is returned.
//
// Unload is reference-counted. The registry holds one reference per live
// instance and the runtime holds one around every in-flight entry point
// call, so Unload fails with an in_use error until the module is provably
// idle. UnloadUnchecked is the explicit escape hatch for force-detach
// paths that accept the leak risk.
package loader
