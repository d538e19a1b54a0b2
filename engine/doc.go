// Package engine abstracts how compiled script binaries are opened and
// executed.
//
// The production backend is wazero: scripts are WebAssembly modules, opened
// into an isolated instance with the host jump table linked as imports, and
// truly unloaded when closed. The Engine/Library/Func seam keeps the loader
// and everything above it independent of wazero so tests can substitute
// in-process fakes (see enginetest).
package engine
