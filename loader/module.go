package loader

import (
	"sync/atomic"
	"time"

	"github.com/embercore/hotscript/engine"
)

// Metadata is the diagnostic record kept alongside each loaded module.
type Metadata struct {
	LoadedAt   time.Time
	Script     string
	Path       string
	BuildHash  string
	AbiVersion uint32
}

// Exports is the resolved export table of a module. Required entries are
// always non-nil on a loaded module; optional entries may be nil.
type Exports struct {
	AbiVersion engine.Func
	Init       engine.Func
	Update     engine.Func
	Shutdown   engine.Func

	SerializeState   engine.Func
	DeserializeState engine.Func
	StateAlloc       engine.Func
	HealthCheck      engine.Func
	OnSignal         engine.Func
}

// HasStateTransfer reports whether the full state transfer group resolved.
// Migration falls back to the host-persisted store when it did not.
func (e *Exports) HasStateTransfer() bool {
	return e.SerializeState != nil && e.DeserializeState != nil && e.StateAlloc != nil
}

// Module is a loaded script binary plus its resolved export table.
// Exactly one module is active per script definition at a time; a pending
// module may exist transiently during a reload.
type Module struct {
	lib     engine.Library
	exports Exports
	meta    Metadata
	refs    atomic.Int32
	closed  atomic.Bool
}

// Exports returns the resolved export table.
func (m *Module) Exports() *Exports {
	return &m.exports
}

// Meta returns the module's metadata record.
func (m *Module) Meta() Metadata {
	return m.meta
}

// Library exposes the underlying library for memory operations during
// state transfer.
func (m *Module) Library() engine.Library {
	return m.lib
}

// Retain records a reference. Hold one per registered instance and one
// around every in-flight call so Unload can prove the module is idle.
func (m *Module) Retain() {
	m.refs.Add(1)
}

// Release drops a reference taken with Retain.
func (m *Module) Release() {
	if m.refs.Add(-1) < 0 {
		panic("loader: module reference count underflow")
	}
}

// Refs returns the current reference count.
func (m *Module) Refs() int32 {
	return m.refs.Load()
}

// Closed reports whether the module has been unloaded.
func (m *Module) Closed() bool {
	return m.closed.Load()
}
