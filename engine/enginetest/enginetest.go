// Package enginetest provides in-process fakes for the engine seam so the
// loader, registry, scheduler, and reload manager can be tested without
// compiled wasm binaries.
package enginetest

import (
	"context"
	"sync"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/engine"
	"github.com/embercore/hotscript/errors"
)

// FakeFunc is one fake export.
type FakeFunc struct {
	Fn      func(ctx context.Context, params []uint64) ([]uint64, error)
	Params  []abi.CoreType
	Results []abi.CoreType
}

func (f *FakeFunc) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f.Fn(ctx, params)
}

func (f *FakeFunc) ParamTypes() []abi.CoreType  { return f.Params }
func (f *FakeFunc) ResultTypes() []abi.CoreType { return f.Results }

// FakeLibrary is an in-process Library with a small linear memory and a
// bump allocator, enough to exercise the state transfer protocol.
type FakeLibrary struct {
	exports map[string]*FakeFunc
	mem     []byte
	mu      sync.Mutex
	next    uint32
	closed  bool
}

// NewLibrary creates an empty fake library with 64KB of memory.
func NewLibrary() *FakeLibrary {
	return &FakeLibrary{
		exports: make(map[string]*FakeFunc),
		mem:     make([]byte, 64*1024),
		next:    16,
	}
}

// Export registers a fake export.
func (l *FakeLibrary) Export(name string, params, results []abi.CoreType, fn func(ctx context.Context, params []uint64) ([]uint64, error)) {
	l.exports[name] = &FakeFunc{Fn: fn, Params: params, Results: results}
}

// RemoveExport deletes an export, for simulating symbol-missing binaries.
func (l *FakeLibrary) RemoveExport(name string) {
	delete(l.exports, name)
}

func (l *FakeLibrary) Lookup(name string) (engine.Func, bool) {
	f, ok := l.exports[name]
	return f, ok
}

func (l *FakeLibrary) ReadMemory(ptr, length uint32) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if int(ptr)+int(length) > len(l.mem) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, l.mem[ptr:ptr+length])
	return out, true
}

func (l *FakeLibrary) WriteMemory(ptr uint32, data []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if int(ptr)+len(data) > len(l.mem) {
		return false
	}
	copy(l.mem[ptr:], data)
	return true
}

// Alloc reserves n bytes and returns the offset.
func (l *FakeLibrary) Alloc(n uint32) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ptr := l.next
	l.next += n
	return ptr
}

// Place copies data into fake memory and returns its (ptr, len).
func (l *FakeLibrary) Place(data []byte) (uint32, uint32) {
	ptr := l.Alloc(uint32(len(data)))
	l.WriteMemory(ptr, data)
	return ptr, uint32(len(data))
}

func (l *FakeLibrary) Close(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Closed reports whether Close was called.
func (l *FakeLibrary) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// FakeEngine maps paths to library factories. Each Open calls the factory
// so reloads observe a fresh library, like a rebuilt binary.
type FakeEngine struct {
	factories map[string]func() (engine.Library, error)
	mu        sync.Mutex
	opens     int
}

func NewEngine() *FakeEngine {
	return &FakeEngine{factories: make(map[string]func() (engine.Library, error))}
}

// Register installs a factory for a path.
func (e *FakeEngine) Register(path string, factory func() (engine.Library, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[path] = factory
}

// RegisterLibrary installs a fixed library for a path.
func (e *FakeEngine) RegisterLibrary(path string, lib engine.Library) {
	e.Register(path, func() (engine.Library, error) { return lib, nil })
}

func (e *FakeEngine) Open(_ context.Context, path string) (engine.Library, error) {
	e.mu.Lock()
	factory, ok := e.factories[path]
	e.opens++
	e.mu.Unlock()
	if !ok {
		return nil, errors.OpenFailed(path, nil)
	}
	return factory()
}

func (e *FakeEngine) Close(_ context.Context) error { return nil }

// Opens returns how many times Open was called.
func (e *FakeEngine) Opens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}
