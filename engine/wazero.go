package engine

import (
	"context"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/errors"
)

// WazeroConfig holds configuration for engine creation.
type WazeroConfig struct {
	// MemoryLimitPages caps linear memory per script instance in 64KB
	// pages. 0 means the wazero default.
	MemoryLimitPages uint32

	// DisableWASI skips instantiating wasi_snapshot_preview1. Scripts
	// built with most toolchains expect it present.
	DisableWASI bool
}

// WazeroEngine opens script binaries as WebAssembly modules.
type WazeroEngine struct {
	runtime wazero.Runtime
}

// NewWazeroEngine creates a wazero-backed engine with the host jump table
// bound under abi.HostModule. Must be created before any script is opened.
func NewWazeroEngine(ctx context.Context, host HostTable, cfg *WazeroConfig) (*WazeroEngine, error) {
	// Close-on-context-done lets the call guard terminate a guest whose
	// watchdog deadline expired instead of leaving it running detached.
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if cfg == nil || !cfg.DisableWASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
			_ = r.Close(ctx)
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindOpenFailed, err, "instantiate wasi")
		}
	}

	if err := bindHostTable(ctx, r, host); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	return &WazeroEngine{runtime: r}, nil
}

// Open reads, compiles, and instantiates a script binary. The instance is
// anonymous so an active and a pending build of the same script can be
// open at the same time.
func (e *WazeroEngine) Open(ctx context.Context, path string) (Library, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.OpenFailed(path, err)
	}

	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindOpenFailed, err, "compile "+path)
	}

	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindOpenFailed, err, "instantiate "+path)
	}

	// Reactor-style initialization when the toolchain emits it.
	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindOpenFailed, err, "_initialize "+path)
		}
	}

	Logger().Debug("opened script binary",
		zap.String("path", path),
		zap.Int("size", len(wasmBytes)))

	return &wazeroLibrary{mod: mod}, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

type wazeroLibrary struct {
	mod api.Module
}

func (l *wazeroLibrary) Lookup(name string) (Func, bool) {
	fn := l.mod.ExportedFunction(name)
	if fn == nil {
		return nil, false
	}
	return &wazeroFunc{fn: fn}, true
}

func (l *wazeroLibrary) ReadMemory(ptr, length uint32) ([]byte, bool) {
	mem := l.mod.Memory()
	if mem == nil {
		return nil, false
	}
	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, true
}

func (l *wazeroLibrary) WriteMemory(ptr uint32, data []byte) bool {
	mem := l.mod.Memory()
	if mem == nil {
		return false
	}
	return mem.Write(ptr, data)
}

func (l *wazeroLibrary) Close(ctx context.Context) error {
	return l.mod.Close(ctx)
}

type wazeroFunc struct {
	fn api.Function
}

func (f *wazeroFunc) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f.fn.Call(ctx, params...)
}

func (f *wazeroFunc) ParamTypes() []abi.CoreType {
	return coreTypes(f.fn.Definition().ParamTypes())
}

func (f *wazeroFunc) ResultTypes() []abi.CoreType {
	return coreTypes(f.fn.Definition().ResultTypes())
}

// invalidCoreType never matches a contract signature.
const invalidCoreType = abi.CoreType(0xFF)

func coreTypes(vts []api.ValueType) []abi.CoreType {
	if len(vts) == 0 {
		return nil
	}
	out := make([]abi.CoreType, len(vts))
	for i, vt := range vts {
		switch vt {
		case api.ValueTypeI32:
			out[i] = abi.CoreI32
		case api.ValueTypeI64:
			out[i] = abi.CoreI64
		case api.ValueTypeF32:
			out[i] = abi.CoreF32
		case api.ValueTypeF64:
			out[i] = abi.CoreF64
		default:
			out[i] = invalidCoreType
		}
	}
	return out
}
