package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/engine"
	"github.com/embercore/hotscript/errors"
)

// Loader opens script binaries and resolves their export tables.
type Loader struct {
	engine engine.Engine
}

// New creates a loader over an engine.
func New(eng engine.Engine) *Loader {
	return &Loader{engine: eng}
}

// Load opens the binary at path and resolves it into a Module. On any
// failure the library is closed and no module is returned; there is no
// partially initialized state to clean up.
func (l *Loader) Load(ctx context.Context, script, path string) (*Module, error) {
	lib, err := l.engine.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	exports, err := resolveExports(script, lib)
	if err != nil {
		_ = lib.Close(ctx)
		return nil, err
	}

	version, err := probeVersion(ctx, script, exports.AbiVersion)
	if err != nil {
		_ = lib.Close(ctx)
		return nil, err
	}

	hash, err := hashFile(path)
	if err != nil {
		_ = lib.Close(ctx)
		return nil, errors.OpenFailed(path, err)
	}

	m := &Module{
		lib:     lib,
		exports: *exports,
		meta: Metadata{
			Script:     script,
			Path:       path,
			BuildHash:  hash,
			AbiVersion: version,
			LoadedAt:   time.Now(),
		},
	}

	Logger().Info("loaded script module",
		zap.String("script", script),
		zap.String("path", path),
		zap.String("build", hash[:12]),
		zap.Uint32("abi", version),
		zap.Bool("state_transfer", exports.HasStateTransfer()))

	return m, nil
}

// Unload closes the module's library. It fails with an in_use error while
// any reference remains; callers must first migrate every instance off the
// module.
func (l *Loader) Unload(ctx context.Context, m *Module) error {
	if refs := m.Refs(); refs > 0 {
		return errors.InUse(m.meta.Script, refs)
	}
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	Logger().Info("unloaded script module",
		zap.String("script", m.meta.Script),
		zap.String("build", m.meta.BuildHash[:12]))
	return m.lib.Close(ctx)
}

// UnloadUnchecked closes the module's library regardless of outstanding
// references. Only force-detach paths may use this; any still-registered
// instance will fault on its next call.
func (l *Loader) UnloadUnchecked(ctx context.Context, m *Module) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	Logger().Warn("force-unloading script module with live references",
		zap.String("script", m.meta.Script),
		zap.Int32("refs", m.Refs()))
	return m.lib.Close(ctx)
}

func resolveExports(script string, lib engine.Library) (*Exports, error) {
	var exports Exports

	slots := map[string]*engine.Func{
		abi.ExportAbiVersion:       &exports.AbiVersion,
		abi.ExportInit:             &exports.Init,
		abi.ExportUpdate:           &exports.Update,
		abi.ExportShutdown:         &exports.Shutdown,
		abi.ExportSerializeState:   &exports.SerializeState,
		abi.ExportDeserializeState: &exports.DeserializeState,
		abi.ExportStateAlloc:       &exports.StateAlloc,
		abi.ExportHealthCheck:      &exports.HealthCheck,
		abi.ExportOnSignal:         &exports.OnSignal,
	}

	for _, name := range abi.RequiredExports {
		fn, ok := lib.Lookup(name)
		if !ok {
			return nil, errors.SymbolMissing(script, name)
		}
		if err := checkSignature(script, name, fn); err != nil {
			return nil, err
		}
		*slots[name] = fn
	}

	// Optional exports resolve individually; a present export with the
	// wrong signature still fails the load rather than being silently
	// skipped, since calling it later would corrupt the stack.
	for _, name := range abi.OptionalExports {
		fn, ok := lib.Lookup(name)
		if !ok {
			continue
		}
		if err := checkSignature(script, name, fn); err != nil {
			return nil, err
		}
		*slots[name] = fn
	}

	return &exports, nil
}

func checkSignature(script, name string, fn engine.Func) error {
	want, err := abi.ContractSignature(name)
	if err != nil {
		return err
	}
	if !want.Matches(fn.ParamTypes(), fn.ResultTypes()) {
		return errors.New(errors.PhaseLoad, errors.KindAbiMismatch).
			Script(script).
			Symbol(name).
			Detail("export signature does not match contract %s", want).
			Build()
	}
	return nil
}

func probeVersion(ctx context.Context, script string, fn engine.Func) (uint32, error) {
	res, err := fn.Call(ctx)
	if err != nil {
		return 0, errors.Trap(errors.PhaseLoad, script, 0, err)
	}
	if len(res) != 1 {
		return 0, errors.New(errors.PhaseLoad, errors.KindAbiMismatch).
			Script(script).
			Symbol(abi.ExportAbiVersion).
			Detail("probe returned %d results", len(res)).
			Build()
	}
	version := uint32(res[0])
	if version < abi.MinSupportedVersion || version > abi.MaxSupportedVersion {
		return 0, errors.AbiMismatch(script, version, abi.MinSupportedVersion, abi.MaxSupportedVersion)
	}
	return version, nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Fake engines resolve paths that never touch disk; an absent
		// file still yields a stable hash of the path itself.
		if os.IsNotExist(err) {
			sum := sha256.Sum256([]byte(path))
			return hex.EncodeToString(sum[:]), nil
		}
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
