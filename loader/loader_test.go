package loader

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/engine/enginetest"
	"github.com/embercore/hotscript/errors"
)

func newLoader(t *testing.T, script *enginetest.Script) (*Loader, *enginetest.FakeLibrary) {
	t.Helper()
	lib := script.Library()
	eng := enginetest.NewEngine()
	eng.RegisterLibrary("scripts/test.wasm", lib)
	return New(eng), lib
}

func TestLoad_ResolvesExports(t *testing.T) {
	script := enginetest.NewScript()
	script.WithStateTransfer = true
	script.WithHealth = true
	l, _ := newLoader(t, script)

	m, err := l.Load(context.Background(), "test", "scripts/test.wasm")
	if err != nil {
		t.Fatal(err)
	}

	exp := m.Exports()
	if exp.Init == nil || exp.Update == nil || exp.Shutdown == nil {
		t.Fatal("required exports must resolve")
	}
	if !exp.HasStateTransfer() {
		t.Fatal("state transfer group should have resolved")
	}
	if exp.HealthCheck == nil {
		t.Fatal("health-check should have resolved")
	}
	if exp.OnSignal != nil {
		t.Fatal("on-signal was not exported and must be nil")
	}
	if m.Meta().AbiVersion != abi.Version {
		t.Fatalf("abi version %d", m.Meta().AbiVersion)
	}
	if m.Meta().BuildHash == "" {
		t.Fatal("expected a build hash")
	}
}

func TestLoad_SymbolMissingClosesLibrary(t *testing.T) {
	script := enginetest.NewScript()
	l, lib := newLoader(t, script)
	lib.RemoveExport(abi.ExportUpdate)

	_, err := l.Load(context.Background(), "test", "scripts/test.wasm")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindSymbolMissing}) {
		t.Fatalf("expected symbol_missing, got %v", err)
	}
	if !lib.Closed() {
		t.Fatal("failed load must close the library")
	}
}

func TestLoad_AbiVersionOutOfRange(t *testing.T) {
	script := enginetest.NewScript()
	script.Version = abi.MaxSupportedVersion + 1
	l, lib := newLoader(t, script)

	_, err := l.Load(context.Background(), "test", "scripts/test.wasm")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindAbiMismatch}) {
		t.Fatalf("expected abi_mismatch, got %v", err)
	}
	if !lib.Closed() {
		t.Fatal("failed load must close the library")
	}
}

func TestLoad_PartialStateGroupNotTransfer(t *testing.T) {
	script := enginetest.NewScript()
	script.WithStateTransfer = true
	l, lib := newLoader(t, script)
	lib.RemoveExport(abi.ExportSerializeState)

	m, err := l.Load(context.Background(), "test", "scripts/test.wasm")
	if err != nil {
		t.Fatal(err)
	}
	if m.Exports().HasStateTransfer() {
		t.Fatal("partial state group must not count as transfer support")
	}
}

func TestUnload_RefusedWhileReferenced(t *testing.T) {
	script := enginetest.NewScript()
	l, lib := newLoader(t, script)

	m, err := l.Load(context.Background(), "test", "scripts/test.wasm")
	if err != nil {
		t.Fatal(err)
	}

	m.Retain()
	if err := l.Unload(context.Background(), m); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInUse}) {
		t.Fatalf("expected in_use, got %v", err)
	}
	if lib.Closed() {
		t.Fatal("library must stay open while referenced")
	}

	m.Release()
	if err := l.Unload(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if !lib.Closed() {
		t.Fatal("library must close on unload")
	}

	// Second unload is a no-op.
	if err := l.Unload(context.Background(), m); err != nil {
		t.Fatal(err)
	}
}

func TestUnloadUnchecked_IgnoresReferences(t *testing.T) {
	script := enginetest.NewScript()
	l, lib := newLoader(t, script)

	m, err := l.Load(context.Background(), "test", "scripts/test.wasm")
	if err != nil {
		t.Fatal(err)
	}
	m.Retain()

	if err := l.UnloadUnchecked(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if !lib.Closed() {
		t.Fatal("unchecked unload must close the library")
	}
}
