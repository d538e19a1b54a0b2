package reload

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/engine"
	"github.com/embercore/hotscript/engine/enginetest"
	"github.com/embercore/hotscript/errors"
	"github.com/embercore/hotscript/events"
	"github.com/embercore/hotscript/runtime"
	"github.com/embercore/hotscript/world"
)

type fixture struct {
	rt  *runtime.Runtime
	w   *world.World
	eng *enginetest.FakeEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		w:   world.NewWorld(),
		eng: enginetest.NewEngine(),
	}
	rt, err := runtime.New(runtime.Config{
		World: f.w,
		Engine: func(engine.HostTable) (engine.Engine, error) {
			return f.eng, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.rt = rt
	return f
}

func (f *fixture) load(t *testing.T, name, path string, fake *enginetest.Script) {
	t.Helper()
	f.eng.Register(path, func() (engine.Library, error) { return fake.Library(), nil })
	if _, err := f.rt.LoadScript(context.Background(), name, path); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) attach(t *testing.T, name string) world.EntityHandle {
	t.Helper()
	handle, status := f.w.CreateEntity(world.EntitySpec{Transform: world.Identity()})
	if !status.OK() {
		t.Fatal(status)
	}
	if _, err := f.rt.Attach(context.Background(), handle, name, events.PhaseUpdate, 0); err != nil {
		t.Fatal(err)
	}
	return handle
}

// pathBuilder returns a fixed path for every build.
func pathBuilder(path string) Builder {
	return BuildFunc(func(context.Context, string) (string, error) {
		return path, nil
	})
}

// requestAndWait issues a reload request and waits for the build
// goroutine to deposit its result.
func requestAndWait(t *testing.T, m *Manager, name string) {
	t.Helper()
	if err := m.Request(context.Background(), name); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m.Pending)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReload_TransfersSerializedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := enginetest.NewScript()
	v1.WithStateTransfer = true
	v1.SerializeFn = func(uint64) ([]byte, bool) {
		return enginetest.EncodeCounter(42), true
	}
	f.load(t, "counter", "scripts/counter.v1.wasm", v1)
	f.attach(t, "counter")

	var migrated []uint64
	v2 := enginetest.NewScript()
	v2.WithStateTransfer = true
	v2.DeserializeFn = func(_ uint64, blob []byte) abi.Status {
		migrated = append(migrated, enginetest.DecodeCounter(blob))
		return abi.StatusOK
	}
	f.eng.Register("scripts/counter.v2.wasm", func() (engine.Library, error) { return v2.Library(), nil })

	old, _ := f.rt.ActiveModule("counter")
	m := NewManager(Config{Runtime: f.rt, Builder: pathBuilder("scripts/counter.v2.wasm")})

	requestAndWait(t, m, "counter")
	applied, err := m.ApplyPending(ctx)
	if !applied || err != nil {
		t.Fatalf("applied=%v err=%v", applied, err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state %s, want idle", m.State())
	}

	if len(migrated) != 1 || migrated[0] != 42 {
		t.Fatalf("migrated blobs %v, want [42]", migrated)
	}
	if len(v2.InitCalls()) != 1 {
		t.Fatal("new module must be initialized per instance")
	}
	if got := v1.ShutdownCalls(); len(got) != 1 {
		t.Fatalf("old module shutdowns %v, want one finalizing call", got)
	}
	if !old.Closed() {
		t.Fatal("old module must be unloaded after the swap")
	}
	active, _ := f.rt.ActiveModule("counter")
	if active.Meta().Path != "scripts/counter.v2.wasm" {
		t.Fatalf("active path %q", active.Meta().Path)
	}

	// The repointed instance runs on the new code next frame.
	f.rt.Frame(ctx, 0.016)
	if len(v2.UpdateCalls()) != 1 {
		t.Fatal("instance must update on the new module")
	}
	if len(v1.UpdateCalls()) != 0 {
		t.Fatal("old module must not run after the swap")
	}
}

func TestReload_PersistedStoreSurvivesWithoutTransferGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := enginetest.NewScript() // no state transfer exports
	f.load(t, "plain", "scripts/plain.v1.wasm", v1)
	f.attach(t, "plain")

	in := f.rt.Registry().All()[0]
	f.rt.Store().Set(in.ID, "hp", []byte{100})

	v2 := enginetest.NewScript()
	f.eng.Register("scripts/plain.v2.wasm", func() (engine.Library, error) { return v2.Library(), nil })

	m := NewManager(Config{Runtime: f.rt, Builder: pathBuilder("scripts/plain.v2.wasm")})
	requestAndWait(t, m, "plain")
	if _, err := m.ApplyPending(ctx); err != nil {
		t.Fatal(err)
	}

	got, ok := f.rt.Store().Get(in.ID, "hp")
	if !ok || len(got) != 1 || got[0] != 100 {
		t.Fatalf("persisted state lost across reload: %v %v", got, ok)
	}
	if len(v2.InitCalls()) != 1 {
		t.Fatal("instance must reinitialize on the new module")
	}
}

func TestReload_TransferGroupDowngradeFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := enginetest.NewScript()
	v1.WithStateTransfer = true
	v1.SerializeFn = func(uint64) ([]byte, bool) {
		return enginetest.EncodeCounter(9), true
	}
	f.load(t, "s", "scripts/s.v1.wasm", v1)
	f.attach(t, "s")

	in := f.rt.Registry().All()[0]
	f.rt.Store().Set(in.ID, "score", []byte{9})

	v2 := enginetest.NewScript() // dropped the transfer group
	f.eng.Register("scripts/s.v2.wasm", func() (engine.Library, error) { return v2.Library(), nil })

	m := NewManager(Config{Runtime: f.rt, Builder: pathBuilder("scripts/s.v2.wasm")})
	requestAndWait(t, m, "s")
	if _, err := m.ApplyPending(ctx); err != nil {
		t.Fatalf("contract downgrade must not fail the swap: %v", err)
	}
	if active, _ := f.rt.ActiveModule("s"); active.Meta().Path != "scripts/s.v2.wasm" {
		t.Fatal("swap must complete")
	}
	if got, ok := f.rt.Store().Get(in.ID, "score"); !ok || got[0] != 9 {
		t.Fatal("host-persisted store must survive the downgrade")
	}
}

func TestReload_FailedMigrationRollsBackCompletely(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := enginetest.NewScript()
	v1.WithStateTransfer = true
	v1.SerializeFn = func(uint64) ([]byte, bool) {
		return enginetest.EncodeCounter(7), true
	}
	f.load(t, "s", "scripts/s.v1.wasm", v1)
	f.attach(t, "s")
	f.attach(t, "s")

	v2 := enginetest.NewScript()
	v2.WithStateTransfer = true
	v2.DeserializeFn = func(uint64, []byte) abi.Status {
		return abi.StatusError
	}
	var v2lib *enginetest.FakeLibrary
	f.eng.Register("scripts/s.v2.wasm", func() (engine.Library, error) {
		v2lib = v2.Library()
		return v2lib, nil
	})

	old, _ := f.rt.ActiveModule("s")
	m := NewManager(Config{Runtime: f.rt, Builder: pathBuilder("scripts/s.v2.wasm")})
	requestAndWait(t, m, "s")

	applied, err := m.ApplyPending(ctx)
	if !applied {
		t.Fatal("swap must be attempted")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMigrate, Kind: errors.KindMigrationFailure}) {
		t.Fatalf("err %v, want migration failure", err)
	}
	if m.State() != StateRolledBack {
		t.Fatalf("state %s, want rolled_back", m.State())
	}
	if m.LastError() == nil {
		t.Fatal("rollback must record the failure")
	}

	// Every instance keeps running on the old module.
	active, _ := f.rt.ActiveModule("s")
	if active != old {
		t.Fatal("old module must stay active after rollback")
	}
	for _, in := range f.rt.Registry().All() {
		if in.Module != old {
			t.Fatal("instance repointed despite rollback")
		}
	}
	f.rt.Frame(ctx, 0.016)
	if len(v1.UpdateCalls()) != 2 {
		t.Fatalf("old module updates %d, want 2", len(v1.UpdateCalls()))
	}
	if len(v2.UpdateCalls()) != 0 {
		t.Fatal("rejected module must never update")
	}
	if old.Closed() {
		t.Fatal("old module must stay loaded")
	}
	if v2lib == nil || !v2lib.Closed() {
		t.Fatal("rejected module must be unloaded after rollback")
	}
}

func TestReload_ValidationRejectsBrokenBinary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := enginetest.NewScript()
	f.load(t, "s", "scripts/s.v1.wasm", v1)
	f.attach(t, "s")

	// v2 misses the required update export.
	broken := enginetest.NewScript().Library()
	broken.RemoveExport(abi.ExportUpdate)
	f.eng.RegisterLibrary("scripts/s.v2.wasm", broken)

	old, _ := f.rt.ActiveModule("s")
	m := NewManager(Config{Runtime: f.rt, Builder: pathBuilder("scripts/s.v2.wasm")})
	requestAndWait(t, m, "s")

	_, err := m.ApplyPending(ctx)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindSymbolMissing}) {
		t.Fatalf("err %v, want missing symbol at load", err)
	}
	if m.State() != StateRolledBack {
		t.Fatalf("state %s", m.State())
	}
	if active, _ := f.rt.ActiveModule("s"); active != old {
		t.Fatal("old module must stay active")
	}
}

func TestReload_ValidationRejectsUnhealthyModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := enginetest.NewScript()
	f.load(t, "s", "scripts/s.v1.wasm", v1)
	f.attach(t, "s")

	v2 := enginetest.NewScript()
	v2.WithHealth = true
	v2.HealthStatus = abi.StatusUnhealthy
	var v2lib *enginetest.FakeLibrary
	f.eng.Register("scripts/s.v2.wasm", func() (engine.Library, error) {
		v2lib = v2.Library()
		return v2lib, nil
	})

	old, _ := f.rt.ActiveModule("s")
	m := NewManager(Config{Runtime: f.rt, Builder: pathBuilder("scripts/s.v2.wasm")})
	requestAndWait(t, m, "s")

	_, err := m.ApplyPending(ctx)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindUnhealthy}) {
		t.Fatalf("err %v, want unhealthy at validation", err)
	}
	if m.State() != StateRolledBack {
		t.Fatalf("state %s", m.State())
	}
	if active, _ := f.rt.ActiveModule("s"); active != old {
		t.Fatal("old module must stay active")
	}
	if v2lib == nil || !v2lib.Closed() {
		t.Fatal("unhealthy module must be unloaded")
	}
}

func TestReload_BuildFailureLeavesRuntimeUntouched(t *testing.T) {
	f := newFixture(t)

	v1 := enginetest.NewScript()
	f.load(t, "s", "scripts/s.v1.wasm", v1)

	m := NewManager(Config{Runtime: f.rt, Builder: BuildFunc(
		func(context.Context, string) (string, error) {
			return "", fmt.Errorf("compiler exit 1")
		})})
	if err := m.Request(context.Background(), "s"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return m.LastError() != nil })

	if m.Pending() {
		t.Fatal("a failed build must not deposit a swap")
	}
	if m.State() != StateIdle {
		t.Fatalf("state %s, want idle", m.State())
	}
	if !stderrors.Is(m.LastError(), &errors.Error{Phase: errors.PhaseBuild, Kind: errors.KindBuildFailure}) {
		t.Fatalf("err %v", m.LastError())
	}
}

func TestReload_LatestRequestWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := enginetest.NewScript()
	f.load(t, "s", "scripts/s.v1.wasm", v1)
	f.attach(t, "s")

	vA := enginetest.NewScript()
	f.eng.Register("scripts/s.a.wasm", func() (engine.Library, error) { return vA.Library(), nil })
	vB := enginetest.NewScript()
	f.eng.Register("scripts/s.b.wasm", func() (engine.Library, error) { return vB.Library(), nil })

	// Both builds are held in flight together; the handshake pins which
	// request each build belongs to, and the older result lands last.
	started := make(chan struct{})
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	calls := 0
	m := NewManager(Config{Runtime: f.rt, Builder: BuildFunc(
		func(context.Context, string) (string, error) {
			calls++
			n := calls
			started <- struct{}{}
			if n == 1 {
				<-releaseA
				return "scripts/s.a.wasm", nil
			}
			<-releaseB
			return "scripts/s.b.wasm", nil
		})})

	if err := m.Request(ctx, "s"); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := m.Request(ctx, "s"); err != nil {
		t.Fatal(err)
	}
	<-started
	close(releaseA) // superseded build finishes first, must be dropped
	close(releaseB)
	waitFor(t, m.Pending)

	if _, err := m.ApplyPending(ctx); err != nil {
		t.Fatal(err)
	}
	active, _ := f.rt.ActiveModule("s")
	if active.Meta().Path != "scripts/s.b.wasm" {
		t.Fatalf("active path %q, want the newer build", active.Meta().Path)
	}
}

func TestReload_CancelDiscardsPendingSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := enginetest.NewScript()
	f.load(t, "s", "scripts/s.v1.wasm", v1)

	v2 := enginetest.NewScript()
	f.eng.Register("scripts/s.v2.wasm", func() (engine.Library, error) { return v2.Library(), nil })

	m := NewManager(Config{Runtime: f.rt, Builder: pathBuilder("scripts/s.v2.wasm")})
	requestAndWait(t, m, "s")

	if !m.Cancel() {
		t.Fatal("cancel must report the discarded swap")
	}
	if !stderrors.Is(m.LastError(), &errors.Error{Phase: errors.PhaseSwap, Kind: errors.KindCancelled}) {
		t.Fatalf("last error %v, want cancelled", m.LastError())
	}
	applied, err := m.ApplyPending(ctx)
	if applied || err != nil {
		t.Fatalf("nothing should apply after cancel: %v %v", applied, err)
	}
	active, _ := f.rt.ActiveModule("s")
	if active.Meta().Path != "scripts/s.v1.wasm" {
		t.Fatal("cancel must leave the original module active")
	}
}

func TestReload_UnknownScriptRejected(t *testing.T) {
	f := newFixture(t)
	m := NewManager(Config{Runtime: f.rt, Builder: pathBuilder("x")})
	err := m.Request(context.Background(), "ghost")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseBuild, Kind: errors.KindNotFound}) {
		t.Fatalf("err %v", err)
	}
}
