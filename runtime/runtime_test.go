package runtime

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
	"github.com/embercore/hotscript/script"
	"github.com/embercore/hotscript/world"
)

// harness wires a runtime over a fake engine, exposing the host table the
// way a wasm script would reach it through its imports.
type harness struct {
	rt   *Runtime
	w    *world.World
	eng  *enginetest.FakeEngine
	host engine.HostTable
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		w:   world.NewWorld(),
		eng: enginetest.NewEngine(),
	}
	rt, err := New(Config{
		World: h.w,
		Engine: func(host engine.HostTable) (engine.Engine, error) {
			h.host = host
			return h.eng, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.rt = rt
	return h
}

// loadScript registers a fake script under its own path and loads it as
// the active module for name.
func (h *harness) loadScript(t *testing.T, name string, fake *enginetest.Script) {
	t.Helper()
	path := "scripts/" + name + ".wasm"
	h.eng.Register(path, func() (engine.Library, error) { return fake.Library(), nil })
	if _, err := h.rt.LoadScript(context.Background(), name, path); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) spawnEntity(t *testing.T) world.EntityHandle {
	t.Helper()
	handle, status := h.w.CreateEntity(world.EntitySpec{Transform: world.Identity()})
	if !status.OK() {
		t.Fatalf("create entity: %s", status)
	}
	return handle
}

func TestFrame_PriorityOrderWithinPhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var order []int
	makeScript := func(tag int) *enginetest.Script {
		s := enginetest.NewScript()
		s.UpdateFn = func(_ context.Context, _ uint64, _ float32) { order = append(order, tag) }
		return s
	}
	h.loadScript(t, "p5", makeScript(5))
	h.loadScript(t, "p1", makeScript(1))
	h.loadScript(t, "p3", makeScript(3))

	entity := h.spawnEntity(t)
	// Attached in order [5, 1, 3]; must invoke as [1, 3, 5].
	if _, err := h.rt.Attach(ctx, entity, "p5", events.PhaseUpdate, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := h.rt.Attach(ctx, entity, "p1", events.PhaseUpdate, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := h.rt.Attach(ctx, entity, "p3", events.PhaseUpdate, 3); err != nil {
		t.Fatal(err)
	}

	h.rt.Frame(ctx, 0.016)

	want := []int{1, 3, 5}
	if len(order) != 3 {
		t.Fatalf("invoked %d updates, want 3", len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("invocation order %v, want %v", order, want)
		}
	}
}

func TestFrame_LastWriterWinsBySequence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entity := h.spawnEntity(t)
	target := entity.Pack()

	low := enginetest.NewScript()
	low.UpdateFn = func(ctx context.Context, _ uint64, _ float32) {
		h.host.SetTransform(ctx, target, [3]float32{1, 0, 0}, [3]float32{}, [3]float32{1, 1, 1})
	}
	high := enginetest.NewScript()
	high.UpdateFn = func(ctx context.Context, _ uint64, _ float32) {
		h.host.SetTransform(ctx, target, [3]float32{2, 0, 0}, [3]float32{}, [3]float32{1, 1, 1})
	}
	h.loadScript(t, "low", low)
	h.loadScript(t, "high", high)

	if _, err := h.rt.Attach(ctx, entity, "low", events.PhaseUpdate, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := h.rt.Attach(ctx, entity, "high", events.PhaseUpdate, 2); err != nil {
		t.Fatal(err)
	}

	h.rt.Frame(ctx, 0.016)

	got, status := h.w.GetTransform(entity)
	if !status.OK() {
		t.Fatalf("get transform: %s", status)
	}
	if got.Position.X != 2 {
		t.Fatalf("position.X = %v, want later-sequenced write 2", got.Position.X)
	}
}

func TestFrame_DespawnThenWriteSameBatchIsStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entity := h.spawnEntity(t)
	target := entity.Pack()

	killer := enginetest.NewScript()
	killer.UpdateFn = func(ctx context.Context, _ uint64, _ float32) {
		h.host.Despawn(ctx, target)
	}
	writer := enginetest.NewScript()
	writer.UpdateFn = func(ctx context.Context, _ uint64, _ float32) {
		h.host.SetTransform(ctx, target, [3]float32{9, 9, 9}, [3]float32{}, [3]float32{1, 1, 1})
	}
	h.loadScript(t, "killer", killer)
	h.loadScript(t, "writer", writer)

	// killer runs first, so its despawn is sequenced before the write.
	if _, err := h.rt.Attach(ctx, entity, "killer", events.PhaseUpdate, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := h.rt.Attach(ctx, entity, "writer", events.PhaseUpdate, 2); err != nil {
		t.Fatal(err)
	}

	report := h.rt.Frame(ctx, 0.016)

	var despawnOK, writeStale bool
	for _, res := range report.Results {
		switch res.Event.Kind {
		case abi.EventDespawn:
			despawnOK = res.Status.OK()
		case abi.EventSetTransform:
			writeStale = res.Status == abi.StatusStaleTarget
		}
	}
	if !despawnOK {
		t.Fatal("despawn should apply")
	}
	if !writeStale {
		t.Fatal("write after despawn in the same batch must be stale_target")
	}
	if h.w.Alive(entity) {
		t.Fatal("entity must be destroyed")
	}
}

func TestFrame_StaleGenerationDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entity := h.spawnEntity(t)

	stale := entity
	if status := h.w.DestroyEntity(entity); !status.OK() {
		t.Fatal("destroy")
	}
	// Recycle the slot under a new generation.
	h.spawnEntity(t)

	s := enginetest.NewScript()
	s.UpdateFn = func(ctx context.Context, _ uint64, _ float32) {
		h.host.Translate(ctx, stale.Pack(), [3]float32{1, 0, 0})
	}
	h.loadScript(t, "s", s)
	if _, err := h.rt.Attach(ctx, h.spawnEntity(t), "s", events.PhaseUpdate, 0); err != nil {
		t.Fatal(err)
	}

	report := h.rt.Frame(ctx, 0.016)
	if len(report.Results) != 1 {
		t.Fatalf("expected one applied event, got %d", len(report.Results))
	}
	res := report.Results[0]
	if res.Status != abi.StatusStaleTarget {
		t.Fatalf("status %s, want stale_target", res.Status)
	}
	if !stderrors.Is(res.Err, &errors.Error{Phase: errors.PhaseApply, Kind: errors.KindStaleTarget}) {
		t.Fatalf("err %v", res.Err)
	}
}

func TestFrame_SpawnResolvesProvisionalHandle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var prov uint64
	s := enginetest.NewScript()
	s.UpdateFn = func(ctx context.Context, _ uint64, _ float32) {
		if prov == 0 {
			prov = h.host.Spawn(ctx)
		} else {
			h.host.Translate(ctx, prov, [3]float32{5, 0, 0})
		}
	}
	h.loadScript(t, "s", s)
	if _, err := h.rt.Attach(ctx, h.spawnEntity(t), "s", events.PhaseUpdate, 0); err != nil {
		t.Fatal(err)
	}

	before := h.w.Len()
	h.rt.Frame(ctx, 0.016) // spawns
	if h.w.Len() != before+1 {
		t.Fatalf("world has %d entities, want %d", h.w.Len(), before+1)
	}
	if prov == 0 {
		t.Fatal("script never received a provisional handle")
	}

	report := h.rt.Frame(ctx, 0.016) // translates via the provisional handle
	for _, res := range report.Results {
		if res.Event.Kind == abi.EventTranslate && !res.Status.OK() {
			t.Fatalf("translate through provisional handle failed: %s", res.Status)
		}
	}
}

func TestFrame_SignalDeliveredAtNextPhaseBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	emitter := enginetest.NewScript()
	emitter.UpdateFn = func(ctx context.Context, _ uint64, _ float32) {
		h.host.EmitSignal(ctx, "hit")
	}
	h.loadScript(t, "emitter", emitter)

	var deliveredSignal uint32
	var listenerSawPostUpdate bool
	listener := enginetest.NewScript()
	listener.WithOnSignal = true
	listener.OnSignalFn = func(_ context.Context, _ uint64, sig uint32) {
		deliveredSignal = sig
		listenerSawPostUpdate = h.rt.currentPhase == events.PhasePostUpdate
	}
	h.loadScript(t, "listener", listener)

	entity := h.spawnEntity(t)
	if _, err := h.rt.Attach(ctx, entity, "emitter", events.PhaseUpdate, 0); err != nil {
		t.Fatal(err)
	}
	listenerID, err := h.rt.Attach(ctx, entity, "listener", events.PhaseUpdate, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.rt.Signals().ConnectScript("hit", listenerID)

	var hostSawFrames []uint64
	h.rt.Signals().ConnectHost("hit", func(signal string, origin script.InstanceID) {
		if signal != "hit" {
			t.Fatalf("host listener got %q", signal)
		}
		hostSawFrames = append(hostSawFrames, h.rt.FrameNumber())
	})

	report := h.rt.Frame(ctx, 0.016)
	if report.SignalsDelivered == 0 {
		t.Fatal("signal must be delivered within the emitting frame's later boundary")
	}
	if !listenerSawPostUpdate {
		t.Fatal("script listener must observe the signal no earlier than post-update")
	}
	if deliveredSignal == 0 {
		t.Fatal("listener did not receive the interned signal id")
	}
	if len(hostSawFrames) != 1 || hostSawFrames[0] != report.Frame {
		t.Fatalf("host listener frames %v, want [%d]", hostSawFrames, report.Frame)
	}
}

func TestFrame_PostUpdateSignalCarriesToNextFrame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	emitter := enginetest.NewScript()
	emitter.UpdateFn = func(ctx context.Context, _ uint64, _ float32) {
		h.host.EmitSignal(ctx, "done")
	}
	h.loadScript(t, "emitter", emitter)
	if _, err := h.rt.Attach(ctx, h.spawnEntity(t), "emitter", events.PhasePostUpdate, 0); err != nil {
		t.Fatal(err)
	}

	var seen []uint64
	h.rt.Signals().ConnectHost("done", func(string, script.InstanceID) {
		seen = append(seen, h.rt.FrameNumber())
	})

	first := h.rt.Frame(ctx, 0.016)
	if len(seen) != 0 {
		t.Fatal("post-update emission must not be delivered within the same frame")
	}
	second := h.rt.Frame(ctx, 0.016)
	if len(seen) != 1 || seen[0] != second.Frame {
		t.Fatalf("delivery frames %v, want [%d] (emitted frame %d)", seen, second.Frame, first.Frame)
	}
}

func TestFrame_TrapDisablesInstanceOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Model a trap: the update export returns an error like a wasm fault.
	bad := enginetest.NewScript()
	badLib := bad.Library()
	badLib.Export(abi.ExportUpdate, []abi.CoreType{abi.CoreI64, abi.CoreF32}, nil,
		func(context.Context, []uint64) ([]uint64, error) {
			return nil, fmt.Errorf("wasm trap: out of bounds memory access")
		})
	h.eng.RegisterLibrary("scripts/bad.wasm", badLib)
	if _, err := h.rt.LoadScript(ctx, "bad", "scripts/bad.wasm"); err != nil {
		t.Fatal(err)
	}

	goodCalls := 0
	good := enginetest.NewScript()
	good.UpdateFn = func(_ context.Context, _ uint64, _ float32) { goodCalls++ }
	h.loadScript(t, "good", good)

	entity := h.spawnEntity(t)
	badID, err := h.rt.Attach(ctx, entity, "bad", events.PhaseUpdate, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.rt.Attach(ctx, entity, "good", events.PhaseUpdate, 2); err != nil {
		t.Fatal(err)
	}

	report := h.rt.Frame(ctx, 0.016)
	if len(report.UpdateErrors) != 1 {
		t.Fatalf("expected one update error, got %v", report.UpdateErrors)
	}
	if goodCalls != 1 {
		t.Fatal("healthy instance must still run in the same frame")
	}

	in, ok := h.rt.Registry().Get(badID)
	if !ok {
		t.Fatal("trapped instance stays registered for visibility")
	}
	if !in.Unhealthy || in.Enabled {
		t.Fatal("trapped instance must be unhealthy and disabled")
	}

	// The disabled instance is skipped on the next frame.
	h.rt.Frame(ctx, 0.016)
	if goodCalls != 2 {
		t.Fatal("healthy instance keeps running")
	}
}

func TestFrame_TimedOutCallLosesHostAccess(t *testing.T) {
	h := &harness{
		w:   world.NewWorld(),
		eng: enginetest.NewEngine(),
	}
	rt, err := New(Config{
		World: h.w,
		Engine: func(host engine.HostTable) (engine.Engine, error) {
			h.host = host
			return h.eng, nil
		},
		UpdateTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.rt = rt
	ctx := context.Background()

	entity := h.spawnEntity(t)
	target := entity.Pack()

	// The update blocks past the watchdog bound, then tries the host
	// table with the context of its expired call.
	release := make(chan struct{})
	finished := make(chan struct{})
	var lateWrite abi.Status
	var lateDT float32
	slow := enginetest.NewScript()
	slow.UpdateFn = func(callCtx context.Context, _ uint64, _ float32) {
		<-release
		h.host.Log(callCtx, abi.LogInfo, "still here")
		lateWrite = h.host.SetTransform(callCtx, target, [3]float32{7, 0, 0}, [3]float32{}, [3]float32{1, 1, 1})
		lateDT = h.host.GetDeltaTime(callCtx)
		close(finished)
	}
	h.loadScript(t, "slow", slow)
	id, err := h.rt.Attach(ctx, entity, "slow", events.PhaseUpdate, 0)
	if err != nil {
		t.Fatal(err)
	}

	report := h.rt.Frame(ctx, 0.016)
	if len(report.UpdateErrors) != 1 {
		t.Fatalf("expected one update error, got %v", report.UpdateErrors)
	}
	if !stderrors.Is(report.UpdateErrors[0], &errors.Error{Phase: errors.PhaseUpdate, Kind: errors.KindTimeout}) {
		t.Fatalf("expected a timeout error, got %v", report.UpdateErrors[0])
	}
	if _, ok := h.rt.Registry().Get(id); ok {
		t.Fatal("timed out instance must be force-detached")
	}

	close(release)
	<-finished
	if lateWrite != abi.StatusInvalidArgument {
		t.Fatalf("write after the call expired got %s, want invalid_argument", lateWrite)
	}
	if lateDT != 0 {
		t.Fatalf("expired call read dt %v, want 0", lateDT)
	}
	for _, phase := range events.Phases() {
		if n := h.rt.queue.Len(phase); n != 0 {
			t.Fatalf("%s has %d queued events from the expired call", phase, n)
		}
	}

	next := h.rt.Frame(ctx, 0.016)
	if len(next.Results) != 0 {
		t.Fatalf("nothing should apply after the expired call, got %d results", len(next.Results))
	}

	start, original := h.w.GetTransform(entity)
	if !original.OK() || start.Position.X != 0 {
		t.Fatalf("entity transform moved to %v", start.Position)
	}
}

func TestInjectEvent_DeadInstanceRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := enginetest.NewScript()
	h.loadScript(t, "s", s)
	id, err := h.rt.Attach(ctx, h.spawnEntity(t), "s", events.PhaseUpdate, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.rt.Detach(ctx, id); err != nil {
		t.Fatal(err)
	}
	if got := s.ShutdownCalls(); len(got) != 1 {
		t.Fatalf("expected exactly one shutdown, got %v", got)
	}

	err = h.rt.InjectEvent(id, events.PhaseUpdate, abi.EventTranslate, world.EntityHandle{Index: 1, Generation: 1}, abi.TranslatePayload{})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseApply, Kind: errors.KindNotFound}) {
		t.Fatalf("expected instance-not-found, got %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	plain := enginetest.NewScript()
	h.loadScript(t, "plain", plain)
	sick := enginetest.NewScript()
	sick.WithHealth = true
	sick.HealthStatus = abi.StatusUnhealthy
	h.loadScript(t, "sick", sick)

	if status, err := h.rt.CheckHealth(ctx, "plain"); err != nil || status != abi.StatusOK {
		t.Fatalf("module without the export must report ok, got %s %v", status, err)
	}
	if status, err := h.rt.CheckHealth(ctx, "sick"); err != nil || status != abi.StatusUnhealthy {
		t.Fatalf("got %s %v", status, err)
	}
	if _, err := h.rt.CheckHealth(ctx, "ghost"); err == nil {
		t.Fatal("unknown script must be rejected")
	}
}

func TestCheckHealth_TimeoutReported(t *testing.T) {
	h := &harness{
		w:   world.NewWorld(),
		eng: enginetest.NewEngine(),
	}
	rt, err := New(Config{
		World: h.w,
		Engine: func(host engine.HostTable) (engine.Engine, error) {
			h.host = host
			return h.eng, nil
		},
		UpdateTimeout: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.rt = rt
	ctx := context.Background()

	slowLib := enginetest.NewScript().Library()
	slowLib.Export(abi.ExportHealthCheck, nil, []abi.CoreType{abi.CoreI32},
		func(context.Context, []uint64) ([]uint64, error) {
			time.Sleep(100 * time.Millisecond)
			return []uint64{uint64(abi.StatusOK)}, nil
		})
	h.eng.RegisterLibrary("scripts/slow.wasm", slowLib)
	if _, err := h.rt.LoadScript(ctx, "slow", "scripts/slow.wasm"); err != nil {
		t.Fatal(err)
	}

	status, err := h.rt.CheckHealth(ctx, "slow")
	if status != abi.StatusTimeout {
		t.Fatalf("status %s, want timeout", status)
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseUpdate, Kind: errors.KindTimeout}) {
		t.Fatalf("err %v", err)
	}
}

func TestHostStateRoundTripDuringUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var readBack []byte
	s := enginetest.NewScript()
	s.UpdateFn = func(ctx context.Context, _ uint64, _ float32) {
		if _, status := h.host.StateGet(ctx, "counter"); status != abi.StatusOK {
			h.host.StateSet(ctx, "counter", []byte{1})
			return
		}
		readBack, _ = h.host.StateGet(ctx, "counter")
	}
	h.loadScript(t, "s", s)
	if _, err := h.rt.Attach(ctx, h.spawnEntity(t), "s", events.PhaseUpdate, 0); err != nil {
		t.Fatal(err)
	}

	h.rt.Frame(ctx, 0.016)
	h.rt.Frame(ctx, 0.016)
	if len(readBack) != 1 || readBack[0] != 1 {
		t.Fatalf("state round trip got %v", readBack)
	}
}
