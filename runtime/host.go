package runtime

import (
	"context"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/engine"
	"github.com/embercore/hotscript/events"
	"github.com/embercore/hotscript/script"
	"github.com/embercore/hotscript/world"
)

// hostAPI implements engine.HostTable. Every method resolves the calling
// instance through the call token in its context: the token must match
// the frame the scheduler currently has open, so a guest the watchdog
// abandoned gets invalid-argument answers instead of touching runtime
// state after its call expired. Every call returns immediately; mutations
// only reach the world when the processor drains the queue.
type hostAPI struct {
	rt *Runtime
}

// caller resolves the calling instance from ctx. Returns false when no
// guest call is in flight or the context carries a stale token.
func (h *hostAPI) caller(ctx context.Context) (*script.Instance, bool) {
	frame := h.rt.current.Load()
	if frame == nil {
		return nil, false
	}
	token, ok := engine.CallTokenFrom(ctx)
	if !ok || token != frame.token {
		return nil, false
	}
	return frame.in, true
}

func (h *hostAPI) enqueue(ctx context.Context, kind abi.EventKind, target world.EntityHandle, payload any) abi.Status {
	in, ok := h.caller(ctx)
	if !ok {
		return abi.StatusInvalidArgument
	}
	h.rt.queue.Enqueue(h.rt.currentPhase, events.Event{
		Kind:    kind,
		Origin:  uint64(in.ID),
		Target:  target,
		Payload: payload,
	})
	return abi.StatusOK
}

func (h *hostAPI) Spawn(ctx context.Context) uint64 {
	in, ok := h.caller(ctx)
	if !ok {
		return 0
	}
	prov := h.rt.newProvisional()
	h.rt.queue.Enqueue(h.rt.currentPhase, events.Event{
		Kind:    abi.EventSpawn,
		Origin:  uint64(in.ID),
		Target:  prov,
		Payload: abi.SpawnPayload{Provisional: prov.Pack()},
	})
	return prov.Pack()
}

func (h *hostAPI) Despawn(ctx context.Context, target uint64) abi.Status {
	return h.enqueue(ctx, abi.EventDespawn, world.UnpackHandle(target), nil)
}

func (h *hostAPI) SetTransform(ctx context.Context, target uint64, pos, rot, scale [3]float32) abi.Status {
	return h.enqueue(ctx, abi.EventSetTransform, world.UnpackHandle(target), abi.TransformPayload{
		Position: pos,
		Rotation: rot,
		Scale:    scale,
	})
}

func (h *hostAPI) Translate(ctx context.Context, target uint64, delta [3]float32) abi.Status {
	return h.enqueue(ctx, abi.EventTranslate, world.UnpackHandle(target), abi.TranslatePayload{Delta: delta})
}

func (h *hostAPI) AddComponent(ctx context.Context, target uint64, typeID uint32, data []byte) abi.Status {
	if len(data) > abi.MaxComponentData {
		return abi.StatusInvalidArgument
	}
	return h.enqueue(ctx, abi.EventAddComponent, world.UnpackHandle(target), abi.ComponentPayload{
		TypeID: typeID,
		Data:   data,
	})
}

func (h *hostAPI) RemoveComponent(ctx context.Context, target uint64, typeID uint32) abi.Status {
	return h.enqueue(ctx, abi.EventRemoveComponent, world.UnpackHandle(target), abi.ComponentPayload{TypeID: typeID})
}

func (h *hostAPI) EmitSignal(ctx context.Context, name string) abi.Status {
	if name == "" {
		return abi.StatusInvalidArgument
	}
	return h.enqueue(ctx, abi.EventEmitSignal, world.EntityHandle{}, abi.SignalPayload{Name: name})
}

func (h *hostAPI) ConnectSignal(ctx context.Context, name string) (uint32, abi.Status) {
	in, ok := h.caller(ctx)
	if !ok || name == "" {
		return 0, abi.StatusInvalidArgument
	}
	id := h.rt.signals.ConnectScript(name, in.ID)
	return id, abi.StatusOK
}

func (h *hostAPI) Log(ctx context.Context, level abi.LogLevel, msg string) {
	in, ok := h.caller(ctx)
	if !ok {
		return
	}
	h.rt.queue.Enqueue(h.rt.currentPhase, events.Event{
		Kind:    abi.EventLog,
		Origin:  uint64(in.ID),
		Payload: abi.LogPayload{Level: level, Message: msg},
	})
}

func (h *hostAPI) GetDeltaTime(ctx context.Context) float32 {
	if _, ok := h.caller(ctx); !ok {
		return 0
	}
	return h.rt.dt
}

func (h *hostAPI) GetTime(ctx context.Context) float32 {
	if _, ok := h.caller(ctx); !ok {
		return 0
	}
	return float32(h.rt.timeSec)
}

func (h *hostAPI) StateSet(ctx context.Context, key string, value []byte) abi.Status {
	in, ok := h.caller(ctx)
	if !ok {
		return abi.StatusInvalidArgument
	}
	h.rt.store.Set(in.ID, key, value)
	return abi.StatusOK
}

func (h *hostAPI) StateGet(ctx context.Context, key string) ([]byte, abi.Status) {
	in, ok := h.caller(ctx)
	if !ok {
		return nil, abi.StatusInvalidArgument
	}
	value, ok := h.rt.store.Get(in.ID, key)
	if !ok {
		return nil, abi.StatusError
	}
	return value, abi.StatusOK
}
