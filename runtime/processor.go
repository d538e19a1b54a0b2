package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/errors"
	"github.com/embercore/hotscript/events"
	"github.com/embercore/hotscript/script"
	"github.com/embercore/hotscript/world"
)

// ApplyResult records the outcome of one applied event. A failed event
// never aborts its batch; each resolves independently.
type ApplyResult struct {
	Err    error
	Event  events.Event
	Status abi.Status
}

// drainAndApply extracts the phase's events and applies them in strictly
// increasing sequence order. Within the batch, later writes to the same
// target win, and any event sequenced after a despawn of its target is
// rejected with a stale-target status.
func (rt *Runtime) drainAndApply(ctx context.Context, phase events.Phase) []ApplyResult {
	batch := rt.queue.Drain(phase)
	if len(batch) == 0 {
		return nil
	}

	results := make([]ApplyResult, 0, len(batch))
	despawned := make(map[world.EntityHandle]bool)

	for _, ev := range batch {
		res := rt.applyOne(ctx, ev, despawned)
		if res.Err != nil {
			Logger().Warn("event rejected",
				zap.String("kind", ev.Kind.String()),
				zap.Uint64("seq", ev.Seq),
				zap.Error(res.Err))
		}
		results = append(results, res)
	}
	return results
}

func (rt *Runtime) applyOne(ctx context.Context, ev events.Event, despawned map[world.EntityHandle]bool) ApplyResult {
	switch ev.Kind {
	case abi.EventSpawn:
		return rt.applySpawn(ev)
	case abi.EventEmitSignal:
		payload := ev.Payload.(abi.SignalPayload)
		rt.signals.Emit(payload.Name, script.InstanceID(ev.Origin), ev.Frame)
		return ApplyResult{Event: ev, Status: abi.StatusOK}
	case abi.EventLog:
		payload := ev.Payload.(abi.LogPayload)
		rt.logScript(ev.Origin, payload.Level, payload.Message)
		return ApplyResult{Event: ev, Status: abi.StatusOK}
	}

	// Everything below targets an entity.
	target, ok := rt.resolveTarget(ev.Target)
	if !ok || despawned[target] {
		return rt.stale(ev, target)
	}

	switch ev.Kind {
	case abi.EventDespawn:
		status := rt.world.DestroyEntity(target)
		if status == abi.StatusStaleTarget {
			return rt.stale(ev, target)
		}
		if status.OK() {
			despawned[target] = true
			// Instances attached to the entity die with it.
			for _, in := range rt.registry.ListForEntity(target) {
				rt.signals.DisconnectInstance(in.ID)
				_ = rt.registry.Detach(ctx, in.ID)
			}
		}
		return ApplyResult{Event: ev, Status: status}

	case abi.EventSetTransform:
		payload := ev.Payload.(abi.TransformPayload)
		status := rt.world.SetTransform(target, world.Transform{
			Position: vec3(payload.Position),
			Rotation: vec3(payload.Rotation),
			Scale:    vec3(payload.Scale),
		})
		if status == abi.StatusStaleTarget {
			return rt.stale(ev, target)
		}
		return ApplyResult{Event: ev, Status: status}

	case abi.EventTranslate:
		payload := ev.Payload.(abi.TranslatePayload)
		current, status := rt.world.GetTransform(target)
		if status == abi.StatusStaleTarget {
			return rt.stale(ev, target)
		}
		if !status.OK() {
			return ApplyResult{Event: ev, Status: status}
		}
		current.Position.X += payload.Delta[0]
		current.Position.Y += payload.Delta[1]
		current.Position.Z += payload.Delta[2]
		status = rt.world.SetTransform(target, current)
		return ApplyResult{Event: ev, Status: status}

	case abi.EventAddComponent:
		payload := ev.Payload.(abi.ComponentPayload)
		status := rt.world.AddComponent(target, payload.TypeID, payload.Data)
		if status == abi.StatusStaleTarget {
			return rt.stale(ev, target)
		}
		return ApplyResult{Event: ev, Status: status}

	case abi.EventRemoveComponent:
		payload := ev.Payload.(abi.ComponentPayload)
		status := rt.world.RemoveComponent(target, payload.TypeID)
		if status == abi.StatusStaleTarget {
			return rt.stale(ev, target)
		}
		return ApplyResult{Event: ev, Status: status}
	}

	return ApplyResult{
		Event:  ev,
		Status: abi.StatusInvalidArgument,
		Err:    errors.InvalidInput(errors.PhaseApply, "unknown event kind"),
	}
}

func (rt *Runtime) applySpawn(ev events.Event) ApplyResult {
	payload := ev.Payload.(abi.SpawnPayload)
	real, status := rt.world.CreateEntity(world.EntitySpec{Transform: world.Identity()})
	if !status.OK() {
		return ApplyResult{Event: ev, Status: status, Err: errors.InvalidInput(errors.PhaseApply, "spawn rejected by world")}
	}
	rt.provisional[payload.Provisional] = real
	return ApplyResult{Event: ev, Status: status}
}

func (rt *Runtime) stale(ev events.Event, target world.EntityHandle) ApplyResult {
	return ApplyResult{
		Event:  ev,
		Status: abi.StatusStaleTarget,
		Err:    errors.StaleTarget(errors.PhaseApply, ev.Origin, target.Pack()),
	}
}

func vec3(v [3]float32) world.Vec3 {
	return world.Vec3{X: v[0], Y: v[1], Z: v[2]}
}
