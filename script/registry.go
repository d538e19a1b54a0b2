package script

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/errors"
	"github.com/embercore/hotscript/events"
	"github.com/embercore/hotscript/loader"
	"github.com/embercore/hotscript/world"
)

// Registry tracks live script instances. It is an explicit object passed
// into the scheduler and reload manager, not ambient state, so test
// harnesses construct isolated registries. All mutation happens on the
// main execution thread.
type Registry struct {
	instances       map[InstanceID]*Instance
	store           *StateStore
	shutdownTimeout time.Duration
	nextID          uint64
	attachSeq       uint64
}

// NewRegistry creates a registry. shutdownTimeout bounds the shutdown
// entry point during detach; zero disables the watchdog.
func NewRegistry(store *StateStore, shutdownTimeout time.Duration) *Registry {
	return &Registry{
		instances:       make(map[InstanceID]*Instance),
		store:           store,
		shutdownTimeout: shutdownTimeout,
	}
}

// Attach creates an instance and invokes the module's init entry point.
// If init traps or returns a failure status the instance is rolled back:
// it is never registered and no reference is retained. The instance
// becomes runnable the frame after the current one.
func (r *Registry) Attach(ctx context.Context, entity world.EntityHandle, m *loader.Module, phase events.Phase, priority int, frame uint64) (*Instance, error) {
	r.nextID++
	id := InstanceID(r.nextID)

	res, err := GuardedCall(ctx, errors.PhaseInit, m, id, m.Exports().Init, 0, uint64(id))
	if err != nil {
		return nil, err
	}
	if status := abi.Status(res[0]); !status.OK() {
		return nil, errors.InitFailure(m.Meta().Script, uint64(id), uint32(status))
	}

	m.Retain()
	r.attachSeq++
	in := &Instance{
		Module:     m,
		ID:         id,
		Entity:     entity,
		Phase:      phase,
		Priority:   priority,
		AbiVersion: m.Meta().AbiVersion,
		ActiveFrom: frame + 1,
		attachSeq:  r.attachSeq,
		Enabled:    true,
	}
	r.instances[id] = in

	Logger().Debug("attached script instance",
		zap.Uint64("instance", uint64(id)),
		zap.String("script", m.Meta().Script),
		zap.String("phase", phase.String()),
		zap.Int("priority", priority))

	return in, nil
}

// Detach invokes shutdown under the watchdog, then removes the instance
// and drops its persisted state. Exactly one shutdown call is made. A
// timeout or trap is returned for visibility but the instance is removed
// regardless; a hung shutdown force-detaches, it never silently stays.
func (r *Registry) Detach(ctx context.Context, id InstanceID) error {
	in, ok := r.instances[id]
	if !ok {
		return errors.InstanceNotFound(errors.PhaseShutdown, uint64(id))
	}

	_, err := GuardedCall(ctx, errors.PhaseShutdown, in.Module, id, in.Module.Exports().Shutdown, r.shutdownTimeout, uint64(id))

	delete(r.instances, id)
	r.store.Drop(id)
	in.Module.Release()

	if err != nil {
		Logger().Warn("detach completed with failing shutdown",
			zap.Uint64("instance", uint64(id)),
			zap.Error(err))
	}
	return err
}

// ForceDetach removes an instance without invoking shutdown. Watchdog
// paths use this after a call has already been abandoned; calling into a
// wedged module again would only hang another goroutine.
func (r *Registry) ForceDetach(id InstanceID) bool {
	in, ok := r.instances[id]
	if !ok {
		return false
	}
	delete(r.instances, id)
	r.store.Drop(id)
	in.Module.Release()
	Logger().Warn("force-detached instance without shutdown",
		zap.Uint64("instance", uint64(id)),
		zap.String("script", in.Module.Meta().Script))
	return true
}

// DetachEntity detaches every instance attached to an entity, in reverse
// scheduling order. Used when the host destroys the entity.
func (r *Registry) DetachEntity(ctx context.Context, entity world.EntityHandle) {
	list := r.ListForEntity(entity)
	for i := len(list) - 1; i >= 0; i-- {
		_ = r.Detach(ctx, list[i].ID)
	}
}

// Get returns a live instance by id.
func (r *Registry) Get(id InstanceID) (*Instance, bool) {
	in, ok := r.instances[id]
	return in, ok
}

// SetEnabled flips an instance's enabled flag. Returns false if the id is
// not live.
func (r *Registry) SetEnabled(id InstanceID, enabled bool) bool {
	in, ok := r.instances[id]
	if !ok {
		return false
	}
	in.Enabled = enabled
	return true
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	return len(r.instances)
}

// ListForEntity returns the entity's instances ordered by (phase,
// priority, attach order). This ordering is the sole execution-order
// contract.
func (r *Registry) ListForEntity(entity world.EntityHandle) []*Instance {
	var out []*Instance
	for _, in := range r.instances {
		if in.Entity == entity {
			out = append(out, in)
		}
	}
	sortInstances(out, true)
	return out
}

// RunnableForPhase snapshots the instances the scheduler must invoke for
// a phase, ordered by (priority, attach order). The snapshot is immune to
// detaches performed while the scheduler iterates it.
func (r *Registry) RunnableForPhase(phase events.Phase, frame uint64) []*Instance {
	var out []*Instance
	for _, in := range r.instances {
		if in.Runnable(phase, frame) {
			out = append(out, in)
		}
	}
	sortInstances(out, false)
	return out
}

// All returns every live instance ordered by id.
func (r *Registry) All() []*Instance {
	out := make([]*Instance, 0, len(r.instances))
	for _, in := range r.instances {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InstancesOf returns every live instance bound to a module, ordered by id.
func (r *Registry) InstancesOf(m *loader.Module) []*Instance {
	var out []*Instance
	for _, in := range r.instances {
		if in.Module == m {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Repoint atomically rebinds every instance of old to next in one pass on
// the execution thread, keeping reference counts balanced. Returns the
// number of instances repointed. No instance is ever left pointing at a
// mix of old and new.
func (r *Registry) Repoint(old, next *loader.Module) int {
	n := 0
	for _, in := range r.instances {
		if in.Module != old {
			continue
		}
		next.Retain()
		in.Module = next
		in.AbiVersion = next.Meta().AbiVersion
		old.Release()
		n++
	}
	return n
}

func sortInstances(list []*Instance, byPhase bool) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if byPhase && a.Phase != b.Phase {
			return a.Phase < b.Phase
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.attachSeq < b.attachSeq
	})
}
