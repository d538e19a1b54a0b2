package runtime

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/engine"
	"github.com/embercore/hotscript/errors"
	"github.com/embercore/hotscript/events"
	"github.com/embercore/hotscript/loader"
	"github.com/embercore/hotscript/script"
	"github.com/embercore/hotscript/world"
)

// World is the full host world surface the runtime needs: mutations for
// the event processor and snapshot reads for relative operations.
type World interface {
	world.Mutator
	world.Reader
}

// Config configures a Runtime.
type Config struct {
	// World is the host entity store collaborator. Required.
	World World

	// Engine builds the script engine around the runtime's host table.
	// Required. Production wiring returns engine.NewWazeroEngine; tests
	// return a fake that ignores the table.
	Engine func(host engine.HostTable) (engine.Engine, error)

	// ShutdownTimeout bounds shutdown calls during detach and reload
	// finalize. Zero disables the watchdog.
	ShutdownTimeout time.Duration

	// UpdateTimeout bounds update and signal delivery calls. An instance
	// exceeding it is force-detached and flagged unhealthy. Zero trusts
	// scripts to return promptly.
	UpdateTimeout time.Duration
}

// Runtime owns the registry, queue, signal table, and active module set,
// and exposes the single-threaded frame loop.
type Runtime struct {
	cfg      Config
	engine   engine.Engine
	loader   *loader.Loader
	registry *script.Registry
	store    *script.StateStore
	queue    *events.Queue
	signals  *SignalTable
	world    World

	// active module per script definition. Exactly one at a time; a
	// pending module exists only inside the reload manager.
	active map[string]*loader.Module

	// provisional spawn handles resolved at apply time.
	provisional map[uint64]world.EntityHandle
	provSeq     uint32

	// current is the frame of the guest call in flight. Host table calls
	// load it atomically and validate the token their context carries, so
	// a guest abandoned by the watchdog races neither the frame thread nor
	// the next call's frame.
	current      atomic.Pointer[callFrame]
	callSeq      uint64
	currentPhase events.Phase

	frame   uint64
	timeSec float64
	dt      float32
}

// New creates a runtime and its engine.
func New(cfg Config) (*Runtime, error) {
	if cfg.World == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "config requires a world")
	}
	if cfg.Engine == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "config requires an engine factory")
	}

	store := script.NewStateStore()
	rt := &Runtime{
		cfg:          cfg,
		registry:     script.NewRegistry(store, cfg.ShutdownTimeout),
		store:        store,
		queue:        events.NewQueue(),
		signals:      NewSignalTable(),
		world:        cfg.World,
		active:       make(map[string]*loader.Module),
		provisional:  make(map[uint64]world.EntityHandle),
		currentPhase: events.PhaseUpdate,
	}

	eng, err := cfg.Engine(&hostAPI{rt: rt})
	if err != nil {
		return nil, err
	}
	rt.engine = eng
	rt.loader = loader.New(eng)
	return rt, nil
}

// Close unloads every active module and releases the engine. Instances
// are detached first so shutdown entry points run.
func (rt *Runtime) Close(ctx context.Context) error {
	for _, in := range rt.registry.All() {
		_ = rt.registry.Detach(ctx, in.ID)
	}
	var firstErr error
	for name, m := range rt.active {
		if err := rt.loader.Unload(ctx, m); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(rt.active, name)
	}
	if err := rt.engine.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// LoadScript loads the binary at path as the active module for the named
// script definition. Fails if the definition already has an active module;
// replacing a live module is the reload manager's job.
func (rt *Runtime) LoadScript(ctx context.Context, name, path string) (*loader.Module, error) {
	if _, ok := rt.active[name]; ok {
		return nil, errors.InvalidInput(errors.PhaseLoad, "script "+name+" already has an active module")
	}
	m, err := rt.loader.Load(ctx, name, path)
	if err != nil {
		return nil, err
	}
	rt.active[name] = m
	return m, nil
}

// ActiveModule returns the active module for a script definition.
func (rt *Runtime) ActiveModule(name string) (*loader.Module, bool) {
	m, ok := rt.active[name]
	return m, ok
}

// SwapActive repoints the active module for a script definition. Called
// by the reload manager at a frame boundary after a successful migration.
func (rt *Runtime) SwapActive(name string, m *loader.Module) {
	rt.active[name] = m
}

// Attach creates an instance of the named script on an entity. The
// instance runs from the next frame.
func (rt *Runtime) Attach(ctx context.Context, entity world.EntityHandle, scriptName string, phase events.Phase, priority int) (script.InstanceID, error) {
	m, ok := rt.active[scriptName]
	if !ok {
		return 0, errors.NotFound(errors.PhaseInit, "script", scriptName)
	}
	in, err := rt.registry.Attach(ctx, entity, m, phase, priority, rt.frame)
	if err != nil {
		return 0, err
	}
	return in.ID, nil
}

// Detach removes an instance, invoking its shutdown entry point under the
// watchdog, and disconnects its signal listeners.
func (rt *Runtime) Detach(ctx context.Context, id script.InstanceID) error {
	rt.signals.DisconnectInstance(id)
	return rt.registry.Detach(ctx, id)
}

// SetEnabled flips an instance's enabled flag.
func (rt *Runtime) SetEnabled(id script.InstanceID, enabled bool) bool {
	return rt.registry.SetEnabled(id, enabled)
}

// Registry exposes the instance registry.
func (rt *Runtime) Registry() *script.Registry { return rt.registry }

// Loader exposes the module loader.
func (rt *Runtime) Loader() *loader.Loader { return rt.loader }

// Store exposes the host-persisted per-instance state store.
func (rt *Runtime) Store() *script.StateStore { return rt.store }

// Signals exposes the signal table for host-side connections.
func (rt *Runtime) Signals() *SignalTable { return rt.signals }

// FrameNumber returns the current frame number.
func (rt *Runtime) FrameNumber() uint64 { return rt.frame }

// callFrame identifies one guest call: the instance being invoked and
// the token stamped into that call's context.
type callFrame struct {
	in    *script.Instance
	token uint64
}

// beginCall opens a guest call frame and returns the context to invoke
// the guest with. Only the frame thread mints tokens.
func (rt *Runtime) beginCall(ctx context.Context, in *script.Instance) context.Context {
	rt.callSeq++
	rt.current.Store(&callFrame{in: in, token: rt.callSeq})
	return engine.WithCallToken(ctx, rt.callSeq)
}

// endCall closes the current call frame. Host calls issued afterwards by
// an abandoned guest carry a stale token and are rejected.
func (rt *Runtime) endCall() {
	rt.current.Store(nil)
}

// CheckHealth invokes a module's optional health-check export. Modules
// without the export report StatusOK.
func (rt *Runtime) CheckHealth(ctx context.Context, scriptName string) (abi.Status, error) {
	m, ok := rt.active[scriptName]
	if !ok {
		return abi.StatusError, errors.NotFound(errors.PhaseLoad, "script", scriptName)
	}
	fn := m.Exports().HealthCheck
	if fn == nil {
		return abi.StatusOK, nil
	}
	res, err := script.GuardedCall(ctx, errors.PhaseUpdate, m, 0, fn, rt.cfg.UpdateTimeout)
	if err != nil {
		if stderrors.Is(err, &errors.Error{Phase: errors.PhaseUpdate, Kind: errors.KindTimeout}) {
			return abi.StatusTimeout, err
		}
		return abi.StatusUnhealthy, err
	}
	return abi.Status(res[0]), nil
}

// InjectEvent enqueues an event on behalf of an instance, for host-side
// tooling. Events for ids that are not live are rejected.
func (rt *Runtime) InjectEvent(origin script.InstanceID, phase events.Phase, kind abi.EventKind, target world.EntityHandle, payload any) error {
	if _, ok := rt.registry.Get(origin); !ok {
		return errors.InstanceNotFound(errors.PhaseApply, uint64(origin))
	}
	rt.queue.Enqueue(phase, events.Event{
		Kind:    kind,
		Origin:  uint64(origin),
		Target:  target,
		Payload: payload,
	})
	return nil
}

// newProvisional mints a provisional spawn handle. Provisional handles
// have generation zero, which no live entity ever carries, and resolve to
// the real handle when the spawn event applies.
func (rt *Runtime) newProvisional() world.EntityHandle {
	rt.provSeq++
	return world.EntityHandle{Index: rt.provSeq, Generation: 0}
}

func isProvisional(h world.EntityHandle) bool {
	return h.Generation == 0 && h.Index > 0
}

// resolveTarget maps provisional handles to their applied entity.
// Returns false for unresolved provisionals and the zero handle.
func (rt *Runtime) resolveTarget(h world.EntityHandle) (world.EntityHandle, bool) {
	if h.IsZero() {
		return h, false
	}
	if !isProvisional(h) {
		return h, true
	}
	real, ok := rt.provisional[h.Pack()]
	return real, ok
}

func (rt *Runtime) logScript(origin uint64, level abi.LogLevel, msg string) {
	fields := []zap.Field{
		zap.Uint64("instance", origin),
		zap.Uint64("frame", rt.frame),
	}
	switch level {
	case abi.LogDebug:
		Logger().Debug(msg, fields...)
	case abi.LogInfo:
		Logger().Info(msg, fields...)
	case abi.LogWarn:
		Logger().Warn(msg, fields...)
	default:
		Logger().Error(msg, fields...)
	}
}
