package reload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/errors"
	"github.com/embercore/hotscript/loader"
	"github.com/embercore/hotscript/runtime"
	"github.com/embercore/hotscript/script"
)

// Builder turns a script definition into a loadable binary. Build runs on
// a background goroutine and may take arbitrarily long; the live world is
// never blocked on it.
type Builder interface {
	Build(ctx context.Context, scriptName string) (path string, err error)
}

// BuildFunc adapts a function to the Builder interface.
type BuildFunc func(ctx context.Context, scriptName string) (string, error)

func (f BuildFunc) Build(ctx context.Context, scriptName string) (string, error) {
	return f(ctx, scriptName)
}

// Config configures a reload Manager.
type Config struct {
	Runtime *runtime.Runtime
	Builder Builder

	// CallTimeout bounds every guest call made during migration and the
	// old module's finalizing shutdowns. Zero runs calls unguarded.
	CallTimeout time.Duration
}

// pendingSwap is the single-slot mailbox between the build goroutine and
// the frame thread. A newer build overwrites an unapplied older one.
type pendingSwap struct {
	scriptName string
	path       string
	seq        uint64
}

// Manager drives hot reloads. Request starts an asynchronous rebuild;
// ApplyPending, called from the frame thread between frames, performs the
// validate–migrate–swap sequence atomically with respect to script
// execution. A reload that fails after validation rolls back completely:
// every instance keeps running on the old module.
type Manager struct {
	rt      *runtime.Runtime
	builder Builder
	timeout time.Duration

	mu         sync.Mutex
	state      State
	pending    *pendingSwap
	buildSeq   uint64
	lastScript string
	lastErr    error
}

// NewManager creates a reload manager for a runtime.
func NewManager(cfg Config) *Manager {
	return &Manager{
		rt:      cfg.Runtime,
		builder: cfg.Builder,
		timeout: cfg.CallTimeout,
	}
}

// State returns the pipeline's current stage.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent reload failure, if any. Cleared by
// the next successful swap.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Pending reports whether a built module awaits ApplyPending.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// Request starts an asynchronous rebuild of a script. A request issued
// while an earlier build is still running supersedes it: only the newest
// build's result is ever applied. Call from the frame thread; the build
// itself runs on its own goroutine. The script must be loaded in the
// runtime.
func (m *Manager) Request(ctx context.Context, scriptName string) error {
	if _, ok := m.rt.ActiveModule(scriptName); !ok {
		return errors.NotFound(errors.PhaseBuild, "script", scriptName)
	}

	m.mu.Lock()
	m.buildSeq++
	seq := m.buildSeq
	m.state = StateBuilding
	m.lastScript = scriptName
	m.mu.Unlock()

	Logger().Info("reload requested", zap.String("script", scriptName))
	go m.build(ctx, scriptName, seq)
	return nil
}

func (m *Manager) build(ctx context.Context, scriptName string, seq uint64) {
	path, err := m.builder.Build(ctx, scriptName)

	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.buildSeq {
		// Superseded by a newer request or cancelled; drop the result.
		Logger().Debug("discarding superseded build", zap.String("script", scriptName))
		return
	}
	if err != nil {
		m.state = StateIdle
		m.lastErr = errors.BuildFailure(scriptName, err)
		Logger().Error("script build failed", zap.String("script", scriptName), zap.Error(err))
		return
	}
	m.pending = &pendingSwap{scriptName: scriptName, path: path, seq: seq}
	Logger().Info("build ready, swap pending",
		zap.String("script", scriptName),
		zap.String("path", path))
}

// Cancel discards any pending swap and invalidates an in-flight build.
// It cannot interrupt an ApplyPending already in progress; the swap
// sequence is atomic once entered. Returns true when something was
// discarded; the cancellation is recorded as the manager's last error.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	building := m.state == StateBuilding
	m.buildSeq++ // orphans any in-flight build result
	had := m.pending != nil || building
	script := m.lastScript
	if m.pending != nil {
		script = m.pending.scriptName
	}
	m.pending = nil
	if m.state == StateBuilding {
		m.state = StateIdle
	}
	if had {
		m.lastErr = errors.Cancelled(script)
		Logger().Info("reload cancelled", zap.String("script", script))
	}
	return had
}

// ApplyPending performs the swap for a completed build, if one is
// waiting. It must run on the frame thread between frames: no script is
// mid-update while it works. Returns true when a swap was attempted,
// with the error from a rolled-back attempt.
func (m *Manager) ApplyPending(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pending
	if p == nil {
		return false, nil
	}
	m.pending = nil

	err := m.apply(ctx, p)
	if err != nil {
		m.state = StateRolledBack
		m.lastErr = err
		Logger().Error("reload rolled back",
			zap.String("script", p.scriptName),
			zap.Error(err))
		return true, err
	}
	m.state = StateIdle
	m.lastErr = nil
	return true, nil
}

func (m *Manager) apply(ctx context.Context, p *pendingSwap) error {
	old, ok := m.rt.ActiveModule(p.scriptName)
	if !ok {
		return errors.NotFound(errors.PhaseSwap, "script", p.scriptName)
	}

	// Validate: loading resolves the export table and checks the ABI
	// version range; a broken binary is rejected before any instance is
	// touched. A module shipping a health check must also pass it here.
	m.state = StateValidating
	next, err := m.rt.Loader().Load(ctx, p.scriptName, p.path)
	if err != nil {
		return err
	}
	if hc := next.Exports().HealthCheck; hc != nil {
		res, err := script.GuardedCall(ctx, errors.PhaseLoad, next, 0, hc, m.timeout)
		if err != nil {
			m.discard(ctx, next, nil)
			return err
		}
		if status := abi.Status(res[0]); !status.OK() {
			m.discard(ctx, next, nil)
			return errors.Unhealthy(p.scriptName, uint32(status))
		}
	}

	// Migrate: capture every instance's state from the old module first,
	// then seed the new module. All or nothing: one failure discards the
	// new module entirely and the old one keeps running untouched.
	m.state = StateMigrating
	instances := m.rt.Registry().InstancesOf(old)

	carriers := make([]Carrier, 0, len(instances))
	for _, in := range instances {
		c, err := captureState(ctx, old, in.ID, m.timeout)
		if err != nil {
			m.discard(ctx, next, nil)
			return err
		}
		carriers = append(carriers, c)
	}

	for i, c := range carriers {
		if err := seedInstance(ctx, next, c, m.timeout); err != nil {
			m.discard(ctx, next, carriers[:i+1])
			return err
		}
	}

	// Swap: repoint instances and publish the new module. From here the
	// reload cannot fail.
	m.state = StateSwapping
	repointed := m.rt.Registry().Repoint(old, next)
	m.rt.SwapActive(p.scriptName, next)

	m.finalize(ctx, old, instances)

	Logger().Info("reload swapped",
		zap.String("script", p.scriptName),
		zap.String("hash", next.Meta().BuildHash),
		zap.Int("instances", repointed))
	return nil
}

// discard tears down a rejected new module: seeded instances get a
// shutdown call on it, then it is unloaded. Best effort; the rollback
// itself never fails.
func (m *Manager) discard(ctx context.Context, next *loader.Module, seeded []Carrier) {
	for _, c := range seeded {
		_, err := script.GuardedCall(ctx, errors.PhaseMigrate, next, c.ID, next.Exports().Shutdown, m.timeout, uint64(c.ID))
		if err != nil {
			Logger().Warn("shutdown on discarded module failed",
				zap.Uint64("instance", uint64(c.ID)),
				zap.Error(err))
		}
	}
	if err := m.rt.Loader().Unload(ctx, next); err != nil {
		Logger().Warn("could not unload discarded module", zap.Error(err))
	}
}

// finalize retires the old module after a successful swap: each migrated
// instance gets a final shutdown on it, releasing resources the old code
// held, then the module is unloaded. The host-persisted store is not
// dropped; the instances live on.
func (m *Manager) finalize(ctx context.Context, old *loader.Module, instances []*script.Instance) {
	for _, in := range instances {
		_, err := script.GuardedCall(ctx, errors.PhaseShutdown, old, in.ID, old.Exports().Shutdown, m.timeout, uint64(in.ID))
		if err != nil {
			Logger().Warn("old module shutdown failed during reload",
				zap.Uint64("instance", uint64(in.ID)),
				zap.Error(err))
		}
	}
	if err := m.rt.Loader().Unload(ctx, old); err != nil {
		// An abandoned watchdog call still holds a reference. Keep the
		// module resident rather than pulling memory out from under it.
		Logger().Warn("old module still referenced after swap, leaking it",
			zap.String("script", old.Meta().Script),
			zap.Int32("refs", old.Refs()),
			zap.Error(err))
	}
}
