package runtime

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/embercore/hotscript/engine"
	"github.com/embercore/hotscript/errors"
	"github.com/embercore/hotscript/events"
	"github.com/embercore/hotscript/script"
)

// FrameReport summarizes one frame for host-side logging.
type FrameReport struct {
	Results          []ApplyResult
	UpdateErrors     []error
	Frame            uint64
	SignalsDelivered int
}

// Frame advances the runtime by one frame on the calling thread.
//
// Per phase: deliver signals buffered at the previous boundary, invoke
// every runnable instance in (priority, attach order), then drain and
// apply the phase's events. Signals emitted in post-update carry over to
// the next frame's pre-update boundary.
func (rt *Runtime) Frame(ctx context.Context, dt float32) FrameReport {
	rt.frame++
	rt.dt = dt
	rt.timeSec += float64(dt)
	rt.queue.BeginFrame(rt.frame)

	report := FrameReport{Frame: rt.frame}
	for _, phase := range events.Phases() {
		rt.currentPhase = phase
		report.SignalsDelivered += rt.deliverSignals(ctx)

		for _, in := range rt.registry.RunnableForPhase(phase, rt.frame) {
			// The snapshot may contain instances detached earlier in
			// this phase by an applied despawn; skip them silently.
			if _, live := rt.registry.Get(in.ID); !live {
				continue
			}
			if err := rt.invokeUpdate(ctx, in, dt); err != nil {
				report.UpdateErrors = append(report.UpdateErrors, err)
			}
		}

		report.Results = append(report.Results, rt.drainAndApply(ctx, phase)...)
	}
	return report
}

// invokeUpdate calls one instance's update entry point. A trap disables
// the instance and flags it unhealthy; a watchdog timeout force-detaches
// it. Neither aborts the frame or affects other instances.
func (rt *Runtime) invokeUpdate(ctx context.Context, in *script.Instance, dt float32) error {
	callCtx := rt.beginCall(ctx, in)
	_, err := script.GuardedCall(callCtx, errors.PhaseUpdate, in.Module, in.ID, in.Module.Exports().Update,
		rt.cfg.UpdateTimeout, uint64(in.ID), engine.EncodeF32(dt))
	rt.endCall()
	if err == nil {
		return nil
	}

	in.Unhealthy = true
	if stderrors.Is(err, &errors.Error{Phase: errors.PhaseUpdate, Kind: errors.KindTimeout}) {
		rt.signals.DisconnectInstance(in.ID)
		rt.registry.ForceDetach(in.ID)
	} else {
		in.Enabled = false
	}

	Logger().Error("script update failed",
		zap.Uint64("instance", uint64(in.ID)),
		zap.String("script", in.Module.Meta().Script),
		zap.Error(err))
	return err
}

// deliverSignals fans out emissions buffered at the previous phase
// boundary: script listeners through their on-signal export, host
// listeners as direct callbacks, both in connection order.
func (rt *Runtime) deliverSignals(ctx context.Context) int {
	delivered := 0
	for _, p := range rt.signals.DrainPending() {
		name := rt.signals.Name(p.id)

		for _, listenerID := range rt.signals.ScriptListeners(p.id) {
			in, ok := rt.registry.Get(listenerID)
			if !ok {
				continue
			}
			fn := in.Module.Exports().OnSignal
			if fn == nil {
				continue
			}
			callCtx := rt.beginCall(ctx, in)
			_, err := script.GuardedCall(callCtx, errors.PhaseSignal, in.Module, in.ID, fn,
				rt.cfg.UpdateTimeout, uint64(in.ID), uint64(p.id))
			rt.endCall()
			if err != nil {
				in.Unhealthy = true
				in.Enabled = false
				Logger().Error("signal delivery failed",
					zap.String("signal", name),
					zap.Uint64("listener", uint64(listenerID)),
					zap.Error(err))
				continue
			}
			delivered++
		}

		for _, fn := range rt.signals.HostListeners(p.id) {
			fn(name, p.origin)
			delivered++
		}
	}
	return delivered
}
