package script

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/embercore/hotscript/engine"
	"github.com/embercore/hotscript/errors"
	"github.com/embercore/hotscript/loader"
)

// GuardedCall invokes a module export while holding a call reference on
// the module, so the loader can prove no call is mid-execution before an
// unload.
//
// With timeout <= 0 the call runs inline on the execution thread. With a
// timeout, the call runs on a watchdog goroutine under a deadline context:
// if it does not return in time, a timeout error is reported and the
// deadline terminates the guest (the wazero runtime closes modules whose
// call context is done, so the abandoned goroutine unwinds with a trap
// rather than running forever). The goroutine keeps its call reference
// until the export actually returns, which blocks a checked unload: the
// caller must treat the condition as a leak risk, never a silent success.
//
// Cancellation of the caller's context is reported as a cancelled error,
// distinct from the watchdog timeout.
func GuardedCall(ctx context.Context, phase errors.Phase, m *loader.Module, instance InstanceID, fn engine.Func, timeout time.Duration, params ...uint64) ([]uint64, error) {
	m.Retain()

	if timeout <= 0 {
		defer m.Release()
		res, err := fn.Call(ctx, params...)
		if err != nil {
			return nil, errors.Trap(phase, m.Meta().Script, uint64(instance), err)
		}
		return res, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		res []uint64
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer m.Release()
		res, err := fn.Call(callCtx, params...)
		done <- result{res: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.Trap(phase, m.Meta().Script, uint64(instance), r.err)
		}
		return r.res, nil
	case <-callCtx.Done():
		if context.Cause(callCtx) == context.Canceled {
			return nil, errors.Wrap(phase, errors.KindCancelled,
				context.Canceled, "call to "+m.Meta().Script+" cancelled")
		}
		Logger().Error("script call exceeded watchdog bound, terminating",
			zap.String("script", m.Meta().Script),
			zap.Uint64("instance", uint64(instance)),
			zap.String("phase", string(phase)),
			zap.Duration("timeout", timeout))
		return nil, errors.Timeout(phase, m.Meta().Script, uint64(instance),
			"call did not return within "+timeout.String())
	}
}
