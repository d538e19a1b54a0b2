// Package script tracks live script instances: one attachment of a loaded
// module to an entity, with its own id, scheduling slot, and state.
package script

import (
	"github.com/embercore/hotscript/events"
	"github.com/embercore/hotscript/loader"
	"github.com/embercore/hotscript/world"
)

// InstanceID uniquely names an instance for the process lifetime. Ids are
// monotonic and never reused, so references held after detach or reload
// are detectably stale instead of aliasing a newer instance.
type InstanceID uint64

// Instance is one attached script on one entity. The registry mutates the
// enabled flag; the hot-reload manager repoints Module during a swap. The
// module reference is non-nil for the instance's whole registered life;
// the swap replaces it in one assignment on the execution thread, so no
// lookup can observe nil.
type Instance struct {
	Module     *loader.Module
	ID         InstanceID
	Entity     world.EntityHandle
	Phase      events.Phase
	Priority   int
	AbiVersion uint32

	// ActiveFrom is the first frame the scheduler may invoke this
	// instance; attaching mid-frame takes effect the next frame.
	ActiveFrom uint64

	// attachSeq breaks priority ties by attach order.
	attachSeq uint64

	Enabled   bool
	Unhealthy bool
}

// Runnable reports whether the scheduler should invoke the instance for
// the given phase and frame.
func (in *Instance) Runnable(phase events.Phase, frame uint64) bool {
	return in.Enabled && !in.Unhealthy && in.Phase == phase && frame >= in.ActiveFrom
}
