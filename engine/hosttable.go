package engine

import (
	"context"

	"github.com/embercore/hotscript/abi"
)

// HostTable is the jump table linked into every script module. The runtime
// implements it; the engine binds it as imports under abi.HostModule.
//
// The scheduler stamps each guest entry with a call token (WithCallToken)
// and implementations validate it before touching runtime state, so a
// guest abandoned by the watchdog can no longer enqueue or observe
// anything once its call expires. Every call must be non-blocking:
// enqueue-style calls only append to the current frame's event queue, and
// none of them mutates host state synchronously. Byte and string arguments
// are copied out of script memory before the call returns.
type HostTable interface {
	// Spawn enqueues an entity creation and returns a packed provisional
	// handle that resolves when the event is applied.
	Spawn(ctx context.Context) uint64

	// Despawn enqueues destruction of the entity named by the packed handle.
	Despawn(ctx context.Context, target uint64) abi.Status

	// SetTransform enqueues a full transform write.
	SetTransform(ctx context.Context, target uint64, pos, rot, scale [3]float32) abi.Status

	// Translate enqueues a relative position delta.
	Translate(ctx context.Context, target uint64, delta [3]float32) abi.Status

	// AddComponent enqueues a component add; data is copied.
	AddComponent(ctx context.Context, target uint64, typeID uint32, data []byte) abi.Status

	// RemoveComponent enqueues a component removal.
	RemoveComponent(ctx context.Context, target uint64, typeID uint32) abi.Status

	// EmitSignal enqueues a signal for fan-out at the next phase boundary.
	EmitSignal(ctx context.Context, name string) abi.Status

	// ConnectSignal subscribes the calling instance to a signal name and
	// returns the interned signal id delivered to on-signal.
	ConnectSignal(ctx context.Context, name string) (uint32, abi.Status)

	// Log records a script log line through the host logger.
	Log(ctx context.Context, level abi.LogLevel, msg string)

	// GetDeltaTime returns the current frame's delta time in seconds.
	GetDeltaTime(ctx context.Context) float32

	// GetTime returns seconds since the runtime started.
	GetTime(ctx context.Context) float32

	// StateSet writes a value into the calling instance's host-persisted
	// store, which survives hot reloads unconditionally.
	StateSet(ctx context.Context, key string, value []byte) abi.Status

	// StateGet reads a value from the calling instance's host-persisted
	// store. Returns nil and StatusError when the key is absent.
	StateGet(ctx context.Context, key string) ([]byte, abi.Status)
}
