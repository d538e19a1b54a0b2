// Package events buffers mutation requests emitted by scripts until the
// host drains them at a phase boundary.
//
// Only the main execution thread drains, but a guest call runs on a
// watchdog goroutine and may enqueue right up to the moment its call
// token expires, so the queue locks around enqueue and drain. Events are
// never mutated after enqueue and carry a process-lifetime sequence
// number preserving per-script emission order.
package events

import (
	"sync"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/world"
)

// Phase is one slice of a frame. Phases run in fixed order and each
// phase's events are applied before the next phase begins.
type Phase uint8

const (
	PhasePreUpdate Phase = iota
	PhaseUpdate
	PhasePostUpdate

	PhaseCount = 3
)

func (p Phase) String() string {
	switch p {
	case PhasePreUpdate:
		return "pre-update"
	case PhaseUpdate:
		return "update"
	case PhasePostUpdate:
		return "post-update"
	default:
		return "unknown"
	}
}

// Phases returns the frame's phases in execution order.
func Phases() [PhaseCount]Phase {
	return [PhaseCount]Phase{PhasePreUpdate, PhaseUpdate, PhasePostUpdate}
}

// Event is a single typed request. Payload holds the kind's payload struct
// from package abi and is immutable after enqueue.
type Event struct {
	Payload any
	Target  world.EntityHandle
	Seq     uint64
	Frame   uint64
	Origin  uint64
	Kind    abi.EventKind
	Phase   Phase
}

// Queue is the per-frame event buffer, partitioned by phase.
type Queue struct {
	mu      sync.Mutex
	buffers [PhaseCount][]Event
	seq     uint64
	frame   uint64
}

func NewQueue() *Queue {
	return &Queue{}
}

// BeginFrame tags subsequently enqueued events with the frame number.
func (q *Queue) BeginFrame(frame uint64) {
	q.mu.Lock()
	q.frame = frame
	q.mu.Unlock()
}

// Enqueue appends an event to the phase's buffer, assigning its sequence
// number. Component payload bytes are copied here so nothing downstream
// can alias memory owned by the emitting script.
func (q *Queue) Enqueue(phase Phase, ev Event) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	ev.Seq = q.seq
	ev.Frame = q.frame
	ev.Phase = phase

	if p, ok := ev.Payload.(abi.ComponentPayload); ok && p.Data != nil {
		buf := make([]byte, len(p.Data))
		copy(buf, p.Data)
		p.Data = buf
		ev.Payload = p
	}

	q.buffers[phase] = append(q.buffers[phase], ev)
	return ev.Seq
}

// Drain swaps the phase's buffer for an empty one and returns the previous
// contents in enqueue order.
func (q *Queue) Drain(phase Phase) []Event {
	q.mu.Lock()
	out := q.buffers[phase]
	q.buffers[phase] = nil
	q.mu.Unlock()
	return out
}

// Len returns the number of pending events for a phase.
func (q *Queue) Len(phase Phase) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffers[phase])
}

// Seq returns the last assigned sequence number.
func (q *Queue) Seq() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}
