// Package world defines the narrow mutation surface through which the
// script runtime touches the host's entity store, and an in-memory
// reference implementation of it.
//
// The runtime never owns entity or component storage. It only enqueues
// intents and applies them through Mutator at drain time. Entity handles
// carry a generation counter so a handle to a destroyed entity is
// detectably stale rather than silently aliasing a recycled slot.
package world
