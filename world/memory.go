package world

import "github.com/embercore/hotscript/abi"

// entityMeta stores the live state of one entity slot.
type entityMeta struct {
	components map[uint32][]byte
	name       string
	transform  Transform
	generation uint32
	alive      bool
}

// World is an in-memory Mutator/Reader implementation. Destroyed slots are
// recycled with a bumped generation so stale handles are detected. It is
// not safe for concurrent use; the runtime only touches it from the main
// execution thread.
type World struct {
	entities []entityMeta
	free     []uint32
}

// NewWorld creates an empty world. Slot 0 is reserved so the zero handle
// never validates.
func NewWorld() *World {
	return &World{
		entities: make([]entityMeta, 1),
	}
}

func (w *World) CreateEntity(spec EntitySpec) (EntityHandle, abi.Status) {
	var idx uint32
	if n := len(w.free); n > 0 {
		idx = w.free[n-1]
		w.free = w.free[:n-1]
	} else {
		w.entities = append(w.entities, entityMeta{})
		idx = uint32(len(w.entities) - 1)
	}

	m := &w.entities[idx]
	m.alive = true
	m.generation++
	m.name = spec.Name
	m.transform = spec.Transform
	m.components = make(map[uint32][]byte)

	return EntityHandle{Index: idx, Generation: m.generation}, abi.StatusOK
}

func (w *World) DestroyEntity(handle EntityHandle) abi.Status {
	m := w.lookup(handle)
	if m == nil {
		return abi.StatusStaleTarget
	}
	m.alive = false
	m.components = nil
	w.free = append(w.free, handle.Index)
	return abi.StatusOK
}

func (w *World) SetTransform(handle EntityHandle, t Transform) abi.Status {
	m := w.lookup(handle)
	if m == nil {
		return abi.StatusStaleTarget
	}
	m.transform = t
	return abi.StatusOK
}

// AddComponent is idempotent: adding an already-present component leaves
// the existing payload in place and reports a warning, never an error.
func (w *World) AddComponent(handle EntityHandle, typeID uint32, payload []byte) abi.Status {
	m := w.lookup(handle)
	if m == nil {
		return abi.StatusStaleTarget
	}
	if _, ok := m.components[typeID]; ok {
		return abi.StatusWarning
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.components[typeID] = buf
	return abi.StatusOK
}

// RemoveComponent is idempotent: removing an absent component is a no-op
// with a warning status.
func (w *World) RemoveComponent(handle EntityHandle, typeID uint32) abi.Status {
	m := w.lookup(handle)
	if m == nil {
		return abi.StatusStaleTarget
	}
	if _, ok := m.components[typeID]; !ok {
		return abi.StatusWarning
	}
	delete(m.components, typeID)
	return abi.StatusOK
}

func (w *World) ReadComponent(handle EntityHandle, typeID uint32) ([]byte, abi.Status) {
	m := w.lookup(handle)
	if m == nil {
		return nil, abi.StatusStaleTarget
	}
	payload, ok := m.components[typeID]
	if !ok {
		return nil, abi.StatusError
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, abi.StatusOK
}

func (w *World) Alive(handle EntityHandle) bool {
	return w.lookup(handle) != nil
}

func (w *World) GetTransform(handle EntityHandle) (Transform, abi.Status) {
	m := w.lookup(handle)
	if m == nil {
		return Transform{}, abi.StatusStaleTarget
	}
	return m.transform, abi.StatusOK
}

// Len returns the number of live entities.
func (w *World) Len() int {
	n := 0
	for i := range w.entities {
		if w.entities[i].alive {
			n++
		}
	}
	return n
}

// lookup returns the slot for a handle, or nil if the handle is stale,
// out of range, or names a dead slot.
func (w *World) lookup(handle EntityHandle) *entityMeta {
	if handle.Index == 0 || int(handle.Index) >= len(w.entities) {
		return nil
	}
	m := &w.entities[handle.Index]
	if !m.alive || m.generation != handle.Generation {
		return nil
	}
	return m
}
