package world

import "github.com/embercore/hotscript/abi"

// Vec3 is a three-component float vector.
type Vec3 struct {
	X, Y, Z float32
}

// Transform is the spatial state the runtime can write through the
// mutation interface.
type Transform struct {
	Position Vec3
	Rotation Vec3
	Scale    Vec3
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Scale: Vec3{X: 1, Y: 1, Z: 1}}
}

// EntitySpec describes a new entity for CreateEntity.
type EntitySpec struct {
	Transform Transform
	Name      string
}

// Mutator is the host mutation interface the event processor applies
// drained events through. Implementations must validate handle generations
// and answer StatusStaleTarget for handles that no longer name a live
// entity; they must never panic on malformed input.
type Mutator interface {
	CreateEntity(spec EntitySpec) (EntityHandle, abi.Status)
	DestroyEntity(handle EntityHandle) abi.Status
	SetTransform(handle EntityHandle, t Transform) abi.Status
	AddComponent(handle EntityHandle, typeID uint32, payload []byte) abi.Status
	RemoveComponent(handle EntityHandle, typeID uint32) abi.Status
	ReadComponent(handle EntityHandle, typeID uint32) ([]byte, abi.Status)
}

// Reader is the snapshot-read surface. Split from Mutator so script-facing
// read calls cannot reach mutations.
type Reader interface {
	Alive(handle EntityHandle) bool
	GetTransform(handle EntityHandle) (Transform, abi.Status)
}
