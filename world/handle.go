package world

// EntityHandle names an entity slot plus the generation it was observed at.
// A handle is valid only while its generation matches the live entity's
// generation. The host owns handles; the runtime stores copies.
type EntityHandle struct {
	Index      uint32
	Generation uint32
}

// Pack encodes the handle into a single u64 for the ABI boundary:
// generation in the high 32 bits, index in the low 32.
func (h EntityHandle) Pack() uint64 {
	return uint64(h.Generation)<<32 | uint64(h.Index)
}

// UnpackHandle decodes a packed handle word.
func UnpackHandle(word uint64) EntityHandle {
	return EntityHandle{
		Index:      uint32(word),
		Generation: uint32(word >> 32),
	}
}

// IsZero reports whether the handle is the zero value. Index 0 generation 0
// is reserved and never names a live entity.
func (h EntityHandle) IsZero() bool {
	return h.Index == 0 && h.Generation == 0
}
