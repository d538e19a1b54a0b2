package engine

import (
	"context"
	"math"

	"github.com/embercore/hotscript/abi"
)

// Func is one resolved export. Arguments and results travel as core wasm
// words; use the Encode/Decode helpers for floats.
type Func interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
	ParamTypes() []abi.CoreType
	ResultTypes() []abi.CoreType
}

// Library is one opened script binary. Lookup resolves exports by name;
// Close releases the underlying instance. After Close, calling any Func
// obtained from the library is an error.
type Library interface {
	Lookup(name string) (Func, bool)

	// ReadMemory copies length bytes out of the script's linear memory.
	// Returns false if the range is out of bounds or the library has no
	// memory. The returned slice never aliases script memory.
	ReadMemory(ptr, length uint32) ([]byte, bool)

	// WriteMemory copies data into the script's linear memory.
	WriteMemory(ptr uint32, data []byte) bool

	Close(ctx context.Context) error
}

// Engine opens script binaries from disk.
type Engine interface {
	Open(ctx context.Context, path string) (Library, error)
	Close(ctx context.Context) error
}

// EncodeF32 packs a float32 into a core wasm word.
func EncodeF32(v float32) uint64 {
	return uint64(math.Float32bits(v))
}

// DecodeF32 unpacks a float32 from a core wasm word.
func DecodeF32(w uint64) float32 {
	return math.Float32frombits(uint32(w))
}
