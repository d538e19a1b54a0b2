package enginetest

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/engine"
)

// Script is a scripted fake module. Build a Library from it and register
// the library with a FakeEngine; every contract export is backed by the
// fields here.
type Script struct {
	// InitFn, UpdateFn, ShutdownFn run inside the corresponding entry
	// point after the call is recorded. The context is the guest call
	// context, carrying the call token a host table validates.
	InitFn     func(ctx context.Context, instance uint64)
	UpdateFn   func(ctx context.Context, instance uint64, dt float32)
	ShutdownFn func(ctx context.Context, instance uint64)

	// SerializeFn returns the state blob for an instance; ok=false means
	// the instance has no state to transfer. Only wired when
	// WithStateTransfer is set.
	SerializeFn func(instance uint64) (blob []byte, ok bool)

	// DeserializeFn consumes a migrated blob. Only wired when
	// WithStateTransfer is set.
	DeserializeFn func(instance uint64, blob []byte) abi.Status

	OnSignalFn func(ctx context.Context, instance uint64, signal uint32)

	Version           uint32
	InitStatus        abi.Status
	HealthStatus      abi.Status
	ShutdownDelay     time.Duration
	WithStateTransfer bool
	WithHealth        bool
	WithOnSignal      bool

	mu            sync.Mutex
	initCalls     []uint64
	updateCalls   []uint64
	shutdownCalls []uint64
}

// NewScript returns a minimal healthy script at the current ABI version.
func NewScript() *Script {
	return &Script{Version: abi.Version}
}

// InitCalls returns the instance ids script-init was called with.
func (s *Script) InitCalls() []uint64 { return s.copyCalls(&s.initCalls) }

// UpdateCalls returns the instance ids script-update was called with, in
// call order.
func (s *Script) UpdateCalls() []uint64 { return s.copyCalls(&s.updateCalls) }

// ShutdownCalls returns the instance ids script-shutdown was called with.
func (s *Script) ShutdownCalls() []uint64 { return s.copyCalls(&s.shutdownCalls) }

func (s *Script) copyCalls(src *[]uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(*src))
	copy(out, *src)
	return out
}

func (s *Script) record(dst *[]uint64, instance uint64) {
	s.mu.Lock()
	*dst = append(*dst, instance)
	s.mu.Unlock()
}

// Library builds a fake library exposing the contract exports backed by
// this script. Each call builds a fresh library, so a factory closing over
// a Script models a rebuilt binary sharing behavior with its predecessor.
func (s *Script) Library() *FakeLibrary {
	lib := NewLibrary()

	lib.Export(abi.ExportAbiVersion, nil, []abi.CoreType{abi.CoreI32},
		func(_ context.Context, _ []uint64) ([]uint64, error) {
			return []uint64{uint64(s.Version)}, nil
		})

	lib.Export(abi.ExportInit, []abi.CoreType{abi.CoreI64}, []abi.CoreType{abi.CoreI32},
		func(ctx context.Context, params []uint64) ([]uint64, error) {
			s.record(&s.initCalls, params[0])
			if s.InitFn != nil {
				s.InitFn(ctx, params[0])
			}
			return []uint64{uint64(s.InitStatus)}, nil
		})

	lib.Export(abi.ExportUpdate, []abi.CoreType{abi.CoreI64, abi.CoreF32}, nil,
		func(ctx context.Context, params []uint64) ([]uint64, error) {
			s.record(&s.updateCalls, params[0])
			if s.UpdateFn != nil {
				s.UpdateFn(ctx, params[0], engine.DecodeF32(params[1]))
			}
			return nil, nil
		})

	lib.Export(abi.ExportShutdown, []abi.CoreType{abi.CoreI64}, nil,
		func(ctx context.Context, params []uint64) ([]uint64, error) {
			if s.ShutdownDelay > 0 {
				time.Sleep(s.ShutdownDelay)
			}
			s.record(&s.shutdownCalls, params[0])
			if s.ShutdownFn != nil {
				s.ShutdownFn(ctx, params[0])
			}
			return nil, nil
		})

	if s.WithStateTransfer {
		lib.Export(abi.ExportStateAlloc, []abi.CoreType{abi.CoreI32}, []abi.CoreType{abi.CoreI32},
			func(_ context.Context, params []uint64) ([]uint64, error) {
				return []uint64{uint64(lib.Alloc(uint32(params[0])))}, nil
			})

		lib.Export(abi.ExportSerializeState, []abi.CoreType{abi.CoreI64}, []abi.CoreType{abi.CoreI64},
			func(_ context.Context, params []uint64) ([]uint64, error) {
				if s.SerializeFn == nil {
					return []uint64{0}, nil
				}
				blob, ok := s.SerializeFn(params[0])
				if !ok {
					return []uint64{0}, nil
				}
				ptr, length := lib.Place(blob)
				return []uint64{uint64(ptr)<<32 | uint64(length)}, nil
			})

		lib.Export(abi.ExportDeserializeState,
			[]abi.CoreType{abi.CoreI64, abi.CoreI32, abi.CoreI32}, []abi.CoreType{abi.CoreI32},
			func(_ context.Context, params []uint64) ([]uint64, error) {
				status := abi.StatusOK
				if s.DeserializeFn != nil {
					blob, ok := lib.ReadMemory(uint32(params[1]), uint32(params[2]))
					if !ok {
						return []uint64{uint64(abi.StatusInvalidArgument)}, nil
					}
					status = s.DeserializeFn(params[0], blob)
				}
				return []uint64{uint64(status)}, nil
			})
	}

	if s.WithHealth {
		lib.Export(abi.ExportHealthCheck, nil, []abi.CoreType{abi.CoreI32},
			func(_ context.Context, _ []uint64) ([]uint64, error) {
				return []uint64{uint64(s.HealthStatus)}, nil
			})
	}

	if s.WithOnSignal {
		lib.Export(abi.ExportOnSignal, []abi.CoreType{abi.CoreI64, abi.CoreI32}, nil,
			func(ctx context.Context, params []uint64) ([]uint64, error) {
				if s.OnSignalFn != nil {
					s.OnSignalFn(ctx, params[0], uint32(params[1]))
				}
				return nil, nil
			})
	}

	return lib
}

// EncodeCounter is a tiny helper for state blobs in tests.
func EncodeCounter(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// DecodeCounter reverses EncodeCounter.
func DecodeCounter(blob []byte) uint64 {
	if len(blob) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(blob)
}
