package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/errors"
)

// bindHostTable instantiates the host jump table module. Pointer/length
// arguments are read out of the calling script's memory before the host
// table sees them, so nothing host-side ever aliases script memory.
func bindHostTable(ctx context.Context, r wazero.Runtime, host HostTable) error {
	b := r.NewHostModuleBuilder(abi.HostModule)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) uint64 {
			return host.Spawn(ctx)
		}).
		Export(abi.HostSpawn)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, target uint64) uint32 {
			return uint32(host.Despawn(ctx, target))
		}).
		Export(abi.HostDespawn)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, target uint64, px, py, pz, rx, ry, rz, sx, sy, sz float32) uint32 {
			return uint32(host.SetTransform(ctx, target,
				[3]float32{px, py, pz},
				[3]float32{rx, ry, rz},
				[3]float32{sx, sy, sz}))
		}).
		Export(abi.HostSetTransform)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, target uint64, dx, dy, dz float32) uint32 {
			return uint32(host.Translate(ctx, target, [3]float32{dx, dy, dz}))
		}).
		Export(abi.HostTranslate)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, target uint64, typeID, ptr, length uint32) uint32 {
			data, ok := readGuestBytes(m, ptr, length)
			if !ok {
				return uint32(abi.StatusInvalidArgument)
			}
			return uint32(host.AddComponent(ctx, target, typeID, data))
		}).
		Export(abi.HostAddComponent)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, target uint64, typeID uint32) uint32 {
			return uint32(host.RemoveComponent(ctx, target, typeID))
		}).
		Export(abi.HostRemoveComponent)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr, length uint32) uint32 {
			name, ok := readGuestBytes(m, ptr, length)
			if !ok {
				return uint32(abi.StatusInvalidArgument)
			}
			return uint32(host.EmitSignal(ctx, string(name)))
		}).
		Export(abi.HostEmitSignal)

	// Returns the interned signal id in the high 32 bits and the status in
	// the low 32.
	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
			name, ok := readGuestBytes(m, ptr, length)
			if !ok {
				return uint64(abi.StatusInvalidArgument)
			}
			id, status := host.ConnectSignal(ctx, string(name))
			return uint64(id)<<32 | uint64(status)
		}).
		Export(abi.HostConnectSignal)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, level, ptr, length uint32) {
			msg, ok := readGuestBytes(m, ptr, length)
			if !ok {
				return
			}
			host.Log(ctx, abi.LogLevel(level), string(msg))
		}).
		Export(abi.HostLog)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) float32 {
			return host.GetDeltaTime(ctx)
		}).
		Export(abi.HostGetDeltaTime)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) float32 {
			return host.GetTime(ctx)
		}).
		Export(abi.HostGetTime)

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, keyPtr, keyLen, valPtr, valLen uint32) uint32 {
			key, ok := readGuestBytes(m, keyPtr, keyLen)
			if !ok {
				return uint32(abi.StatusInvalidArgument)
			}
			val, ok := readGuestBytes(m, valPtr, valLen)
			if !ok {
				return uint32(abi.StatusInvalidArgument)
			}
			return uint32(host.StateSet(ctx, string(key), val))
		}).
		Export(abi.HostStateSet)

	// Copies up to outCap bytes of the stored value to outPtr and returns
	// the full value length, or -1 when the key is absent.
	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, keyPtr, keyLen, outPtr, outCap uint32) int32 {
			key, ok := readGuestBytes(m, keyPtr, keyLen)
			if !ok {
				return -1
			}
			val, status := host.StateGet(ctx, string(key))
			if !status.OK() {
				return -1
			}
			n := len(val)
			if uint32(n) > outCap {
				n = int(outCap)
			}
			if n > 0 {
				if !m.Memory().Write(outPtr, val[:n]) {
					return -1
				}
			}
			return int32(len(val))
		}).
		Export(abi.HostStateGet)

	if _, err := b.Instantiate(ctx); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindOpenFailed, err, "instantiate host table")
	}

	Logger().Debug("host table bound", zap.String("module", abi.HostModule))
	return nil
}

func readGuestBytes(m api.Module, ptr, length uint32) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	mem := m.Memory()
	if mem == nil {
		return nil, false
	}
	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, true
}
