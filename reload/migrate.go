package reload

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/embercore/hotscript/abi"
	"github.com/embercore/hotscript/errors"
	"github.com/embercore/hotscript/loader"
	"github.com/embercore/hotscript/script"
)

// CarrierKind says how an instance's state crosses a module swap.
type CarrierKind int

const (
	// CarrierNone migrates nothing; the instance reinitializes fresh.
	CarrierNone CarrierKind = iota
	// CarrierBlob migrates an opaque blob produced by serialize-state.
	CarrierBlob
	// CarrierPersisted relies on the host-persisted store alone; the old
	// module did not export the state transfer group.
	CarrierPersisted
)

// Carrier is one instance's captured state, taken from the old module
// before any instance touches the new one.
type Carrier struct {
	Blob []byte
	ID   script.InstanceID
	Kind CarrierKind
}

// captureState extracts an instance's transferable state from the old
// module. It only reads: a failed capture aborts the reload before the
// new module sees any instance.
func captureState(ctx context.Context, old *loader.Module, id script.InstanceID, timeout time.Duration) (Carrier, error) {
	if !old.Exports().HasStateTransfer() {
		return Carrier{ID: id, Kind: CarrierPersisted}, nil
	}

	res, err := script.GuardedCall(ctx, errors.PhaseMigrate, old, id, old.Exports().SerializeState, timeout, uint64(id))
	if err != nil {
		return Carrier{}, err
	}

	// serialize-state packs ptr<<32|len; zero means no state to carry.
	packed := res[0]
	if packed == 0 {
		return Carrier{ID: id, Kind: CarrierNone}, nil
	}
	ptr := uint32(packed >> 32)
	length := uint32(packed)
	data, ok := old.Library().ReadMemory(ptr, length)
	if !ok {
		return Carrier{}, errors.MigrationFailure(old.Meta().Script, uint64(id),
			fmt.Sprintf("serialize-state returned out-of-range blob ptr=%d len=%d", ptr, length), nil)
	}
	blob := make([]byte, len(data))
	copy(blob, data)
	return Carrier{ID: id, Blob: blob, Kind: CarrierBlob}, nil
}

// seedInstance initializes one instance on the new module and replays its
// carrier into it. The caller rolls back every seeded instance if any
// seeding fails.
func seedInstance(ctx context.Context, next *loader.Module, c Carrier, timeout time.Duration) error {
	name := next.Meta().Script

	res, err := script.GuardedCall(ctx, errors.PhaseMigrate, next, c.ID, next.Exports().Init, timeout, uint64(c.ID))
	if err != nil {
		return err
	}
	if status := abi.Status(res[0]); !status.OK() {
		return errors.MigrationFailure(name, uint64(c.ID),
			fmt.Sprintf("script-init on new module returned %s", status), nil)
	}

	if c.Kind != CarrierBlob {
		return nil
	}
	// A new module that dropped the transfer group cannot take the blob;
	// the instance falls back to the host-persisted store, which survives
	// the swap unconditionally.
	if !next.Exports().HasStateTransfer() {
		Logger().Warn("new module lacks the state transfer group, dropping serialized blob",
			zap.String("script", name),
			zap.Uint64("instance", uint64(c.ID)))
		return nil
	}

	allocRes, err := script.GuardedCall(ctx, errors.PhaseMigrate, next, c.ID, next.Exports().StateAlloc, timeout, uint64(len(c.Blob)))
	if err != nil {
		return err
	}
	ptr := uint32(allocRes[0])
	if ptr == 0 {
		return errors.MigrationFailure(name, uint64(c.ID), "state-alloc returned a null pointer", nil)
	}
	if !next.Library().WriteMemory(ptr, c.Blob) {
		return errors.MigrationFailure(name, uint64(c.ID),
			fmt.Sprintf("state blob of %d bytes does not fit at ptr=%d", len(c.Blob), ptr), nil)
	}

	deserRes, err := script.GuardedCall(ctx, errors.PhaseMigrate, next, c.ID, next.Exports().DeserializeState, timeout,
		uint64(c.ID), uint64(ptr), uint64(len(c.Blob)))
	if err != nil {
		return err
	}
	if status := abi.Status(deserRes[0]); !status.OK() {
		return errors.MigrationFailure(name, uint64(c.ID),
			fmt.Sprintf("deserialize-state returned %s", status), nil)
	}
	return nil
}
