package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Message(t *testing.T) {
	err := New(PhaseLoad, KindSymbolMissing).
		Script("enemy_ai").
		Symbol("script-update").
		Detail("required export not found").
		Build()

	msg := err.Error()
	for _, want := range []string{"[load]", "symbol_missing", "enemy_ai", "script-update"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestError_Is(t *testing.T) {
	err := AbiMismatch("turret", 9, 1, 2)

	if !stderrors.Is(err, &Error{Phase: PhaseLoad, Kind: KindAbiMismatch}) {
		t.Fatal("expected Is to match on (phase, kind)")
	}
	if stderrors.Is(err, &Error{Phase: PhaseLoad, Kind: KindOpenFailed}) {
		t.Fatal("expected Is to reject different kind")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("no such file")
	err := OpenFailed("scripts/turret.wasm", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable via Unwrap")
	}
}

func TestStaleTarget_CarriesOrigin(t *testing.T) {
	err := StaleTarget(PhaseApply, 7, 0xdeadbeef)
	if err.InstanceID != 7 {
		t.Fatalf("expected origin instance 7, got %d", err.InstanceID)
	}
	if err.Kind != KindStaleTarget {
		t.Fatalf("unexpected kind %s", err.Kind)
	}
}

func TestInUse_Detail(t *testing.T) {
	err := InUse("turret", 3)
	if !strings.Contains(err.Error(), "3 live references") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
