package common

import (
	"errors"
	"testing"
)

func TestGuardReportsPausedModules(t *testing.T) {
	pauses := StaticPauses{"market": true}
	if err := Guard(pauses, "market"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "assets"); err != nil {
		t.Fatalf("unexpected error for unpaused module: %v", err)
	}
	if err := Guard(nil, "market"); err != nil {
		t.Fatalf("nil pause view must not block: %v", err)
	}
}

func TestReentrancyGuardRejectsNestedEntry(t *testing.T) {
	var g ReentrancyGuard
	release, err := g.Enter()
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if !g.Active() {
		t.Fatalf("expected guard to be active")
	}
	if _, err := g.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	release()
	release()
	if g.Active() {
		t.Fatalf("expected guard to be released")
	}
	again, err := g.Enter()
	if err != nil {
		t.Fatalf("re-enter after release: %v", err)
	}
	again()
}

func TestReentrancyGuardReleasedOnPanic(t *testing.T) {
	var g ReentrancyGuard
	func() {
		defer func() { _ = recover() }()
		release, err := g.Enter()
		if err != nil {
			t.Fatalf("enter: %v", err)
		}
		defer release()
		panic("boom")
	}()
	if g.Active() {
		t.Fatalf("guard must be released when the guarded call panics")
	}
}
