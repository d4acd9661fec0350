package common

import (
	"errors"
	"testing"
)

func TestCallLockRejectsReentry(t *testing.T) {
	var lock CallLock
	if err := lock.Acquire(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := lock.Acquire(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall while held, got %v", err)
	}
	lock.Release()
	if err := lock.Acquire(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	lock.Release()
}

func TestCallLockNilIsNoop(t *testing.T) {
	var lock *CallLock
	if err := lock.Acquire(); err != nil {
		t.Fatalf("nil acquire: %v", err)
	}
	lock.Release()
}

func TestGuardPauseSwitch(t *testing.T) {
	if err := Guard(nil, "payments"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	if err := Guard(pauseAll{}, "payments"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }
