package common

import (
	"errors"
	"sync"
)

var ErrReentrantCall = errors.New("reentrant call rejected")

// CallLock is the mutation lock held by every externally reachable mutating
// operation for its entire duration. Acquire fails instead of blocking so a
// re-entrant invocation surfaces as an error rather than a deadlock.
type CallLock struct {
	mu sync.Mutex
}

// Acquire takes the lock or reports ErrReentrantCall when it is already held.
func (l *CallLock) Acquire() error {
	if l == nil {
		return nil
	}
	if !l.mu.TryLock() {
		return ErrReentrantCall
	}
	return nil
}

// Release returns the lock. It must be called on every exit path, including
// failures.
func (l *CallLock) Release() {
	if l == nil {
		return
	}
	l.mu.Unlock()
}
