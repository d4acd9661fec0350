package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the global pause switches. Modules consult it before
// executing any state-creating operation.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails closed when the named module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
