package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches the facility operator can toggle per
// module. Engines consult it at the top of every mutating operation.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or
// empty module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
