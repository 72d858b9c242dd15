package common

import (
	"errors"
	"sync"
)

var ErrModuleShutdown = errors.New("module shut down")

// ShutdownView exposes the global-settlement flag of a collaborator.
type ShutdownView interface {
	ShutdownFlag() bool
}

// ShutdownSwitch is implemented by every service the settlement coordinator
// freezes during initiation.
type ShutdownSwitch interface {
	ShutdownView
	SetShutdownFlag(bool) error
}

// Guard rejects normal-operation calls once the module has been shut down.
func Guard(v ShutdownView) error {
	if v == nil {
		return nil
	}
	if v.ShutdownFlag() {
		return ErrModuleShutdown
	}
	return nil
}

// Switch is a standalone shutdown flag for services whose only contract with
// settlement is being frozen, such as the teller, treasury and liquidator.
type Switch struct {
	mu     sync.RWMutex
	module string
	flag   bool
}

func NewSwitch(module string) *Switch {
	return &Switch{module: module}
}

func (s *Switch) Module() string {
	if s == nil {
		return ""
	}
	return s.module
}

func (s *Switch) SetShutdownFlag(flag bool) error {
	s.mu.Lock()
	s.flag = flag
	s.mu.Unlock()
	return nil
}

func (s *Switch) ShutdownFlag() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flag
}
