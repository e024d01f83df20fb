package common

import (
	"errors"
	"sync"
)

var (
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall is returned when a guarded operation is entered while
	// another guarded operation of the same component is still executing.
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed module set.
type StaticPauses map[string]bool

func (s StaticPauses) IsPaused(module string) bool { return s[module] }

// ReentrancyGuard marks a component as busy for the duration of a guarded
// operation. Enter hands out a release func that must be deferred; a second
// Enter before release fails with ErrReentrantCall.
type ReentrancyGuard struct {
	mu     sync.Mutex
	active bool
}

// Enter acquires the guard. The returned release is idempotent.
func (g *ReentrancyGuard) Enter() (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return nil, ErrReentrantCall
	}
	g.active = true
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.active = false
			g.mu.Unlock()
		})
	}, nil
}

// Active reports whether a guarded operation is in progress.
func (g *ReentrancyGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
