// Package recovery owns the crash-recovery discipline: the durable
// active-lobby pointer and the re-entrancy guards that make every
// teardown path funnel into one idempotent cleanup routine.
package recovery

import (
	"fmt"
	"sync"
)

// GuardState is an explicit lifecycle state. Illegal re-entry is a
// rejected transition, not a boolean check.
type GuardState string

const (
	StateIdle         GuardState = "idle"
	StateInitializing GuardState = "initializing"
	StateReady        GuardState = "ready"
	StateCleaning     GuardState = "cleaning"
	StateDone         GuardState = "done"
)

// Guard is a small state machine guarding one init-once / cleanup-once
// lifecycle: idle -> initializing -> ready -> cleaning -> done, with
// Reset returning to idle for the next lobby.
type Guard struct {
	mu    sync.Mutex
	state GuardState
}

// NewGuard returns a guard in the idle state.
func NewGuard() *Guard {
	return &Guard{state: StateIdle}
}

// State returns the current guard state.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// BeginInit moves idle -> initializing. Any other source state is an
// illegal transition.
func (g *Guard) BeginInit() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateIdle {
		return fmt.Errorf("begin init from %s: %w", g.state, ErrIllegalTransition)
	}
	g.state = StateInitializing
	return nil
}

// FinishInit moves initializing -> ready.
func (g *Guard) FinishInit() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateInitializing {
		return fmt.Errorf("finish init from %s: %w", g.state, ErrIllegalTransition)
	}
	g.state = StateReady
	return nil
}

// BeginCleanup moves into cleaning from any pre-cleanup state and
// reports whether the caller won the transition. A second caller during
// or after cleanup gets false, which is what makes the cleanup routine
// idempotent.
func (g *Guard) BeginCleanup() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case StateCleaning, StateDone:
		return false
	default:
		g.state = StateCleaning
		return true
	}
}

// FinishCleanup moves cleaning -> done.
func (g *Guard) FinishCleanup() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateCleaning {
		return fmt.Errorf("finish cleanup from %s: %w", g.state, ErrIllegalTransition)
	}
	g.state = StateDone
	return nil
}

// Reset returns the guard to idle so a new lobby lifecycle can begin.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateIdle
}

// Flight guards one in-flight operation, such as a workout generation
// request: idle -> in-flight -> idle.
type Flight struct {
	mu       sync.Mutex
	inFlight bool
}

// TryBegin reports whether the caller acquired the in-flight slot.
func (f *Flight) TryBegin() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight {
		return false
	}
	f.inFlight = true
	return true
}

// Finish releases the in-flight slot.
func (f *Flight) Finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = false
}
