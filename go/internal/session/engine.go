// Package session owns the interval-workout state machine. An engine
// runs in one of two authority modes fixed at construction:
// local-authoritative (solo, the engine owns the clock) or
// server-authoritative (group, a remote process owns the clock and the
// engine only reconciles inbound events). The "no local countdown in
// group mode" invariant is structural: only the local clock can tick,
// and a group engine is never given one.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/groupsync/go/internal/events"
	"github.com/pulsefit/groupsync/go/internal/models"
	"github.com/pulsefit/groupsync/go/internal/realtime"
)

// driftSnapThresholdSec is the drift-compensation policy constant: snap
// to the authoritative time only when local and authoritative values
// diverge by more than this many seconds. Applied identically to pause
// and resume.
const driftSnapThresholdSec = 2

// tickInterval is the solo countdown period.
const tickInterval = time.Second

var (
	// ErrNoExercises means a session handoff arrived with no usable
	// exercise list. This is fatal for the session: the state machine is
	// never entered.
	ErrNoExercises = errors.New("workout has no exercises")

	// ErrNotInitiator means a group control operation was attempted by a
	// member who does not currently hold the initiator role.
	ErrNotInitiator = errors.New("only the initiator may control the group session")

	// ErrAlreadyRunning means Run was called while a previous run loop
	// still owns the clock.
	ErrAlreadyRunning = errors.New("session clock already running")
)

// Controls are the remote session operations a group engine forwards to
// the authority. They produce no local state change; the corresponding
// broadcast does.
type Controls interface {
	PauseWorkout(ctx context.Context, sessionID string) error
	ResumeWorkout(ctx context.Context, sessionID string) error
	StopWorkout(ctx context.Context, sessionID string) error
	FinishWorkout(ctx context.Context, sessionID string) error
}

// Engine is one interval session on one device.
type Engine struct {
	sessionID string
	workout   models.WorkoutData

	// Solo mode only. A group engine has no clock at all.
	clock     clockwork.Clock
	calPerSec float64

	// Group mode only.
	controls    Controls
	isInitiator func() bool

	mu      sync.Mutex
	state   models.WorkoutPhaseState
	running bool
}

// NewSoloEngine builds a local-authoritative engine: a 1 Hz clock owned
// by the engine decrements the countdown and accrues calories at a flat
// per-second rate derived from the workout estimate.
func NewSoloEngine(workout models.WorkoutData, clock clockwork.Clock) (*Engine, error) {
	if workout.Empty() {
		return nil, ErrNoExercises
	}
	total := TotalDurationSeconds(len(workout.Exercises))
	return &Engine{
		workout:   workout.Clone(),
		clock:     clock,
		calPerSec: workout.EstimatedCalories / (float64(total) / 60) / 60,
		state:     InitialState(models.SessionStatusReady),
	}, nil
}

// NewGroupEngine builds a server-authoritative engine. It performs no
// local countdown: state is written only from inbound session events.
// The isInitiator func must read the freshest lobby snapshot at call
// time, never a value captured earlier.
func NewGroupEngine(sessionID string, workout models.WorkoutData, controls Controls, isInitiator func() bool) (*Engine, error) {
	if workout.Empty() {
		return nil, ErrNoExercises
	}
	return &Engine{
		sessionID:   sessionID,
		workout:     workout.Clone(),
		controls:    controls,
		isInitiator: isInitiator,
		state:       InitialState(models.SessionStatusRunning),
	}, nil
}

// State returns a copy of the current phase state.
func (e *Engine) State() models.WorkoutPhaseState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Workout returns the workout this session was started with.
func (e *Engine) Workout() models.WorkoutData {
	return e.workout.Clone()
}

// Run drives a solo session to completion. It owns the only timer in
// the engine and cancels it before returning. Calling Run on a group
// engine is an error.
func (e *Engine) Run(ctx context.Context) error {
	if e.clock == nil {
		return fmt.Errorf("run called on server-authoritative engine")
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	if e.state.Status == models.SessionStatusReady {
		e.state.Status = models.SessionStatusRunning
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	ticker := e.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if done := e.tick(); done {
				return nil
			}
		}
	}
}

// tick advances the solo countdown by one second. Reachable only from
// Run, which only a local-authoritative engine can enter.
func (e *Engine) tick() (done bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status != models.SessionStatusRunning {
		return e.state.Terminal()
	}

	e.state.TimeRemainingSec--
	e.state.CaloriesBurned += e.calPerSec
	if e.state.TimeRemainingSec > 0 {
		return false
	}
	e.state = Advance(e.state, len(e.workout.Exercises))
	return e.state.Terminal()
}

// Pause pauses the session. Solo: immediate local transition. Group:
// fail-closed permission check, then a request to the authority; local
// state changes only when the WorkoutPaused broadcast arrives.
func (e *Engine) Pause(ctx context.Context) error {
	if e.controls == nil {
		return e.setStatusLocal(models.SessionStatusRunning, models.SessionStatusPaused)
	}
	if !e.isInitiator() {
		return ErrNotInitiator
	}
	return e.controls.PauseWorkout(ctx, e.sessionID)
}

// Resume resumes a paused session, with the same authority split as
// Pause.
func (e *Engine) Resume(ctx context.Context) error {
	if e.controls == nil {
		return e.setStatusLocal(models.SessionStatusPaused, models.SessionStatusRunning)
	}
	if !e.isInitiator() {
		return ErrNotInitiator
	}
	return e.controls.ResumeWorkout(ctx, e.sessionID)
}

// Stop ends the session without completing it.
func (e *Engine) Stop(ctx context.Context) error {
	if e.controls == nil {
		e.mu.Lock()
		e.state.Phase = models.PhaseComplete
		e.state.Status = models.SessionStatusCompleted
		e.state.TimeRemainingSec = 0
		e.mu.Unlock()
		return nil
	}
	if !e.isInitiator() {
		return ErrNotInitiator
	}
	return e.controls.StopWorkout(ctx, e.sessionID)
}

// Finish completes the session early (operator override). Solo:
// immediate jump to the terminal phase. Group: request to the
// authority.
func (e *Engine) Finish(ctx context.Context) error {
	if e.controls == nil {
		e.mu.Lock()
		e.state.Phase = models.PhaseComplete
		e.state.Status = models.SessionStatusCompleted
		e.state.TimeRemainingSec = 0
		e.mu.Unlock()
		return nil
	}
	if !e.isInitiator() {
		return ErrNotInitiator
	}
	return e.controls.FinishWorkout(ctx, e.sessionID)
}

func (e *Engine) setStatusLocal(from, to models.SessionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != from {
		return fmt.Errorf("session is %s, not %s", e.state.Status, from)
	}
	e.state.Status = to
	return nil
}

// HandleEnvelope applies one inbound session-channel event. Events are
// applied one at a time in receipt order. A solo engine has no session
// channel; events reaching it are ignored.
func (e *Engine) HandleEnvelope(env realtime.Envelope) error {
	if e.controls == nil {
		return nil
	}

	payload, err := events.ParsePayload(env)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Terminal() {
		// Complete is terminal; late events cannot reopen the session.
		return nil
	}

	switch p := payload.(type) {
	case events.SessionTickPayload:
		e.applyAuthoritative(p)

	case events.WorkoutPausedPayload:
		e.applyControlSnapshot(p.SessionState, models.SessionStatusPaused)
		log.Debug().Str("paused_by", p.PausedByName).Str("session_id", e.sessionID).Msg("session paused")

	case events.WorkoutResumedPayload:
		e.applyControlSnapshot(p.SessionState, models.SessionStatusRunning)
		log.Debug().Str("resumed_by", p.ResumedByName).Str("session_id", e.sessionID).Msg("session resumed")

	case events.WorkoutStoppedPayload:
		e.state.Phase = models.PhaseComplete
		e.state.Status = models.SessionStatusCompleted
		e.state.TimeRemainingSec = 0
		log.Info().Str("stopped_by", p.StoppedByName).Str("session_id", e.sessionID).Msg("session stopped")

	case events.WorkoutCompletedPayload:
		e.state.Phase = models.PhaseComplete
		e.state.Status = models.SessionStatusCompleted
		e.state.TimeRemainingSec = 0

	case events.MemberLeftSessionPayload:
		// Membership notice only; counters are untouched.

	default:
		// Lobby-channel or unknown event; not ours to handle.
	}
	return nil
}

// applyAuthoritative replaces every counter with the authority's copy.
func (e *Engine) applyAuthoritative(p events.SessionState) {
	e.state.Phase = p.Phase
	e.state.Status = p.Status
	e.state.CurrentRound = p.CurrentRound
	e.state.CurrentSet = p.CurrentSet
	e.state.CurrentExercise = p.CurrentExercise
	e.state.TimeRemainingSec = p.TimeRemaining
	e.state.CaloriesBurned = p.CaloriesBurned
}

// applyControlSnapshot applies a pause/resume snapshot. The carried
// time_remaining is stale by network latency, so the countdown is
// drift-compensated rather than blindly adopted.
func (e *Engine) applyControlSnapshot(p events.SessionState, status models.SessionStatus) {
	e.state.Phase = p.Phase
	e.state.CurrentRound = p.CurrentRound
	e.state.CurrentSet = p.CurrentSet
	e.state.CurrentExercise = p.CurrentExercise
	e.state.CaloriesBurned = p.CaloriesBurned
	e.state.TimeRemainingSec = reconcile(e.state.TimeRemainingSec, p.TimeRemaining)
	e.state.Status = status
}

// reconcile returns the authoritative time only when drift exceeds the
// snap threshold; a smaller divergence keeps the local value to avoid a
// visible jump.
func reconcile(local, authoritative int) int {
	drift := local - authoritative
	if drift < 0 {
		drift = -drift
	}
	if drift > driftSnapThresholdSec {
		return authoritative
	}
	return local
}
