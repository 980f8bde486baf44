// Package authority is the server-side session clock. It owns the
// single authoritative countdown for every group session: one ticker
// decrements all live sessions at 1 Hz and publishes a SessionTick per
// session per second. Devices never count down group sessions
// themselves; they render what this process publishes.
package authority

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/groupsync/go/internal/events"
	"github.com/pulsefit/groupsync/go/internal/models"
	"github.com/pulsefit/groupsync/go/internal/realtime"
	"github.com/pulsefit/groupsync/go/internal/session"
)

var (
	// ErrSessionNotFound means no live session exists for the ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists means a session with this ID is already ticking.
	ErrSessionExists = errors.New("session already started")
)

// EventPublisher is what the clock needs from the realtime stream.
type EventPublisher interface {
	Publish(ctx context.Context, env realtime.Envelope) error
}

// liveSession is one ticking group session.
type liveSession struct {
	workout   models.WorkoutData
	state     models.WorkoutPhaseState
	calPerSec float64
}

// Clock drives every live group session in this process.
type Clock struct {
	publisher  EventPublisher
	clock      clockwork.Clock
	instanceID string

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// NewClock creates a session clock.
func NewClock(publisher EventPublisher, clk clockwork.Clock) *Clock {
	return &Clock{
		publisher:  publisher,
		clock:      clk,
		instanceID: uuid.New().String()[:8],
		sessions:   make(map[string]*liveSession),
	}
}

// StartSession begins the authoritative countdown for a session and
// announces WorkoutStarted on its lobby channel. The first tick lands
// one second later with the prepare phase already counting.
func (c *Clock) StartSession(ctx context.Context, sessionID string, workout models.WorkoutData) error {
	if workout.Empty() {
		return session.ErrNoExercises
	}

	c.mu.Lock()
	if _, exists := c.sessions[sessionID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	total := session.TotalDurationSeconds(len(workout.Exercises))
	c.sessions[sessionID] = &liveSession{
		workout:   workout.Clone(),
		state:     session.InitialState(models.SessionStatusRunning),
		calPerSec: workout.EstimatedCalories / (float64(total) / 60) / 60,
	}
	c.mu.Unlock()

	env, err := realtime.NewEnvelope(realtime.LobbyChannel(sessionID), string(events.TypeWorkoutStarted), events.WorkoutStartedPayload{})
	if err != nil {
		return err
	}
	if err := c.publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("announce workout start: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("instance", c.instanceID).
		Int("exercises", len(workout.Exercises)).
		Int("total_seconds", total).
		Msg("session clock started")
	return nil
}

// Pause pauses a running session and broadcasts the control snapshot.
func (c *Clock) Pause(ctx context.Context, sessionID, byName string) error {
	snap, err := c.setStatus(sessionID, models.SessionStatusRunning, models.SessionStatusPaused)
	if err != nil {
		return err
	}
	return c.publishControl(ctx, sessionID, events.TypeWorkoutPaused, events.WorkoutPausedPayload{
		PausedByName: byName,
		SessionState: snap,
	})
}

// Resume resumes a paused session and broadcasts the control snapshot.
func (c *Clock) Resume(ctx context.Context, sessionID, byName string) error {
	snap, err := c.setStatus(sessionID, models.SessionStatusPaused, models.SessionStatusRunning)
	if err != nil {
		return err
	}
	return c.publishControl(ctx, sessionID, events.TypeWorkoutResumed, events.WorkoutResumedPayload{
		ResumedByName: byName,
		SessionState:  snap,
	})
}

// Stop ends a session without completing it and removes it from the
// clock.
func (c *Clock) Stop(ctx context.Context, sessionID, byName string) error {
	c.mu.Lock()
	_, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	log.Info().Str("session_id", sessionID).Str("stopped_by", byName).Msg("session stopped")
	return c.publishControl(ctx, sessionID, events.TypeWorkoutStopped, events.WorkoutStoppedPayload{
		StoppedByName: byName,
	})
}

// Finish completes a session early on an operator override.
func (c *Clock) Finish(ctx context.Context, sessionID, byName string) error {
	c.mu.Lock()
	_, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	log.Info().Str("session_id", sessionID).Str("finished_by", byName).Msg("session finished early")
	return c.publishControl(ctx, sessionID, events.TypeWorkoutCompleted, events.WorkoutCompletedPayload{
		InitiatorName: byName,
	})
}

// MemberLeft announces that a member dropped out mid-session. Counters
// are unaffected.
func (c *Clock) MemberLeft(ctx context.Context, sessionID, memberName string) error {
	return c.publishControl(ctx, sessionID, events.TypeMemberLeftSession, events.MemberLeftSessionPayload{
		MemberName: memberName,
	})
}

// Run ticks every live session at 1 Hz until the context ends.
func (c *Clock) Run(ctx context.Context) error {
	log.Info().Str("instance", c.instanceID).Msg("session clock running")

	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("instance", c.instanceID).Msg("session clock shutting down")
			return nil
		case <-ticker.Chan():
			c.tickAll(ctx)
		}
	}
}

// tickAll advances every running session by one second and publishes
// the resulting state.
func (c *Clock) tickAll(ctx context.Context) {
	type publishItem struct {
		sessionID string
		eventType events.Type
		payload   any
	}
	var out []publishItem

	c.mu.Lock()
	for sessionID, ls := range c.sessions {
		if ls.state.Status != models.SessionStatusRunning {
			continue
		}

		ls.state.TimeRemainingSec--
		ls.state.CaloriesBurned += ls.calPerSec
		if ls.state.TimeRemainingSec <= 0 {
			ls.state = session.Advance(ls.state, len(ls.workout.Exercises))
		}

		if ls.state.Terminal() {
			delete(c.sessions, sessionID)
			out = append(out, publishItem{sessionID, events.TypeWorkoutCompleted, events.WorkoutCompletedPayload{}})
			continue
		}
		out = append(out, publishItem{sessionID, events.TypeSessionTick, events.SessionTickPayload{
			TimeRemaining:   ls.state.TimeRemainingSec,
			Phase:           ls.state.Phase,
			CurrentExercise: ls.state.CurrentExercise,
			CurrentSet:      ls.state.CurrentSet,
			CurrentRound:    ls.state.CurrentRound,
			CaloriesBurned:  ls.state.CaloriesBurned,
			Status:          ls.state.Status,
		}})
	}
	c.mu.Unlock()

	for _, item := range out {
		if err := c.publishControl(ctx, item.sessionID, item.eventType, item.payload); err != nil {
			log.Error().Err(err).Str("session_id", item.sessionID).Msg("failed to publish session tick")
		}
	}
}

// setStatus transitions one session's status under the lock and
// returns the snapshot to broadcast.
func (c *Clock) setStatus(sessionID string, from, to models.SessionStatus) (events.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ls, ok := c.sessions[sessionID]
	if !ok {
		return events.SessionState{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if ls.state.Status != from {
		return events.SessionState{}, fmt.Errorf("session %s is %s, not %s", sessionID, ls.state.Status, from)
	}
	ls.state.Status = to

	return events.SessionState{
		TimeRemaining:   ls.state.TimeRemainingSec,
		Phase:           ls.state.Phase,
		CurrentExercise: ls.state.CurrentExercise,
		CurrentSet:      ls.state.CurrentSet,
		CurrentRound:    ls.state.CurrentRound,
		CaloriesBurned:  ls.state.CaloriesBurned,
		Status:          ls.state.Status,
	}, nil
}

func (c *Clock) publishControl(ctx context.Context, sessionID string, eventType events.Type, payload any) error {
	env, err := realtime.NewEnvelope(realtime.SessionChannel(sessionID), string(eventType), payload)
	if err != nil {
		return err
	}
	return c.publisher.Publish(ctx, env)
}

// Live reports whether a session is currently ticking.
func (c *Clock) Live(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[sessionID]
	return ok
}

// State returns a copy of one live session's counters, for control
// endpoints that report progress.
func (c *Clock) State(sessionID string) (models.WorkoutPhaseState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls, ok := c.sessions[sessionID]
	if !ok {
		return models.WorkoutPhaseState{}, false
	}
	return ls.state, true
}
