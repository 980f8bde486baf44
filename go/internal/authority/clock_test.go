package authority

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/pulsefit/groupsync/go/internal/events"
	"github.com/pulsefit/groupsync/go/internal/models"
	"github.com/pulsefit/groupsync/go/internal/realtime"
	"github.com/pulsefit/groupsync/go/internal/session"
)

type capturePublisher struct {
	mu   sync.Mutex
	envs []realtime.Envelope
}

func (p *capturePublisher) Publish(_ context.Context, env realtime.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *capturePublisher) all() []realtime.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]realtime.Envelope, len(p.envs))
	copy(out, p.envs)
	return out
}

func (p *capturePublisher) last() realtime.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.envs) == 0 {
		return realtime.Envelope{}
	}
	return p.envs[len(p.envs)-1]
}

func authorityWorkout() models.WorkoutData {
	return models.WorkoutData{
		Format:            "interval",
		Exercises:         []models.ExerciseRef{{ExerciseID: "ex1", Name: "Burpees"}},
		EstimatedCalories: float64(session.TotalDurationSeconds(1)),
	}
}

func TestStartSessionAnnouncesOnLobbyChannel(t *testing.T) {
	pub := &capturePublisher{}
	c := NewClock(pub, clockwork.NewFakeClock())

	if err := c.StartSession(context.Background(), "s1", authorityWorkout()); err != nil {
		t.Fatalf("start session: %v", err)
	}

	env := pub.last()
	if env.Type != string(events.TypeWorkoutStarted) {
		t.Fatalf("announce type = %s, want WorkoutStarted", env.Type)
	}
	if env.Channel != realtime.LobbyChannel("s1") {
		t.Fatalf("announce channel = %s, want lobby channel", env.Channel)
	}
	if !c.Live("s1") {
		t.Fatal("session not live after start")
	}
}

func TestStartSessionRejectsEmptyAndDuplicate(t *testing.T) {
	pub := &capturePublisher{}
	c := NewClock(pub, clockwork.NewFakeClock())

	if err := c.StartSession(context.Background(), "s1", models.WorkoutData{}); !errors.Is(err, session.ErrNoExercises) {
		t.Fatalf("empty workout: got %v, want ErrNoExercises", err)
	}
	if err := c.StartSession(context.Background(), "s1", authorityWorkout()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := c.StartSession(context.Background(), "s1", authorityWorkout()); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("duplicate start: got %v, want ErrSessionExists", err)
	}
}

func TestTickPublishesAuthoritativeState(t *testing.T) {
	pub := &capturePublisher{}
	c := NewClock(pub, clockwork.NewFakeClock())
	if err := c.StartSession(context.Background(), "s1", authorityWorkout()); err != nil {
		t.Fatalf("start session: %v", err)
	}

	c.tickAll(context.Background())

	env := pub.last()
	if env.Type != string(events.TypeSessionTick) {
		t.Fatalf("tick type = %s, want SessionTick", env.Type)
	}
	if env.Channel != realtime.SessionChannel("s1") {
		t.Fatalf("tick channel = %s, want session channel", env.Channel)
	}

	var state events.SessionState
	if err := json.Unmarshal(env.Data, &state); err != nil {
		t.Fatalf("decode tick: %v", err)
	}
	if state.TimeRemaining != session.PrepareSeconds-1 || state.Phase != models.PhasePrepare {
		t.Fatalf("tick state = %+v", state)
	}
	if state.CaloriesBurned <= 0 {
		t.Fatal("tick did not accrue calories")
	}
}

func TestPausedSessionDoesNotTick(t *testing.T) {
	pub := &capturePublisher{}
	c := NewClock(pub, clockwork.NewFakeClock())
	ctx := context.Background()
	if err := c.StartSession(ctx, "s1", authorityWorkout()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	c.tickAll(ctx)

	if err := c.Pause(ctx, "s1", "Alex"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused := pub.last()
	if paused.Type != string(events.TypeWorkoutPaused) {
		t.Fatalf("pause broadcast type = %s", paused.Type)
	}
	var pp events.WorkoutPausedPayload
	if err := json.Unmarshal(paused.Data, &pp); err != nil {
		t.Fatalf("decode pause: %v", err)
	}
	if pp.PausedByName != "Alex" || pp.SessionState.Status != models.SessionStatusPaused {
		t.Fatalf("pause payload wrong: %+v", pp)
	}

	before := len(pub.all())
	c.tickAll(ctx)
	if len(pub.all()) != before {
		t.Fatal("paused session still ticking")
	}

	if err := c.Resume(ctx, "s1", "Alex"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	c.tickAll(ctx)
	if pub.last().Type != string(events.TypeSessionTick) {
		t.Fatal("resumed session did not tick")
	}
}

func TestSessionCompletesAfterFullCountdown(t *testing.T) {
	pub := &capturePublisher{}
	c := NewClock(pub, clockwork.NewFakeClock())
	ctx := context.Background()
	if err := c.StartSession(ctx, "s1", authorityWorkout()); err != nil {
		t.Fatalf("start session: %v", err)
	}

	total := session.TotalDurationSeconds(1)
	for i := 0; i < total; i++ {
		c.tickAll(ctx)
	}

	if c.Live("s1") {
		t.Fatal("session still live after full countdown")
	}
	if pub.last().Type != string(events.TypeWorkoutCompleted) {
		t.Fatalf("final broadcast = %s, want WorkoutCompleted", pub.last().Type)
	}
}

func TestStopAndFinishRemoveSession(t *testing.T) {
	pub := &capturePublisher{}
	c := NewClock(pub, clockwork.NewFakeClock())
	ctx := context.Background()

	if err := c.Pause(ctx, "missing", "Alex"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("pause missing: got %v, want ErrSessionNotFound", err)
	}

	if err := c.StartSession(ctx, "s1", authorityWorkout()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := c.Stop(ctx, "s1", "Alex"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.Live("s1") {
		t.Fatal("session live after stop")
	}
	if pub.last().Type != string(events.TypeWorkoutStopped) {
		t.Fatalf("stop broadcast = %s", pub.last().Type)
	}

	if err := c.StartSession(ctx, "s2", authorityWorkout()); err != nil {
		t.Fatalf("start second session: %v", err)
	}
	if err := c.Finish(ctx, "s2", "Alex"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if c.Live("s2") {
		t.Fatal("session live after finish")
	}
	if pub.last().Type != string(events.TypeWorkoutCompleted) {
		t.Fatalf("finish broadcast = %s", pub.last().Type)
	}
}
