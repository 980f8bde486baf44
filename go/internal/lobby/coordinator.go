// Package lobby owns the lifecycle of one lobby session on one device:
// creation, joining, leaving, kicking, inviting, readiness, role
// transfer and the handoff into a group session. Local user intents
// become outbound requests; authoritative state is committed only when
// the corresponding broadcast arrives.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/groupsync/go/internal/events"
	"github.com/pulsefit/groupsync/go/internal/models"
	"github.com/pulsefit/groupsync/go/internal/presence"
	"github.com/pulsefit/groupsync/go/internal/realtime"
	"github.com/pulsefit/groupsync/go/internal/recovery"
	"github.com/pulsefit/groupsync/go/internal/session"
)

// minMembers is the smallest lobby a group workout can be generated and
// started for.
const minMembers = 2

// Config wires a coordinator's collaborators.
type Config struct {
	API       API
	Transport realtime.Transport
	Generator WorkoutGenerator
	Pointers  recovery.PointerStore
	UserID    string
	UserName  string
}

// Coordinator drives one lobby for one local user.
type Coordinator struct {
	api       API
	transport realtime.Transport
	generator WorkoutGenerator
	pointers  recovery.PointerStore
	store     *Store
	presence  *presence.Tracker
	selfID    string
	selfName  string

	lifecycle *recovery.Guard
	genFlight recovery.Flight

	mu           sync.Mutex
	lobbySub     realtime.Subscription
	lobbyPresSub realtime.Subscription
	sessionSub   realtime.Subscription
	groupPresSub realtime.Subscription
	engine       *session.Engine
}

// NewCoordinator creates a coordinator for the given user.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		api:       cfg.API,
		transport: cfg.Transport,
		generator: cfg.Generator,
		pointers:  cfg.Pointers,
		store:     NewStore(cfg.UserID),
		presence:  presence.NewTracker(),
		selfID:    cfg.UserID,
		selfName:  cfg.UserName,
		lifecycle: recovery.NewGuard(),
	}
}

// Store exposes the lobby state container for observers.
func (c *Coordinator) Store() *Store { return c.store }

// Presence exposes the per-channel online sets.
func (c *Coordinator) Presence() *presence.Tracker { return c.presence }

// Session returns the active session engine, if a workout has started.
func (c *Coordinator) Session() *session.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// Create asks the remote service for a new lobby in the given group. It
// fails if this device still holds an active-lobby pointer; that lobby
// must be cleaned up first.
func (c *Coordinator) Create(ctx context.Context, groupID, workoutTemplate string) (models.LobbySession, error) {
	if _, held, err := c.pointers.Load(ctx, c.selfID); err != nil {
		return models.LobbySession{}, &CreationError{GroupID: groupID, Err: err}
	} else if held {
		return models.LobbySession{}, &CreationError{GroupID: groupID, Err: ErrAlreadyInLobby}
	}

	lob, err := c.api.CreateLobby(ctx, groupID, workoutTemplate)
	if err != nil {
		return models.LobbySession{}, &CreationError{GroupID: groupID, Err: err}
	}

	if err := c.attach(ctx, *lob); err != nil {
		return models.LobbySession{}, &CreationError{GroupID: groupID, Err: err}
	}

	log.Info().Str("session_id", lob.SessionID).Str("group_id", groupID).Msg("lobby created")
	return lob.Clone(), nil
}

// Join joins an existing lobby. Joining a lobby this device already
// entered through an invitation-accept path is an idempotent success.
func (c *Coordinator) Join(ctx context.Context, sessionID string) (models.LobbySession, error) {
	if snap, ok := c.store.Snapshot(); ok && snap.SessionID == sessionID {
		return snap, nil
	}

	lob, err := c.api.JoinLobby(ctx, sessionID)
	if err != nil {
		return models.LobbySession{}, &JoinError{SessionID: sessionID, Err: err}
	}

	if err := c.attach(ctx, *lob); err != nil {
		return models.LobbySession{}, &JoinError{SessionID: sessionID, Err: err}
	}

	log.Info().Str("session_id", sessionID).Msg("lobby joined")
	return lob.Clone(), nil
}

// attach persists the active-lobby pointer and opens the lobby
// channels. The pointer is written before any subscription so that a
// crash between join and subscribe is still recoverable.
func (c *Coordinator) attach(ctx context.Context, lob models.LobbySession) error {
	if err := c.lifecycle.BeginInit(); err != nil {
		return err
	}

	if err := c.pointers.Save(ctx, models.ActiveLobbyPointer{
		SessionID: lob.SessionID,
		GroupID:   lob.GroupID,
		UserID:    c.selfID,
		SavedAt:   time.Now().UTC(),
	}); err != nil {
		c.lifecycle.Reset()
		return fmt.Errorf("save active lobby pointer: %w", err)
	}

	channel := realtime.LobbyChannel(lob.SessionID)
	lobbySub, err := c.transport.Subscribe(ctx, channel, func(env realtime.Envelope) {
		c.HandleEnvelope(context.Background(), env)
	})
	if err != nil {
		c.lifecycle.Reset()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	presSub, err := c.transport.SubscribePresence(ctx, channel, c.presence.Apply)
	if err != nil {
		lobbySub.Unsubscribe()
		c.lifecycle.Reset()
		return fmt.Errorf("subscribe %s presence: %w", channel, err)
	}

	c.mu.Lock()
	c.lobbySub = lobbySub
	c.lobbyPresSub = presSub
	c.mu.Unlock()

	c.store.Replace(lob)

	if err := c.lifecycle.FinishInit(); err != nil {
		return err
	}
	return nil
}

// WatchGroup opens the group presence channel, used for
// invite-eligibility while browsing the parent group.
func (c *Coordinator) WatchGroup(ctx context.Context, groupID string) error {
	sub, err := c.transport.SubscribePresence(ctx, realtime.GroupChannel(groupID), c.presence.Apply)
	if err != nil {
		return fmt.Errorf("subscribe group presence: %w", err)
	}
	c.mu.Lock()
	c.groupPresSub = sub
	c.mu.Unlock()
	return nil
}

// Leave leaves the current lobby. Local state is always cleared, even
// when the remote call fails: a stuck remote membership must never
// block the UI. Remote failure is logged, not surfaced.
func (c *Coordinator) Leave(ctx context.Context) error {
	snap, ok := c.store.Snapshot()
	if ok {
		if err := c.api.LeaveLobby(ctx, snap.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", snap.SessionID).Msg("remote leave failed; clearing local state anyway")
		}
	}
	return c.Cleanup(ctx)
}

// ToggleReadiness sets the local member's readiness optimistically and
// confirms it with the remote service. The next MemberStatusUpdated
// broadcast wins regardless.
func (c *Coordinator) ToggleReadiness(ctx context.Context, status models.MemberStatus) error {
	snap, ok := c.store.Snapshot()
	if !ok {
		return ErrNoActiveLobby
	}
	prev := models.MemberStatusWaiting
	if self, found := snap.MemberByID(c.selfID); found {
		prev = self.Status
	}

	c.store.SetOptimisticReadiness(status)
	if err := c.api.UpdateReadiness(ctx, snap.SessionID, status); err != nil {
		c.store.SetOptimisticReadiness(prev)
		return fmt.Errorf("update readiness: %w", err)
	}
	return nil
}

// SendMessage publishes a chat line on the lobby channel.
func (c *Coordinator) SendMessage(ctx context.Context, text string) error {
	snap, ok := c.store.Snapshot()
	if !ok {
		return ErrNoActiveLobby
	}
	env, err := realtime.NewEnvelope(realtime.LobbyChannel(snap.SessionID), string(events.TypeLobbyMessageSent), events.LobbyMessageSentPayload{
		MessageID: uuid.New().String(),
		UserID:    c.selfID,
		UserName:  c.selfName,
		Message:   text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return c.transport.Publish(ctx, env.Channel, env)
}

// Invite fans out one invitation per invitee with all-settled
// semantics: partial failure never rolls back successes, and every
// outcome is retained and reported individually.
func (c *Coordinator) Invite(ctx context.Context, userIDs []string) (InviteReport, error) {
	snap, ok := c.store.Snapshot()
	if !ok {
		return InviteReport{}, ErrNoActiveLobby
	}

	var report InviteReport
	for _, userID := range userIDs {
		if err := c.api.InviteMember(ctx, snap.SessionID, userID); err != nil {
			report.Failed = append(report.Failed, InviteFailure{UserID: userID, Err: err})
			continue
		}
		report.Invited = append(report.Invited, userID)
	}

	if len(report.Failed) > 0 {
		log.Warn().
			Int("invited", len(report.Invited)).
			Int("failed", len(report.Failed)).
			Str("session_id", snap.SessionID).
			Msg("invite fan-out partially failed")
	}
	return report, nil
}

// Kick removes a member. Only the current initiator may kick; the
// precondition is rejected locally before any network round-trip.
func (c *Coordinator) Kick(ctx context.Context, userID string) error {
	if !c.store.IsInitiator() {
		return ErrNotInitiator
	}
	snap, _ := c.store.Snapshot()
	if err := c.api.KickMember(ctx, snap.SessionID, userID); err != nil {
		return fmt.Errorf("kick member: %w", err)
	}
	return nil
}

// TransferRole hands the initiator role to another member. Initiator
// only, rejected locally otherwise.
func (c *Coordinator) TransferRole(ctx context.Context, userID string) error {
	if !c.store.IsInitiator() {
		return ErrNotInitiator
	}
	snap, _ := c.store.Snapshot()
	if err := c.api.TransferInitiator(ctx, snap.SessionID, userID); err != nil {
		return fmt.Errorf("transfer initiator role: %w", err)
	}
	return nil
}

// Start requests the group workout start. The local phase transition
// happens only on receipt of the WorkoutStarted broadcast.
func (c *Coordinator) Start(ctx context.Context) error {
	snap, ok := c.store.Snapshot()
	if !ok {
		return ErrNoActiveLobby
	}
	if !c.store.IsInitiator() {
		return ErrNotInitiator
	}
	if len(snap.Members) < minMembers {
		return ErrNotEnoughMembers
	}
	if !snap.AllReady() {
		return ErrNotAllReady
	}
	if snap.Workout.Empty() {
		return ErrWorkoutNotReady
	}
	if err := c.api.StartWorkout(ctx, snap.SessionID); err != nil {
		return fmt.Errorf("start workout: %w", err)
	}
	return nil
}

// Recover runs the launch-time crash recovery: a persisted pointer
// means a previous process died inside a lobby, so rejoin it or clean
// up.
func (c *Coordinator) Recover(ctx context.Context) error {
	ptr, held, err := c.pointers.Load(ctx, c.selfID)
	if err != nil {
		return fmt.Errorf("load active lobby pointer: %w", err)
	}
	if !held {
		return nil
	}

	log.Info().Str("session_id", ptr.SessionID).Msg("active lobby pointer found, attempting rejoin")
	if _, err := c.Join(ctx, ptr.SessionID); err != nil {
		log.Info().Err(err).Str("session_id", ptr.SessionID).Msg("rejoin failed, cleaning up stale lobby state")
		return c.Cleanup(ctx)
	}
	return nil
}

// HandleEnvelope applies one inbound lobby-channel event, in receipt
// order, then runs the follow-up actions the event calls for.
func (c *Coordinator) HandleEnvelope(ctx context.Context, env realtime.Envelope) error {
	payload, err := events.ParsePayload(env)
	if err != nil {
		log.Error().Err(err).Str("type", env.Type).Msg("failed to parse lobby event")
		return err
	}
	if payload == nil {
		log.Debug().Str("type", env.Type).Msg("ignoring unknown lobby event")
		return nil
	}

	c.store.Apply(payload)

	switch p := payload.(type) {
	case events.MemberKickedPayload:
		if p.KickedUserID == c.selfID {
			return c.Cleanup(ctx)
		}
		c.reconcileGeneration(ctx)

	case events.LobbyDeletedPayload:
		return c.Cleanup(ctx)

	case events.WorkoutStartedPayload:
		return c.startGroupSession(ctx)

	case events.LobbyStateChangedPayload, events.MemberJoinedPayload,
		events.MemberLeftPayload, events.MemberStatusUpdatedPayload,
		events.InitiatorRoleTransferredPayload:
		c.reconcileGeneration(ctx)
	}
	return nil
}

// reconcileGeneration enforces the workout-generation rules after any
// membership or readiness change. Generation triggers if and only if
// the lobby has enough members, everyone is ready, this device holds
// the initiator role and no workout exists yet. A lobby that shrank
// below the minimum discards its generated workout so a stale one can
// never start; eligibility then re-arms.
func (c *Coordinator) reconcileGeneration(ctx context.Context) {
	snap, ok := c.store.Snapshot()
	if !ok || !c.store.IsInitiator() || snap.Status != models.LobbyStatusForming {
		return
	}

	if len(snap.Members) < minMembers {
		if !snap.Workout.Empty() {
			log.Info().Str("session_id", snap.SessionID).Msg("member count dropped, discarding generated workout")
			if err := c.api.UpdateWorkoutData(ctx, snap.SessionID, models.WorkoutData{}); err != nil {
				log.Error().Err(err).Str("session_id", snap.SessionID).Msg("failed to discard stale workout")
			}
		}
		return
	}

	if !snap.AllReady() || !snap.Workout.Empty() {
		return
	}

	if !c.genFlight.TryBegin() {
		return
	}
	defer c.genFlight.Finish()

	workout, err := c.generator.Generate(ctx, snap.GroupID, snap.MemberIDs())
	if err != nil {
		log.Error().Err(err).Str("session_id", snap.SessionID).Msg("workout generation failed")
		return
	}

	// Eligibility may have changed while generating; a stale workout
	// must never be uploaded.
	if fresh, stillOK := c.store.Snapshot(); !stillOK || len(fresh.Members) < minMembers || !fresh.AllReady() {
		log.Info().Str("session_id", snap.SessionID).Msg("lobby changed during generation, dropping result")
		return
	}

	if err := c.api.UpdateWorkoutData(ctx, snap.SessionID, workout); err != nil {
		log.Error().Err(err).Str("session_id", snap.SessionID).Msg("failed to publish generated workout")
		return
	}
	log.Info().Str("session_id", snap.SessionID).Int("exercises", len(workout.Exercises)).Msg("workout generated")
}

// startGroupSession is the WorkoutStarted handoff. It reads the
// freshest lobby snapshot at this moment, never a value captured when
// the lobby was entered: the initiator may have changed since.
func (c *Coordinator) startGroupSession(ctx context.Context) error {
	snap, ok := c.store.Snapshot()
	if !ok {
		return ErrNoActiveLobby
	}
	if snap.Workout.Empty() {
		c.store.notify(models.Notice{Kind: models.NoticeSessionError, Text: "The workout could not be started"})
		log.Error().Str("session_id", snap.SessionID).Msg("workout started with no exercises, refusing session handoff")
		return session.ErrNoExercises
	}

	engine, err := session.NewGroupEngine(snap.SessionID, snap.Workout, c.api, c.store.IsInitiator)
	if err != nil {
		return err
	}

	channel := realtime.SessionChannel(snap.SessionID)
	sub, err := c.transport.Subscribe(ctx, channel, func(env realtime.Envelope) {
		if err := engine.HandleEnvelope(env); err != nil {
			log.Error().Err(err).Str("type", env.Type).Msg("failed to apply session event")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	c.mu.Lock()
	c.sessionSub = sub
	c.engine = engine
	c.mu.Unlock()

	log.Info().Str("session_id", snap.SessionID).Int("exercises", len(snap.Workout.Exercises)).Msg("group session started")
	return nil
}

// CloseSession discards the session engine when the session screen
// exits, regardless of completion outcome. Outcome persistence belongs
// to an external tracking collaborator.
func (c *Coordinator) CloseSession() {
	c.mu.Lock()
	sub := c.sessionSub
	c.sessionSub = nil
	c.engine = nil
	c.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("session unsubscribe failed")
		}
	}
}

// Cleanup is the single idempotent teardown routine. Leave, kick,
// lobby deletion and host-initiated stop all funnel here; invoking it
// twice produces the same end state as invoking it once.
func (c *Coordinator) Cleanup(ctx context.Context) error {
	if !c.lifecycle.BeginCleanup() {
		return nil
	}

	c.mu.Lock()
	subs := []realtime.Subscription{c.lobbySub, c.lobbyPresSub, c.sessionSub, c.groupPresSub}
	c.lobbySub, c.lobbyPresSub, c.sessionSub, c.groupPresSub = nil, nil, nil, nil
	c.engine = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if sub == nil {
			continue
		}
		channel := sub.Channel()
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("unsubscribe failed during cleanup")
		}
		c.presence.Forget(channel)
	}

	c.store.Reset()

	if err := c.pointers.Clear(ctx, c.selfID); err != nil {
		log.Error().Err(err).Msg("failed to clear active lobby pointer")
	}

	if err := c.lifecycle.FinishCleanup(); err != nil && !errors.Is(err, recovery.ErrIllegalTransition) {
		return err
	}
	c.lifecycle.Reset()

	log.Info().Str("user_id", c.selfID).Msg("lobby state cleaned up")
	return nil
}
