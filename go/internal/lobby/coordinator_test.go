package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pulsefit/groupsync/go/internal/events"
	"github.com/pulsefit/groupsync/go/internal/models"
	"github.com/pulsefit/groupsync/go/internal/realtime"
	"github.com/pulsefit/groupsync/go/internal/realtime/membus"
	"github.com/pulsefit/groupsync/go/internal/recovery"
	"github.com/pulsefit/groupsync/go/internal/session"
)

// fakeService is an in-process lobby service. It owns authoritative
// lobby state and broadcasts the same events the real service would,
// synchronously, over a membus.
type fakeService struct {
	t    *testing.T
	bus  *membus.Bus
	conn *membus.Conn

	mu    sync.Mutex
	lobby *models.LobbySession
	names map[string]string

	joinCalls          int
	inviteCalls        int
	kickCalls          int
	startCalls         int
	pauseCalls         int
	updateWorkoutCalls int

	inviteErr map[string]error
}

func newFakeService(t *testing.T, bus *membus.Bus) *fakeService {
	return &fakeService{
		t:         t,
		bus:       bus,
		conn:      bus.Client("service"),
		names:     make(map[string]string),
		inviteErr: make(map[string]error),
	}
}

// clientFor returns an API facade acting as the given user.
func (s *fakeService) clientFor(userID, userName string) *fakeClient {
	s.mu.Lock()
	s.names[userID] = userName
	s.mu.Unlock()
	return &fakeClient{svc: s, userID: userID, userName: userName}
}

func (s *fakeService) publish(channel string, eventType events.Type, payload any) {
	env, err := realtime.NewEnvelope(channel, string(eventType), payload)
	if err != nil {
		s.t.Fatalf("build %s envelope: %v", eventType, err)
	}
	if err := s.conn.Publish(context.Background(), channel, env); err != nil {
		s.t.Fatalf("publish %s: %v", eventType, err)
	}
}

func (s *fakeService) lobbyChannel() string {
	return realtime.LobbyChannel(s.lobby.SessionID)
}

func (s *fakeService) snapshot() models.LobbySession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lobby.Clone()
}

type fakeClient struct {
	svc      *fakeService
	userID   string
	userName string
}

var _ API = (*fakeClient)(nil)

func (c *fakeClient) CreateLobby(_ context.Context, groupID, _ string) (*models.LobbySession, error) {
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lobby != nil {
		return nil, fmt.Errorf("service already has a lobby")
	}
	s.lobby = &models.LobbySession{
		SessionID:   "s1",
		GroupID:     groupID,
		InitiatorID: c.userID,
		Status:      models.LobbyStatusForming,
		Members: []models.Member{
			{UserID: c.userID, UserName: c.userName, Status: models.MemberStatusWaiting},
		},
	}
	clone := s.lobby.Clone()
	return &clone, nil
}

func (c *fakeClient) GetLobby(_ context.Context, sessionID string) (*models.LobbySession, error) {
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lobby == nil || s.lobby.SessionID != sessionID {
		return nil, ErrLobbyNotFound
	}
	clone := s.lobby.Clone()
	return &clone, nil
}

func (c *fakeClient) JoinLobby(_ context.Context, sessionID string) (*models.LobbySession, error) {
	s := c.svc
	s.mu.Lock()
	s.joinCalls++
	if s.lobby == nil || s.lobby.SessionID != sessionID {
		s.mu.Unlock()
		return nil, ErrLobbyNotFound
	}
	member := models.Member{UserID: c.userID, UserName: c.userName, Status: models.MemberStatusWaiting}
	_, already := s.lobby.MemberByID(c.userID)
	if !already {
		s.lobby.Members = append(s.lobby.Members, member)
	}
	clone := s.lobby.Clone()
	channel := s.lobbyChannel()
	s.mu.Unlock()

	if !already {
		s.publish(channel, events.TypeMemberJoined, events.MemberJoinedPayload{Member: member})
	}
	return &clone, nil
}

func (c *fakeClient) LeaveLobby(_ context.Context, sessionID string) error {
	s := c.svc
	s.mu.Lock()
	if s.lobby == nil || s.lobby.SessionID != sessionID {
		s.mu.Unlock()
		return ErrLobbyNotFound
	}
	for i := range s.lobby.Members {
		if s.lobby.Members[i].UserID == c.userID {
			s.lobby.Members = append(s.lobby.Members[:i], s.lobby.Members[i+1:]...)
			break
		}
	}
	channel := s.lobbyChannel()
	promoted := ""
	if s.lobby.InitiatorID == c.userID && len(s.lobby.Members) > 0 {
		s.lobby.InitiatorID = s.lobby.Members[0].UserID
		promoted = s.lobby.InitiatorID
	}
	clone := s.lobby.Clone()
	s.mu.Unlock()

	s.publish(channel, events.TypeMemberLeft, events.MemberLeftPayload{UserID: c.userID, UserName: c.userName})
	if promoted != "" {
		s.publish(channel, events.TypeInitiatorRoleTransferred, events.InitiatorRoleTransferredPayload{
			NewInitiatorID:   promoted,
			NewInitiatorName: s.names[promoted],
			LobbyState:       clone,
		})
	}
	return nil
}

func (c *fakeClient) UpdateReadiness(_ context.Context, sessionID string, status models.MemberStatus) error {
	s := c.svc
	s.mu.Lock()
	for i := range s.lobby.Members {
		if s.lobby.Members[i].UserID == c.userID {
			s.lobby.Members[i].Status = status
		}
	}
	channel := s.lobbyChannel()
	s.mu.Unlock()

	s.publish(channel, events.TypeMemberStatusUpdated, events.MemberStatusUpdatedPayload{UserID: c.userID, Status: status})
	return nil
}

func (c *fakeClient) UpdateWorkoutData(_ context.Context, sessionID string, workout models.WorkoutData) error {
	s := c.svc
	s.mu.Lock()
	s.updateWorkoutCalls++
	s.lobby.Workout = workout.Clone()
	clone := s.lobby.Clone()
	channel := s.lobbyChannel()
	s.mu.Unlock()

	s.publish(channel, events.TypeLobbyStateChanged, events.LobbyStateChangedPayload{LobbyState: clone})
	return nil
}

func (c *fakeClient) InviteMember(_ context.Context, sessionID, userID string) error {
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inviteCalls++
	if err, ok := s.inviteErr[userID]; ok {
		return err
	}
	return nil
}

func (c *fakeClient) KickMember(_ context.Context, sessionID, userID string) error {
	s := c.svc
	s.mu.Lock()
	s.kickCalls++
	var kicked models.Member
	for i := range s.lobby.Members {
		if s.lobby.Members[i].UserID == userID {
			kicked = s.lobby.Members[i]
			s.lobby.Members = append(s.lobby.Members[:i], s.lobby.Members[i+1:]...)
			break
		}
	}
	channel := s.lobbyChannel()
	s.mu.Unlock()

	s.publish(channel, events.TypeMemberKicked, events.MemberKickedPayload{
		KickedUserID:   kicked.UserID,
		KickedUserName: kicked.UserName,
		Reason:         "removed by initiator",
	})
	return nil
}

func (c *fakeClient) TransferInitiator(_ context.Context, sessionID, userID string) error {
	s := c.svc
	s.mu.Lock()
	s.lobby.InitiatorID = userID
	clone := s.lobby.Clone()
	channel := s.lobbyChannel()
	name := s.names[userID]
	s.mu.Unlock()

	s.publish(channel, events.TypeInitiatorRoleTransferred, events.InitiatorRoleTransferredPayload{
		NewInitiatorID:   userID,
		NewInitiatorName: name,
		LobbyState:       clone,
	})
	return nil
}

func (c *fakeClient) StartWorkout(_ context.Context, sessionID string) error {
	s := c.svc
	s.mu.Lock()
	s.startCalls++
	s.lobby.Status = models.LobbyStatusActive
	channel := s.lobbyChannel()
	s.mu.Unlock()

	s.publish(channel, events.TypeWorkoutStarted, events.WorkoutStartedPayload{})
	return nil
}

func (c *fakeClient) PauseWorkout(_ context.Context, sessionID string) error {
	s := c.svc
	s.mu.Lock()
	s.pauseCalls++
	s.mu.Unlock()
	return nil
}

func (c *fakeClient) ResumeWorkout(context.Context, string) error { return nil }
func (c *fakeClient) StopWorkout(context.Context, string) error   { return nil }
func (c *fakeClient) FinishWorkout(context.Context, string) error { return nil }

// fakeGenerator returns a fixed one-exercise workout and counts calls.
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, userIDs []string) (models.WorkoutData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return models.WorkoutData{
		Format:            "interval",
		Exercises:         []models.ExerciseRef{{ExerciseID: "ex1", Name: "Burpees"}},
		EstimatedCalories: 240,
	}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type testMember struct {
	coord    *Coordinator
	gen      *fakeGenerator
	pointers *recovery.MemoryPointerStore
}

func newTestMember(svc *fakeService, bus *membus.Bus, userID, userName string) *testMember {
	gen := &fakeGenerator{}
	pointers := recovery.NewMemoryPointerStore()
	coord := NewCoordinator(Config{
		API:       svc.clientFor(userID, userName),
		Transport: bus.Client(userID),
		Generator: gen,
		Pointers:  pointers,
		UserID:    userID,
		UserName:  userName,
	})
	return &testMember{coord: coord, gen: gen, pointers: pointers}
}

// formLobby creates a two-member lobby with u1 as initiator.
func formLobby(t *testing.T, svc *fakeService, bus *membus.Bus) (*testMember, *testMember) {
	t.Helper()
	ctx := context.Background()

	u1 := newTestMember(svc, bus, "u1", "Alex")
	u2 := newTestMember(svc, bus, "u2", "Sam")

	if _, err := u1.coord.Create(ctx, "g1", ""); err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	if _, err := u2.coord.Join(ctx, "s1"); err != nil {
		t.Fatalf("join lobby: %v", err)
	}
	return u1, u2
}

func readyUp(t *testing.T, members ...*testMember) {
	t.Helper()
	for _, m := range members {
		if err := m.coord.ToggleReadiness(context.Background(), models.MemberStatusReady); err != nil {
			t.Fatalf("toggle readiness: %v", err)
		}
	}
}

func TestCreateSavesPointerBeforeEvents(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1 := newTestMember(svc, bus, "u1", "Alex")

	snap, err := u1.coord.Create(context.Background(), "g1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if snap.SessionID != "s1" || snap.InitiatorID != "u1" {
		t.Fatalf("create snapshot wrong: %+v", snap)
	}

	ptr, held, err := u1.pointers.Load(context.Background(), "u1")
	if err != nil || !held {
		t.Fatalf("pointer not saved: held=%v err=%v", held, err)
	}
	if ptr.SessionID != "s1" || ptr.GroupID != "g1" {
		t.Fatalf("pointer fields wrong: %+v", ptr)
	}
}

func TestCreateRejectedWhileAnotherLobbyActive(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1 := newTestMember(svc, bus, "u1", "Alex")

	if _, err := u1.coord.Create(context.Background(), "g1", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := u1.coord.Create(context.Background(), "g2", "")
	if !errors.Is(err, ErrAlreadyInLobby) {
		t.Fatalf("second create: got %v, want ErrAlreadyInLobby", err)
	}
	var ce *CreationError
	if !errors.As(err, &ce) || ce.GroupID != "g2" {
		t.Fatalf("error should carry the group: %v", err)
	}
}

func TestJoinIsIdempotentForCurrentLobby(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, u2 := formLobby(t, svc, bus)
	_ = u1

	joinsBefore := svc.joinCalls
	if _, err := u2.coord.Join(context.Background(), "s1"); err != nil {
		t.Fatalf("repeat join: %v", err)
	}
	if svc.joinCalls != joinsBefore {
		t.Fatal("repeat join hit the service")
	}
}

func TestGenerationTriggersExactlyOnceWhenAllReady(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, u2 := formLobby(t, svc, bus)

	readyUp(t, u2)
	if u1.gen.callCount() != 0 {
		t.Fatal("generation ran before everyone was ready")
	}

	readyUp(t, u1)
	if u1.gen.callCount() != 1 {
		t.Fatalf("initiator generation calls = %d, want 1", u1.gen.callCount())
	}
	if u2.gen.callCount() != 0 {
		t.Fatal("non-initiator ran generation")
	}
	if svc.updateWorkoutCalls != 1 {
		t.Fatalf("workout uploads = %d, want 1", svc.updateWorkoutCalls)
	}

	// Both members see the generated workout via the broadcast.
	for _, m := range []*testMember{u1, u2} {
		snap, _ := m.coord.Store().Snapshot()
		if snap.Workout.Empty() {
			t.Fatalf("workout not visible on %s", m.coord.selfID)
		}
	}

	// A later readiness broadcast must not re-trigger generation.
	readyUp(t, u2)
	if u1.gen.callCount() != 1 {
		t.Fatal("generation re-triggered with a workout already present")
	}
}

func TestWorkoutDiscardedAndRearmedOnMemberDrop(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, u2 := formLobby(t, svc, bus)
	readyUp(t, u2, u1)

	if u1.gen.callCount() != 1 {
		t.Fatalf("setup generation calls = %d, want 1", u1.gen.callCount())
	}

	// Dropping below two members discards the generated workout.
	if err := u2.coord.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	snap, _ := u1.coord.Store().Snapshot()
	if !snap.Workout.Empty() {
		t.Fatal("stale workout survived the member drop")
	}

	// A new member joining and readying re-arms generation.
	u3 := newTestMember(svc, bus, "u3", "Kim")
	if _, err := u3.coord.Join(context.Background(), "s1"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	readyUp(t, u3)

	if u1.gen.callCount() != 2 {
		t.Fatalf("generation calls after re-arm = %d, want 2", u1.gen.callCount())
	}
	snap, _ = u1.coord.Store().Snapshot()
	if snap.Workout.Empty() {
		t.Fatal("workout not regenerated after re-arm")
	}
}

func TestStartPreconditions(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	ctx := context.Background()

	u1 := newTestMember(svc, bus, "u1", "Alex")
	if _, err := u1.coord.Create(ctx, "g1", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := u1.coord.Start(ctx); !errors.Is(err, ErrNotEnoughMembers) {
		t.Fatalf("solo start: got %v, want ErrNotEnoughMembers", err)
	}

	u2 := newTestMember(svc, bus, "u2", "Sam")
	if _, err := u2.coord.Join(ctx, "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := u2.coord.Start(ctx); !errors.Is(err, ErrNotInitiator) {
		t.Fatalf("non-initiator start: got %v, want ErrNotInitiator", err)
	}
	if err := u1.coord.Start(ctx); !errors.Is(err, ErrNotAllReady) {
		t.Fatalf("unready start: got %v, want ErrNotAllReady", err)
	}

	if svc.startCalls != 0 {
		t.Fatalf("precondition failures reached the service %d times", svc.startCalls)
	}

	readyUp(t, u2, u1)
	if err := u1.coord.Start(ctx); err != nil {
		t.Fatalf("valid start: %v", err)
	}
	if svc.startCalls != 1 {
		t.Fatalf("start calls = %d, want 1", svc.startCalls)
	}
}

func TestKickRequiresInitiatorLocally(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	_, u2 := formLobby(t, svc, bus)

	if err := u2.coord.Kick(context.Background(), "u1"); !errors.Is(err, ErrNotInitiator) {
		t.Fatalf("non-initiator kick: got %v, want ErrNotInitiator", err)
	}
	if svc.kickCalls != 0 {
		t.Fatal("rejected kick reached the service")
	}
}

func TestKickedMemberCleansUpAndIsNotified(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, u2 := formLobby(t, svc, bus)

	if err := u1.coord.Kick(context.Background(), "u2"); err != nil {
		t.Fatalf("kick: %v", err)
	}

	if _, ok := u2.coord.Store().Snapshot(); ok {
		t.Fatal("kicked member still holds lobby state")
	}
	if _, held, _ := u2.pointers.Load(context.Background(), "u2"); held {
		t.Fatal("kicked member still holds active-lobby pointer")
	}
	select {
	case n := <-u2.coord.Store().Notices():
		if n.Kind != models.NoticeKicked {
			t.Fatalf("notice kind = %s, want kicked", n.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("kicked member got no notice")
	}

	// The remaining member just sees the roster shrink.
	snap, ok := u1.coord.Store().Snapshot()
	if !ok || len(snap.Members) != 1 {
		t.Fatalf("initiator roster wrong after kick: %+v", snap)
	}
}

func TestLobbyDeletedCleansUp(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, u2 := formLobby(t, svc, bus)
	_ = u1

	svc.publish(realtime.LobbyChannel("s1"), events.TypeLobbyDeleted, events.LobbyDeletedPayload{Reason: "initiator left"})

	if _, ok := u2.coord.Store().Snapshot(); ok {
		t.Fatal("lobby state survived deletion")
	}
	if _, held, _ := u2.pointers.Load(context.Background(), "u2"); held {
		t.Fatal("pointer survived deletion")
	}
	select {
	case n := <-u2.coord.Store().Notices():
		if n.Kind != models.NoticeLobbyDeleted {
			t.Fatalf("notice kind = %s, want lobby_deleted", n.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no deletion notice")
	}
}

func TestLobbyDeletedMidSessionDiscardsEngine(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, u2 := formLobby(t, svc, bus)
	readyUp(t, u1, u2)

	if err := u1.coord.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if u2.coord.Session() == nil {
		t.Fatal("no session engine after start")
	}

	svc.publish(realtime.LobbyChannel("s1"), events.TypeLobbyDeleted, events.LobbyDeletedPayload{Reason: "initiator left"})

	// Teardown clears the session along with the lobby; a surviving
	// engine would look live to the UI but never receive another event.
	if u2.coord.Session() != nil {
		t.Fatal("session engine survived lobby deletion")
	}
	if _, ok := u2.coord.Store().Snapshot(); ok {
		t.Fatal("lobby state survived deletion")
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, _ := formLobby(t, svc, bus)

	ctx := context.Background()
	if err := u1.coord.Leave(ctx); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := u1.coord.Cleanup(ctx); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}

	if _, ok := u1.coord.Store().Snapshot(); ok {
		t.Fatal("lobby state survived cleanup")
	}
	if _, held, _ := u1.pointers.Load(ctx, "u1"); held {
		t.Fatal("pointer survived cleanup")
	}

	// A fresh lifecycle must be possible after cleanup.
	svc2 := newFakeService(t, bus)
	u1.coord.api = svc2.clientFor("u1", "Alex")
	if _, err := u1.coord.Create(ctx, "g2", ""); err != nil {
		t.Fatalf("create after cleanup: %v", err)
	}
}

func TestInviteFanOutIsAllSettled(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, _ := formLobby(t, svc, bus)
	svc.inviteErr["busy"] = ErrAlreadyInLobby

	report, err := u1.coord.Invite(context.Background(), []string{"a", "busy", "b"})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if svc.inviteCalls != 3 {
		t.Fatalf("invite calls = %d, want 3: failures must not stop the fan-out", svc.inviteCalls)
	}
	if len(report.Invited) != 2 || len(report.Failed) != 1 {
		t.Fatalf("report wrong: %+v", report)
	}
	if !report.Failed[0].AlreadyInLobby() {
		t.Fatalf("failure should classify as already-in-lobby: %v", report.Failed[0].Err)
	}
	if report.AllFailed() {
		t.Fatal("partial failure misreported as total")
	}
}

func TestWorkoutStartedHandoffUsesFreshestInitiator(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, u2 := formLobby(t, svc, bus)
	readyUp(t, u2, u1)

	// Role moves after the lobby formed; the handoff must see it.
	if err := u1.coord.TransferRole(context.Background(), "u2"); err != nil {
		t.Fatalf("transfer role: %v", err)
	}
	if err := u2.coord.Start(context.Background()); err != nil {
		t.Fatalf("start as new initiator: %v", err)
	}

	for _, m := range []*testMember{u1, u2} {
		engine := m.coord.Session()
		if engine == nil {
			t.Fatalf("%s has no session engine after start", m.coord.selfID)
		}
		st := engine.State()
		if st.Phase != models.PhasePrepare || st.Status != models.SessionStatusRunning {
			t.Fatalf("%s session state = %s/%s, want prepare/running", m.coord.selfID, st.Phase, st.Status)
		}
	}

	// Controls follow the current role, not the lobby creator.
	ctx := context.Background()
	if err := u1.coord.Session().Pause(ctx); !errors.Is(err, session.ErrNotInitiator) {
		t.Fatalf("old initiator pause: got %v, want ErrNotInitiator", err)
	}
	if err := u2.coord.Session().Pause(ctx); err != nil {
		t.Fatalf("new initiator pause: %v", err)
	}
	if svc.pauseCalls != 1 {
		t.Fatalf("pause calls = %d, want 1", svc.pauseCalls)
	}
}

func TestWorkoutStartedWithoutExercisesIsFatal(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, u2 := formLobby(t, svc, bus)
	_ = u1

	// A start broadcast with no generated workout must not enter the
	// session state machine.
	svc.publish(realtime.LobbyChannel("s1"), events.TypeWorkoutStarted, events.WorkoutStartedPayload{})

	if u2.coord.Session() != nil {
		t.Fatal("session engine created with no exercises")
	}
	select {
	case n := <-u2.coord.Store().Notices():
		if n.Kind != models.NoticeSessionError {
			t.Fatalf("notice kind = %s, want session_error", n.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no session error notice")
	}
}

func TestRecoverRejoinsFromPointer(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, _ := formLobby(t, svc, bus)
	_ = u1

	// Simulate a crashed process: same pointer store, fresh coordinator.
	crashed := &testMember{
		gen:      &fakeGenerator{},
		pointers: recovery.NewMemoryPointerStore(),
	}
	crashed.pointers.Save(context.Background(), models.ActiveLobbyPointer{
		SessionID: "s1", GroupID: "g1", UserID: "u2", SavedAt: time.Now(),
	})
	crashed.coord = NewCoordinator(Config{
		API:       svc.clientFor("u2", "Sam"),
		Transport: bus.Client("u2"),
		Generator: crashed.gen,
		Pointers:  crashed.pointers,
		UserID:    "u2",
		UserName:  "Sam",
	})

	if err := crashed.coord.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	snap, ok := crashed.coord.Store().Snapshot()
	if !ok || snap.SessionID != "s1" {
		t.Fatalf("recover did not rejoin: %+v", snap)
	}
}

func TestRecoverCleansUpWhenLobbyGone(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u2 := newTestMember(svc, bus, "u2", "Sam")

	u2.pointers.Save(context.Background(), models.ActiveLobbyPointer{
		SessionID: "gone", GroupID: "g1", UserID: "u2", SavedAt: time.Now(),
	})

	if err := u2.coord.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if _, held, _ := u2.pointers.Load(context.Background(), "u2"); held {
		t.Fatal("stale pointer survived failed recovery")
	}
	if _, ok := u2.coord.Store().Snapshot(); ok {
		t.Fatal("phantom lobby state after failed recovery")
	}
}

func TestInitiatorLeavePromotesRemainingMember(t *testing.T) {
	bus := membus.NewBus()
	svc := newFakeService(t, bus)
	u1, u2 := formLobby(t, svc, bus)

	if err := u1.coord.Leave(context.Background()); err != nil {
		t.Fatalf("initiator leave: %v", err)
	}

	if !u2.coord.Store().IsInitiator() {
		t.Fatal("remaining member was not promoted")
	}
	snap, _ := u2.coord.Store().Snapshot()
	if snap.InitiatorID != "u2" || len(snap.Members) != 1 {
		t.Fatalf("promotion state wrong: %+v", snap)
	}
}
