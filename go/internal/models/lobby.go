package models

import "time"

// LobbyStatus represents the lifecycle status of a lobby session
type LobbyStatus string

const (
	LobbyStatusForming   LobbyStatus = "forming"
	LobbyStatusActive    LobbyStatus = "active"
	LobbyStatusDissolved LobbyStatus = "dissolved"
)

// MemberStatus represents a member's readiness state inside a lobby
type MemberStatus string

const (
	MemberStatusWaiting MemberStatus = "waiting"
	MemberStatusReady   MemberStatus = "ready"
)

// Member is one participant in a lobby session. The online flag is a
// faster-changing signal owned by the presence tracker and is not part of
// this entity.
type Member struct {
	UserID       string       `json:"user_id"`
	UserName     string       `json:"user_name"`
	Status       MemberStatus `json:"status"`
	FitnessLevel string       `json:"fitness_level"`
}

// LobbySession is the shared state of one lobby. Members are ordered by
// join time. Exactly one member holds InitiatorID at any time.
type LobbySession struct {
	SessionID   string      `json:"session_id"`
	GroupID     string      `json:"group_id"`
	InitiatorID string      `json:"initiator_id"`
	Members     []Member    `json:"members"`
	Workout     WorkoutData `json:"workout_data"`
	Status      LobbyStatus `json:"status"`
}

// MemberByID returns the member with the given user ID, if present.
func (l *LobbySession) MemberByID(userID string) (Member, bool) {
	for _, m := range l.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// AllReady reports whether every member has marked themselves ready.
func (l *LobbySession) AllReady() bool {
	for _, m := range l.Members {
		if m.Status != MemberStatusReady {
			return false
		}
	}
	return len(l.Members) > 0
}

// MemberIDs returns the user IDs of all members in join order.
func (l *LobbySession) MemberIDs() []string {
	ids := make([]string, len(l.Members))
	for i, m := range l.Members {
		ids[i] = m.UserID
	}
	return ids
}

// Clone returns a deep copy of the session so callers can hand out
// snapshots without exposing internal slices.
func (l *LobbySession) Clone() LobbySession {
	out := *l
	out.Members = make([]Member, len(l.Members))
	copy(out.Members, l.Members)
	out.Workout = l.Workout.Clone()
	return out
}

// ChatMessage is one line in the lobby chat. System lines (join/leave
// notices) carry an empty UserID.
type ChatMessage struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	System    bool      `json:"system"`
}

// NoticeKind classifies user-facing notices emitted by the lobby core.
type NoticeKind string

const (
	NoticeKicked          NoticeKind = "kicked"
	NoticeLobbyDeleted    NoticeKind = "lobby_deleted"
	NoticeRoleTransferred NoticeKind = "role_transferred"
	NoticeSessionError    NoticeKind = "session_error"
)

// Notice is a user-facing event that the UI should surface once.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

// ActiveLobbyPointer is the durable local record used to detect and
// recover from an interrupted lobby session after a process restart.
type ActiveLobbyPointer struct {
	SessionID string    `json:"session_id"`
	GroupID   string    `json:"group_id"`
	UserID    string    `json:"user_id"`
	SavedAt   time.Time `json:"saved_at"`
}

// ValidateLobbyStatus validates a lobby status value
func ValidateLobbyStatus(status LobbyStatus) bool {
	switch status {
	case LobbyStatusForming, LobbyStatusActive, LobbyStatusDissolved:
		return true
	default:
		return false
	}
}

// ValidateMemberStatus validates a member readiness value
func ValidateMemberStatus(status MemberStatus) bool {
	switch status {
	case MemberStatusWaiting, MemberStatusReady:
		return true
	default:
		return false
	}
}
