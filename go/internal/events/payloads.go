package events

import (
	"time"

	"github.com/pulsefit/groupsync/go/internal/models"
)

// LobbyStateChangedPayload carries a full lobby snapshot that replaces
// local state wholesale.
type LobbyStateChangedPayload struct {
	LobbyState models.LobbySession `json:"lobby_state"`
}

// MemberJoinedPayload is the payload for a MemberJoined event
type MemberJoinedPayload struct {
	Member models.Member `json:"member"`
}

// MemberLeftPayload is the payload for a MemberLeft event
type MemberLeftPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// MemberStatusUpdatedPayload is the payload for a MemberStatusUpdated event
type MemberStatusUpdatedPayload struct {
	UserID string              `json:"user_id"`
	Status models.MemberStatus `json:"status"`
}

// LobbyMessageSentPayload is the payload for a LobbyMessageSent event
type LobbyMessageSentPayload struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MemberKickedPayload is the payload for a MemberKicked event
type MemberKickedPayload struct {
	KickedUserID   string `json:"kicked_user_id"`
	KickedUserName string `json:"kicked_user_name"`
	Reason         string `json:"reason"`
}

// InitiatorRoleTransferredPayload is the payload for an
// InitiatorRoleTransferred event
type InitiatorRoleTransferredPayload struct {
	NewInitiatorID   string              `json:"new_initiator_id"`
	NewInitiatorName string              `json:"new_initiator_name"`
	LobbyState       models.LobbySession `json:"lobby_state"`
}

// LobbyDeletedPayload is the payload for a LobbyDeleted event
type LobbyDeletedPayload struct {
	Reason string `json:"reason"`
}

// WorkoutStartedPayload is intentionally empty: the handoff reads the
// freshest local lobby snapshot rather than payload-carried workout data.
type WorkoutStartedPayload struct{}

// SessionState is the authoritative counter set broadcast by the session
// authority. SessionTick replaces all counters wholesale.
type SessionState struct {
	TimeRemaining   int                  `json:"time_remaining"`
	Phase           models.WorkoutPhase  `json:"phase"`
	CurrentExercise int                  `json:"current_exercise"`
	CurrentSet      int                  `json:"current_set"`
	CurrentRound    int                  `json:"current_round"`
	CaloriesBurned  float64              `json:"calories_burned"`
	Status          models.SessionStatus `json:"status"`
}

// SessionTickPayload is the payload for a SessionTick event
type SessionTickPayload = SessionState

// WorkoutPausedPayload is the payload for a WorkoutPaused event. The
// carried session state is authoritative as of the pause but stale by
// network latency.
type WorkoutPausedPayload struct {
	PausedByName string       `json:"paused_by_name"`
	SessionState SessionState `json:"session_state"`
}

// WorkoutResumedPayload is the payload for a WorkoutResumed event
type WorkoutResumedPayload struct {
	ResumedByName string       `json:"resumed_by_name"`
	SessionState  SessionState `json:"session_state"`
}

// WorkoutStoppedPayload is the payload for a WorkoutStopped event
type WorkoutStoppedPayload struct {
	StoppedByName string `json:"stopped_by_name"`
}

// WorkoutCompletedPayload is the payload for a WorkoutCompleted event
type WorkoutCompletedPayload struct {
	InitiatorName string `json:"initiatorName"`
}

// MemberLeftSessionPayload is the payload for a MemberLeftSession event
type MemberLeftSessionPayload struct {
	MemberName string `json:"member_name"`
}
