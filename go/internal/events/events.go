// Package events holds the event catalog shared between the lobby
// coordinator, the session engine, the authority and the gateway, kept
// separate to avoid cyclic imports.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/pulsefit/groupsync/go/internal/realtime"
)

// Type is the type of a lobby or session event
type Type string

// Lobby channel events
const (
	TypeLobbyStateChanged        Type = "LobbyStateChanged"
	TypeMemberJoined             Type = "MemberJoined"
	TypeMemberLeft               Type = "MemberLeft"
	TypeMemberStatusUpdated      Type = "MemberStatusUpdated"
	TypeLobbyMessageSent         Type = "LobbyMessageSent"
	TypeMemberKicked             Type = "MemberKicked"
	TypeInitiatorRoleTransferred Type = "InitiatorRoleTransferred"
	TypeLobbyDeleted             Type = "LobbyDeleted"
	TypeWorkoutStarted           Type = "WorkoutStarted"
)

// Session channel events
const (
	TypeSessionTick       Type = "SessionTick"
	TypeWorkoutPaused     Type = "WorkoutPaused"
	TypeWorkoutResumed    Type = "WorkoutResumed"
	TypeWorkoutStopped    Type = "WorkoutStopped"
	TypeWorkoutCompleted  Type = "WorkoutCompleted"
	TypeMemberLeftSession Type = "MemberLeftSession"
)

// ParsePayload parses an envelope's data into the payload struct for its
// event type. Unknown event types return (nil, nil) so callers can skip
// them without failing the stream.
func ParsePayload(env realtime.Envelope) (any, error) {
	switch Type(env.Type) {
	case TypeLobbyStateChanged:
		return unmarshal[LobbyStateChangedPayload](env)
	case TypeMemberJoined:
		return unmarshal[MemberJoinedPayload](env)
	case TypeMemberLeft:
		return unmarshal[MemberLeftPayload](env)
	case TypeMemberStatusUpdated:
		return unmarshal[MemberStatusUpdatedPayload](env)
	case TypeLobbyMessageSent:
		return unmarshal[LobbyMessageSentPayload](env)
	case TypeMemberKicked:
		return unmarshal[MemberKickedPayload](env)
	case TypeInitiatorRoleTransferred:
		return unmarshal[InitiatorRoleTransferredPayload](env)
	case TypeLobbyDeleted:
		return unmarshal[LobbyDeletedPayload](env)
	case TypeWorkoutStarted:
		return unmarshal[WorkoutStartedPayload](env)
	case TypeSessionTick:
		return unmarshal[SessionTickPayload](env)
	case TypeWorkoutPaused:
		return unmarshal[WorkoutPausedPayload](env)
	case TypeWorkoutResumed:
		return unmarshal[WorkoutResumedPayload](env)
	case TypeWorkoutStopped:
		return unmarshal[WorkoutStoppedPayload](env)
	case TypeWorkoutCompleted:
		return unmarshal[WorkoutCompletedPayload](env)
	case TypeMemberLeftSession:
		return unmarshal[MemberLeftSessionPayload](env)
	default:
		return nil, nil
	}
}

func unmarshal[T any](env realtime.Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return payload, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return payload, nil
}
