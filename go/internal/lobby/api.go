package lobby

import (
	"context"

	"github.com/pulsefit/groupsync/go/internal/models"
)

// API defines what the coordinator needs from the remote lobby service.
// Every call is fire-and-await-result: on success a corresponding
// broadcast will eventually arrive on the lobby or session channel, and
// only that broadcast commits authoritative local state.
type API interface {
	CreateLobby(ctx context.Context, groupID, workoutTemplate string) (*models.LobbySession, error)
	GetLobby(ctx context.Context, sessionID string) (*models.LobbySession, error)
	JoinLobby(ctx context.Context, sessionID string) (*models.LobbySession, error)
	LeaveLobby(ctx context.Context, sessionID string) error
	UpdateReadiness(ctx context.Context, sessionID string, status models.MemberStatus) error
	UpdateWorkoutData(ctx context.Context, sessionID string, workout models.WorkoutData) error
	InviteMember(ctx context.Context, sessionID, userID string) error
	KickMember(ctx context.Context, sessionID, userID string) error
	TransferInitiator(ctx context.Context, sessionID, userID string) error
	StartWorkout(ctx context.Context, sessionID string) error
	PauseWorkout(ctx context.Context, sessionID string) error
	ResumeWorkout(ctx context.Context, sessionID string) error
	StopWorkout(ctx context.Context, sessionID string) error
	FinishWorkout(ctx context.Context, sessionID string) error
}

// WorkoutGenerator is the "generate a workout for these user IDs"
// capability. Recommendation logic itself lives outside this core.
type WorkoutGenerator interface {
	Generate(ctx context.Context, groupID string, userIDs []string) (models.WorkoutData, error)
}
