package lobbyapi

import (
	"context"
	"fmt"

	"github.com/pulsefit/groupsync/go/internal/models"
)

type createLobbyRequest struct {
	GroupID         string `json:"group_id"`
	WorkoutTemplate string `json:"workout_template,omitempty"`
}

type updateReadinessRequest struct {
	Status models.MemberStatus `json:"status"`
}

type updateWorkoutRequest struct {
	Workout models.WorkoutData `json:"workout_data"`
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

// CreateLobby creates a lobby in the given group and returns its full
// initial state.
func (c *Client) CreateLobby(ctx context.Context, groupID, workoutTemplate string) (*models.LobbySession, error) {
	var lob models.LobbySession
	err := c.post(ctx, "/v1/lobbies", createLobbyRequest{GroupID: groupID, WorkoutTemplate: workoutTemplate}, &lob)
	if err != nil {
		return nil, err
	}
	return &lob, nil
}

// GetLobby fetches the current state of a lobby.
func (c *Client) GetLobby(ctx context.Context, sessionID string) (*models.LobbySession, error) {
	var lob models.LobbySession
	if err := c.get(ctx, "/v1/lobbies/"+sessionID, &lob); err != nil {
		return nil, err
	}
	return &lob, nil
}

// JoinLobby joins an existing lobby and returns its full state.
func (c *Client) JoinLobby(ctx context.Context, sessionID string) (*models.LobbySession, error) {
	var lob models.LobbySession
	if err := c.post(ctx, fmt.Sprintf("/v1/lobbies/%s/members", sessionID), nil, &lob); err != nil {
		return nil, err
	}
	return &lob, nil
}

// LeaveLobby removes the acting user from the lobby.
func (c *Client) LeaveLobby(ctx context.Context, sessionID string) error {
	return c.delete(ctx, fmt.Sprintf("/v1/lobbies/%s/members/me", sessionID))
}

// UpdateReadiness sets the acting user's readiness flag.
func (c *Client) UpdateReadiness(ctx context.Context, sessionID string, status models.MemberStatus) error {
	return c.put(ctx, fmt.Sprintf("/v1/lobbies/%s/members/me/status", sessionID), updateReadinessRequest{Status: status})
}

// UpdateWorkoutData replaces the lobby's shared workout. An empty
// workout discards the current one.
func (c *Client) UpdateWorkoutData(ctx context.Context, sessionID string, workout models.WorkoutData) error {
	return c.put(ctx, fmt.Sprintf("/v1/lobbies/%s/workout", sessionID), updateWorkoutRequest{Workout: workout})
}

// InviteMember sends one lobby invitation.
func (c *Client) InviteMember(ctx context.Context, sessionID, userID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/lobbies/%s/invitations", sessionID), memberRequest{UserID: userID}, nil)
}

// KickMember removes another member from the lobby. Initiator only,
// enforced remotely as well as locally.
func (c *Client) KickMember(ctx context.Context, sessionID, userID string) error {
	return c.delete(ctx, fmt.Sprintf("/v1/lobbies/%s/members/%s", sessionID, userID))
}

// TransferInitiator hands the initiator role to another member.
func (c *Client) TransferInitiator(ctx context.Context, sessionID, userID string) error {
	return c.put(ctx, fmt.Sprintf("/v1/lobbies/%s/initiator", sessionID), memberRequest{UserID: userID})
}

// StartWorkout asks the service to start the group workout.
func (c *Client) StartWorkout(ctx context.Context, sessionID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/lobbies/%s/start", sessionID), nil, nil)
}

// PauseWorkout asks the session authority to pause the running session.
func (c *Client) PauseWorkout(ctx context.Context, sessionID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/sessions/%s/pause", sessionID), nil, nil)
}

// ResumeWorkout asks the session authority to resume a paused session.
func (c *Client) ResumeWorkout(ctx context.Context, sessionID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/sessions/%s/resume", sessionID), nil, nil)
}

// StopWorkout ends the session without completing it.
func (c *Client) StopWorkout(ctx context.Context, sessionID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/sessions/%s/stop", sessionID), nil, nil)
}

// FinishWorkout completes the session early.
func (c *Client) FinishWorkout(ctx context.Context, sessionID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/sessions/%s/finish", sessionID), nil, nil)
}
