package lobby

import (
	"errors"
	"fmt"
)

// Sentinel errors for local preconditions and well-known remote
// rejections. Precondition failures are rejected locally and never sent
// over the network.
var (
	ErrLobbyNotFound    = errors.New("lobby no longer exists")
	ErrAlreadyMember    = errors.New("already a member of this lobby")
	ErrAlreadyInLobby   = errors.New("already in another active lobby")
	ErrNotInitiator     = errors.New("only the initiator may perform this action")
	ErrNotEnoughMembers = errors.New("lobby needs at least two members")
	ErrNotAllReady      = errors.New("not every member is ready")
	ErrWorkoutNotReady  = errors.New("no workout has been generated yet")
	ErrNoActiveLobby    = errors.New("no active lobby")
)

// CreationError wraps a failed lobby creation.
type CreationError struct {
	GroupID string
	Err     error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("create lobby for group %s: %v", e.GroupID, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// JoinError wraps a failed lobby join.
type JoinError struct {
	SessionID string
	Err       error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join lobby %s: %v", e.SessionID, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

// InviteFailure is one failed invitation in a fan-out.
type InviteFailure struct {
	UserID string
	Err    error
}

// AlreadyInLobby reports whether the invitee was rejected because they
// already sit in another lobby, as opposed to a generic failure.
func (f InviteFailure) AlreadyInLobby() bool {
	return errors.Is(f.Err, ErrAlreadyInLobby)
}

// InviteReport collects the all-settled outcome of an invitation
// fan-out. Successes are never rolled back by later failures; the
// report is aggregated once and surfaced once.
type InviteReport struct {
	Invited []string
	Failed  []InviteFailure
}

// AllFailed reports whether not a single invitation went out.
func (r InviteReport) AllFailed() bool {
	return len(r.Invited) == 0 && len(r.Failed) > 0
}
