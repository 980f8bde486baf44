package lobby

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/groupsync/go/internal/events"
	"github.com/pulsefit/groupsync/go/internal/models"
)

// noticeBuffer bounds the undelivered notice queue; the UI is expected
// to drain it promptly.
const noticeBuffer = 32

// Store is the explicit state container for one lobby. All reads get
// copy-on-read snapshots; authoritative fields are committed only
// through Apply, which has exactly one mutation path per event type.
// User intents may write only optimistic sub-fields (the member's own
// readiness flag), and the next authoritative broadcast always wins.
type Store struct {
	selfID string

	mu       sync.RWMutex
	lobby    *models.LobbySession
	messages []models.ChatMessage
	notices  chan models.Notice
}

// NewStore creates an empty store for the given local user.
func NewStore(selfID string) *Store {
	return &Store{
		selfID:  selfID,
		notices: make(chan models.Notice, noticeBuffer),
	}
}

// Snapshot returns a deep copy of the current lobby, if any.
func (s *Store) Snapshot() (models.LobbySession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lobby == nil {
		return models.LobbySession{}, false
	}
	return s.lobby.Clone(), true
}

// Messages returns a copy of the chat history, system lines included.
func (s *Store) Messages() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// IsInitiator re-derives the local "am I initiator" flag from the
// current snapshot. Callers must use this at the moment of decision,
// never a value captured earlier.
func (s *Store) IsInitiator() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lobby != nil && s.lobby.InitiatorID == s.selfID
}

// Notices is the stream of one-shot user-facing notices (kicked, lobby
// deleted, session errors).
func (s *Store) Notices() <-chan models.Notice {
	return s.notices
}

// Replace installs a full snapshot, typically the response of a
// create/join call before broadcasts start flowing.
func (s *Store) Replace(l models.LobbySession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := l.Clone()
	s.lobby = &clone
}

// SetOptimisticReadiness writes the local member's own readiness flag.
// It is the only optimistic write the store allows and is overwritten
// by the next MemberStatusUpdated broadcast either way.
func (s *Store) SetOptimisticReadiness(status models.MemberStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lobby == nil {
		return
	}
	for i := range s.lobby.Members {
		if s.lobby.Members[i].UserID == s.selfID {
			s.lobby.Members[i].Status = status
			return
		}
	}
}

// Reset clears all lobby state and chat history.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobby = nil
	s.messages = nil
}

// Apply commits one parsed wire event. Events are applied as they
// arrive, one at a time, in receipt order.
func (s *Store) Apply(payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p := payload.(type) {
	case events.LobbyStateChangedPayload:
		s.applyStateChanged(p)
	case events.MemberJoinedPayload:
		s.applyMemberJoined(p)
	case events.MemberLeftPayload:
		s.applyMemberLeft(p)
	case events.MemberStatusUpdatedPayload:
		s.applyMemberStatusUpdated(p)
	case events.LobbyMessageSentPayload:
		s.applyMessageSent(p)
	case events.MemberKickedPayload:
		s.applyMemberKicked(p)
	case events.InitiatorRoleTransferredPayload:
		s.applyRoleTransferred(p)
	case events.LobbyDeletedPayload:
		s.applyLobbyDeleted(p)
	}
}

func (s *Store) applyStateChanged(p events.LobbyStateChangedPayload) {
	clone := p.LobbyState.Clone()
	s.lobby = &clone
}

func (s *Store) applyMemberJoined(p events.MemberJoinedPayload) {
	if s.lobby == nil {
		return
	}
	if _, ok := s.lobby.MemberByID(p.Member.UserID); ok {
		return
	}
	s.lobby.Members = append(s.lobby.Members, p.Member)
	s.systemLine(p.Member.UserName + " joined the lobby")
}

func (s *Store) applyMemberLeft(p events.MemberLeftPayload) {
	s.removeMember(p.UserID)
	s.systemLine(p.UserName + " left the lobby")
}

func (s *Store) applyMemberStatusUpdated(p events.MemberStatusUpdatedPayload) {
	if s.lobby == nil {
		return
	}
	for i := range s.lobby.Members {
		if s.lobby.Members[i].UserID == p.UserID {
			s.lobby.Members[i].Status = p.Status
			return
		}
	}
}

func (s *Store) applyMessageSent(p events.LobbyMessageSentPayload) {
	s.messages = append(s.messages, models.ChatMessage{
		MessageID: p.MessageID,
		UserID:    p.UserID,
		UserName:  p.UserName,
		Message:   p.Message,
		Timestamp: p.Timestamp,
	})
}

func (s *Store) applyMemberKicked(p events.MemberKickedPayload) {
	if p.KickedUserID == s.selfID {
		s.notify(models.Notice{Kind: models.NoticeKicked, Text: "You were removed from the lobby: " + p.Reason})
		return
	}
	s.removeMember(p.KickedUserID)
	s.systemLine(p.KickedUserName + " was removed from the lobby")
}

func (s *Store) applyRoleTransferred(p events.InitiatorRoleTransferredPayload) {
	clone := p.LobbyState.Clone()
	s.lobby = &clone
	s.systemLine(p.NewInitiatorName + " is now the initiator")
	if p.NewInitiatorID == s.selfID {
		s.notify(models.Notice{Kind: models.NoticeRoleTransferred, Text: "You are now the initiator"})
	}
}

func (s *Store) applyLobbyDeleted(p events.LobbyDeletedPayload) {
	s.notify(models.Notice{Kind: models.NoticeLobbyDeleted, Text: "The lobby was closed: " + p.Reason})
}

func (s *Store) removeMember(userID string) {
	if s.lobby == nil {
		return
	}
	for i := range s.lobby.Members {
		if s.lobby.Members[i].UserID == userID {
			s.lobby.Members = append(s.lobby.Members[:i], s.lobby.Members[i+1:]...)
			return
		}
	}
}

func (s *Store) systemLine(text string) {
	s.messages = append(s.messages, models.ChatMessage{
		MessageID: uuid.New().String(),
		Message:   text,
		Timestamp: time.Now().UTC(),
		System:    true,
	})
}

func (s *Store) notify(n models.Notice) {
	select {
	case s.notices <- n:
	default:
		log.Warn().Str("kind", string(n.Kind)).Msg("notice buffer full, dropping notice")
	}
}
