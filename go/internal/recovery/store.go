package recovery

import (
	"context"
	"errors"
	"sync"

	"github.com/pulsefit/groupsync/go/internal/models"
)

// ErrIllegalTransition is returned when a guard is driven through a
// transition its current state does not allow.
var ErrIllegalTransition = errors.New("illegal guard transition")

// PointerStore persists the active-lobby pointer. A device holds at most
// one pointer per user; its presence on launch means "attempt rejoin,
// else clean up".
type PointerStore interface {
	Save(ctx context.Context, ptr models.ActiveLobbyPointer) error
	Load(ctx context.Context, userID string) (models.ActiveLobbyPointer, bool, error)
	Clear(ctx context.Context, userID string) error
}

// MemoryPointerStore is an in-memory PointerStore for tests.
type MemoryPointerStore struct {
	mu       sync.Mutex
	pointers map[string]models.ActiveLobbyPointer
}

// NewMemoryPointerStore creates an empty in-memory store.
func NewMemoryPointerStore() *MemoryPointerStore {
	return &MemoryPointerStore{pointers: make(map[string]models.ActiveLobbyPointer)}
}

func (s *MemoryPointerStore) Save(_ context.Context, ptr models.ActiveLobbyPointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointers[ptr.UserID] = ptr
	return nil
}

func (s *MemoryPointerStore) Load(_ context.Context, userID string) (models.ActiveLobbyPointer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptr, ok := s.pointers[userID]
	return ptr, ok, nil
}

func (s *MemoryPointerStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pointers, userID)
	return nil
}
