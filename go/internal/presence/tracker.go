// Package presence maintains the set of currently-online member IDs per
// channel. It has no opinion about lobby membership: a user can be
// present on a channel without being a lobby member, and a lobby member
// can be offline. The two sets are joined only at the presentation
// layer.
package presence

import (
	"sort"
	"sync"

	"github.com/pulsefit/groupsync/go/internal/realtime"
)

// Tracker folds presence diffs into per-channel online sets.
type Tracker struct {
	mu       sync.RWMutex
	channels map[string]map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{channels: make(map[string]map[string]struct{})}
}

// Apply folds one presence diff into the tracked set for its channel.
// A snapshot replaces the set wholesale; join and leave are incremental.
func (t *Tracker) Apply(diff realtime.PresenceDiff) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch diff.Kind {
	case realtime.PresenceSnapshot:
		set := make(map[string]struct{}, len(diff.UserIDs))
		for _, id := range diff.UserIDs {
			set[id] = struct{}{}
		}
		t.channels[diff.Channel] = set

	case realtime.PresenceJoin:
		if t.channels[diff.Channel] == nil {
			t.channels[diff.Channel] = make(map[string]struct{})
		}
		t.channels[diff.Channel][diff.UserID] = struct{}{}

	case realtime.PresenceLeave:
		delete(t.channels[diff.Channel], diff.UserID)
	}
}

// Online reports whether a user is currently online on a channel.
func (t *Tracker) Online(channel, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.channels[channel][userID]
	return ok
}

// OnlineSet returns the sorted online user IDs for a channel.
func (t *Tracker) OnlineSet(channel string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.channels[channel]))
	for id := range t.channels[channel] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forget drops the tracked set for a channel, typically after its
// subscription is torn down.
func (t *Tracker) Forget(channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.channels, channel)
}
