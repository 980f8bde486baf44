package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire format for every event delivered on a channel
type Envelope struct {
	ID        string          `json:"id"`        // Event UUID
	Channel   string          `json:"channel"`   // Channel/topic key
	Type      string          `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// NewEnvelope builds an envelope with a fresh ID and the payload
// marshalled to JSON.
func NewEnvelope(channel, eventType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		Channel:   channel,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// PresenceKind is the kind of a presence membership diff
type PresenceKind string

const (
	PresenceSnapshot PresenceKind = "snapshot"
	PresenceJoin     PresenceKind = "join"
	PresenceLeave    PresenceKind = "leave"
)

// PresenceDiff is one presence signal for a channel: the initial
// membership snapshot on subscribe, or a single join/leave.
type PresenceDiff struct {
	Kind    PresenceKind `json:"kind"`
	Channel string       `json:"channel"`
	UserID  string       `json:"user_id,omitempty"`
	UserIDs []string     `json:"user_ids,omitempty"`
}

// EventHandler receives events in per-channel delivery order.
type EventHandler func(env Envelope)

// PresenceHandler receives presence diffs in delivery order.
type PresenceHandler func(diff PresenceDiff)

// Subscription is an active channel subscription. Unsubscribe is safe to
// call more than once.
type Subscription interface {
	Channel() string
	Unsubscribe() error
}

// Transport is the persistent duplex connection primitive the core is
// built on. Delivery is ordered per channel; no ordering holds across
// channels. Implementations: wsclient (gateway connection) and membus
// (in-process, for tests and local development).
type Transport interface {
	Subscribe(ctx context.Context, channel string, h EventHandler) (Subscription, error)
	SubscribePresence(ctx context.Context, channel string, h PresenceHandler) (Subscription, error)
	Publish(ctx context.Context, channel string, env Envelope) error
	Close() error
}

// Channel naming scheme (topic strings, case-sensitive).

// LobbyChannel returns the private lobby event channel for a session.
func LobbyChannel(sessionID string) string {
	return "lobby." + sessionID
}

// SessionChannel returns the private timer event channel for a session.
func SessionChannel(sessionID string) string {
	return "session." + sessionID
}

// GroupChannel returns the group channel; its presence variant reports
// which group members are currently online.
func GroupChannel(groupID string) string {
	return "group." + groupID
}
