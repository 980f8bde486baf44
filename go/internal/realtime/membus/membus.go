// Package membus is an in-process realtime transport with the same
// per-channel ordering and presence semantics as the gateway-backed
// transport. It backs tests and local single-process development.
package membus

import (
	"context"
	"sync"

	"github.com/pulsefit/groupsync/go/internal/realtime"
)

// Bus connects any number of in-process clients. Events published on a
// channel are delivered synchronously, in publish order, to every
// subscriber of that channel.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]*subscription
	psubs   map[string][]*subscription
	present map[string]map[string]int // channel -> user -> subscription refcount
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]*subscription),
		psubs:   make(map[string][]*subscription),
		present: make(map[string]map[string]int),
	}
}

// Client returns a transport bound to the given user identity. Presence
// diffs emitted by the bus use this identity.
func (b *Bus) Client(userID string) *Conn {
	return &Conn{bus: b, userID: userID}
}

// Conn is one client connection to the bus. It implements
// realtime.Transport.
type Conn struct {
	bus    *Bus
	userID string

	mu     sync.Mutex
	closed bool
	subs   []*subscription
}

var _ realtime.Transport = (*Conn)(nil)

type subscription struct {
	bus      *Bus
	conn     *Conn
	channel  string
	presence bool
	handler  realtime.EventHandler
	phandler realtime.PresenceHandler

	mu     sync.Mutex
	active bool
}

func (s *subscription) Channel() string { return s.channel }

// Unsubscribe removes the subscription. Calling it more than once is a
// no-op.
func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.mu.Unlock()

	s.bus.remove(s)
	return nil
}

// Subscribe registers an event handler for a channel and marks the
// client present on it.
func (c *Conn) Subscribe(_ context.Context, channel string, h realtime.EventHandler) (realtime.Subscription, error) {
	sub := &subscription{bus: c.bus, conn: c, channel: channel, handler: h, active: true}
	c.track(sub)
	c.bus.add(sub)
	return sub, nil
}

// SubscribePresence registers a presence handler for a channel. The
// current membership snapshot is delivered before any diff.
func (c *Conn) SubscribePresence(_ context.Context, channel string, h realtime.PresenceHandler) (realtime.Subscription, error) {
	sub := &subscription{bus: c.bus, conn: c, channel: channel, presence: true, phandler: h, active: true}
	c.track(sub)
	snapshot := c.bus.addPresenceSub(sub)
	h(realtime.PresenceDiff{Kind: realtime.PresenceSnapshot, Channel: channel, UserIDs: snapshot})
	return sub, nil
}

// Publish delivers an envelope to every event subscriber of the channel.
func (c *Conn) Publish(_ context.Context, channel string, env realtime.Envelope) error {
	env.Channel = channel
	c.bus.mu.Lock()
	targets := make([]*subscription, len(c.bus.subs[channel]))
	copy(targets, c.bus.subs[channel])
	c.bus.mu.Unlock()

	for _, sub := range targets {
		sub.mu.Lock()
		active := sub.active
		sub.mu.Unlock()
		if active {
			sub.handler(env)
		}
	}
	return nil
}

// Close unsubscribes every subscription this client opened.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

func (c *Conn) track(sub *subscription) {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
}

func (b *Bus) add(sub *subscription) {
	b.mu.Lock()
	b.subs[sub.channel] = append(b.subs[sub.channel], sub)
	joined := b.markPresentLocked(sub.channel, sub.conn.userID)
	var notify []*subscription
	if joined {
		notify = b.presenceTargetsLocked(sub.channel)
	}
	b.mu.Unlock()

	for _, p := range notify {
		p.phandler(realtime.PresenceDiff{Kind: realtime.PresenceJoin, Channel: sub.channel, UserID: sub.conn.userID})
	}
}

func (b *Bus) addPresenceSub(sub *subscription) []string {
	b.mu.Lock()
	b.psubs[sub.channel] = append(b.psubs[sub.channel], sub)
	joined := b.markPresentLocked(sub.channel, sub.conn.userID)
	snapshot := make([]string, 0, len(b.present[sub.channel]))
	for id := range b.present[sub.channel] {
		snapshot = append(snapshot, id)
	}
	var notify []*subscription
	if joined {
		notify = b.presenceTargetsLocked(sub.channel)
	}
	b.mu.Unlock()

	for _, p := range notify {
		if p != sub {
			p.phandler(realtime.PresenceDiff{Kind: realtime.PresenceJoin, Channel: sub.channel, UserID: sub.conn.userID})
		}
	}
	return snapshot
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	pool := b.subs
	if sub.presence {
		pool = b.psubs
	}
	list := pool[sub.channel]
	for i, s := range list {
		if s == sub {
			pool[sub.channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
	left := b.markAbsentLocked(sub.channel, sub.conn.userID)
	var notify []*subscription
	if left {
		notify = b.presenceTargetsLocked(sub.channel)
	}
	b.mu.Unlock()

	for _, p := range notify {
		p.phandler(realtime.PresenceDiff{Kind: realtime.PresenceLeave, Channel: sub.channel, UserID: sub.conn.userID})
	}
}

// markPresentLocked bumps the presence refcount; reports a 0 -> 1 edge.
func (b *Bus) markPresentLocked(channel, userID string) bool {
	if b.present[channel] == nil {
		b.present[channel] = make(map[string]int)
	}
	b.present[channel][userID]++
	return b.present[channel][userID] == 1
}

// markAbsentLocked drops the presence refcount; reports a 1 -> 0 edge.
func (b *Bus) markAbsentLocked(channel, userID string) bool {
	users := b.present[channel]
	if users == nil || users[userID] == 0 {
		return false
	}
	users[userID]--
	if users[userID] > 0 {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(b.present, channel)
	}
	return true
}

func (b *Bus) presenceTargetsLocked(channel string) []*subscription {
	targets := make([]*subscription, len(b.psubs[channel]))
	copy(targets, b.psubs[channel])
	return targets
}
