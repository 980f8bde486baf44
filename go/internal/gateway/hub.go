// Package gateway is the realtime edge: it holds every device
// WebSocket, fans JetStream events out to channel subscribers and
// keeps the per-channel presence registry that powers the online
// indicators.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/pulsefit/groupsync/go/internal/realtime"
)

// ConnectionConfig holds configuration for device WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool

	// Inbound publish rate limit per connection.
	PublishRate  rate.Limit
	PublishBurst int
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
		PublishRate:  rate.Limit(10),
		PublishBurst: 20,
	}
}

// Publisher is where client-published envelopes go so that every
// gateway instance sees them.
type Publisher interface {
	Publish(ctx context.Context, env realtime.Envelope) error
}

// Hub manages device connections, channel subscriptions and presence.
type Hub struct {
	config    ConnectionConfig
	upgrader  websocket.Upgrader
	publisher Publisher

	mu        sync.RWMutex
	channels  map[string]map[*client]bool
	presences map[string]map[*client]bool
	online    map[string]map[string]int
}

// client is one device WebSocket.
type client struct {
	id      string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	limiter *rate.Limiter

	mu           sync.Mutex
	subscribed   map[string]bool
	presenceSubs map[string]bool
	closed       bool
}

// NewHub creates a hub that forwards client publishes through the given
// publisher.
func NewHub(config ConnectionConfig, publisher Publisher) *Hub {
	return &Hub{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		publisher: publisher,
		channels:  make(map[string]map[*client]bool),
		presences: make(map[string]map[*client]bool),
		online:    make(map[string]map[string]int),
	}
}

// UpgradeConnection upgrades an HTTP request to a device WebSocket.
func (h *Hub) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &client{
		id:           uuid.New().String(),
		userID:       userID,
		conn:         conn,
		send:         make(chan []byte, 256),
		hub:          h,
		limiter:      rate.NewLimiter(h.config.PublishRate, h.config.PublishBurst),
		subscribed:   make(map[string]bool),
		presenceSubs: make(map[string]bool),
	}

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("user_id", userID).
		Msg("device connection established")
	return nil
}

// Broadcast sends one envelope to every subscriber of its channel.
func (h *Hub) Broadcast(env realtime.Envelope) {
	data, err := json.Marshal(realtime.ServerFrame{Kind: realtime.FrameEvent, Event: &env})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event frame")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.channels[env.Channel]))
	for c := range h.channels[env.Channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(data)
	}

	log.Debug().
		Str("event_type", env.Type).
		Str("channel", env.Channel).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// subscribe registers a client on a channel. An event subscription also
// marks the user present there; the first connection for a user emits a
// join diff.
func (h *Hub) subscribe(c *client, channel string, presence bool) {
	if presence {
		h.mu.Lock()
		if h.presences[channel] == nil {
			h.presences[channel] = make(map[*client]bool)
		}
		h.presences[channel][c] = true
		snapshot := h.onlineSetLocked(channel)
		h.mu.Unlock()

		c.mu.Lock()
		c.presenceSubs[channel] = true
		c.mu.Unlock()

		c.sendDiff(realtime.PresenceDiff{Kind: realtime.PresenceSnapshot, Channel: channel, UserIDs: snapshot})
		return
	}

	h.mu.Lock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*client]bool)
	}
	h.channels[channel][c] = true
	if h.online[channel] == nil {
		h.online[channel] = make(map[string]int)
	}
	h.online[channel][c.userID]++
	joined := h.online[channel][c.userID] == 1
	h.mu.Unlock()

	c.mu.Lock()
	c.subscribed[channel] = true
	c.mu.Unlock()

	if joined {
		h.broadcastDiff(realtime.PresenceDiff{Kind: realtime.PresenceJoin, Channel: channel, UserID: c.userID})
	}
}

// unsubscribe removes a client from a channel. The user's last
// connection leaving emits a leave diff.
func (h *Hub) unsubscribe(c *client, channel string, presence bool) {
	if presence {
		h.mu.Lock()
		delete(h.presences[channel], c)
		if len(h.presences[channel]) == 0 {
			delete(h.presences, channel)
		}
		h.mu.Unlock()

		c.mu.Lock()
		delete(c.presenceSubs, channel)
		c.mu.Unlock()
		return
	}

	h.mu.Lock()
	delete(h.channels[channel], c)
	if len(h.channels[channel]) == 0 {
		delete(h.channels, channel)
	}
	left := false
	if counts := h.online[channel]; counts != nil {
		counts[c.userID]--
		if counts[c.userID] <= 0 {
			delete(counts, c.userID)
			left = true
		}
		if len(counts) == 0 {
			delete(h.online, channel)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.subscribed, channel)
	c.mu.Unlock()

	if left {
		h.broadcastDiff(realtime.PresenceDiff{Kind: realtime.PresenceLeave, Channel: channel, UserID: c.userID})
	}
}

// disconnect tears down every subscription a dying connection held.
func (h *Hub) disconnect(c *client) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := make([]string, 0, len(c.subscribed))
	for ch := range c.subscribed {
		channels = append(channels, ch)
	}
	presences := make([]string, 0, len(c.presenceSubs))
	for ch := range c.presenceSubs {
		presences = append(presences, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		h.unsubscribe(c, ch, false)
	}
	for _, ch := range presences {
		h.unsubscribe(c, ch, true)
	}
	close(c.send)

	log.Info().
		Str("connection_id", c.id).
		Str("user_id", c.userID).
		Msg("device connection closed")
}

func (h *Hub) broadcastDiff(diff realtime.PresenceDiff) {
	data, err := json.Marshal(realtime.ServerFrame{Kind: realtime.FramePresence, Diff: &diff})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal presence frame")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.presences[diff.Channel]))
	for c := range h.presences[diff.Channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(data)
	}
}

func (h *Hub) onlineSetLocked(channel string) []string {
	out := make([]string, 0, len(h.online[channel]))
	for userID := range h.online[channel] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Stats returns connection statistics for the info endpoint.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, conns := range h.channels {
		total += len(conns)
	}
	return map[string]any{
		"active_channels":     len(h.channels),
		"total_subscriptions": total,
	}
}

func (c *client) trySend(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.send <- data:
	default:
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", c.id).
			Str("user_id", c.userID).
			Msg("connection send buffer full, closing connection")
		c.hub.disconnect(c)
		c.conn.Close()
	}
}

func (c *client) sendDiff(diff realtime.PresenceDiff) {
	data, err := json.Marshal(realtime.ServerFrame{Kind: realtime.FramePresence, Diff: &diff})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal presence frame")
		return
	}
	c.trySend(data)
}

// writePump handles sending frames to the device.
func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.disconnect(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles frames from the device.
func (c *client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected WebSocket close error")
			}
			break
		}
		c.handleClientFrame(message)
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}

// handleClientFrame processes one frame received from the device.
func (c *client) handleClientFrame(message []byte) {
	var frame realtime.ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Warn().Err(err).Str("connection_id", c.id).Msg("malformed client frame")
		return
	}

	switch frame.Action {
	case realtime.ActionSubscribe:
		c.hub.subscribe(c, frame.Channel, frame.Presence)

	case realtime.ActionUnsubscribe:
		c.hub.unsubscribe(c, frame.Channel, frame.Presence)

	case realtime.ActionPublish:
		if frame.Event == nil {
			return
		}
		if !c.limiter.Allow() {
			log.Warn().
				Str("connection_id", c.id).
				Str("user_id", c.userID).
				Msg("publish rate limit exceeded, dropping frame")
			return
		}
		env := *frame.Event
		env.Channel = frame.Channel
		ctx, cancel := context.WithTimeout(context.Background(), c.hub.config.WriteTimeout)
		defer cancel()
		if err := c.hub.publisher.Publish(ctx, env); err != nil {
			log.Error().Err(err).Str("channel", frame.Channel).Msg("failed to forward client publish")
		}

	default:
		log.Debug().Str("action", frame.Action).Str("connection_id", c.id).Msg("ignoring unknown client action")
	}
}
