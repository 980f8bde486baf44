// Package wsclient is the device-side realtime transport: one
// persistent WebSocket to the gateway carrying every channel the device
// subscribes to. Frames on one channel are dispatched in the order they
// arrive.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/groupsync/go/internal/realtime"
)

// Config holds the connection settings for a gateway WebSocket.
type Config struct {
	URL            string
	UserID         string
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
	}
}

// ErrClosed means the transport was closed and can no longer send.
var ErrClosed = errors.New("websocket transport closed")

// Transport implements realtime.Transport over one gateway WebSocket.
type Transport struct {
	cfg  Config
	conn *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	events    map[string][]*subscription
	presences map[string][]*subscription

	closeOnce sync.Once
	closed    chan struct{}
}

type subscription struct {
	t        *Transport
	channel  string
	presence bool
	event    realtime.EventHandler
	pres     realtime.PresenceHandler

	once sync.Once
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.t.unsubscribe(s)
	})
	return err
}

// Dial connects to the gateway and starts the read and write pumps.
// The user identity rides on the query string; the gateway uses it for
// presence tracking.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", cfg.UserID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	t := &Transport{
		cfg:       cfg,
		conn:      conn,
		send:      make(chan []byte, cfg.SendBuffer),
		events:    make(map[string][]*subscription),
		presences: make(map[string][]*subscription),
		closed:    make(chan struct{}),
	}

	go t.writePump()
	go t.readPump()

	log.Info().Str("url", cfg.URL).Str("user_id", cfg.UserID).Msg("gateway connection established")
	return t, nil
}

// Subscribe opens the event stream for a channel. The first subscriber
// sends the subscribe frame; later ones share the stream.
func (t *Transport) Subscribe(ctx context.Context, channel string, h realtime.EventHandler) (realtime.Subscription, error) {
	sub := &subscription{t: t, channel: channel, event: h}

	t.mu.Lock()
	first := len(t.events[channel]) == 0
	t.events[channel] = append(t.events[channel], sub)
	t.mu.Unlock()

	if first {
		if err := t.sendFrame(ctx, realtime.ClientFrame{Action: realtime.ActionSubscribe, Channel: channel}); err != nil {
			t.drop(sub)
			return nil, err
		}
	}
	return sub, nil
}

// SubscribePresence opens the presence variant of a channel. The
// gateway answers with a full membership snapshot before any diffs.
func (t *Transport) SubscribePresence(ctx context.Context, channel string, h realtime.PresenceHandler) (realtime.Subscription, error) {
	sub := &subscription{t: t, channel: channel, presence: true, pres: h}

	t.mu.Lock()
	first := len(t.presences[channel]) == 0
	t.presences[channel] = append(t.presences[channel], sub)
	t.mu.Unlock()

	if first {
		if err := t.sendFrame(ctx, realtime.ClientFrame{Action: realtime.ActionSubscribe, Channel: channel, Presence: true}); err != nil {
			t.drop(sub)
			return nil, err
		}
	}
	return sub, nil
}

// Publish sends one envelope to a channel through the gateway.
func (t *Transport) Publish(ctx context.Context, channel string, env realtime.Envelope) error {
	env.Channel = channel
	return t.sendFrame(ctx, realtime.ClientFrame{Action: realtime.ActionPublish, Channel: channel, Event: &env})
}

// Close tears down the connection. All subscriptions die with it.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.conn.Close()
	})
	return nil
}

func (t *Transport) unsubscribe(sub *subscription) error {
	last := t.drop(sub)
	if !last {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
	defer cancel()
	err := t.sendFrame(ctx, realtime.ClientFrame{Action: realtime.ActionUnsubscribe, Channel: sub.channel, Presence: sub.presence})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// drop removes a subscription and reports whether it was the channel's
// last one.
func (t *Transport) drop(sub *subscription) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.events
	if sub.presence {
		set = t.presences
	}
	subs := set[sub.channel]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(set, sub.channel)
		return true
	}
	set[sub.channel] = subs
	return false
}

func (t *Transport) sendFrame(ctx context.Context, frame realtime.ClientFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal client frame: %w", err)
	}
	select {
	case t.send <- data:
		return nil
	case <-t.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) writePump() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		t.Close()
	}()

	for {
		select {
		case <-t.closed:
			t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			t.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Msg("failed to write frame to gateway")
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Msg("failed to ping gateway")
				return
			}
		}
	}
}

func (t *Transport) readPump() {
	defer t.Close()

	t.conn.SetReadLimit(t.cfg.MaxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("gateway connection closed unexpectedly")
			}
			return
		}
		t.dispatch(message)
		t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	}
}

// dispatch routes one server frame to the channel's handlers. Handlers
// run on the read pump goroutine, which is what keeps per-channel
// delivery ordered.
func (t *Transport) dispatch(message []byte) {
	var frame realtime.ServerFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Error().Err(err).Msg("failed to decode server frame")
		return
	}

	switch frame.Kind {
	case realtime.FrameEvent:
		if frame.Event == nil {
			return
		}
		t.mu.Lock()
		subs := append([]*subscription(nil), t.events[frame.Event.Channel]...)
		t.mu.Unlock()
		for _, sub := range subs {
			sub.event(*frame.Event)
		}

	case realtime.FramePresence:
		if frame.Diff == nil {
			return
		}
		t.mu.Lock()
		subs := append([]*subscription(nil), t.presences[frame.Diff.Channel]...)
		t.mu.Unlock()
		for _, sub := range subs {
			sub.pres(*frame.Diff)
		}

	default:
		log.Debug().Str("kind", frame.Kind).Msg("ignoring unknown server frame")
	}
}
