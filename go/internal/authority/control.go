package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/groupsync/go/internal/models"
	"github.com/pulsefit/groupsync/go/internal/realtime/natsbus"
)

// Control commands accepted on the control stream.
const (
	CommandStart  = "start"
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandStop   = "stop"
	CommandFinish = "finish"
	CommandLeft   = "member_left"
)

// Command is one control instruction from the lobby service to the
// session clock.
type Command struct {
	Command   string              `json:"command"`
	SessionID string              `json:"session_id"`
	ByName    string              `json:"by_name,omitempty"`
	Workout   *models.WorkoutData `json:"workout,omitempty"`
}

// ConsumerConfig holds settings for the control stream consumer.
type ConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConsumerConfig returns the default control consumer settings.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "RT_CONTROL",
		ConsumerName:  "session-authority",
		SubjectFilter: "rtctl.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// ControlConsumer feeds control commands from JetStream into the clock.
type ControlConsumer struct {
	clock    *Clock
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   ConsumerConfig
}

// NewControlConsumer connects to NATS, ensures the control stream and
// its durable consumer exist, and returns the consumer.
func NewControlConsumer(clock *Clock, cfg ConsumerConfig) (*ControlConsumer, error) {
	busCfg := natsbus.DefaultConfig()
	busCfg.MaxReconnects = cfg.MaxReconnects
	busCfg.ReconnectWait = cfg.ReconnectWait

	nc, err := nats.Connect(cfg.URL, natsbus.ConnectOptions(busCfg)...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	cc := &ControlConsumer{clock: clock, nc: nc, js: js, config: cfg}
	if err := cc.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return cc, nil
}

func (cc *ControlConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := cc.js.Stream(ctx, cc.config.StreamName)
	if err != nil {
		stream, err = cc.js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        cc.config.StreamName,
			Description: "Session control command stream",
			Subjects:    []string{cc.config.SubjectFilter},
			Retention:   jetstream.WorkQueuePolicy,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("create control stream: %w", err)
		}
		log.Info().Str("stream", cc.config.StreamName).Msg("created control stream")
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          cc.config.ConsumerName,
		Durable:       cc.config.ConsumerName,
		Description:   "Session authority control consumer",
		FilterSubject: cc.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    cc.config.MaxDeliver,
		AckWait:       cc.config.AckWait,
		MaxAckPending: cc.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, cc.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", cc.config.ConsumerName).
			Str("stream", cc.config.StreamName).
			Msg("created control consumer")
	}

	cc.consumer = consumer
	return nil
}

// Start consumes control commands until the context ends.
func (cc *ControlConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", cc.config.ConsumerName).
		Str("stream", cc.config.StreamName).
		Msg("starting control consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := cc.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("control consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := cc.processMessage(ctx, msg); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process control command")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
			} else {
				if ackErr := msg.Ack(); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to ACK message")
				}
			}
		}
	}
}

func (cc *ControlConsumer) processMessage(ctx context.Context, msg jetstream.Msg) error {
	var cmd Command
	if err := json.Unmarshal(msg.Data(), &cmd); err != nil {
		return fmt.Errorf("unmarshal control command: %w", err)
	}

	log.Debug().
		Str("command", cmd.Command).
		Str("session_id", cmd.SessionID).
		Msg("processing control command")

	switch cmd.Command {
	case CommandStart:
		if cmd.Workout == nil {
			return fmt.Errorf("start command for %s carries no workout", cmd.SessionID)
		}
		return cc.clock.StartSession(ctx, cmd.SessionID, *cmd.Workout)
	case CommandPause:
		return cc.clock.Pause(ctx, cmd.SessionID, cmd.ByName)
	case CommandResume:
		return cc.clock.Resume(ctx, cmd.SessionID, cmd.ByName)
	case CommandStop:
		return cc.clock.Stop(ctx, cmd.SessionID, cmd.ByName)
	case CommandFinish:
		return cc.clock.Finish(ctx, cmd.SessionID, cmd.ByName)
	case CommandLeft:
		return cc.clock.MemberLeft(ctx, cmd.SessionID, cmd.ByName)
	default:
		return fmt.Errorf("unknown control command: %s", cmd.Command)
	}
}

// Stop closes the NATS connection.
func (cc *ControlConsumer) Stop() error {
	log.Info().Msg("stopping control consumer")
	if cc.nc != nil {
		cc.nc.Close()
	}
	return nil
}
