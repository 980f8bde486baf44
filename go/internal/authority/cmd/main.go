package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/groupsync/go/internal/authority"
	"github.com/pulsefit/groupsync/go/internal/realtime/natsbus"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	natsURL := getEnv("NATS_URL", "nats://localhost:4222")

	busCfg := natsbus.DefaultConfig()
	busCfg.URL = natsURL

	publisher, err := natsbus.NewPublisher(busCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}
	defer publisher.Close()

	clock := authority.NewClock(publisher, clockwork.NewRealClock())

	consumerCfg := authority.DefaultConsumerConfig()
	consumerCfg.URL = natsURL

	consumer, err := authority.NewControlConsumer(clock, consumerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create control consumer")
	}
	defer consumer.Stop()

	log.Info().Str("nats_url", natsURL).Msg("starting session authority")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := clock.Run(ctx); err != nil {
			log.Error().Err(err).Msg("session clock failed")
		}
	}()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("control consumer failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()
	time.Sleep(1 * time.Second)

	log.Info().Msg("session authority shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
