package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Config combines the hub and consumer settings for one gateway
// instance.
type Config struct {
	ConnectionConfig ConnectionConfig
	ConsumerConfig   ConsumerConfig
}

// Service ties the hub and the event consumer together and exposes the
// HTTP surface.
type Service struct {
	hub      *Hub
	consumer *EventConsumer
}

// NewService creates the gateway service.
func NewService(cfg Config, publisher Publisher) (*Service, error) {
	hub := NewHub(cfg.ConnectionConfig, publisher)

	consumer, err := NewEventConsumer(hub, cfg.ConsumerConfig)
	if err != nil {
		return nil, fmt.Errorf("create event consumer: %w", err)
	}

	return &Service{hub: hub, consumer: consumer}, nil
}

// Start runs the event consumer until the context ends.
func (s *Service) Start(ctx context.Context) error {
	return s.consumer.Start(ctx)
}

// Stop shuts the consumer down.
func (s *Service) Stop() error {
	return s.consumer.Stop()
}

// Stats returns connection statistics.
func (s *Service) Stats() map[string]any {
	return s.hub.Stats()
}

// RegisterRoutes registers the WebSocket and status endpoints.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"service": "realtime-gateway",
			"stats":   s.hub.Stats(),
		})
	})
}

// handleWebSocket upgrades a device connection. The user identity
// rides on the query string.
func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := s.hub.UpgradeConnection(w, r, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
	}
}
