package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/pulsefit/groupsync/go/internal/gateway"
)

// Config is the optional YAML configuration for a gateway instance.
// Environment variables override the file for deployment-level knobs.
type Config struct {
	Gateway struct {
		Port           string `yaml:"port"`
		PublishRate    int    `yaml:"publish_rate"`
		PublishBurst   int    `yaml:"publish_burst"`
		PingSeconds    int    `yaml:"ping_seconds"`
		ReadSeconds    int    `yaml:"read_seconds"`
		MaxMessageSize int64  `yaml:"max_message_size"`
	} `yaml:"gateway"`
	NATS struct {
		URL      string `yaml:"url"`
		Consumer string `yaml:"consumer"`
	} `yaml:"nats"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// buildGatewayConfig folds the file, defaults and environment into the
// final runtime configuration.
func buildGatewayConfig(file *Config) gateway.Config {
	conn := gateway.DefaultConnectionConfig()
	consumer := gateway.DefaultConsumerConfig()

	if file != nil {
		if file.Gateway.PublishRate > 0 {
			conn.PublishRate = rate.Limit(file.Gateway.PublishRate)
		}
		if file.Gateway.PublishBurst > 0 {
			conn.PublishBurst = file.Gateway.PublishBurst
		}
		if file.Gateway.PingSeconds > 0 {
			conn.PingInterval = time.Duration(file.Gateway.PingSeconds) * time.Second
		}
		if file.Gateway.ReadSeconds > 0 {
			conn.ReadTimeout = time.Duration(file.Gateway.ReadSeconds) * time.Second
		}
		if file.Gateway.MaxMessageSize > 0 {
			conn.MaxMessageSize = file.Gateway.MaxMessageSize
		}
		if file.NATS.URL != "" {
			consumer.URL = file.NATS.URL
		}
		if file.NATS.Consumer != "" {
			consumer.ConsumerName = file.NATS.Consumer
		}
	}

	consumer.URL = getEnv("NATS_URL", consumer.URL)
	consumer.MaxAckPending = getEnvAsInt("GATEWAY_MAX_ACK_PENDING", consumer.MaxAckPending)

	return gateway.Config{
		ConnectionConfig: conn,
		ConsumerConfig:   consumer,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
