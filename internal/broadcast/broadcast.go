// Package broadcast publishes alert and pattern events to subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/ThreatWatch/internal/config"
)

// Channel names.
const (
	ChannelNewAlert          = "new-alert"
	ChannelHighSeverityAlert = "high-severity-alert"
	ChannelThreatPatterns    = "threat-patterns"
	ChannelAlertUpdated      = "alert-updated"
)

// HighSeverity is the severity above which alerts also go to the
// high-severity channel.
const HighSeverity = 0.7

// CategoryChannel returns the per-category alert channel.
func CategoryChannel(category string) string {
	return "category-alert:" + category
}

// AlertChannels lists the channels a new alert is published to.
func AlertChannels(category string, severity float64) []string {
	channels := []string{ChannelNewAlert, CategoryChannel(category)}
	if severity > HighSeverity {
		channels = append(channels, ChannelHighSeverityAlert)
	}
	return channels
}

// Publisher delivers an event to a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, v any) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close() error                               { return nil }

// RedisPublisher publishes JSON events over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg config.Redis) (*RedisPublisher, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisPublisher{client: client, prefix: strings.TrimSpace(cfg.ChannelPrefix)}, nil
}

// Channel returns the full Redis channel name.
func (p *RedisPublisher) Channel(name string) string {
	return qualify(p.prefix, name)
}

// Publish JSON-encodes v and publishes it.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", channel, err)
	}
	if err := p.client.Publish(ctx, p.Channel(channel), payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on the given unprefixed channels.
func (p *RedisPublisher) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	full := make([]string, len(channels))
	for i, c := range channels {
		full[i] = p.Channel(c)
	}
	return p.client.Subscribe(ctx, full...)
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// New returns the publisher selected by cfg.Mode.
func New(ctx context.Context, cfg config.Broadcast) (Publisher, error) {
	switch cfg.Mode {
	case "", config.BroadcastNone:
		return Nop{}, nil
	case config.BroadcastRedis:
		return NewRedisPublisher(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown broadcast mode %q", cfg.Mode)
	}
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + ":" + name
}
