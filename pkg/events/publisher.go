// Package events publishes and consumes mention lifecycle events over Redis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
)

// Redis channels.
const (
	ChannelMentionCreated    = "events.mention.created"
	ChannelClonesInvalidated = "events.clones.invalidated"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Source        string    `json:"source"`
	Version       string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with sensible defaults.
func NewBaseEvent(eventType string) BaseEvent {
	id := uuid.NewString()
	return BaseEvent{
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: &id,
		Source:        "penf-chat",
		Version:       "1.0",
	}
}

// MentionCreatedEvent is published for every new pending mention.
type MentionCreatedEvent struct {
	BaseEvent

	MentionID string         `json:"mention_id"`
	MessageID string         `json:"message_id"`
	EntityID  string         `json:"entity_id"`
	Scope     mentions.Scope `json:"scope"`
	CreatedAt time.Time      `json:"created_at"`
}

// ClonesInvalidatedEvent tells every replica to drop its clone lookup cache.
type ClonesInvalidatedEvent struct {
	BaseEvent
}

// redisPublisher is the subset of *redis.Client the publisher needs.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher publishes mention events to Redis.
type Publisher struct {
	client redisPublisher
	logger logging.Logger
}

var _ mentions.Notifier = (*Publisher)(nil)

// Config holds Redis connection configuration.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewPublisher creates a new event publisher.
func NewPublisher(client *redis.Client, logger logging.Logger) *Publisher {
	return newPublisher(client, logger)
}

func newPublisher(client redisPublisher, logger logging.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logging.Component(logger, "event_publisher"),
	}
}

// Connect opens a Redis client and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// MentionCreated publishes a MentionCreatedEvent for m.
func (p *Publisher) MentionCreated(ctx context.Context, m mentions.Mention) error {
	event := MentionCreatedEvent{
		BaseEvent: NewBaseEvent("mention.created"),
		MentionID: m.ID,
		MessageID: m.MessageID,
		EntityID:  m.EntityID,
		Scope:     m.Scope,
		CreatedAt: m.CreatedAt,
	}
	return p.publish(ctx, ChannelMentionCreated, event)
}

// ClonesInvalidated asks every subscribed replica to purge cached clone lookups.
func (p *Publisher) ClonesInvalidated(ctx context.Context) error {
	return p.publish(ctx, ChannelClonesInvalidated, ClonesInvalidatedEvent{
		BaseEvent: NewBaseEvent("clones.invalidated"),
	})
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}
