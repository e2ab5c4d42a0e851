package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/penf-chat/pkg/logging"
)

// Trigger wakes processing for a clone. *dispatch.Dispatcher satisfies it.
type Trigger interface {
	Trigger(entityID string) bool
}

// CloneCache is a local cache of clone lookups. *directory.Cached satisfies it.
type CloneCache interface {
	Invalidate()
}

// Subscriber listens for mention events and triggers the dispatcher.
type Subscriber struct {
	client  *redis.Client
	trigger Trigger
	clones  CloneCache
	logger  logging.Logger
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithCloneCache also consumes ChannelClonesInvalidated and purges c on
// each event.
func WithCloneCache(c CloneCache) SubscriberOption {
	return func(s *Subscriber) { s.clones = c }
}

// NewSubscriber creates a subscriber.
func NewSubscriber(client *redis.Client, trigger Trigger, logger logging.Logger, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		client:  client,
		trigger: trigger,
		logger:  logging.Component(logger, "event_subscriber"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Channels returns the channels Run subscribes to.
func (s *Subscriber) Channels() []string {
	if s.clones != nil {
		return []string{ChannelMentionCreated, ChannelClonesInvalidated}
	}
	return []string{ChannelMentionCreated}
}

// Run consumes events until ctx is done. Mention events lost while
// disconnected are recovered by the dispatcher's pending sweep.
func (s *Subscriber) Run(ctx context.Context) error {
	channels := s.Channels()
	ps := s.client.Subscribe(ctx, channels...)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %v: %w", channels, err)
	}

	s.logger.Info("Subscribed to events", logging.F("channels", channels))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(msg.Channel, msg.Payload)
		}
	}
}

func (s *Subscriber) handle(channel, payload string) {
	if channel == ChannelClonesInvalidated {
		if s.clones != nil {
			s.clones.Invalidate()
			s.logger.Debug("Clone cache purged")
		}
		return
	}

	var event MentionCreatedEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.Warn("Dropping malformed event",
			logging.Err(err),
			logging.F("channel", channel))
		return
	}
	if event.EntityID == "" {
		s.logger.Warn("Dropping event without entity_id",
			logging.F("channel", channel),
			logging.F("mention_id", event.MentionID))
		return
	}

	if !s.trigger.Trigger(event.EntityID) {
		s.logger.Warn("Dispatcher rejected trigger",
			logging.F("entity_id", event.EntityID),
			logging.F("mention_id", event.MentionID))
	}
}
