package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/weftlabs/weft/cmd/engine/events"
)

// Subscriber bridges the engine's per-execution pub/sub channels into
// the hub.
type Subscriber struct {
	redis  *goredis.Client
	hub    *Hub
	logger Logger
}

// NewSubscriber creates a new Subscriber instance
func NewSubscriber(redisClient *goredis.Client, hub *Hub, logger Logger) *Subscriber {
	return &Subscriber{
		redis:  redisClient,
		hub:    hub,
		logger: logger,
	}
}

// Start consumes the pattern subscription until the context ends.
func (s *Subscriber) Start(ctx context.Context) error {
	pattern := events.ChannelName("*")
	pubsub := s.redis.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// Confirm the subscription before reporting ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	s.logger.Info("subscribed to execution events", "pattern", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopping")
			return nil

		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			executionID, ok := events.ExecutionIDFromChannel(msg.Channel)
			if !ok {
				s.logger.Warn("event on unexpected channel", "channel", msg.Channel)
				continue
			}
			s.hub.events <- &Event{
				ExecutionID: executionID,
				Data:        []byte(msg.Payload),
			}
		}
	}
}
