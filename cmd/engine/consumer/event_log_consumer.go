package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/weftlabs/weft/cmd/engine/events"
	"github.com/weftlabs/weft/common/models"
	redisWrapper "github.com/weftlabs/weft/common/redis"
	"github.com/weftlabs/weft/common/sdk"
)

// EventGroup is the consumer group on the event stream.
const EventGroup = "event_writers"

// EventStore is the slice of the event repository the log consumer
// writes through.
type EventStore interface {
	Append(ctx context.Context, event *models.ExecutionEvent) error
	StartSpan(ctx context.Context, executionID uuid.UUID, nodeID string, spanType models.SpanType, startedAt time.Time) error
	CloseSpan(ctx context.Context, executionID uuid.UUID, nodeID string, spanType models.SpanType, status string, attempts int, endedAt time.Time) error
}

// ProgressMarker advances an execution's liveness marker.
type ProgressMarker interface {
	TouchLastEvent(ctx context.Context, id uuid.UUID) error
}

// EventLogConsumer appends every execution event to the event log and
// derives spans from start/finish pairs. Span timing comes from the
// emit wall clock on the stream record, not from consumption time.
type EventLogConsumer struct {
	redis        *redisWrapper.Client
	events       EventStore
	executions   ProgressMarker
	logger       Logger
	consumerName string
}

// EventLogConsumerOpts holds the dependencies for NewEventLogConsumer.
type EventLogConsumerOpts struct {
	Redis      *redisWrapper.Client
	Events     EventStore
	Executions ProgressMarker
	Logger     Logger
}

// NewEventLogConsumer creates an event log consumer.
func NewEventLogConsumer(opts EventLogConsumerOpts) *EventLogConsumer {
	return &EventLogConsumer{
		redis:        opts.Redis,
		events:       opts.Events,
		executions:   opts.Executions,
		logger:       opts.Logger,
		consumerName: fmt.Sprintf("event_writer_%s", uuid.New().String()[:8]),
	}
}

// Start consumes execution events until the context is cancelled.
func (c *EventLogConsumer) Start(ctx context.Context) error {
	if err := c.redis.CreateStreamGroup(ctx, events.StreamName, EventGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Event log consumer started",
		"stream", events.StreamName,
		"group", EventGroup,
		"consumer", c.consumerName)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Event log consumer stopping")
			return ctx.Err()
		default:
			if err := c.processNextMessage(ctx); err != nil {
				c.logger.Error("Error processing execution event", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (c *EventLogConsumer) processNextMessage(ctx context.Context) error {
	streams, err := c.redis.ReadFromStreamGroup(ctx, EventGroup, c.consumerName, events.StreamName, 1, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to read from event stream: %w", err)
	}
	if len(streams) == 0 {
		return nil
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := c.handleMessage(ctx, message); err != nil {
				c.logger.Error("Failed to handle execution event",
					"message_id", message.ID,
					"error", err)
			}
			if err := c.redis.AckStreamMessage(ctx, events.StreamName, EventGroup, message.ID); err != nil {
				c.logger.Error("Failed to ack execution event",
					"message_id", message.ID,
					"error", err)
			}
		}
	}
	return nil
}

func (c *EventLogConsumer) handleMessage(ctx context.Context, message goredis.XMessage) error {
	raw, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("message %s has no event field", message.ID)
	}

	var e events.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	executionID, ok := events.ExecutionIDFromChannel(e.Channel)
	if !ok {
		return fmt.Errorf("event on unrecognized channel %q", e.Channel)
	}
	id, err := uuid.Parse(executionID)
	if err != nil {
		return fmt.Errorf("invalid execution id %q: %w", executionID, err)
	}

	at := emitTime(message)

	var payload json.RawMessage
	if len(e.Payload) > 0 {
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
	}

	if err := c.events.Append(ctx, &models.ExecutionEvent{
		ExecutionID: id,
		Kind:        string(e.Kind),
		TS:          e.Timestamp,
		Payload:     payload,
	}); err != nil {
		return err
	}

	if err := c.recordSpan(ctx, id, &e, at); err != nil {
		return err
	}

	// Every event is proof of life; the supervisor only reaps rows
	// whose marker has gone quiet.
	if err := c.executions.TouchLastEvent(ctx, id); err != nil {
		c.logger.Warn("Failed to touch execution",
			"execution_id", executionID,
			"error", err)
	}
	return nil
}

func (c *EventLogConsumer) recordSpan(ctx context.Context, id uuid.UUID, e *events.Event, at time.Time) error {
	switch e.Kind {
	case events.KindExecutionStarted:
		return c.events.StartSpan(ctx, id, "", models.SpanExecution, at)
	case events.KindExecutionCompleted:
		return c.events.CloseSpan(ctx, id, "", models.SpanExecution, "completed", 0, at)
	case events.KindExecutionFailed:
		status := "failed"
		if kind, _ := e.Payload["kind"].(string); kind == sdk.ErrKindCancelled {
			status = "cancelled"
		}
		return c.events.CloseSpan(ctx, id, "", models.SpanExecution, status, 0, at)
	case events.KindNodeStarted:
		nodeID, _ := e.Payload["nodeId"].(string)
		if nodeID == "" {
			return fmt.Errorf("node_started event without nodeId")
		}
		return c.events.StartSpan(ctx, id, nodeID, models.SpanNode, at)
	case events.KindNodeCompleted:
		return c.closeNodeSpan(ctx, id, e, "completed", at)
	case events.KindNodeFailed:
		return c.closeNodeSpan(ctx, id, e, "failed", at)
	default:
		return nil
	}
}

func (c *EventLogConsumer) closeNodeSpan(ctx context.Context, id uuid.UUID, e *events.Event, status string, at time.Time) error {
	nodeID, _ := e.Payload["nodeId"].(string)
	if nodeID == "" {
		return fmt.Errorf("%s event without nodeId", e.Kind)
	}
	attempts := 0
	if v, ok := e.Payload["attempts"].(float64); ok {
		attempts = int(v)
	}
	return c.events.CloseSpan(ctx, id, nodeID, models.SpanNode, status, attempts, at)
}

// emitTime reads the emitter wall clock off the stream record, falling
// back to now for records written before the field existed.
func emitTime(message goredis.XMessage) time.Time {
	if raw, ok := message.Values["at"].(string); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms)
		}
	}
	return time.Now()
}
