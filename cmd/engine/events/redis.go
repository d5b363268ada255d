package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/weftlabs/weft/common/redis"
)

// StreamName is the durable stream every execution event is appended
// to, alongside the per-execution pubsub channel. The fanout service
// tails the stream; live subscribers listen on the channel.
const StreamName = "wf.exec.events"

// RedisEmitter publishes each event to the execution's pubsub channel
// and appends it to the shared event stream. Delivery is best effort;
// failures are logged and never surface to the orchestrator.
type RedisEmitter struct {
	redis  *redis.Client
	logger Logger
}

type RedisEmitterOpts struct {
	Redis  *redis.Client
	Logger Logger
}

func NewRedisEmitter(opts RedisEmitterOpts) *RedisEmitter {
	return &RedisEmitter{
		redis:  opts.Redis,
		logger: opts.Logger,
	}
}

func (r *RedisEmitter) Emit(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		r.logger.Error("Failed to marshal execution event",
			"channel", e.Channel,
			"kind", string(e.Kind),
			"error", err,
		)
		return
	}

	if err := r.redis.PublishEvent(ctx, e.Channel, string(data)); err != nil {
		r.logger.Error("Failed to publish execution event",
			"channel", e.Channel,
			"kind", string(e.Kind),
			"error", err,
		)
	}

	// "ts" is the logical sequence; "at" is the emit wall clock the
	// event log derives span times from.
	if _, err := r.redis.AddToStream(ctx, StreamName, map[string]interface{}{
		"channel": e.Channel,
		"kind":    string(e.Kind),
		"ts":      e.Timestamp,
		"at":      time.Now().UnixMilli(),
		"event":   string(data),
	}); err != nil {
		r.logger.Error("Failed to append execution event to stream",
			"stream", StreamName,
			"kind", string(e.Kind),
			"error", err,
		)
	}
}
