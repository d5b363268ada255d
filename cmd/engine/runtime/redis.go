package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/weftlabs/weft/common/nodes"
	"github.com/weftlabs/weft/common/redis"
)

const completionPollInterval = 2 * time.Second

// Redis ships activities to node workers over per-type streams and
// matches completion signals back to blocked callers by activity ID.
// Start must run before the first Execute.
type Redis struct {
	redis  *redis.Client
	logger redis.Logger

	mu      sync.Mutex
	waiters map[string]chan nodes.Response
}

type RedisOpts struct {
	Redis  *redis.Client
	Logger redis.Logger
}

func NewRedis(opts RedisOpts) *Redis {
	return &Redis{
		redis:   opts.Redis,
		logger:  opts.Logger,
		waiters: make(map[string]chan nodes.Response),
	}
}

// Start runs the completion router until the context ends.
func (r *Redis) Start(ctx context.Context) error {
	r.logger.Info("starting completion router", "list", CompletionList)
	for {
		if err := ctx.Err(); err != nil {
			r.logger.Info("completion router stopping")
			return nil
		}
		values, err := r.redis.BlockingPopList(ctx, completionPollInterval, CompletionList)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("failed to pop completion signal", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if values == nil {
			continue
		}
		r.deliver(values[1])
	}
}

func (r *Redis) deliver(payload string) {
	var signal CompletionSignal
	if err := json.Unmarshal([]byte(payload), &signal); err != nil {
		r.logger.Error("invalid completion signal", "error", err)
		return
	}

	r.mu.Lock()
	ch, ok := r.waiters[signal.ActivityID]
	if ok {
		delete(r.waiters, signal.ActivityID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("completion signal has no waiter",
			"activity_id", signal.ActivityID,
			"execution_id", signal.ExecutionID,
			"node_id", signal.NodeID)
		return
	}
	ch <- signal.Response
}

func (r *Redis) Execute(ctx context.Context, act Activity) nodes.Response {
	if act.ID == "" {
		act.ID = uuid.New().String()
	}

	payload, err := json.Marshal(act)
	if err != nil {
		return nodes.Fail(nodes.ErrorTypeValidation, fmt.Sprintf("failed to encode activity: %v", err), false)
	}

	ch := make(chan nodes.Response, 1)
	r.mu.Lock()
	r.waiters[act.ID] = ch
	r.mu.Unlock()

	if _, err := r.redis.AddToStream(ctx, TaskStream(act.NodeType), map[string]interface{}{
		"activity": string(payload),
	}); err != nil {
		r.mu.Lock()
		delete(r.waiters, act.ID)
		r.mu.Unlock()
		return nodes.FailErr(nodes.Classify(err))
	}

	r.logger.Debug("activity dispatched",
		"activity_id", act.ID,
		"execution_id", act.ExecutionID,
		"node_id", act.NodeID,
		"stream", TaskStream(act.NodeType))

	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, act.ID)
		r.mu.Unlock()
		return nodes.FailErr(nodes.Classify(ctx.Err()))
	}
}
