package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/weftlabs/weft/common/nodes"
	"github.com/weftlabs/weft/common/redis"
)

// TaskWorker consumes one node type's activity stream, executes each
// activity through the handler registry and pushes the completion
// signal back. One worker handles one stream; run several for several
// types.
type TaskWorker struct {
	redis    *redis.Client
	registry *nodes.Registry
	logger   redis.Logger
	nodeType string
	stream   string
	group    string
	consumer string
}

type TaskWorkerOpts struct {
	Redis    *redis.Client
	Registry *nodes.Registry
	Logger   redis.Logger
	NodeType string
}

func NewTaskWorker(opts TaskWorkerOpts) *TaskWorker {
	return &TaskWorker{
		redis:    opts.Redis,
		registry: opts.Registry,
		logger:   opts.Logger,
		nodeType: opts.NodeType,
		stream:   TaskStream(opts.NodeType),
		group:    opts.NodeType + "_workers",
		consumer: fmt.Sprintf("worker_%s", uuid.New().String()[:8]),
	}
}

// Start consumes activities until the context ends.
func (w *TaskWorker) Start(ctx context.Context) error {
	w.logger.Info("starting task worker",
		"stream", w.stream,
		"group", w.group,
		"consumer", w.consumer)

	if err := w.redis.CreateStreamGroup(ctx, w.stream, w.group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("task worker stopping", "stream", w.stream)
			return nil
		default:
			if err := w.processNext(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				w.logger.Error("failed to process activity", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *TaskWorker) processNext(ctx context.Context) error {
	streams, err := w.redis.ReadFromStreamGroup(ctx, w.group, w.consumer, w.stream, 1, 5*time.Second)
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := w.handle(ctx, message.Values); err != nil {
				w.logger.Error("failed to handle activity", "message_id", message.ID, "error", err)
			}
			if err := w.redis.AckStreamMessage(ctx, w.stream, w.group, message.ID); err != nil {
				w.logger.Error("failed to ack activity", "message_id", message.ID, "error", err)
			}
		}
	}
	return nil
}

func (w *TaskWorker) handle(ctx context.Context, values map[string]interface{}) error {
	raw, ok := values["activity"].(string)
	if !ok {
		return fmt.Errorf("message missing activity field")
	}
	var act Activity
	if err := json.Unmarshal([]byte(raw), &act); err != nil {
		return fmt.Errorf("failed to unmarshal activity: %w", err)
	}

	w.logger.Info("processing activity",
		"activity_id", act.ID,
		"execution_id", act.ExecutionID,
		"node_id", act.NodeID,
		"node_type", act.NodeType)

	resp := w.registry.Execute(ctx, act.request())

	signal := CompletionSignal{
		ActivityID:  act.ID,
		ExecutionID: act.ExecutionID,
		NodeID:      act.NodeID,
		Response:    resp,
	}
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to encode completion signal: %w", err)
	}
	return w.redis.PushToList(ctx, CompletionList, string(payload))
}
