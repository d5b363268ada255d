package consumer

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/cmd/engine/events"
	"github.com/weftlabs/weft/cmd/engine/lifecycle"
	"github.com/weftlabs/weft/common/clients"
	"github.com/weftlabs/weft/common/models"
	redisWrapper "github.com/weftlabs/weft/common/redis"
	"github.com/weftlabs/weft/common/sdk"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

func testRedis(t *testing.T) *redisWrapper.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { raw.Close() })
	return redisWrapper.NewClient(raw, nopLogger{})
}

type statusCall struct {
	op     string
	id     uuid.UUID
	status string
	result *sdk.ExecutionResult
	at     time.Time
}

type fakeStatusStore struct {
	mu    sync.Mutex
	calls []statusCall
}

func (f *fakeStatusStore) MarkRunning(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, statusCall{op: "running", id: id, status: sdk.StatusRunning, at: at})
	return nil
}

func (f *fakeStatusStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, statusCall{op: "status", id: id, status: status})
	return nil
}

func (f *fakeStatusStore) Complete(_ context.Context, id uuid.UUID, status string, result *sdk.ExecutionResult, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, statusCall{op: "complete", id: id, status: status, result: result, at: at})
	return nil
}

type spanCall struct {
	op       string
	nodeID   string
	spanType models.SpanType
	status   string
	attempts int
	at       time.Time
}

type fakeEventStore struct {
	mu       sync.Mutex
	appended []*models.ExecutionEvent
	spans    []spanCall
	touched  int
}

func (f *fakeEventStore) Append(_ context.Context, event *models.ExecutionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, event)
	return nil
}

func (f *fakeEventStore) StartSpan(_ context.Context, _ uuid.UUID, nodeID string, spanType models.SpanType, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, spanCall{op: "start", nodeID: nodeID, spanType: spanType, at: at})
	return nil
}

func (f *fakeEventStore) CloseSpan(_ context.Context, _ uuid.UUID, nodeID string, spanType models.SpanType, status string, attempts int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, spanCall{op: "close", nodeID: nodeID, spanType: spanType, status: status, attempts: attempts, at: at})
	return nil
}

func (f *fakeEventStore) TouchLastEvent(context.Context, uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return nil
}

func TestStatusConsumer_PersistsTransitions(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	execID := uuid.New()

	manager := lifecycle.NewStatusManager(client, nopLogger{})
	manager.UpdateStatus(ctx, execID.String(), sdk.StatusRunning)
	manager.RecordResult(ctx, execID.String(), sdk.StatusCompleted, &sdk.ExecutionResult{
		Success: true,
		Outputs: map[string]interface{}{"Out": "done"},
	})

	store := &fakeStatusStore{}
	c := NewStatusConsumer(StatusConsumerOpts{Redis: client, Executions: store, Logger: nopLogger{}})

	require.NoError(t, client.CreateStreamGroup(ctx, lifecycle.UpdateStream, StatusGroup))
	require.NoError(t, c.processNextMessage(ctx))
	require.NoError(t, c.processNextMessage(ctx))

	require.Len(t, store.calls, 2)

	running := store.calls[0]
	require.Equal(t, "running", running.op)
	require.Equal(t, execID, running.id)
	require.WithinDuration(t, time.Now(), running.at, 5*time.Second)

	done := store.calls[1]
	require.Equal(t, "complete", done.op)
	require.Equal(t, execID, done.id)
	require.Equal(t, sdk.StatusCompleted, done.status)
	require.NotNil(t, done.result)
	require.Equal(t, "done", done.result.Outputs["Out"])
}

func TestStatusConsumer_ResolvesOffloadedResult(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	execID := uuid.New()

	cas := clients.NewRedisCASClient(client, time.Hour, nopLogger{})
	manager := lifecycle.NewStatusManager(client, nopLogger{}).WithResultOffload(cas, 512)

	big := strings.Repeat("y", 2048)
	manager.RecordResult(ctx, execID.String(), sdk.StatusCompleted, &sdk.ExecutionResult{
		Success: true,
		Outputs: map[string]interface{}{"Out": big},
	})

	store := &fakeStatusStore{}
	c := NewStatusConsumer(StatusConsumerOpts{Redis: client, Executions: store, CAS: cas, Logger: nopLogger{}})

	require.NoError(t, client.CreateStreamGroup(ctx, lifecycle.UpdateStream, StatusGroup))
	require.NoError(t, c.processNextMessage(ctx))

	require.Len(t, store.calls, 1)
	require.Equal(t, "complete", store.calls[0].op)
	require.NotNil(t, store.calls[0].result)
	require.Equal(t, big, store.calls[0].result.Outputs["Out"])
}

func TestStatusConsumer_UnknownStatusWritesNothing(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	raw, err := json.Marshal(lifecycle.StatusUpdate{
		ExecutionID: uuid.NewString(),
		Status:      "exploded",
		Timestamp:   time.Now().Unix(),
	})
	require.NoError(t, err)
	_, err = client.AddToStream(ctx, lifecycle.UpdateStream, map[string]interface{}{"update": string(raw)})
	require.NoError(t, err)

	store := &fakeStatusStore{}
	c := NewStatusConsumer(StatusConsumerOpts{Redis: client, Executions: store, Logger: nopLogger{}})

	require.NoError(t, client.CreateStreamGroup(ctx, lifecycle.UpdateStream, StatusGroup))
	// The bad record is logged and acked, never retried.
	require.NoError(t, c.processNextMessage(ctx))
	require.Empty(t, store.calls)
}

func drainEvents(t *testing.T, c *EventLogConsumer, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, c.processNextMessage(ctx))
	}
}

func TestEventLogConsumer_AppendsAndDerivesSpans(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	execID := uuid.New()

	emitter := events.NewRedisEmitter(events.RedisEmitterOpts{Redis: client, Logger: nopLogger{}})
	ch := events.NewChannel(execID.String(), emitter)
	ch.Emit(ctx, events.KindExecutionStarted, nil)
	ch.Emit(ctx, events.KindNodeStarted, map[string]interface{}{"nodeId": "B"})
	ch.Emit(ctx, events.KindNodeCompleted, map[string]interface{}{"nodeId": "B", "attempts": 2})
	ch.Emit(ctx, events.KindExecutionCompleted, nil)

	store := &fakeEventStore{}
	c := NewEventLogConsumer(EventLogConsumerOpts{
		Redis:      client,
		Events:     store,
		Executions: store,
		Logger:     nopLogger{},
	})

	require.NoError(t, client.CreateStreamGroup(ctx, events.StreamName, EventGroup))
	drainEvents(t, c, 4)

	require.Len(t, store.appended, 4)
	for i, kind := range []string{"execution_started", "node_started", "node_completed", "execution_completed"} {
		require.Equal(t, kind, store.appended[i].Kind)
		require.EqualValues(t, i, store.appended[i].TS)
		require.Equal(t, execID, store.appended[i].ExecutionID)
	}
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(store.appended[1].Payload, &payload))
	require.Equal(t, "B", payload["nodeId"])

	require.Len(t, store.spans, 4)
	require.Equal(t, spanCall{op: "start", spanType: models.SpanExecution, at: store.spans[0].at}, store.spans[0])
	require.Equal(t, spanCall{op: "start", nodeID: "B", spanType: models.SpanNode, at: store.spans[1].at}, store.spans[1])
	require.Equal(t, spanCall{op: "close", nodeID: "B", spanType: models.SpanNode, status: "completed", attempts: 2, at: store.spans[2].at}, store.spans[2])
	require.Equal(t, spanCall{op: "close", spanType: models.SpanExecution, status: "completed", at: store.spans[3].at}, store.spans[3])
	for _, s := range store.spans {
		require.WithinDuration(t, time.Now(), s.at, 5*time.Second)
	}

	require.Equal(t, 4, store.touched)
}

func TestEventLogConsumer_CancelledRunClosesSpanCancelled(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	execID := uuid.New()

	emitter := events.NewRedisEmitter(events.RedisEmitterOpts{Redis: client, Logger: nopLogger{}})
	ch := events.NewChannel(execID.String(), emitter)
	ch.Emit(ctx, events.KindExecutionStarted, nil)
	ch.Emit(ctx, events.KindExecutionFailed, map[string]interface{}{
		"kind":    sdk.ErrKindCancelled,
		"message": "execution was cancelled",
	})

	store := &fakeEventStore{}
	c := NewEventLogConsumer(EventLogConsumerOpts{
		Redis:      client,
		Events:     store,
		Executions: store,
		Logger:     nopLogger{},
	})

	require.NoError(t, client.CreateStreamGroup(ctx, events.StreamName, EventGroup))
	drainEvents(t, c, 2)

	require.Len(t, store.spans, 2)
	require.Equal(t, "close", store.spans[1].op)
	require.Equal(t, models.SpanExecution, store.spans[1].spanType)
	require.Equal(t, "cancelled", store.spans[1].status)
}

func TestEventLogConsumer_RejectsForeignChannel(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	raw, err := json.Marshal(events.Event{Channel: "not:an:execution", Kind: events.KindNodeStarted})
	require.NoError(t, err)
	_, err = client.AddToStream(ctx, events.StreamName, map[string]interface{}{"event": string(raw)})
	require.NoError(t, err)

	store := &fakeEventStore{}
	c := NewEventLogConsumer(EventLogConsumerOpts{
		Redis:      client,
		Events:     store,
		Executions: store,
		Logger:     nopLogger{},
	})

	require.NoError(t, client.CreateStreamGroup(ctx, events.StreamName, EventGroup))
	require.NoError(t, c.processNextMessage(ctx))

	require.Empty(t, store.appended)
	require.Empty(t, store.spans)
	require.Equal(t, 0, store.touched)
}
