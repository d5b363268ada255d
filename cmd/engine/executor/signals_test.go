package executor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/cmd/engine/compiler"
	"github.com/weftlabs/weft/cmd/engine/events"
	"github.com/weftlabs/weft/cmd/engine/lifecycle"
	"github.com/weftlabs/weft/cmd/engine/runtime"
	"github.com/weftlabs/weft/common/nodes"
	"github.com/weftlabs/weft/common/sdk"
)

type captureSink struct {
	mu       sync.Mutex
	execID   string
	nodeID   string
	decision nodes.Decision
	calls    int
}

func (s *captureSink) Resolve(_ context.Context, executionID, nodeID string, d nodes.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.execID = executionID
	s.nodeID = nodeID
	s.decision = d
	return nil
}

func signalJSON(t *testing.T, sig *sdk.ExecutionSignal) string {
	t.Helper()
	raw, err := json.Marshal(sig)
	require.NoError(t, err)
	return string(raw)
}

func TestSignalRouter_CancelStopsTrackedRun(t *testing.T) {
	router := NewSignalRouter(SignalRouterOpts{Logger: nopLogger{}})

	runCtx, cancel := context.WithCancel(context.Background())
	router.Track("ex-1", cancel)
	defer cancel()

	payload := signalJSON(t, &sdk.ExecutionSignal{
		Kind:        sdk.SignalCancel,
		ExecutionID: "ex-1",
	})
	require.NoError(t, router.handle(context.Background(), payload))

	select {
	case <-runCtx.Done():
	default:
		t.Fatal("Expected the tracked context to be cancelled")
	}
}

func TestSignalRouter_CancelForUnknownExecutionIsConsumed(t *testing.T) {
	router := NewSignalRouter(SignalRouterOpts{Logger: nopLogger{}})

	payload := signalJSON(t, &sdk.ExecutionSignal{
		Kind:        sdk.SignalCancel,
		ExecutionID: "ex-gone",
	})
	// A finished or foreign execution is not an error: the signal is
	// dropped, not retried.
	require.NoError(t, router.handle(context.Background(), payload))
}

func TestSignalRouter_ApprovalRoutesToSink(t *testing.T) {
	sink := &captureSink{}
	router := NewSignalRouter(SignalRouterOpts{Approvals: sink, Logger: nopLogger{}})

	approved := true
	payload := signalJSON(t, &sdk.ExecutionSignal{
		Kind:        sdk.SignalApproval,
		ExecutionID: "ex-2",
		NodeID:      "Gate",
		Approved:    &approved,
		Comment:     "lgtm",
		Approver:    "ana",
	})
	require.NoError(t, router.handle(context.Background(), payload))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, 1, sink.calls)
	require.Equal(t, "ex-2", sink.execID)
	require.Equal(t, "Gate", sink.nodeID)
	require.Equal(t, nodes.Decision{Approved: true, Comment: "lgtm", By: "ana"}, sink.decision)
}

func TestSignalRouter_RejectsBadSignals(t *testing.T) {
	router := NewSignalRouter(SignalRouterOpts{Approvals: &captureSink{}, Logger: nopLogger{}})
	ctx := context.Background()

	require.Error(t, router.handle(ctx, "{not json"))

	// Approval without a node fails validation before routing.
	require.Error(t, router.handle(ctx, signalJSON(t, &sdk.ExecutionSignal{
		Kind:        sdk.SignalApproval,
		ExecutionID: "ex-3",
	})))

	require.Error(t, router.handle(ctx, signalJSON(t, &sdk.ExecutionSignal{
		Kind:        "pause",
		ExecutionID: "ex-3",
	})))
}

func TestHubSink_ResolvesWaiter(t *testing.T) {
	hub := nodes.NewApprovalHub()
	sink := HubSink{Hub: hub}

	type outcome struct {
		d   nodes.Decision
		err error
	}
	got := make(chan outcome, 1)
	go func() {
		d, err := hub.Await(context.Background(), "ex-4", "Gate")
		got <- outcome{d, err}
	}()

	// The hub parks decisions that beat their waiter, so ordering does
	// not matter here.
	require.NoError(t, sink.Resolve(context.Background(), "ex-4", "Gate",
		nodes.Decision{Approved: false, Comment: "nope", By: "bo"}))

	select {
	case o := <-got:
		require.NoError(t, o.err)
		require.Equal(t, nodes.Decision{Approved: false, Comment: "nope", By: "bo"}, o.d)
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not resolve")
	}
}

// TestConsumer_CancelSignalStopsRun covers the full path: a running
// execution is cancelled by a signal popped off the signal list.
func TestConsumer_CancelSignalStopsRun(t *testing.T) {
	client := testRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entered := make(chan struct{}, 1)
	reg := nodes.NewRegistry(&stubHandler{kind: compiler.KindTransform,
		fn: func(nodeCtx context.Context, _ nodes.Request) nodes.Response {
			entered <- struct{}{}
			<-nodeCtx.Done()
			return nodes.FailErr(nodes.Classify(nodeCtx.Err()))
		}})

	router := NewSignalRouter(SignalRouterOpts{Redis: client, Logger: nopLogger{}})
	status := lifecycle.NewStatusManager(client, nopLogger{})
	consumer := NewConsumer(ConsumerOpts{
		Redis:        client,
		Orchestrator: newTestOrchestrator(reg, events.NewBufferEmitter(), nil),
		Status:       status,
		Signals:      router,
		Logger:       nopLogger{},
	})

	go router.Start(ctx)

	def := linearDefinition(t)
	done := make(chan struct{})
	go func() {
		consumer.Execute(ctx, &sdk.Submission{ExecutionID: "ex-sig", Definition: def})
		close(done)
	}()

	<-entered
	require.Equal(t, 1, router.ActiveCount())
	require.NoError(t, client.PushToList(ctx, runtime.SignalList, signalJSON(t, &sdk.ExecutionSignal{
		Kind:        sdk.SignalCancel,
		ExecutionID: "ex-sig",
	})))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Execution did not stop after the cancel signal")
	}

	st, result, err := status.Load(ctx, "ex-sig")
	require.NoError(t, err)
	require.Equal(t, sdk.StatusCancelled, st)
	require.NotNil(t, result)
	require.NotNil(t, result.Error)
	require.Equal(t, sdk.ErrKindCancelled, result.Error.Kind)
	require.Equal(t, 0, router.ActiveCount())
}
