package nodes

import (
	"context"
	"testing"
	"time"
)

func TestDelay_UsesConfiguredDuration(t *testing.T) {
	var slept time.Duration
	h := NewDelayWithSleeper(func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	})

	resp := h.Execute(context.Background(), Request{
		NodeType: "delay",
		Config:   map[string]interface{}{"duration_ms": 1500.0},
	})
	if !resp.Success {
		t.Fatalf("Expected success, got %v", resp.Error)
	}
	if slept != 1500*time.Millisecond {
		t.Errorf("Expected 1500ms sleep, got %v", slept)
	}
	if resp.Result["delayed_ms"] != int64(1500) {
		t.Errorf("Expected delayed_ms 1500, got %v", resp.Result["delayed_ms"])
	}
}

func TestDelay_MissingDuration(t *testing.T) {
	h := NewDelay()
	resp := h.Execute(context.Background(), Request{NodeType: "delay", Config: map[string]interface{}{}})
	if resp.Success || resp.Error.Type != ErrorTypeValidation {
		t.Errorf("Expected validation failure, got %+v", resp)
	}
}

func TestDelay_CancelledContext(t *testing.T) {
	h := NewDelay()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := h.Execute(ctx, Request{
		NodeType: "delay",
		Config:   map[string]interface{}{"duration_ms": 60000.0},
	})
	if resp.Success {
		t.Fatal("Expected failure on cancelled context")
	}
}

func TestNoop_EchoesConfig(t *testing.T) {
	h := NewNoop()
	resp := h.Execute(context.Background(), Request{
		NodeType: "noop",
		Config:   map[string]interface{}{"tag": "probe"},
	})
	if !resp.Success {
		t.Fatalf("Expected success, got %v", resp.Error)
	}
	if resp.Result["tag"] != "probe" {
		t.Errorf("Expected config echo, got %v", resp.Result)
	}
}
