package governor

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/weftlabs/weft/cmd/engine/execctx"
)

// payload returns a value whose canonical form is exactly n bytes:
// {"p":"..."} carries 8 bytes of framing around the fill.
func payload(n int) map[string]interface{} {
	return map[string]interface{}{"p": strings.Repeat("x", n-8)}
}

func TestAdmit_WithinBudget(t *testing.T) {
	g := New(Limits{MaxNodeOutputBytes: 100, MaxContextBytes: 1000})
	snap := execctx.New("wf", "ex", nil)

	snap, report, err := g.Admit(snap, "a", payload(50), nil)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if report.Size != 50 {
		t.Errorf("Expected size 50, got %d", report.Size)
	}
	if snap.TotalBytes != 50 {
		t.Errorf("Expected total 50, got %d", snap.TotalBytes)
	}
	if report.Truncated || len(report.Evicted) != 0 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestAdmit_OutputTooLarge(t *testing.T) {
	g := New(Limits{MaxNodeOutputBytes: 40, MaxContextBytes: 1000})
	snap := execctx.New("wf", "ex", nil)

	_, _, err := g.Admit(snap, "a", payload(41), nil)
	if err == nil {
		t.Fatalf("Expected OUTPUT_TOO_LARGE")
	}
	var limitErr *LimitError
	if !errors.As(err, &limitErr) || limitErr.Code != CodeOutputTooLarge {
		t.Errorf("Expected LimitError with OUTPUT_TOO_LARGE, got %v", err)
	}

	// Exactly at the cap is accepted.
	if _, _, err := g.Admit(snap, "a", payload(40), nil); err != nil {
		t.Errorf("Output at exactly the cap should be accepted, got %v", err)
	}
}

func TestAdmit_TruncateMode(t *testing.T) {
	g := New(Limits{MaxNodeOutputBytes: 1000, MaxContextBytes: 10000, TruncateOversized: true})
	snap := execctx.New("wf", "ex", nil)

	snap, report, err := g.Admit(snap, "a", payload(2000), nil)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !report.Truncated {
		t.Fatalf("Expected truncation, got %+v", report)
	}
	if report.Size > 1000 {
		t.Errorf("Marker must fit the per-node cap, got %d", report.Size)
	}
	out := snap.NodeOutputs["a"].(map[string]interface{})
	if out["truncated"] != true {
		t.Errorf("Expected truncation marker, got %v", out)
	}
	if out["original_bytes"] != int64(2000) {
		t.Errorf("Expected original_bytes 2000, got %v", out["original_bytes"])
	}
	if out["reason"] != CodeOutputTooLarge {
		t.Errorf("Expected reason %s, got %v", CodeOutputTooLarge, out["reason"])
	}
	preview, ok := out["preview"].(string)
	if !ok || !strings.HasPrefix(preview, `{"p":"xxx`) {
		t.Errorf("Expected canonical preview, got %v", out["preview"])
	}
}

func TestAdmit_TruncateDropsPreviewUnderTightCap(t *testing.T) {
	g := New(Limits{MaxNodeOutputBytes: 100, MaxContextBytes: 10000, TruncateOversized: true})
	snap := execctx.New("wf", "ex", nil)

	snap, report, err := g.Admit(snap, "a", payload(2000), nil)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !report.Truncated || report.Size > 100 {
		t.Fatalf("Expected marker within cap, got %+v", report)
	}
	out := snap.NodeOutputs["a"].(map[string]interface{})
	if _, ok := out["preview"]; ok {
		t.Errorf("Preview should be dropped under a tight cap")
	}
}

func TestAdmit_EvictsOldestFirst(t *testing.T) {
	g := New(Limits{MaxNodeOutputBytes: 100, MaxContextBytes: 120})
	snap := execctx.New("wf", "ex", nil)

	var err error
	for _, id := range []string{"a", "b", "c"} {
		snap, _, err = g.Admit(snap, id, payload(40), nil)
		if err != nil {
			t.Fatalf("Admit %s failed: %v", id, err)
		}
	}

	// 40*3 = 120 stored; the next 40 forces the oldest out.
	snap, report, err := g.Admit(snap, "d", payload(40), nil)
	if err != nil {
		t.Fatalf("Admit d failed: %v", err)
	}
	if !reflect.DeepEqual(report.Evicted, []string{"a"}) {
		t.Errorf("Expected eviction [a], got %v", report.Evicted)
	}
	if snap.TotalBytes != 120 {
		t.Errorf("Expected total 120, got %d", snap.TotalBytes)
	}
	if !snap.PrunedOutputs["a"] {
		t.Errorf("Evicted output must be recorded as pruned")
	}
	if !reflect.DeepEqual(snap.InsertionOrder, []string{"b", "c", "d"}) {
		t.Errorf("Expected order [b c d], got %v", snap.InsertionOrder)
	}
}

func TestAdmit_EvictionSkipsRequired(t *testing.T) {
	g := New(Limits{MaxNodeOutputBytes: 100, MaxContextBytes: 120})
	snap := execctx.New("wf", "ex", nil)

	var err error
	for _, id := range []string{"a", "b", "c"} {
		snap, _, err = g.Admit(snap, id, payload(40), nil)
		if err != nil {
			t.Fatalf("Admit %s failed: %v", id, err)
		}
	}

	required := func(id string) bool { return id == "a" }
	snap, report, err := g.Admit(snap, "d", payload(40), required)
	if err != nil {
		t.Fatalf("Admit d failed: %v", err)
	}
	if !reflect.DeepEqual(report.Evicted, []string{"b"}) {
		t.Errorf("Expected eviction to skip the protected output, got %v", report.Evicted)
	}
	if _, ok := snap.NodeOutputs["a"]; !ok {
		t.Errorf("Protected output must survive")
	}
}

func TestAdmit_ContextOverflow(t *testing.T) {
	g := New(Limits{MaxNodeOutputBytes: 100, MaxContextBytes: 100})
	snap := execctx.New("wf", "ex", nil)

	snap, _, err := g.Admit(snap, "a", payload(60), nil)
	if err != nil {
		t.Fatalf("Admit a failed: %v", err)
	}

	// Everything already stored is protected, so nothing can move.
	required := func(string) bool { return true }
	_, report, err := g.Admit(snap, "b", payload(60), required)
	if err == nil {
		t.Fatalf("Expected CONTEXT_OVERFLOW")
	}
	var limitErr *LimitError
	if !errors.As(err, &limitErr) || limitErr.Code != CodeContextOverflow {
		t.Errorf("Expected LimitError with CONTEXT_OVERFLOW, got %v", err)
	}
	if len(report.Evicted) != 0 {
		t.Errorf("Failed admission must not report evictions, got %v", report.Evicted)
	}
	if snap.TotalBytes != 60 {
		t.Errorf("Snapshot must be unchanged on failure, got total %d", snap.TotalBytes)
	}
}

func TestAdmit_ReplacementFreesOldBytes(t *testing.T) {
	g := New(Limits{MaxNodeOutputBytes: 100, MaxContextBytes: 100})
	snap := execctx.New("wf", "ex", nil)

	snap, _, err := g.Admit(snap, "a", payload(80), nil)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	// Rewriting the same node must count against the freed slot, not
	// on top of it.
	snap, report, err := g.Admit(snap, "a", payload(90), nil)
	if err != nil {
		t.Fatalf("Admit rewrite failed: %v", err)
	}
	if len(report.Evicted) != 0 {
		t.Errorf("Rewrite should not evict, got %v", report.Evicted)
	}
	if snap.TotalBytes != 90 {
		t.Errorf("Expected total 90 after rewrite, got %d", snap.TotalBytes)
	}
}
