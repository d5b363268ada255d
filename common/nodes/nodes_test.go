package nodes

import (
	"context"
	"errors"
	"testing"
)

type stubHandler struct {
	kind string
	resp Response
}

func (s *stubHandler) Kind() string { return s.kind }

func (s *stubHandler) Execute(_ context.Context, _ Request) Response { return s.resp }

func TestRegistry_DispatchesByKind(t *testing.T) {
	reg := NewRegistry(
		&stubHandler{kind: "noop", resp: Succeed(map[string]interface{}{"ok": true}, nil)},
		&stubHandler{kind: "delay", resp: Fail(ErrorTypeTimeout, "too slow", true)},
	)

	resp := reg.Execute(context.Background(), Request{NodeType: "noop"})
	if !resp.Success {
		t.Fatalf("Expected success, got error %v", resp.Error)
	}
	if resp.Result["ok"] != true {
		t.Errorf("Expected ok=true result, got %v", resp.Result)
	}

	resp = reg.Execute(context.Background(), Request{NodeType: "delay"})
	if resp.Success || resp.Error.Type != ErrorTypeTimeout {
		t.Errorf("Expected timeout error, got %+v", resp)
	}
}

func TestRegistry_UnknownKindIsTerminal(t *testing.T) {
	reg := NewRegistry()
	resp := reg.Execute(context.Background(), Request{NodeType: "quantum"})
	if resp.Success {
		t.Fatal("Expected failure for unknown kind")
	}
	if resp.Error.Type != ErrorTypeNotFound {
		t.Errorf("Expected not_found, got %s", resp.Error.Type)
	}
	if resp.Error.Retryable {
		t.Error("Expected unknown kind to be non-retryable")
	}
}

func TestRegistry_Kinds(t *testing.T) {
	reg := NewRegistry(&stubHandler{kind: "http"}, &stubHandler{kind: "db"}, &stubHandler{kind: "llm"})
	kinds := reg.Kinds()
	want := []string{"db", "http", "llm"}
	if len(kinds) != len(want) {
		t.Fatalf("Expected %d kinds, got %d", len(want), len(kinds))
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("Expected kind %s at position %d, got %s", k, i, kinds[i])
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code      int
		wantType  string
		retryable bool
	}{
		{429, ErrorTypeRateLimit, true},
		{408, ErrorTypeTimeout, true},
		{401, ErrorTypePermission, false},
		{403, ErrorTypePermission, false},
		{404, ErrorTypeNotFound, false},
		{500, ErrorTypeServerError, true},
		{503, ErrorTypeServerError, true},
		{400, ErrorTypeValidation, false},
		{422, ErrorTypeValidation, false},
	}
	for _, tt := range tests {
		gotType, gotRetry := ClassifyStatus(tt.code)
		if gotType != tt.wantType || gotRetry != tt.retryable {
			t.Errorf("status %d: expected (%s, %v), got (%s, %v)",
				tt.code, tt.wantType, tt.retryable, gotType, gotRetry)
		}
	}
}

func TestClassify_ContextErrors(t *testing.T) {
	nodeErr := Classify(context.DeadlineExceeded)
	if nodeErr.Type != ErrorTypeTimeout || !nodeErr.Retryable {
		t.Errorf("Expected retryable timeout for deadline, got %+v", nodeErr)
	}

	nodeErr = Classify(context.Canceled)
	if nodeErr.Type != ErrorTypeOther || nodeErr.Retryable {
		t.Errorf("Expected non-retryable other for cancel, got %+v", nodeErr)
	}

	nodeErr = Classify(errors.New("boom"))
	if nodeErr.Type != ErrorTypeOther {
		t.Errorf("Expected other for plain error, got %s", nodeErr.Type)
	}
}
