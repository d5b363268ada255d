package sdk

import (
	"encoding/json"
	"testing"
)

func TestSubmissionValidate(t *testing.T) {
	def := json.RawMessage(`{"name":"wf"}`)

	tests := []struct {
		name    string
		sub     Submission
		wantErr bool
	}{
		{"valid", Submission{ExecutionID: "exec-1", Definition: def}, false},
		{"missing execution id", Submission{Definition: def}, true},
		{"missing definition", Submission{ExecutionID: "exec-1"}, true},
		{"concurrency in range", Submission{ExecutionID: "e", Definition: def, Options: &SubmitOptions{MaxConcurrentNodes: 64}}, false},
		{"concurrency too high", Submission{ExecutionID: "e", Definition: def, Options: &SubmitOptions{MaxConcurrentNodes: 65}}, true},
		{"concurrency negative", Submission{ExecutionID: "e", Definition: def, Options: &SubmitOptions{MaxConcurrentNodes: -1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecutionSignalValidate(t *testing.T) {
	yes := true

	tests := []struct {
		name    string
		sig     ExecutionSignal
		wantErr bool
	}{
		{"cancel", ExecutionSignal{Kind: SignalCancel, ExecutionID: "e1"}, false},
		{"cancel without execution", ExecutionSignal{Kind: SignalCancel}, true},
		{"approval", ExecutionSignal{Kind: SignalApproval, ExecutionID: "e1", NodeID: "review", Approved: &yes}, false},
		{"approval without node", ExecutionSignal{Kind: SignalApproval, ExecutionID: "e1", Approved: &yes}, true},
		{"approval without decision", ExecutionSignal{Kind: SignalApproval, ExecutionID: "e1", NodeID: "review"}, true},
		{"unknown kind", ExecutionSignal{Kind: "pause", ExecutionID: "e1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sig.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmissionRoundTrip(t *testing.T) {
	sub := Submission{
		ExecutionID: "exec-9",
		Definition:  json.RawMessage(`{"name":"wf","entry_point":"in"}`),
		Inputs:      map[string]interface{}{"region": "eu"},
		Options: &SubmitOptions{
			MaxConcurrentNodes: 4,
			RetryPolicy:        map[string]interface{}{"maxRetries": float64(5)},
		},
	}
	data, err := json.Marshal(&sub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Submission
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ExecutionID != "exec-9" || back.Options.MaxConcurrentNodes != 4 {
		t.Errorf("Expected fields to survive the trip, got %+v", back)
	}
	if v, ok := back.Options.RetryPolicy["maxRetries"].(float64); !ok || v != 5 {
		t.Errorf("Expected retryPolicy.maxRetries 5, got %v", back.Options.RetryPolicy)
	}
}
