package nodes

import (
	"context"
	"testing"
)

func mustTransform(t *testing.T) *Transform {
	t.Helper()
	tr, err := NewTransform()
	if err != nil {
		t.Fatalf("Failed to create transform handler: %v", err)
	}
	return tr
}

func runTransform(t *testing.T, config map[string]interface{}) Response {
	t.Helper()
	return mustTransform(t).Execute(context.Background(), Request{
		NodeType: "transform",
		Config:   config,
		Meta:     Meta{ExecutionID: "exec-1", NodeID: "T1"},
	})
}

func TestTransform_CELMode(t *testing.T) {
	resp := runTransform(t, map[string]interface{}{
		"mode":       "cel",
		"expression": "input.a + input.b",
		"input":      map[string]interface{}{"a": 2.0, "b": 3.0},
	})
	if !resp.Success {
		t.Fatalf("Expected success, got %v", resp.Error)
	}
	if resp.Result["result"] != 5.0 {
		t.Errorf("Expected result 5, got %v", resp.Result["result"])
	}
}

func TestTransform_ExprMode(t *testing.T) {
	resp := runTransform(t, map[string]interface{}{
		"mode":       "expr",
		"expression": `upper(input.name)`,
		"input":      map[string]interface{}{"name": "ada"},
	})
	if !resp.Success {
		t.Fatalf("Expected success, got %v", resp.Error)
	}
	if resp.Result["result"] != "ADA" {
		t.Errorf("Expected ADA, got %v", resp.Result["result"])
	}
}

func TestTransform_JSONPatchMode(t *testing.T) {
	resp := runTransform(t, map[string]interface{}{
		"mode": "jsonpatch",
		"patch": []interface{}{
			map[string]interface{}{"op": "replace", "path": "/status", "value": "done"},
			map[string]interface{}{"op": "add", "path": "/count", "value": 3.0},
		},
		"input": map[string]interface{}{"status": "open"},
	})
	if !resp.Success {
		t.Fatalf("Expected success, got %v", resp.Error)
	}
	doc, ok := resp.Result["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected object result, got %T", resp.Result["result"])
	}
	if doc["status"] != "done" {
		t.Errorf("Expected status done, got %v", doc["status"])
	}
	if doc["count"] != 3.0 {
		t.Errorf("Expected count 3, got %v", doc["count"])
	}
}

func TestTransform_PickMode(t *testing.T) {
	resp := runTransform(t, map[string]interface{}{
		"mode": "pick",
		"path": "items.1.name",
		"input": map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{"name": "first"},
				map[string]interface{}{"name": "second"},
			},
		},
	})
	if !resp.Success {
		t.Fatalf("Expected success, got %v", resp.Error)
	}
	if resp.Result["result"] != "second" {
		t.Errorf("Expected second, got %v", resp.Result["result"])
	}
}

func TestTransform_PickMissingPath(t *testing.T) {
	resp := runTransform(t, map[string]interface{}{
		"mode":  "pick",
		"path":  "missing.key",
		"input": map[string]interface{}{"a": 1.0},
	})
	if resp.Success {
		t.Fatal("Expected failure for missing path")
	}
	if resp.Error.Type != ErrorTypeValidation {
		t.Errorf("Expected validation error, got %s", resp.Error.Type)
	}
}

func TestTransform_UnknownMode(t *testing.T) {
	resp := runTransform(t, map[string]interface{}{"mode": "yaml"})
	if resp.Success || resp.Error.Type != ErrorTypeValidation {
		t.Errorf("Expected validation failure, got %+v", resp)
	}
}

func TestTransform_DefaultsToRequestContext(t *testing.T) {
	tr := mustTransform(t)
	resp := tr.Execute(context.Background(), Request{
		NodeType: "transform",
		Config: map[string]interface{}{
			"mode":       "cel",
			"expression": "input.vars.region",
		},
		Context: map[string]interface{}{
			"vars": map[string]interface{}{"region": "eu"},
		},
	})
	if !resp.Success {
		t.Fatalf("Expected success, got %v", resp.Error)
	}
	if resp.Result["result"] != "eu" {
		t.Errorf("Expected eu, got %v", resp.Result["result"])
	}
}
