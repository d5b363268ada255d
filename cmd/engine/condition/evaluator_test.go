package condition

import (
	"strings"
	"testing"
)

func TestEvalBool_InputsAndVars(t *testing.T) {
	e := NewEvaluator()
	b := Bindings{
		Inputs: map[string]interface{}{"count": 5},
		Vars:   map[string]interface{}{"mode": "fast"},
	}

	got, err := e.EvalBool(`inputs.count > 1 && vars.mode == "fast"`, b)
	if err != nil {
		t.Fatalf("EvalBool failed: %v", err)
	}
	if !got {
		t.Errorf("Expected true, got false")
	}
}

func TestEvalBool_OutputShorthand(t *testing.T) {
	e := NewEvaluator()
	b := Bindings{
		Output: map[string]interface{}{"approved": true},
	}

	// $.field is rewritten to output.field before compilation.
	got, err := e.EvalBool(`$.approved == true`, b)
	if err != nil {
		t.Fatalf("EvalBool failed: %v", err)
	}
	if !got {
		t.Errorf("Expected true for $.approved, got false")
	}
}

func TestEvalBool_NodeOutputs(t *testing.T) {
	e := NewEvaluator()
	b := Bindings{
		Outputs: map[string]interface{}{
			"fetch": map[string]interface{}{"total": 42},
		},
	}

	got, err := e.EvalBool(`outputs.fetch.total >= 40`, b)
	if err != nil {
		t.Fatalf("EvalBool failed: %v", err)
	}
	if !got {
		t.Errorf("Expected true, got false")
	}
}

func TestEvalBool_LoopBindings(t *testing.T) {
	e := NewEvaluator()
	b := Bindings{
		Item:      "b",
		Index:     1,
		Iteration: 1,
	}

	got, err := e.EvalBool(`item == "b" && index == 1 && iteration < 3`, b)
	if err != nil {
		t.Fatalf("EvalBool failed: %v", err)
	}
	if !got {
		t.Errorf("Expected true for loop bindings, got false")
	}
}

func TestEvalBool_NonBooleanResult(t *testing.T) {
	e := NewEvaluator()

	_, err := e.EvalBool(`1 + 1`, Bindings{})
	if err == nil {
		t.Fatalf("Expected error for non-boolean result")
	}
	if !strings.Contains(err.Error(), "did not return boolean") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestEvalBool_CompileError(t *testing.T) {
	e := NewEvaluator()

	_, err := e.EvalBool(`inputs.`, Bindings{})
	if err == nil {
		t.Fatalf("Expected compilation error")
	}

	_, err = e.EvalBool("", Bindings{})
	if err == nil {
		t.Fatalf("Expected error for empty expression")
	}
}

func TestEvalValue_SwitchExpression(t *testing.T) {
	e := NewEvaluator()
	b := Bindings{
		Inputs: map[string]interface{}{"region": "eu"},
	}

	got, err := e.EvalValue(`inputs.region`, b)
	if err != nil {
		t.Fatalf("EvalValue failed: %v", err)
	}
	if got != "eu" {
		t.Errorf("Expected eu, got %v", got)
	}
}

func TestEvaluator_CacheReuse(t *testing.T) {
	e := NewEvaluator()
	b := Bindings{Inputs: map[string]interface{}{"x": 1}}

	for i := 0; i < 3; i++ {
		if _, err := e.EvalBool(`inputs.x == 1`, b); err != nil {
			t.Fatalf("EvalBool failed: %v", err)
		}
	}
	if e.CacheSize() != 1 {
		t.Errorf("Expected 1 cached program, got %d", e.CacheSize())
	}

	e.ClearCache()
	if e.CacheSize() != 0 {
		t.Errorf("Expected empty cache after clear, got %d", e.CacheSize())
	}
}
