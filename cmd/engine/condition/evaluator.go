// Package condition evaluates CEL expressions for conditional nodes,
// switch routing and while-loop guards.
package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Bindings is the variable set visible to workflow expressions.
// Fields map 1:1 onto CEL identifiers.
type Bindings struct {
	Inputs    map[string]interface{} // workflow inputs
	Vars      map[string]interface{} // mutable variables
	Outputs   map[string]interface{} // node outputs by node ID
	Output    interface{}            // upstream output of the deciding node
	Item      interface{}            // current loop item, nil outside loops
	Index     int                    // current loop item index
	Iteration int                    // completed iterations of the active loop
}

func (b Bindings) activation() map[string]interface{} {
	return map[string]interface{}{
		"inputs":    orEmpty(b.Inputs),
		"vars":      orEmpty(b.Vars),
		"outputs":   orEmpty(b.Outputs),
		"output":    b.Output,
		"item":      b.Item,
		"index":     b.Index,
		"iteration": b.Iteration,
	}
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// Evaluator compiles and evaluates CEL expressions with a program cache.
// Safe for concurrent use.
type Evaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]cel.Program),
	}
}

// EvalBool evaluates a guard expression. The result must be a boolean.
func (e *Evaluator) EvalBool(expr string, b Bindings) (bool, error) {
	out, err := e.eval(expr, b)
	if err != nil {
		return false, err
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return boolean, got %T", out)
	}
	return result, nil
}

// EvalValue evaluates an expression to its raw value, used by switch
// nodes to pick a case handle.
func (e *Evaluator) EvalValue(expr string, b Bindings) (interface{}, error) {
	return e.eval(expr, b)
}

func (e *Evaluator) eval(expr string, b Bindings) (interface{}, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty expression")
	}

	// JSONPath-style $.field is shorthand for output.field.
	normalized := strings.ReplaceAll(expr, "$.", "output.")

	e.mu.RLock()
	prg, exists := e.cache[normalized]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(normalized)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		e.cache[normalized] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(b.activation())
	if err != nil {
		return nil, fmt.Errorf("expression evaluation error: %w", err)
	}
	return out.Value(), nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("inputs", cel.DynType),
		cel.Variable("vars", cel.DynType),
		cel.Variable("outputs", cel.DynType),
		cel.Variable("output", cel.DynType),
		cel.Variable("item", cel.DynType),
		cel.Variable("index", cel.IntType),
		cel.Variable("iteration", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return prg, nil
}

// ClearCache drops all compiled programs.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize returns the number of cached programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
