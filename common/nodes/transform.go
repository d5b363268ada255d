package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/cel-go/cel"
	"github.com/tidwall/gjson"
)

// Transform reshapes data for transform nodes. Four modes:
//
//	cel        evaluate a CEL expression over the input
//	expr       evaluate an expr-lang expression over the input
//	jsonpatch  apply an RFC 6902 patch to the input
//	pick       extract one value by gjson path
//
// The input document comes from config "input" when present, else the
// request context. Compiled programs are cached per expression.
type Transform struct {
	mu        sync.RWMutex
	celEnv    *cel.Env
	celCache  map[string]cel.Program
	exprCache map[string]*vm.Program
}

func NewTransform() (*Transform, error) {
	env, err := cel.NewEnv(cel.Variable("input", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create cel environment: %w", err)
	}
	return &Transform{
		celEnv:    env,
		celCache:  make(map[string]cel.Program),
		exprCache: make(map[string]*vm.Program),
	}, nil
}

func (t *Transform) Kind() string { return "transform" }

func (t *Transform) Execute(ctx context.Context, req Request) Response {
	mode, _ := req.Config["mode"].(string)
	if mode == "" {
		return Fail(ErrorTypeValidation, "transform node requires a mode", false)
	}

	input, ok := req.Config["input"]
	if !ok {
		input = mapToAny(req.Context)
	}

	start := time.Now()
	var (
		result interface{}
		err    error
	)
	switch mode {
	case "cel":
		result, err = t.evalCEL(req.Config, input)
	case "expr":
		result, err = t.evalExpr(req.Config, input)
	case "jsonpatch":
		result, err = t.applyPatch(req.Config, input)
	case "pick":
		result, err = t.pick(req.Config, input)
	default:
		return Fail(ErrorTypeValidation, fmt.Sprintf("unknown transform mode %q", mode), false)
	}
	if err != nil {
		return Fail(ErrorTypeValidation, err.Error(), false)
	}

	return Succeed(map[string]interface{}{
		"result": result,
	}, &Metrics{DurationMs: time.Since(start).Milliseconds()})
}

func (t *Transform) evalCEL(config map[string]interface{}, input interface{}) (interface{}, error) {
	expression, _ := config["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("cel mode requires an expression")
	}

	t.mu.RLock()
	prg, ok := t.celCache[expression]
	t.mu.RUnlock()
	if !ok {
		ast, issues := t.celEnv.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
		}
		var err error
		prg, err = t.celEnv.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to build program: %w", err)
		}
		t.mu.Lock()
		t.celCache[expression] = prg
		t.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{"input": input})
	if err != nil {
		return nil, fmt.Errorf("expression evaluation failed: %w", err)
	}
	return out.Value(), nil
}

func (t *Transform) evalExpr(config map[string]interface{}, input interface{}) (interface{}, error) {
	expression, _ := config["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("expr mode requires an expression")
	}

	t.mu.RLock()
	prg, ok := t.exprCache[expression]
	t.mu.RUnlock()
	if !ok {
		var err error
		prg, err = expr.Compile(expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression: %w", err)
		}
		t.mu.Lock()
		t.exprCache[expression] = prg
		t.mu.Unlock()
	}

	result, err := expr.Run(prg, map[string]interface{}{"input": input})
	if err != nil {
		return nil, fmt.Errorf("expression evaluation failed: %w", err)
	}
	return result, nil
}

func (t *Transform) applyPatch(config map[string]interface{}, input interface{}) (interface{}, error) {
	rawPatch, ok := config["patch"]
	if !ok {
		return nil, fmt.Errorf("jsonpatch mode requires a patch")
	}
	patchJSON, err := json.Marshal(rawPatch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}

	doc, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}
	modified, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("patch failed: %w", err)
	}

	var result interface{}
	if err := json.Unmarshal(modified, &result); err != nil {
		return nil, fmt.Errorf("failed to decode patched document: %w", err)
	}
	return result, nil
}

func (t *Transform) pick(config map[string]interface{}, input interface{}) (interface{}, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("pick mode requires a path")
	}
	doc, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}
	value := gjson.GetBytes(doc, path)
	if !value.Exists() {
		return nil, fmt.Errorf("path %q matched nothing", path)
	}
	return value.Value(), nil
}

func mapToAny(m map[string]interface{}) interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
