package execctx

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Resolution failure codes surfaced to node failures.
const (
	CodeVariableNotFound = "VARIABLE_NOT_FOUND"
	CodeOutputPruned     = "OUTPUT_PRUNED"
)

// RefError reports a template reference that could not be resolved.
type RefError struct {
	Code string
	Ref  string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("%s: {{%s}}", strings.ToLower(e.Code), e.Ref)
}

// ResolveConfig interpolates every template token in a node config.
// overlay supplies transient roots (branch variables) that shadow
// nothing and exist only for the duration of one dispatch.
func (s *Snapshot) ResolveConfig(config map[string]interface{}, overlay map[string]interface{}) (map[string]interface{}, error) {
	out, err := s.ResolveValue(config, overlay)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.(map[string]interface{}), nil
}

// ResolveValue interpolates template tokens in an arbitrary JSON value.
func (s *Snapshot) ResolveValue(v interface{}, overlay map[string]interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			r, err := s.ResolveValue(val, overlay)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			r, err := s.ResolveValue(val, overlay)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case string:
		return s.resolveString(t, overlay)
	default:
		return v, nil
	}
}

// resolveString handles the two template forms. A string that is
// exactly one token resolves to the referenced value with its type
// intact; tokens embedded in a longer string are coerced to text.
func (s *Snapshot) resolveString(str string, overlay map[string]interface{}) (interface{}, error) {
	if ref, ok := SingleRef(str); ok {
		return s.lookup(ref, overlay)
	}
	refs := ScanRefs(str)
	if len(refs) == 0 {
		return str, nil
	}
	out := str
	for _, ref := range refs {
		v, err := s.lookup(ref, overlay)
		if err != nil {
			return nil, err
		}
		out = strings.Replace(out, ref.Raw, coerce(v), 1)
	}
	return out, nil
}

func (s *Snapshot) lookup(ref Ref, overlay map[string]interface{}) (interface{}, error) {
	if ref.IsNodeOutput() {
		if s.PrunedOutputs[ref.Root] {
			return nil, &RefError{Code: CodeOutputPruned, Ref: ref.Expr()}
		}
		out, ok := s.NodeOutputs[ref.Root]
		if !ok {
			return nil, &RefError{Code: CodeVariableNotFound, Ref: ref.Expr()}
		}
		if len(ref.Segments) == 1 {
			return out, nil
		}
		return extractPath(out, ref.Segments[1:], ref)
	}

	if ref.Root == "inputs" {
		if len(ref.Segments) == 0 {
			return s.Inputs, nil
		}
		res := gjson.GetBytes(s.inputsRaw, strings.Join(ref.Segments, "."))
		if !res.Exists() {
			return nil, &RefError{Code: CodeVariableNotFound, Ref: ref.Expr()}
		}
		return res.Value(), nil
	}

	base, ok := overlay[ref.Root]
	if !ok {
		base, ok = s.Variables[ref.Root]
	}
	if !ok {
		return nil, &RefError{Code: CodeVariableNotFound, Ref: ref.Expr()}
	}
	if len(ref.Segments) == 0 {
		return base, nil
	}
	return extractPath(base, ref.Segments, ref)
}

func extractPath(base interface{}, segments []string, ref Ref) (interface{}, error) {
	raw, err := CanonicalJSON(base)
	if err != nil {
		return nil, fmt.Errorf("resolve {{%s}}: %w", ref.Expr(), err)
	}
	res := gjson.GetBytes(raw, strings.Join(segments, "."))
	if !res.Exists() {
		return nil, &RefError{Code: CodeVariableNotFound, Ref: ref.Expr()}
	}
	return res.Value(), nil
}

// coerce renders a resolved value for embedding inside a string.
func coerce(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case map[string]interface{}, []interface{}:
		raw, err := CanonicalJSON(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", t)
	}
}
