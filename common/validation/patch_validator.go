package validation

import (
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Paths a patch may touch. Everything else in the definition (version
// in particular) is managed by the platform, not by clients.
var allowedPrefixes = []string{"/name", "/entry_point", "/nodes", "/edges"}

// Containers that must survive a patch; they can be edited but not
// removed outright.
var protectedPaths = map[string]bool{
	"/name":        true,
	"/entry_point": true,
	"/nodes":       true,
	"/edges":       true,
}

const (
	maxOperations    = 50
	maxLLMNodesPerOp = 5
)

// PatchValidator validates JSON Patch documents applied to workflow
// definitions before they reach the stored copy
type PatchValidator struct{}

// NewPatchValidator creates a new patch validator
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{}
}

// ValidatePatch decodes and validates a JSON Patch document. The
// returned patch is ready to apply to a definition.
func (v *PatchValidator) ValidatePatch(data []byte) (jsonpatch.Patch, error) {
	patch, err := jsonpatch.DecodePatch(data)
	if err != nil {
		return nil, fmt.Errorf("invalid patch document: %w", err)
	}

	if len(patch) == 0 {
		return nil, fmt.Errorf("patch has no operations")
	}
	if len(patch) > maxOperations {
		return nil, fmt.Errorf("patch has too many operations: %d (max %d)", len(patch), maxOperations)
	}

	llmCount := 0
	for i, op := range patch {
		kind := op.Kind()
		path, err := op.Path()
		if err != nil {
			return nil, fmt.Errorf("operation %d: missing or invalid 'path' field", i)
		}

		switch kind {
		case "add", "replace":
			if _, err := op.ValueInterface(); err != nil {
				return nil, fmt.Errorf("operation %d: 'value' required for %s operation", i, kind)
			}
		case "remove":
			if protectedPaths[path] {
				return nil, fmt.Errorf("operation %d: cannot remove %s", i, path)
			}
		default:
			return nil, fmt.Errorf("operation %d: unsupported operation type: %s", i, kind)
		}

		if err := v.validatePath(path, i); err != nil {
			return nil, err
		}

		// Node writes land on /nodes/<id>; nodes are a map keyed by ID.
		if kind != "remove" && isNodePath(path) {
			value, _ := op.ValueInterface()
			nodeType, err := v.validateNodeValue(value, i)
			if err != nil {
				return nil, err
			}
			if nodeType == "llm" {
				llmCount++
			}
		}
	}

	if llmCount > maxLLMNodesPerOp {
		return nil, fmt.Errorf("patch validation failed: cannot add more than %d llm nodes per patch (attempted: %d)", maxLLMNodesPerOp, llmCount)
	}

	return patch, nil
}

func (v *PatchValidator) validatePath(path string, index int) error {
	if path == "" || path == "/" {
		return fmt.Errorf("operation %d: cannot patch the definition root", index)
	}

	for _, prefix := range allowedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return nil
		}
	}

	return fmt.Errorf("operation %d: path %s is not editable", index, path)
}

// isNodePath reports whether path addresses a whole node entry
// (exactly /nodes/<id>, not a field inside one).
func isNodePath(path string) bool {
	if !strings.HasPrefix(path, "/nodes/") {
		return false
	}
	rest := path[len("/nodes/"):]
	return rest != "" && !strings.Contains(rest, "/")
}

// validateNodeValue checks a node object being written into the
// definition and returns its declared type
func (v *PatchValidator) validateNodeValue(value interface{}, opIndex int) (string, error) {
	nodeValue, ok := value.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("operation %d: node value must be an object, got %T", opIndex, value)
	}

	nodeType, ok := nodeValue["type"].(string)
	if !ok {
		return "", fmt.Errorf("operation %d: node must have 'type' field (string)", opIndex)
	}

	if config, exists := nodeValue["config"]; exists {
		if _, ok := config.(map[string]interface{}); !ok {
			return "", fmt.Errorf("operation %d: node 'config' must be an object, got %T", opIndex, config)
		}
	}

	return nodeType, nil
}
