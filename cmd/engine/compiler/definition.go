package compiler

import (
	"encoding/json"
	"fmt"
)

// Node kind constants. The set is closed: anything else fails the build
// with UNKNOWN_NODE_TYPE.
const (
	KindTrigger     = "trigger"
	KindLLM         = "llm"
	KindHTTP        = "http"
	KindDB          = "db"
	KindFile        = "file"
	KindTransform   = "transform"
	KindConditional = "conditional"
	KindSwitch      = "switch"
	KindLoop        = "loop"
	KindParallel    = "parallel"
	KindHumanReview = "human_review"
	KindDelay       = "delay"
	KindOutput      = "output"

	// Sentinel kinds exist only in compiled plans, never in definitions.
	KindLoopStart = "loop_start"
	KindLoopEnd   = "loop_end"
)

var definitionKinds = map[string]bool{
	KindTrigger:     true,
	KindLLM:         true,
	KindHTTP:        true,
	KindDB:          true,
	KindFile:        true,
	KindTransform:   true,
	KindConditional: true,
	KindSwitch:      true,
	KindLoop:        true,
	KindParallel:    true,
	KindHumanReview: true,
	KindDelay:       true,
	KindOutput:      true,
}

// IsSentinelKind reports whether the kind is builder-injected.
func IsSentinelKind(kind string) bool {
	return kind == KindLoopStart || kind == KindLoopEnd
}

// Definition is the user-authored workflow artifact.
type Definition struct {
	Name       string             `json:"name"`
	Version    string             `json:"version,omitempty"`
	EntryPoint string             `json:"entry_point"`
	Nodes      map[string]DefNode `json:"nodes"`
	Edges      []DefEdge          `json:"edges"`
}

// DefNode is one authored node. Config is a free-form tree whose string
// leaves may contain {{ref}} templates.
type DefNode struct {
	Type     string                 `json:"type"`
	Name     string                 `json:"name"`
	Config   map[string]interface{} `json:"config,omitempty"`
	Position []float64              `json:"position,omitempty"`
}

// DefEdge is one authored edge. Self-loops are forbidden.
type DefEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
}

// ParseDefinition decodes a definition from JSON.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return &def, nil
}
