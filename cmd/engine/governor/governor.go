// Package governor enforces the byte budgets on stored node outputs:
// a per-node cap and a total context cap with oldest-first eviction.
package governor

import (
	"fmt"

	"github.com/weftlabs/weft/cmd/engine/execctx"
)

const (
	DefaultMaxNodeOutputBytes = 1 << 20  // 1 MiB
	DefaultMaxContextBytes    = 50 << 20 // 50 MiB

	previewBytes = 256
)

const (
	CodeOutputTooLarge  = "OUTPUT_TOO_LARGE"
	CodeContextOverflow = "CONTEXT_OVERFLOW"
)

// LimitError reports a budget violation for a node output.
type LimitError struct {
	Code   string
	NodeID string
	Size   int64
	Limit  int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: node %s output is %d bytes, limit %d", e.Code, e.NodeID, e.Size, e.Limit)
}

// Limits configures the governor. Zero values fall back to defaults.
type Limits struct {
	MaxNodeOutputBytes int64
	MaxContextBytes    int64
	// TruncateOversized stores a marker instead of failing the node
	// when the per-node cap is exceeded.
	TruncateOversized bool
}

func (l Limits) withDefaults() Limits {
	if l.MaxNodeOutputBytes <= 0 {
		l.MaxNodeOutputBytes = DefaultMaxNodeOutputBytes
	}
	if l.MaxContextBytes <= 0 {
		l.MaxContextBytes = DefaultMaxContextBytes
	}
	return l
}

// Report describes what Admit did with an output.
type Report struct {
	Size      int64
	Truncated bool
	Evicted   []string
}

// Governor admits node outputs into a context snapshot within budget.
type Governor struct {
	limits Limits
}

func New(limits Limits) *Governor {
	return &Governor{limits: limits.withDefaults()}
}

func (g *Governor) Limits() Limits {
	return g.limits
}

// Admit stores value as nodeID's output. required reports whether an
// already-stored output must survive because non-terminal dependents
// still read it; such outputs are never evicted.
//
// The returned snapshot reflects evictions plus the store. On error
// the original snapshot stands.
func (g *Governor) Admit(snap *execctx.Snapshot, nodeID string, value interface{}, required func(string) bool) (*execctx.Snapshot, Report, error) {
	data, err := execctx.CanonicalJSON(value)
	if err != nil {
		return snap, Report{}, fmt.Errorf("serialize output of %s: %w", nodeID, err)
	}
	size := int64(len(data))
	report := Report{Size: size}

	// 1. Per-node cap.
	if size > g.limits.MaxNodeOutputBytes {
		if !g.limits.TruncateOversized {
			return snap, report, &LimitError{
				Code:   CodeOutputTooLarge,
				NodeID: nodeID,
				Size:   size,
				Limit:  g.limits.MaxNodeOutputBytes,
			}
		}
		value, size, err = g.truncate(data, size)
		if err != nil {
			return snap, report, &LimitError{
				Code:   CodeOutputTooLarge,
				NodeID: nodeID,
				Size:   size,
				Limit:  g.limits.MaxNodeOutputBytes,
			}
		}
		report.Size = size
		report.Truncated = true
	}

	// 2. Total cap: evict oldest unprotected outputs until the new
	//    total fits. Replacing an output frees its old bytes first.
	total := snap.TotalBytes + size
	if prev, exists := snap.OutputBytes[nodeID]; exists {
		total -= prev
	}
	if total > g.limits.MaxContextBytes {
		for _, candidate := range snap.InsertionOrder {
			if total <= g.limits.MaxContextBytes {
				break
			}
			if candidate == nodeID {
				continue
			}
			if required != nil && required(candidate) {
				continue
			}
			total -= snap.OutputBytes[candidate]
			report.Evicted = append(report.Evicted, candidate)
		}
		if total > g.limits.MaxContextBytes {
			report.Evicted = nil
			return snap, report, &LimitError{
				Code:   CodeContextOverflow,
				NodeID: nodeID,
				Size:   total,
				Limit:  g.limits.MaxContextBytes,
			}
		}
	}

	if len(report.Evicted) > 0 {
		snap = snap.EvictOutputs(report.Evicted)
	}
	return snap.StoreNodeOutput(nodeID, value, size), report, nil
}

// truncate replaces an oversized output with a marker, keeping a short
// preview of the canonical form for debugging. The marker itself must
// fit the per-node cap; if even the bare marker does not, the output
// is unstorable and the caller fails the node.
func (g *Governor) truncate(data []byte, originalSize int64) (interface{}, int64, error) {
	marker := map[string]interface{}{
		"truncated":      true,
		"original_bytes": originalSize,
		"reason":         CodeOutputTooLarge,
	}

	preview := data
	if len(preview) > previewBytes {
		preview = preview[:previewBytes]
	}
	marker["preview"] = string(preview)

	encoded, err := execctx.CanonicalJSON(marker)
	if err != nil {
		return nil, 0, err
	}
	if int64(len(encoded)) > g.limits.MaxNodeOutputBytes {
		delete(marker, "preview")
		encoded, err = execctx.CanonicalJSON(marker)
		if err != nil {
			return nil, 0, err
		}
		if int64(len(encoded)) > g.limits.MaxNodeOutputBytes {
			return nil, int64(len(encoded)), fmt.Errorf("marker exceeds per-node cap")
		}
	}
	return marker, int64(len(encoded)), nil
}
