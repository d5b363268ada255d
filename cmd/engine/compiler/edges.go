package compiler

import (
	"fmt"
	"strings"
)

// typeEdges derives HandleType for every working edge from its source
// handle and source kind, then enforces handle uniqueness on
// conditional and switch sources.
func (c *compilation) typeEdges() {
	for _, id := range sortedEdgeIDs(c.edges) {
		e := c.edges[id]
		src := c.nodes[e.Source]
		ht, err := handleTypeFor(src.Kind, e.SourceHandle)
		if err != nil {
			c.edgeErr(CodeUnknownHandle, e.ID, "%v", err)
			continue
		}
		e.HandleType = ht
	}

	// Handle values must be unique per conditional/switch source.
	seen := map[string]string{} // source + handleType -> first edge ID
	for _, id := range sortedEdgeIDs(c.edges) {
		e := c.edges[id]
		src := c.nodes[e.Source]
		if src.Kind != KindConditional && src.Kind != KindSwitch {
			continue
		}
		if e.HandleType == HandleError {
			continue
		}
		key := e.Source + "\x00" + e.HandleType
		if first, dup := seen[key]; dup {
			c.edgeErr(CodeDuplicateCase, e.ID,
				"handle %q already used by edge %s", e.SourceHandle, first)
			continue
		}
		seen[key] = e.ID
	}
}

// handleTypeFor maps a source handle to its edge type, checking
// legality for the source kind.
func handleTypeFor(sourceKind, handle string) (string, error) {
	switch sourceKind {
	case KindConditional:
		switch handle {
		case HandleTrue, HandleFalse:
			return handle, nil
		case HandleError:
			return HandleError, nil
		}
		return "", fmt.Errorf("conditional edges use true, false or error handles, got %q", handle)

	case KindSwitch:
		if strings.HasPrefix(handle, CaseHandlePrefix) {
			if handle == CaseHandlePrefix {
				return "", fmt.Errorf("switch case handle has no value")
			}
			return handle, nil
		}
		switch handle {
		case HandleDefault:
			return HandleDefault, nil
		case HandleError:
			return HandleError, nil
		}
		return "", fmt.Errorf("switch edges use case-<value>, default or error handles, got %q", handle)

	case KindLoop:
		switch handle {
		case HandleLoopBody:
			return HandleLoopBody, nil
		case HandleLoopExit:
			return HandleLoopExit, nil
		}
		return "", fmt.Errorf("loop edges use loop-body or loop-exit handles, got %q", handle)

	case KindParallel:
		if handle == "" || handle == "output" {
			return HandleDefault, nil
		}
		return "", fmt.Errorf("parallel edges use the default handle, got %q", handle)

	default:
		switch handle {
		case "", "output":
			return HandleDefault, nil
		case HandleError:
			return HandleError, nil
		}
		return "", fmt.Errorf("unknown handle %q", handle)
	}
}
