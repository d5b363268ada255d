package compiler

import (
	"github.com/weftlabs/weft/cmd/engine/execctx"
)

type branchDecl struct {
	ID   string
	Vars map[string]interface{}
}

// expandParallel duplicates the exclusively-downstream subgraph of each
// parallel node into its declared branches. Copies get IDs suffixed
// __branch_<id>, their configs are rewritten to reference branch-local
// siblings, and edges crossing the subgraph boundary are duplicated per
// branch. The originals leave the plan.
func (c *compilation) expandParallel() {
	c.parallel = map[string][]string{}

	for _, id := range sortedNodeIDs(c.nodes) {
		n := c.nodes[id]
		if n != nil && n.Kind == KindParallel {
			c.expandOne(n)
		}
	}
}

func (c *compilation) expandOne(p *PlanNode) {
	branches := c.parseBranches(p)
	if branches == nil {
		return
	}

	// The expansion unit: nodes reachable only through p.
	skip := map[string]bool{}
	for _, id := range sortedEdgeIDs(c.edges) {
		if c.edges[id].Source == p.ID {
			skip[id] = true
		}
	}
	full := c.reachableFrom(c.starts, nil)
	without := c.reachableFrom(c.starts, skip)
	subgraph := map[string]bool{}
	for id := range full {
		if !without[id] {
			subgraph[id] = true
		}
	}
	if len(subgraph) == 0 {
		c.nodeErr(CodeInvalidInput, p.ID, "parallel node has no exclusive downstream subgraph to expand")
		return
	}

	before := len(c.errors)
	for _, id := range sortedSet(subgraph) {
		kind := c.nodes[id].Kind
		if kind == KindLoop || kind == KindParallel || IsSentinelKind(kind) {
			c.nodeErr(CodeInvalidInput, p.ID, "parallel expansion cannot contain %s node %s", kind, id)
		}
	}
	for _, b := range branches {
		for _, id := range sortedSet(subgraph) {
			if _, taken := c.nodes[BranchNodeID(id, b.ID)]; taken {
				c.nodeErr(CodeInvalidInput, p.ID, "branch copy id %s already exists", BranchNodeID(id, b.ID))
			}
		}
	}
	if len(c.errors) > before {
		return
	}

	members := sortedSet(subgraph)
	crossing := []*Edge{}
	for _, id := range sortedEdgeIDs(c.edges) {
		e := c.edges[id]
		if subgraph[e.Source] || subgraph[e.Target] {
			crossing = append(crossing, e)
		}
	}

	branchIDs := make([]string, 0, len(branches))
	for _, b := range branches {
		branchIDs = append(branchIDs, b.ID)

		mapping := make(map[string]string, len(members))
		for _, id := range members {
			mapping[id] = BranchNodeID(id, b.ID)
		}

		for _, id := range members {
			orig := c.nodes[id]
			c.nodes[mapping[id]] = &PlanNode{
				ID:     mapping[id],
				Kind:   orig.Kind,
				Name:   orig.Name,
				Config: execctx.RewriteConfigRefs(orig.Config, mapping),
				Branch: &BranchRef{ParallelID: p.ID, BranchID: b.ID, Vars: b.Vars},
			}
		}

		for _, e := range crossing {
			copyID := e.ID + branchInfix + b.ID
			if _, taken := c.edges[copyID]; taken {
				c.edgeErr(CodeInvalidInput, copyID, "edge id collides with a branch copy")
				continue
			}
			source, target := e.Source, e.Target
			if mapped, ok := mapping[source]; ok {
				source = mapped
			}
			if mapped, ok := mapping[target]; ok {
				target = mapped
			}
			c.edges[copyID] = &Edge{
				ID:           copyID,
				Source:       source,
				Target:       target,
				SourceHandle: e.SourceHandle,
				HandleType:   e.HandleType,
			}
		}
	}

	for _, id := range members {
		delete(c.nodes, id)
	}
	for _, e := range crossing {
		delete(c.edges, e.ID)
	}
	c.parallel[p.ID] = branchIDs
}

// parseBranches reads the declared branch list from a parallel node's
// config. Entries are either bare IDs or {id, vars} objects.
func (c *compilation) parseBranches(p *PlanNode) []branchDecl {
	raw, ok := p.Config["branches"].([]interface{})
	if !ok || len(raw) == 0 {
		c.nodeErr(CodeInvalidInput, p.ID, "parallel node requires a non-empty branches list")
		return nil
	}

	branches := make([]branchDecl, 0, len(raw))
	seen := map[string]bool{}
	for i, entry := range raw {
		var decl branchDecl
		switch v := entry.(type) {
		case string:
			decl.ID = v
		case map[string]interface{}:
			decl.ID, _ = v["id"].(string)
			if vars, ok := v["vars"].(map[string]interface{}); ok {
				decl.Vars = vars
			}
		default:
			c.nodeErr(CodeInvalidInput, p.ID, "branch %d must be an id or an {id, vars} object", i)
			return nil
		}
		if !validBranchID(decl.ID) {
			c.nodeErr(CodeInvalidInput, p.ID, "branch id %q must be non-empty [A-Za-z0-9_]", decl.ID)
			return nil
		}
		if seen[decl.ID] {
			c.nodeErr(CodeInvalidInput, p.ID, "duplicate branch id %q", decl.ID)
			return nil
		}
		seen[decl.ID] = true
		branches = append(branches, decl)
	}
	return branches
}

func validBranchID(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '_':
		default:
			return false
		}
	}
	return true
}
