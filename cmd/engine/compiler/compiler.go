// Package compiler turns a user-authored workflow definition into an
// executable plan: typed edges, depth levels, loop sentinels and
// parallel branch expansion. It is the only place graph semantics are
// decided; everything downstream treats the plan as ground truth.
package compiler

import (
	"fmt"
	"sort"

	"github.com/weftlabs/weft/cmd/engine/execctx"
)

// CompileJSON parses and compiles a raw definition.
func CompileJSON(data []byte) *Result {
	def, err := ParseDefinition(data)
	if err != nil {
		return &Result{Errors: []Issue{{Code: CodeInvalidInput, Message: err.Error()}}}
	}
	return Compile(def)
}

// Compile builds an executable plan or a structured list of build
// errors. Warnings never block compilation.
func Compile(def *Definition) *Result {
	c := &compilation{
		def:   def,
		nodes: map[string]*PlanNode{},
		edges: map[string]*Edge{},
	}

	// Stage 1: structure, adjacency, reachability, cycle detection.
	c.validateStructure()
	if len(c.errors) > 0 {
		return c.result(nil)
	}
	c.buildWorkingSet()
	c.typeEdges()
	c.checkReachability()
	c.classifyBackEdges()
	if len(c.errors) > 0 {
		return c.result(nil)
	}

	// Stage 2: loop sentinel insertion.
	c.insertLoopSentinels()
	if len(c.errors) > 0 {
		return c.result(nil)
	}

	// Stage 3: parallel branch expansion.
	c.expandParallel()
	if len(c.errors) > 0 {
		return c.result(nil)
	}

	// Stage 4: depths, levels, template checks, pruning cache.
	plan := c.assemble()
	if len(c.errors) > 0 {
		return c.result(nil)
	}
	c.validateTemplates(plan)
	if len(c.errors) > 0 {
		return c.result(nil)
	}
	c.computeExclusive(plan)
	return c.result(plan)
}

// compilation carries the working graph between pipeline stages. The
// loop and parallel passes mutate nodes and edges in place; assemble
// freezes the result.
type compilation struct {
	def      *Definition
	errors   []Issue
	warnings []Issue

	nodes  map[string]*PlanNode
	edges  map[string]*Edge
	starts []string

	// Edge IDs classified as legal loop back edges by the DFS.
	backEdges map[string]bool

	loops    map[string]*LoopPlan
	parallel map[string][]string
}

func (c *compilation) nodeErr(code, nodeID, format string, args ...interface{}) {
	c.errors = append(c.errors, Issue{Code: code, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

func (c *compilation) edgeErr(code, edgeID, format string, args ...interface{}) {
	c.errors = append(c.errors, Issue{Code: code, EdgeID: edgeID, Message: fmt.Sprintf(format, args...)})
}

func (c *compilation) addErr(code, format string, args ...interface{}) {
	c.errors = append(c.errors, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
}

func (c *compilation) nodeWarn(code, nodeID, format string, args ...interface{}) {
	c.warnings = append(c.warnings, Issue{Code: code, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

func (c *compilation) result(plan *Plan) *Result {
	return &Result{Plan: plan, Errors: c.errors, Warnings: c.warnings}
}

// validateStructure checks the definition shape: name, nodes, entry
// point, per-node and per-edge fields. Graph analysis only starts once
// this passes.
func (c *compilation) validateStructure() {
	def := c.def
	if def == nil {
		c.addErr(CodeInvalidInput, "definition is nil")
		return
	}
	if def.Name == "" {
		c.addErr(CodeInvalidInput, "workflow name is required")
	}
	if len(def.Nodes) == 0 {
		c.addErr(CodeNoNodes, "workflow has no nodes")
		return
	}
	if def.EntryPoint == "" {
		c.addErr(CodeNoEntryPoint, "entry_point is required")
	} else if _, ok := def.Nodes[def.EntryPoint]; !ok {
		c.addErr(CodeNoEntryPoint, "entry_point %q is not a node", def.EntryPoint)
	}

	for _, id := range sortedKeys(def.Nodes) {
		n := def.Nodes[id]
		if id == "" {
			c.addErr(CodeInvalidInput, "node with empty id")
			continue
		}
		if n.Type == "" {
			c.nodeErr(CodeInvalidInput, id, "node type is required")
		} else if !definitionKinds[n.Type] {
			c.nodeErr(CodeUnknownNodeType, id, "unknown node type %q", n.Type)
		}
		if n.Name == "" {
			c.nodeErr(CodeInvalidInput, id, "node name is required")
		}
		if len(n.Position) != 0 && len(n.Position) != 2 {
			c.nodeErr(CodeInvalidInput, id, "position must be [x, y]")
		}
	}

	seenEdges := map[string]bool{}
	for _, e := range def.Edges {
		if e.ID == "" {
			c.addErr(CodeInvalidInput, "edge with empty id (%s -> %s)", e.Source, e.Target)
			continue
		}
		if seenEdges[e.ID] {
			c.edgeErr(CodeInvalidInput, e.ID, "duplicate edge id")
			continue
		}
		seenEdges[e.ID] = true
		if e.Source == e.Target {
			c.edgeErr(CodeInvalidInput, e.ID, "self-loop on node %s", e.Source)
			continue
		}
		if _, ok := def.Nodes[e.Source]; !ok {
			c.edgeErr(CodeDanglingEdge, e.ID, "source %q is not a node", e.Source)
		}
		if _, ok := def.Nodes[e.Target]; !ok {
			c.edgeErr(CodeDanglingEdge, e.ID, "target %q is not a node", e.Target)
		}
	}
}

// buildWorkingSet copies the definition into mutable plan records.
func (c *compilation) buildWorkingSet() {
	for _, id := range sortedKeys(c.def.Nodes) {
		n := c.def.Nodes[id]
		config := n.Config
		if config == nil {
			config = map[string]interface{}{}
		}
		c.nodes[id] = &PlanNode{ID: id, Kind: n.Type, Name: n.Name, Config: config}
	}
	for _, e := range c.def.Edges {
		c.edges[e.ID] = &Edge{ID: e.ID, Source: e.Source, Target: e.Target, SourceHandle: e.SourceHandle}
	}
}

// checkReachability fixes the start set and drops unreachable nodes.
// Trigger-kind nodes without incoming edges join the entry point as
// additional starts; any other unreached node gets an UNREACHABLE_NODE
// warning and leaves the plan together with its edges.
func (c *compilation) checkReachability() {
	incoming := map[string]int{}
	for _, e := range c.edges {
		incoming[e.Target]++
	}

	if incoming[c.def.EntryPoint] > 0 {
		c.nodeErr(CodeInvalidInput, c.def.EntryPoint, "entry point must not have incoming edges")
	}

	c.starts = []string{c.def.EntryPoint}
	for _, id := range sortedNodeIDs(c.nodes) {
		if id != c.def.EntryPoint && incoming[id] == 0 && c.nodes[id].Kind == KindTrigger {
			c.starts = append(c.starts, id)
		}
	}

	reached := c.reachableFrom(c.starts, nil)
	for _, id := range sortedNodeIDs(c.nodes) {
		if reached[id] {
			continue
		}
		c.nodeWarn(CodeUnreachableNode, id, "node is not reachable from any start node")
		delete(c.nodes, id)
	}
	for _, id := range sortedEdgeIDs(c.edges) {
		e := c.edges[id]
		if !reached[e.Source] || !reached[e.Target] {
			delete(c.edges, id)
		}
	}
}

// reachableFrom walks forward from the given roots. Edges whose ID is
// in skip are ignored.
func (c *compilation) reachableFrom(roots []string, skip map[string]bool) map[string]bool {
	out := map[string][]*Edge{}
	for _, id := range sortedEdgeIDs(c.edges) {
		e := c.edges[id]
		out[e.Source] = append(out[e.Source], e)
	}
	seen := map[string]bool{}
	stack := []string{}
	for _, r := range roots {
		if _, ok := c.nodes[r]; ok && !seen[r] {
			seen[r] = true
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range out[cur] {
			if skip[e.ID] || seen[e.Target] {
				continue
			}
			seen[e.Target] = true
			stack = append(stack, e.Target)
		}
	}
	return seen
}

// classifyBackEdges runs a DFS with a recursion stack over the working
// graph. A back edge is legal only when it targets a loop node (the
// loop pass will re-target it to the end sentinel); anything else is a
// CYCLE error.
func (c *compilation) classifyBackEdges() {
	c.backEdges = map[string]bool{}

	out := map[string][]*Edge{}
	for _, id := range sortedEdgeIDs(c.edges) {
		e := c.edges[id]
		out[e.Source] = append(out[e.Source], e)
	}

	visited := map[string]bool{}
	onStack := map[string]bool{}

	var walk func(id string)
	walk = func(id string) {
		visited[id] = true
		onStack[id] = true
		for _, e := range out[id] {
			if onStack[e.Target] {
				if c.nodes[e.Target].Kind == KindLoop {
					c.backEdges[e.ID] = true
					continue
				}
				c.edgeErr(CodeCycle, e.ID, "cycle through %s -> %s is not closed by a loop node", e.Source, e.Target)
				continue
			}
			if !visited[e.Target] {
				walk(e.Target)
			}
		}
		onStack[id] = false
	}

	for _, s := range c.starts {
		if _, ok := c.nodes[s]; ok && !visited[s] {
			walk(s)
		}
	}
}

// assemble runs Kahn's algorithm over the final graph to compute
// longest-path depths, fills dependencies and dependents, groups
// levels, and freezes the plan.
func (c *compilation) assemble() *Plan {
	// Dependencies and dependents, deduplicated and sorted.
	depSet := map[string]map[string]bool{}
	depdSet := map[string]map[string]bool{}
	for _, id := range sortedEdgeIDs(c.edges) {
		e := c.edges[id]
		if depSet[e.Target] == nil {
			depSet[e.Target] = map[string]bool{}
		}
		depSet[e.Target][e.Source] = true
		if depdSet[e.Source] == nil {
			depdSet[e.Source] = map[string]bool{}
		}
		depdSet[e.Source][e.Target] = true
	}
	for _, id := range sortedNodeIDs(c.nodes) {
		n := c.nodes[id]
		n.Dependencies = sortedSet(depSet[id])
		n.Dependents = sortedSet(depdSet[id])
	}

	// Kahn's algorithm; depth is the longest path from a start node.
	indeg := map[string]int{}
	for _, id := range sortedNodeIDs(c.nodes) {
		indeg[id] = len(c.nodes[id].Dependencies)
	}
	queue := []string{}
	for _, id := range sortedNodeIDs(c.nodes) {
		if indeg[id] == 0 {
			queue = append(queue, id)
			c.nodes[id].Depth = 0
		}
	}
	processed := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range c.nodes[cur].Dependents {
			if d := c.nodes[cur].Depth + 1; d > c.nodes[dep].Depth {
				c.nodes[dep].Depth = d
			}
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if processed < len(c.nodes) {
		var stuck []string
		for _, id := range sortedNodeIDs(c.nodes) {
			if indeg[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		c.addErr(CodeCycle, "nodes remain cyclic after sentinel insertion: %v", stuck)
		return nil
	}

	// Levels by depth, lexicographic within a level.
	maxDepth := 0
	for _, n := range c.nodes {
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
	}
	levels := make([][]string, maxDepth+1)
	for _, id := range sortedNodeIDs(c.nodes) {
		n := c.nodes[id]
		levels[n.Depth] = append(levels[n.Depth], id)
	}

	// Output set: declared output nodes, else terminal non-sentinels.
	var outputs []string
	for _, id := range sortedNodeIDs(c.nodes) {
		if c.nodes[id].Kind == KindOutput {
			outputs = append(outputs, id)
		}
	}
	if len(outputs) == 0 {
		for _, id := range sortedNodeIDs(c.nodes) {
			n := c.nodes[id]
			if len(n.Dependents) == 0 && !IsSentinelKind(n.Kind) {
				outputs = append(outputs, id)
			}
		}
	}

	plan := &Plan{
		Name:               c.def.Name,
		Version:            c.def.Version,
		TriggerID:          c.def.EntryPoint,
		StartIDs:           append([]string(nil), c.starts...),
		Nodes:              c.nodes,
		Edges:              c.edges,
		Levels:             levels,
		OutputIDs:          outputs,
		Loops:              c.loops,
		ParallelBranches:   c.parallel,
		MaxConcurrentNodes: DefaultMaxConcurrentNodes,
	}
	plan.buildAdjacency()
	return plan
}

// validateTemplates enforces that every node-output reference inside a
// config names a strictly upstream node. Bare variable references are
// runtime concerns and stay unchecked here.
func (c *compilation) validateTemplates(plan *Plan) {
	for _, id := range sortedNodeIDs(plan.Nodes) {
		n := plan.Nodes[id]
		for _, ref := range scanConfigRefs(n.Config) {
			if !ref.IsNodeOutput() {
				continue
			}
			src, ok := plan.Nodes[ref.Root]
			if !ok {
				c.nodeErr(CodeInvalidVariableRef, id, "template references unknown node %q", ref.Root)
				continue
			}
			if src.Depth >= n.Depth {
				c.nodeErr(CodeInvalidVariableRef, id,
					"template must reference a strictly upstream node, %q is not", ref.Root)
			}
		}
	}
}

// scanConfigRefs collects template references from every string leaf of
// a config tree, in deterministic order.
func scanConfigRefs(v interface{}) []execctx.Ref {
	var refs []execctx.Ref
	switch t := v.(type) {
	case string:
		refs = append(refs, execctx.ScanRefs(t)...)
	case map[string]interface{}:
		for _, k := range sortedAnyKeys(t) {
			refs = append(refs, scanConfigRefs(t[k])...)
		}
	case []interface{}:
		for _, item := range t {
			refs = append(refs, scanConfigRefs(item)...)
		}
	}
	return refs
}

func sortedKeys(m map[string]DefNode) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedAnyKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
