package compiler

import "sort"

// Handle type constants
const (
	HandleDefault  = "default"
	HandleTrue     = "true"
	HandleFalse    = "false"
	HandleError    = "error"
	HandleLoopBody = "loop-body"
	HandleLoopExit = "loop-exit"

	// Switch case handles carry their value: case-<v>.
	CaseHandlePrefix = "case-"
)

// Loop kinds
const (
	LoopForEach = "for_each"
	LoopWhile   = "while"
	LoopCount   = "count"
)

// ID suffixes for builder-injected nodes and edges.
const (
	startSentinelSuffix = "__LOOP_START"
	endSentinelSuffix   = "__LOOP_END"
	loopEntrySuffix     = "__loop_entry"
	loopSkipSuffix      = "__loop_skip"
	branchInfix         = "__branch_"
)

// StartSentinelID returns the start sentinel ID for a loop node.
func StartSentinelID(loopID string) string { return loopID + startSentinelSuffix }

// EndSentinelID returns the end sentinel ID for a loop node.
func EndSentinelID(loopID string) string { return loopID + endSentinelSuffix }

// BranchNodeID returns the expanded copy ID for a node in a parallel branch.
func BranchNodeID(nodeID, branchID string) string { return nodeID + branchInfix + branchID }

// PlanNode is one executable node of a compiled plan.
type PlanNode struct {
	ID           string                 `json:"id"`
	Kind         string                 `json:"kind"`
	Name         string                 `json:"name"`
	Config       map[string]interface{} `json:"config,omitempty"`
	Depth        int                    `json:"depth"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Dependents   []string               `json:"dependents,omitempty"`

	// Branch is set on parallel-expansion copies.
	Branch *BranchRef `json:"branch,omitempty"`
}

// BranchRef records which parallel branch a copied node belongs to.
type BranchRef struct {
	ParallelID string                 `json:"parallel_id"`
	BranchID   string                 `json:"branch_id"`
	Vars       map[string]interface{} `json:"vars,omitempty"`
}

// Edge is one typed edge of a compiled plan.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	HandleType   string `json:"handle_type"`
}

// IsCase reports whether the edge carries a switch case value.
func (e *Edge) IsCase() bool {
	return len(e.HandleType) > len(CaseHandlePrefix) && e.HandleType[:len(CaseHandlePrefix)] == CaseHandlePrefix
}

// LoopPlan describes one compiled loop: its sentinels, body and
// iteration source.
type LoopPlan struct {
	LoopID string `json:"loop_id"`
	Kind   string `json:"kind"`

	// Items drives for_each loops: a template string or a literal array.
	Items interface{} `json:"items,omitempty"`
	// Condition drives while loops (CEL).
	Condition string `json:"condition,omitempty"`
	// Count drives count loops.
	Count int `json:"count,omitempty"`

	ItemVar       string `json:"item_var"`
	IndexVar      string `json:"index_var"`
	MaxIterations int    `json:"max_iterations,omitempty"`

	// BodyNodes is the re-admission unit: every node on a path from the
	// loop header to the end sentinel, the header included.
	BodyNodes []string `json:"body_nodes"`
	StartID   string   `json:"start_id"`
	EndID     string   `json:"end_id"`
}

// Plan is a compiled, immutable workflow. Every later component treats
// it as ground truth.
type Plan struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`

	TriggerID string               `json:"trigger_id"`
	StartIDs  []string             `json:"start_ids"`
	Nodes     map[string]*PlanNode `json:"nodes"`
	Edges     map[string]*Edge     `json:"edges"`

	// Levels groups node IDs by depth, ascending; lexicographic inside
	// a level.
	Levels    [][]string `json:"levels"`
	OutputIDs []string   `json:"output_ids"`

	Loops            map[string]*LoopPlan `json:"loops,omitempty"`
	ParallelBranches map[string][]string  `json:"parallel_branches,omitempty"`

	MaxConcurrentNodes int `json:"max_concurrent_nodes"`

	// Exclusive maps edge ID to the set of nodes reachable only through
	// that edge, precomputed for branch pruning.
	Exclusive map[string][]string `json:"-"`

	outgoing map[string][]*Edge
	incoming map[string][]*Edge
}

// DefaultMaxConcurrentNodes bounds in-flight activities per execution.
const DefaultMaxConcurrentNodes = 10

// Node returns a plan node by ID, nil when absent.
func (p *Plan) Node(id string) *PlanNode { return p.Nodes[id] }

// Loop returns the loop plan owning the given header, start or end
// sentinel ID, nil when the ID is not part of a loop boundary.
func (p *Plan) Loop(id string) *LoopPlan {
	for _, lp := range p.Loops {
		if lp.LoopID == id || lp.StartID == id || lp.EndID == id {
			return lp
		}
	}
	return nil
}

// OutgoingEdges returns the edges leaving a node, ordered by edge ID.
func (p *Plan) OutgoingEdges(nodeID string) []*Edge { return p.outgoing[nodeID] }

// IncomingEdges returns the edges entering a node, ordered by edge ID.
func (p *Plan) IncomingEdges(nodeID string) []*Edge { return p.incoming[nodeID] }

// Downstream returns every node transitively reachable from id,
// excluding id itself, sorted.
func (p *Plan) Downstream(id string) []string {
	seen := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range p.outgoing[cur] {
			if !seen[e.Target] {
				seen[e.Target] = true
				stack = append(stack, e.Target)
			}
		}
	}
	delete(seen, id)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// buildAdjacency fills the cached edge indexes. Called once at the end
// of compilation.
func (p *Plan) buildAdjacency() {
	p.outgoing = make(map[string][]*Edge, len(p.Nodes))
	p.incoming = make(map[string][]*Edge, len(p.Nodes))
	for _, id := range sortedEdgeIDs(p.Edges) {
		e := p.Edges[id]
		p.outgoing[e.Source] = append(p.outgoing[e.Source], e)
		p.incoming[e.Target] = append(p.incoming[e.Target], e)
	}
}

func sortedEdgeIDs(edges map[string]*Edge) []string {
	ids := make([]string, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedNodeIDs(nodes map[string]*PlanNode) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
