package compiler

import "sort"

// insertLoopSentinels rewires every loop node into an acyclic sentinel
// pair. Entry edges re-target <id>__LOOP_START, body back-edges
// re-target <id>__LOOP_END, exit edges leave from the end sentinel, and
// a synthetic default edge connects the start sentinel to the loop
// header. After this pass the working graph must be a DAG.
func (c *compilation) insertLoopSentinels() {
	c.loops = map[string]*LoopPlan{}

	for _, id := range sortedNodeIDs(c.nodes) {
		if c.nodes[id].Kind == KindLoop {
			c.insertSentinelPair(c.nodes[id])
		}
	}
	if len(c.errors) > 0 {
		return
	}

	// Body sets are computed after every loop is rewired so nested
	// loops see each other's sentinels.
	for _, id := range sortedLoopIDs(c.loops) {
		lp := c.loops[id]
		lp.BodyNodes = c.loopBody(lp)
	}
}

func (c *compilation) insertSentinelPair(loop *PlanNode) {
	lp := c.parseLoopConfig(loop)
	if lp == nil {
		return
	}

	startID := StartSentinelID(loop.ID)
	endID := EndSentinelID(loop.ID)
	if _, taken := c.nodes[startID]; taken {
		c.nodeErr(CodeInvalidInput, startID, "node id collides with a loop sentinel")
		return
	}
	if _, taken := c.nodes[endID]; taken {
		c.nodeErr(CodeInvalidInput, endID, "node id collides with a loop sentinel")
		return
	}

	var bodyEdges, exitEdges, backEdges, entryEdges []*Edge
	for _, id := range sortedEdgeIDs(c.edges) {
		e := c.edges[id]
		switch {
		case e.Source == loop.ID && e.HandleType == HandleLoopBody:
			bodyEdges = append(bodyEdges, e)
		case e.Source == loop.ID && e.HandleType == HandleLoopExit:
			exitEdges = append(exitEdges, e)
		case e.Target == loop.ID && c.backEdges[e.ID]:
			backEdges = append(backEdges, e)
		case e.Target == loop.ID:
			entryEdges = append(entryEdges, e)
		}
	}

	before := len(c.errors)
	if len(bodyEdges) == 0 {
		c.nodeErr(CodeInvalidInput, loop.ID, "loop has no loop-body edge")
	}
	if len(backEdges) == 0 {
		c.nodeErr(CodeInvalidInput, loop.ID, "loop body has no back edge closing the iteration")
	}
	isStart := containsString(c.starts, loop.ID)
	if len(entryEdges) == 0 && !isStart {
		c.nodeErr(CodeInvalidInput, loop.ID, "loop has no entry edge")
	}
	if len(c.errors) > before {
		return
	}

	c.nodes[startID] = &PlanNode{
		ID:     startID,
		Kind:   KindLoopStart,
		Name:   loop.Name + " start",
		Config: map[string]interface{}{},
	}
	c.nodes[endID] = &PlanNode{
		ID:     endID,
		Kind:   KindLoopEnd,
		Name:   loop.Name + " end",
		Config: map[string]interface{}{},
	}

	for _, e := range entryEdges {
		e.Target = startID
	}
	for _, e := range backEdges {
		e.Target = endID
	}
	for _, e := range exitEdges {
		e.Source = endID
	}

	entryID := loop.ID + loopEntrySuffix
	if _, taken := c.edges[entryID]; taken {
		c.edgeErr(CodeInvalidInput, entryID, "edge id collides with a loop entry edge")
		return
	}
	c.edges[entryID] = &Edge{ID: entryID, Source: startID, Target: loop.ID, HandleType: HandleDefault}

	// The skip edge lets the end sentinel run when the header exits
	// before the first iteration (empty items, false guard).
	skipID := loop.ID + loopSkipSuffix
	if _, taken := c.edges[skipID]; taken {
		c.edgeErr(CodeInvalidInput, skipID, "edge id collides with a loop skip edge")
		return
	}
	c.edges[skipID] = &Edge{ID: skipID, Source: loop.ID, Target: endID, HandleType: HandleLoopExit}

	if isStart {
		for i, s := range c.starts {
			if s == loop.ID {
				c.starts[i] = startID
			}
		}
	}

	lp.StartID = startID
	lp.EndID = endID
	c.loops[loop.ID] = lp
}

// parseLoopConfig extracts the iteration source from a loop node's
// config. Returns nil after recording errors.
func (c *compilation) parseLoopConfig(loop *PlanNode) *LoopPlan {
	config := loop.Config

	kind, _ := config["kind"].(string)
	lp := &LoopPlan{LoopID: loop.ID, Kind: kind, ItemVar: "item", IndexVar: "index"}

	switch kind {
	case LoopForEach:
		items, ok := config["items"]
		if !ok || items == nil {
			c.nodeErr(CodeInvalidInput, loop.ID, "for_each loop requires items")
			return nil
		}
		lp.Items = items
	case LoopWhile:
		cond, _ := config["condition"].(string)
		if cond == "" {
			c.nodeErr(CodeInvalidInput, loop.ID, "while loop requires a condition")
			return nil
		}
		lp.Condition = cond
	case LoopCount:
		count, ok := config["count"].(float64)
		if !ok || count < 1 {
			c.nodeErr(CodeInvalidInput, loop.ID, "count loop requires count >= 1")
			return nil
		}
		lp.Count = int(count)
	default:
		c.nodeErr(CodeInvalidInput, loop.ID, "loop kind must be for_each, while or count, got %q", kind)
		return nil
	}

	if v, ok := config["item_var"].(string); ok && v != "" {
		lp.ItemVar = v
	}
	if v, ok := config["index_var"].(string); ok && v != "" {
		lp.IndexVar = v
	}
	if v, ok := config["max_iterations"].(float64); ok {
		if v < 1 {
			c.nodeErr(CodeInvalidInput, loop.ID, "max_iterations must be >= 1")
			return nil
		}
		lp.MaxIterations = int(v)
	}
	return lp
}

// loopBody collects the re-admission unit: nodes both reachable from
// the loop header and able to reach the end sentinel, the header
// included and the sentinels excluded.
func (c *compilation) loopBody(lp *LoopPlan) []string {
	out := map[string][]string{}
	in := map[string][]string{}
	for _, id := range sortedEdgeIDs(c.edges) {
		e := c.edges[id]
		out[e.Source] = append(out[e.Source], e.Target)
		in[e.Target] = append(in[e.Target], e.Source)
	}

	forward := closure(lp.LoopID, out)
	backward := closure(lp.EndID, in)

	set := map[string]bool{}
	for id := range forward {
		if backward[id] && id != lp.EndID && id != lp.StartID {
			set[id] = true
		}
	}
	return sortedSet(set)
}

// closure walks from root over the given adjacency, root included.
func closure(root string, adj map[string][]string) map[string]bool {
	seen := map[string]bool{root: true}
	stack := []string{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[cur] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return seen
}

func sortedLoopIDs(loops map[string]*LoopPlan) []string {
	ids := make([]string, 0, len(loops))
	for id := range loops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
