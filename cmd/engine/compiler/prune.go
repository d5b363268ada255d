package compiler

import "sort"

// computeExclusive caches, per edge, the set of nodes reachable only
// through that edge. The scheduler prunes these sets when a branch
// decision deactivates the edge. Computed as a reachability diff: the
// full reachable set minus the set reachable with the edge removed.
func (c *compilation) computeExclusive(plan *Plan) {
	full := c.reachableFrom(c.starts, nil)
	plan.Exclusive = map[string][]string{}

	for _, id := range sortedEdgeIDs(c.edges) {
		without := c.reachableFrom(c.starts, map[string]bool{id: true})
		var excl []string
		for n := range full {
			if !without[n] {
				excl = append(excl, n)
			}
		}
		if len(excl) > 0 {
			sort.Strings(excl)
			plan.Exclusive[id] = excl
		}
	}
}
