package ratelimit

// tierWindow is one cost tier's admission window.
type tierWindow struct {
	limit  int64
	window int
}

// tierWindows maps each tier to its window. Model calls dominate
// execution cost, so heavier tiers get sharply smaller limits.
var tierWindows = map[WorkflowTier]tierWindow{
	TierSimple:   {limit: 100, window: 60},
	TierStandard: {limit: 20, window: 60},
	TierHeavy:    {limit: 5, window: 60},
}

// LimitForTier returns the request allowance for tier, falling back
// to the heavy tier for unknown values.
func LimitForTier(tier WorkflowTier) int64 {
	if tw, ok := tierWindows[tier]; ok {
		return tw.limit
	}
	return tierWindows[TierHeavy].limit
}

// WindowForTier returns the window length for tier in seconds.
func WindowForTier(tier WorkflowTier) int {
	if tw, ok := tierWindows[tier]; ok {
		return tw.window
	}
	return tierWindows[TierHeavy].window
}
