package ratelimit

import "github.com/tidwall/gjson"

// WorkflowTier represents the rate limit tier based on workflow complexity
type WorkflowTier string

const (
	TierSimple   WorkflowTier = "simple"   // No llm nodes
	TierStandard WorkflowTier = "standard" // 1-2 llm nodes
	TierHeavy    WorkflowTier = "heavy"    // 3+ llm nodes
)

// WorkflowProfile contains analysis of a workflow's complexity
type WorkflowProfile struct {
	Tier        WorkflowTier // Determined tier
	LLMCount    int          // Number of llm nodes
	HasLLMNodes bool         // Whether workflow calls a model at all
	TotalNodes  int          // Total node count
}

// InspectDefinition analyzes a raw workflow definition and determines
// its complexity tier. Model calls dominate execution cost, so tiering
// counts llm nodes only. ForEach walks both the map form (node ID →
// node) and the array form, so submissions are tiered before any
// normalization happens.
func InspectDefinition(definition []byte) WorkflowProfile {
	profile := WorkflowProfile{
		Tier: TierSimple,
	}

	gjson.GetBytes(definition, "nodes").ForEach(func(_, node gjson.Result) bool {
		profile.TotalNodes++
		if node.Get("type").String() == "llm" {
			profile.LLMCount++
			profile.HasLLMNodes = true
		}
		return true
	})

	profile.Tier = determineTier(profile.LLMCount)
	return profile
}

// determineTier returns the appropriate tier based on llm node count
func determineTier(llmCount int) WorkflowTier {
	switch {
	case llmCount == 0:
		return TierSimple
	case llmCount <= 2:
		return TierStandard
	default: // 3+
		return TierHeavy
	}
}
