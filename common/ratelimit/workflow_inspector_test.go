package ratelimit

import "testing"

func TestInspectDefinitionTiering(t *testing.T) {
	cases := []struct {
		name       string
		definition string
		wantTier   WorkflowTier
		wantLLM    int
		wantTotal  int
	}{
		{
			name:       "no llm nodes",
			definition: `{"nodes":{"a":{"type":"trigger"},"b":{"type":"http"}}}`,
			wantTier:   TierSimple,
			wantLLM:    0,
			wantTotal:  2,
		},
		{
			name:       "one llm node",
			definition: `{"nodes":{"a":{"type":"trigger"},"b":{"type":"llm"}}}`,
			wantTier:   TierStandard,
			wantLLM:    1,
			wantTotal:  2,
		},
		{
			name:       "two llm nodes",
			definition: `{"nodes":{"a":{"type":"llm"},"b":{"type":"llm"},"c":{"type":"output"}}}`,
			wantTier:   TierStandard,
			wantLLM:    2,
			wantTotal:  3,
		},
		{
			name:       "three llm nodes",
			definition: `{"nodes":{"a":{"type":"llm"},"b":{"type":"llm"},"c":{"type":"llm"}}}`,
			wantTier:   TierHeavy,
			wantLLM:    3,
			wantTotal:  3,
		},
		{
			name:       "array form",
			definition: `{"nodes":[{"type":"llm"},{"type":"transform"}]}`,
			wantTier:   TierStandard,
			wantLLM:    1,
			wantTotal:  2,
		},
		{
			name:       "empty definition",
			definition: `{}`,
			wantTier:   TierSimple,
			wantLLM:    0,
			wantTotal:  0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			profile := InspectDefinition([]byte(tc.definition))

			if profile.Tier != tc.wantTier {
				t.Errorf("Expected tier %s, got %s", tc.wantTier, profile.Tier)
			}
			if profile.LLMCount != tc.wantLLM {
				t.Errorf("Expected %d llm nodes, got %d", tc.wantLLM, profile.LLMCount)
			}
			if profile.TotalNodes != tc.wantTotal {
				t.Errorf("Expected %d total nodes, got %d", tc.wantTotal, profile.TotalNodes)
			}
			if profile.HasLLMNodes != (tc.wantLLM > 0) {
				t.Errorf("Expected HasLLMNodes=%v", tc.wantLLM > 0)
			}
		})
	}
}

func TestUnknownTierFallsBackToHeavy(t *testing.T) {
	if got := LimitForTier(WorkflowTier("bogus")); got != LimitForTier(TierHeavy) {
		t.Errorf("Expected heavy fallback limit, got %d", got)
	}
	if got := WindowForTier(WorkflowTier("bogus")); got != WindowForTier(TierHeavy) {
		t.Errorf("Expected heavy fallback window, got %d", got)
	}
}
