package dispatch

import "math"

// Retry policy defaults. A node gets at most MaxRetries attempts in
// total, with exponential backoff between retryable failures.
const (
	DefaultMaxRetries  = 3
	DefaultBaseDelayMs = 1000
	DefaultMaxDelayMs  = 30000
	DefaultMultiplier  = 2.0
)

// RetryPolicy controls how retryable activity failures are retried.
type RetryPolicy struct {
	MaxRetries  int     `json:"maxRetries"`
	BaseDelayMs int64   `json:"baseDelayMs"`
	MaxDelayMs  int64   `json:"maxDelayMs"`
	Multiplier  float64 `json:"multiplier"`
}

// DefaultRetryPolicy returns the engine defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  DefaultMaxRetries,
		BaseDelayMs: DefaultBaseDelayMs,
		MaxDelayMs:  DefaultMaxDelayMs,
		Multiplier:  DefaultMultiplier,
	}
}

// withDefaults fills zero fields.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelayMs <= 0 {
		p.BaseDelayMs = DefaultBaseDelayMs
	}
	if p.MaxDelayMs <= 0 {
		p.MaxDelayMs = DefaultMaxDelayMs
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

// DelayMs computes the backoff before retry number attempt+1. A
// server-supplied hint wins, clamped to [0, MaxDelayMs]; an explicit
// zero hint means retry immediately. Without a hint the delay is
// base·multiplier^attempt, clamped the same way. attempt counts
// completed attempts, starting at 0.
func (p RetryPolicy) DelayMs(attempt int, hintMs *int64) int64 {
	if hintMs != nil {
		hint := *hintMs
		if hint < 0 {
			hint = 0
		}
		if hint > p.MaxDelayMs {
			return p.MaxDelayMs
		}
		return hint
	}
	delay := float64(p.BaseDelayMs) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelayMs) {
		return p.MaxDelayMs
	}
	return int64(delay)
}

// PolicyFromMap builds a policy from a submission's retryPolicy
// option, falling back to defaults for absent fields.
func PolicyFromMap(raw map[string]interface{}) RetryPolicy {
	p := RetryPolicy{}
	if v, ok := raw["maxRetries"].(float64); ok {
		p.MaxRetries = int(v)
	}
	if v, ok := raw["baseDelayMs"].(float64); ok {
		p.BaseDelayMs = int64(v)
	}
	if v, ok := raw["maxDelayMs"].(float64); ok {
		p.MaxDelayMs = int64(v)
	}
	if v, ok := raw["multiplier"].(float64); ok {
		p.Multiplier = v
	}
	return p.withDefaults()
}
