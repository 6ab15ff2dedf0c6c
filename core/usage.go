package core

import "sync"

// Usage reports token consumption of one model call.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	Estimated    bool `json:"estimated,omitempty"` // true when computed locally rather than reported
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Add returns the element-wise sum. The result is estimated if either side is.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		Estimated:    u.Estimated || o.Estimated,
	}
}

// UsageTracker aggregates usage across calls. It is safe for concurrent use.
type UsageTracker struct {
	mu    sync.Mutex
	total Usage
	calls int
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker { return &UsageTracker{} }

// Add records one call's usage.
func (t *UsageTracker) Add(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = t.total.Add(u)
	t.calls++
}

// Snapshot returns the aggregate usage so far.
func (t *UsageTracker) Snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}

// Calls returns how many calls have been recorded.
func (t *UsageTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.calls
}
