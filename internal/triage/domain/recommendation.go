package domain

// Category is the classification the inference service assigns to a message.
type Category string

const (
	CategoryKeep          Category = "KEEP"
	CategoryJunkCandidate Category = "JUNK_CANDIDATE"
)

// Valid reports whether c is one of the two known categories.
func (c Category) Valid() bool {
	return c == CategoryKeep || c == CategoryJunkCandidate
}

// Opposite returns the other category. Used when the operator rejects a
// recommendation: the applied action is the inverse of what was recommended.
func (c Category) Opposite() Category {
	if c == CategoryJunkCandidate {
		return CategoryKeep
	}
	return CategoryJunkCandidate
}

// Recommendation is the validated per-message output of the inference
// service. Produced once per message per session and cached for the
// session's lifetime under the active ruleset version.
type Recommendation struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Signals    []string `json:"signals,omitempty"`
}

// FallbackRecommendation is the safety-first sentinel returned when the
// inference service is unavailable or keeps answering with malformed output.
// Zero confidence guarantees the thread is routed to human review.
func FallbackRecommendation() Recommendation {
	return Recommendation{
		Category:   CategoryKeep,
		Confidence: 0.0,
		Reasoning:  "inference unavailable",
	}
}

// ThreadDecision is the aggregated, possibly overridden, decision for a
// whole thread. Derived per session, never persisted on its own.
type ThreadDecision struct {
	ThreadID   string   `json:"thread_id"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	// Reasoning explains the aggregate: the override text when forced,
	// otherwise the weakest-link message's reasoning.
	Reasoning      string `json:"reasoning,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`
}

// Overridden reports whether the decision was forced rather than computed
// from per-message recommendations.
func (d ThreadDecision) Overridden() bool {
	return d.OverrideReason != ""
}
