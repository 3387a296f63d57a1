package usecase

import (
	"context"
	"fmt"

	"mailtriage/internal/triage/domain"
)

// MessageRecommender narrows Recommender for the analyzer so tests can
// script per-message recommendations.
type MessageRecommender interface {
	Analyze(ctx context.Context, m domain.Message) domain.Recommendation
}

// Analyzer combines per-message recommendations and the starred override
// into one decision per thread.
type Analyzer struct {
	recommender MessageRecommender
}

// NewAnalyzer creates a new Analyzer.
func NewAnalyzer(recommender MessageRecommender) *Analyzer {
	return &Analyzer{recommender: recommender}
}

// AnalyzeThread produces the thread's aggregate decision.
//
// The starred override runs first and is absolute: any starred message
// forces KEEP at full confidence, before and regardless of any
// recommendation. Otherwise the aggregate category is JUNK_CANDIDATE only
// when every message agrees (a single dissenting KEEP preserves the
// thread), and the aggregate confidence is the weakest link.
func (a *Analyzer) AnalyzeThread(ctx context.Context, t domain.Thread) domain.ThreadDecision {
	if starred := countStarred(t); starred > 0 {
		reason := fmt.Sprintf("thread contains %d starred message(s)", starred)
		return domain.ThreadDecision{
			ThreadID:       t.ID,
			Category:       domain.CategoryKeep,
			Confidence:     1.0,
			Reasoning:      reason,
			OverrideReason: reason,
		}
	}

	category := domain.CategoryJunkCandidate
	confidence := 1.0
	reasoning := ""
	for _, m := range t.Messages {
		rec := a.recommender.Analyze(ctx, m)
		if rec.Category != domain.CategoryJunkCandidate {
			category = domain.CategoryKeep
		}
		if rec.Confidence <= confidence {
			confidence = rec.Confidence
			reasoning = rec.Reasoning
		}
	}
	if len(t.Messages) == 0 {
		category = domain.CategoryKeep
		confidence = 0
		reasoning = ""
	}

	return domain.ThreadDecision{
		ThreadID:   t.ID,
		Category:   category,
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}

func countStarred(t domain.Thread) int {
	n := 0
	for _, m := range t.Messages {
		if m.Starred {
			n++
		}
	}
	return n
}
