package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"mailtriage/internal/triage/domain"
	"mailtriage/internal/triage/repository"
	"mailtriage/pkg/ai"
	"mailtriage/pkg/retry"

	"go.uber.org/zap"
)

// Recommender obtains one validated recommendation per message from the
// inference provider. It owns prompt assembly, schema validation, bounded
// retry and the session cache; the transport lives in pkg/ai.
type Recommender struct {
	client ai.Client
	rules  repository.RuleRepository
	policy retry.Policy
	log    *zap.Logger

	mu    sync.Mutex
	cache map[cacheKey]domain.Recommendation
}

type cacheKey struct {
	uid      string
	revision int64
}

// NewRecommender creates a new Recommender.
func NewRecommender(client ai.Client, rules repository.RuleRepository, policy retry.Policy, log *zap.Logger) *Recommender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recommender{
		client: client,
		rules:  rules,
		policy: policy,
		log:    log,
		cache:  make(map[cacheKey]domain.Recommendation),
	}
}

// Analyze returns the recommendation for a message under the active rule
// set. It never fails: transient exhaustion and malformed responses degrade
// to the KEEP/0.0 sentinel, which routes the thread to human review.
// Results are cached per (message, ruleset revision) for the session.
func (r *Recommender) Analyze(ctx context.Context, m domain.Message) domain.Recommendation {
	revision, err := r.rules.Revision()
	if err != nil {
		r.log.Error("failed to read rule revision", zap.Error(err))
		revision = -1 // uncacheable, fall through to a fresh call
	}

	key := cacheKey{uid: m.UID, revision: revision}
	r.mu.Lock()
	if rec, ok := r.cache[key]; ok && revision >= 0 {
		r.mu.Unlock()
		return rec
	}
	r.mu.Unlock()

	rec, err := r.analyzeOnce(ctx, m)
	if err != nil {
		r.log.Warn("inference unavailable, using safe fallback",
			zap.String("uid", m.UID), zap.Error(err))
		rec = domain.FallbackRecommendation()
	}

	r.mu.Lock()
	r.cache[key] = rec
	r.mu.Unlock()
	return rec
}

func (r *Recommender) analyzeOnce(ctx context.Context, m domain.Message) (domain.Recommendation, error) {
	active, err := r.rules.ActiveRules()
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("failed to load active rules: %w", err)
	}
	prompt := buildPrompt(m, active)

	var rec domain.Recommendation
	err = r.policy.Do(ctx, func() error {
		raw, err := r.client.Classify(ctx, prompt)
		if err != nil {
			// Transport errors are worth another attempt.
			return err
		}
		parsed, err := parseRecommendation(raw)
		if err != nil {
			// A malformed response may be a one-off decoding hiccup;
			// retry within the same bounded budget.
			return err
		}
		rec = parsed
		return nil
	})
	if err != nil {
		return domain.Recommendation{}, err
	}
	return rec, nil
}

// parseRecommendation validates the raw model output against the fixed
// response schema. Anything that does not carry a known category and an
// in-range confidence is rejected as malformed.
func parseRecommendation(raw string) (domain.Recommendation, error) {
	text := stripFences(raw)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return domain.Recommendation{}, fmt.Errorf("%w: no JSON object found", domain.ErrMalformedResponse)
	}
	text = text[start : end+1]

	var payload struct {
		Category   string   `json:"category"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
		Signals    []string `json:"signals"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return domain.Recommendation{}, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	category := domain.Category(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(payload.Category)), "-", "_"))
	if !category.Valid() {
		return domain.Recommendation{}, fmt.Errorf("%w: unknown category %q", domain.ErrMalformedResponse, payload.Category)
	}
	if payload.Confidence == nil || *payload.Confidence < 0 || *payload.Confidence > 1 {
		return domain.Recommendation{}, fmt.Errorf("%w: confidence out of range", domain.ErrMalformedResponse)
	}

	return domain.Recommendation{
		Category:   category,
		Confidence: *payload.Confidence,
		Reasoning:  strings.TrimSpace(payload.Reasoning),
		Signals:    payload.Signals,
	}, nil
}

// stripFences removes markdown code fences that local models like to wrap
// JSON responses in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
