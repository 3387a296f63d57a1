package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"mailtriage/internal/triage/domain"
	"mailtriage/internal/triage/repository"
	"mailtriage/pkg/database"
	"mailtriage/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReply struct {
	text string
	err  error
}

// fakeClient plays back scripted replies; once exhausted it repeats the
// last one.
type fakeClient struct {
	replies []fakeReply
	calls   int
}

func (f *fakeClient) Classify(ctx context.Context, prompt string) (string, error) {
	i := f.calls
	f.calls++
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i].text, f.replies[i].err
}

func (f *fakeClient) Name() string { return "fake" }

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func newRuleRepo(t *testing.T) repository.RuleRepository {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.LedgerEntry{}, &domain.Rule{}))
	return repository.NewRuleRepository(db)
}

func TestAnalyzeParsesValidResponse(t *testing.T) {
	client := &fakeClient{replies: []fakeReply{
		{text: `{"category": "JUNK_CANDIDATE", "confidence": 0.92, "reasoning": "bulk promotional", "signals": ["unsubscribe link"]}`},
	}}
	r := NewRecommender(client, newRuleRepo(t), testPolicy(), nil)

	rec := r.Analyze(context.Background(), domain.Message{UID: "1", Sender: "deals@example.com"})

	assert.Equal(t, domain.CategoryJunkCandidate, rec.Category)
	assert.Equal(t, 0.92, rec.Confidence)
	assert.Equal(t, "bulk promotional", rec.Reasoning)
	assert.Equal(t, []string{"unsubscribe link"}, rec.Signals)
}

func TestAnalyzeAcceptsFencedAndNoisyOutput(t *testing.T) {
	client := &fakeClient{replies: []fakeReply{
		{text: "Sure, here is my analysis:\n```json\n{\"category\": \"keep\", \"confidence\": 0.5}\n```"},
	}}
	r := NewRecommender(client, newRuleRepo(t), testPolicy(), nil)

	rec := r.Analyze(context.Background(), domain.Message{UID: "1"})

	assert.Equal(t, domain.CategoryKeep, rec.Category)
	assert.Equal(t, 0.5, rec.Confidence)
}

func TestAnalyzeRetriesTransportErrors(t *testing.T) {
	client := &fakeClient{replies: []fakeReply{
		{err: errors.New("connection refused")},
		{text: `{"category": "KEEP", "confidence": 0.8}`},
	}}
	r := NewRecommender(client, newRuleRepo(t), testPolicy(), nil)

	rec := r.Analyze(context.Background(), domain.Message{UID: "1"})

	assert.Equal(t, domain.CategoryKeep, rec.Category)
	assert.Equal(t, 0.8, rec.Confidence)
	assert.Equal(t, 2, client.calls)
}

func TestAnalyzeExhaustionFallsBackToSentinel(t *testing.T) {
	client := &fakeClient{replies: []fakeReply{
		{err: errors.New("connection refused")},
	}}
	r := NewRecommender(client, newRuleRepo(t), testPolicy(), nil)

	rec := r.Analyze(context.Background(), domain.Message{UID: "1"})

	// Safe default: never guesses junk when inference is down.
	assert.Equal(t, domain.CategoryKeep, rec.Category)
	assert.Zero(t, rec.Confidence)
	assert.Equal(t, 3, client.calls, "two retries after the first attempt")
}

func TestAnalyzeMalformedFallsBackToSentinel(t *testing.T) {
	cases := []string{
		`not json at all`,
		`{"category": "MAYBE", "confidence": 0.5}`,
		`{"category": "KEEP"}`,
		`{"category": "KEEP", "confidence": 1.7}`,
		`{"category": "KEEP", "confidence": -0.1}`,
	}
	for _, raw := range cases {
		client := &fakeClient{replies: []fakeReply{{text: raw}}}
		r := NewRecommender(client, newRuleRepo(t), testPolicy(), nil)

		rec := r.Analyze(context.Background(), domain.Message{UID: "1"})

		assert.Equal(t, domain.CategoryKeep, rec.Category, "raw %q", raw)
		assert.Zero(t, rec.Confidence, "raw %q", raw)
	}
}

func TestAnalyzeCachesPerRuleRevision(t *testing.T) {
	client := &fakeClient{replies: []fakeReply{
		{text: `{"category": "JUNK_CANDIDATE", "confidence": 0.9}`},
	}}
	rules := newRuleRepo(t)
	r := NewRecommender(client, rules, testPolicy(), nil)
	msg := domain.Message{UID: "1", Sender: "deals@example.com"}

	first := r.Analyze(context.Background(), msg)
	second := r.Analyze(context.Background(), msg)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.calls, "second call served from cache")

	// A rule insert bumps the revision and invalidates the cache.
	require.NoError(t, rules.Insert(&domain.Rule{
		Pattern: domain.PatternSender, PatternValue: "deals@example.com",
		Action: domain.CategoryJunkCandidate,
	}))
	r.Analyze(context.Background(), msg)
	assert.Equal(t, 2, client.calls)
}

func TestBuildPromptIncludesMatchingRules(t *testing.T) {
	msg := domain.Message{
		UID:     "1",
		Sender:  "newsletter@shop.example.com",
		Subject: "Deals",
		Body:    "buy now",
	}
	rules := []domain.Rule{
		{Pattern: domain.PatternDomain, PatternValue: "shop.example.com", Action: domain.CategoryJunkCandidate},
		{Pattern: domain.PatternSender, PatternValue: "other@example.com", Action: domain.CategoryKeep},
	}

	prompt := buildPrompt(msg, rules)

	assert.Contains(t, prompt, "shop.example.com")
	assert.Contains(t, prompt, "newsletter@shop.example.com")
	assert.NotContains(t, prompt, "other@example.com")
}

func TestBuildPromptTruncatesBodyOnRuneBoundary(t *testing.T) {
	msg := domain.Message{
		UID:    "1",
		Sender: "a@example.com",
		Body:   strings.Repeat("é", maxBodyChars+100),
	}

	prompt := buildPrompt(msg, nil)

	assert.True(t, utf8.ValidString(prompt), "truncation must not split a rune")
	assert.NotContains(t, prompt, msg.Body, "body was truncated")
}
