package usecase

import (
	"context"
	"testing"

	"mailtriage/internal/triage/domain"
	"mailtriage/internal/triage/repository"
	"mailtriage/pkg/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type learnerFixture struct {
	learner  *Learner
	ledger   repository.LedgerRepository
	rules    repository.RuleRepository
	prompter *resolvingPrompter
}

// resolvingPrompter answers conflict prompts with a fixed resolution.
type resolvingPrompter struct {
	resolution domain.ConflictResolution
	asked      int
}

func (p *resolvingPrompter) PresentThread(ctx context.Context, t domain.Thread, d domain.ThreadDecision) (domain.HumanAction, error) {
	return domain.HumanAction{Kind: domain.ActionSkip}, nil
}

func (p *resolvingPrompter) ResolveConflict(ctx context.Context, existing, proposed domain.Rule) (domain.ConflictResolution, error) {
	p.asked++
	return p.resolution, nil
}

func newLearnerFixture(t *testing.T, threshold int) *learnerFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.LedgerEntry{}, &domain.Rule{}))

	ledger := repository.NewLedgerRepository(db)
	rules := repository.NewRuleRepository(db)
	prompter := &resolvingPrompter{}
	return &learnerFixture{
		learner:  NewLearner(rules, ledger, prompter, threshold, 20, nil),
		ledger:   ledger,
		rules:    rules,
		prompter: prompter,
	}
}

func correction(sender string, applied domain.Category) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:          uuid.New().String(),
		AccountID:   "acct",
		Key:         "msg:" + uuid.New().String(),
		Outcome:     domain.OutcomeRejected,
		RecCategory: applied.Opposite(),
		Sender:      sender,
		Applied:     applied,
	}
}

func TestObserveBelowThresholdNoRule(t *testing.T) {
	f := newLearnerFixture(t, 2)

	require.NoError(t, f.learner.Observe(context.Background(),
		correction("newsletter@example.com", domain.CategoryJunkCandidate)))

	active, err := f.rules.ActiveRules()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestObserveThresholdSynthesizesRules(t *testing.T) {
	f := newLearnerFixture(t, 2)
	ctx := context.Background()

	require.NoError(t, f.learner.Observe(ctx, correction("newsletter@example.com", domain.CategoryJunkCandidate)))
	require.NoError(t, f.learner.Observe(ctx, correction("newsletter@example.com", domain.CategoryJunkCandidate)))

	// Both the sender and its domain reach the threshold together.
	active, err := f.rules.ActiveRules()
	require.NoError(t, err)
	require.Len(t, active, 2)

	byPattern := make(map[domain.PatternKind]domain.Rule)
	for _, r := range active {
		byPattern[r.Pattern] = r
	}
	assert.Equal(t, "newsletter@example.com", byPattern[domain.PatternSender].PatternValue)
	assert.Equal(t, "example.com", byPattern[domain.PatternDomain].PatternValue)
	assert.Equal(t, domain.CategoryJunkCandidate, byPattern[domain.PatternSender].Action)
	assert.NotEmpty(t, byPattern[domain.PatternSender].Provenance)
}

func TestObserveWindowClearsOnTrigger(t *testing.T) {
	f := newLearnerFixture(t, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.learner.Observe(ctx, correction("a@example.com", domain.CategoryJunkCandidate)))
	}

	// The third correction starts a fresh window instead of re-triggering;
	// exactly one version exists per pattern.
	all, err := f.rules.All()
	require.NoError(t, err)
	assert.Len(t, all, 2) // sender + domain, one version each
}

func TestObserveInconsistentCorrectionsDoNotTrigger(t *testing.T) {
	f := newLearnerFixture(t, 2)
	ctx := context.Background()

	require.NoError(t, f.learner.Observe(ctx, correction("a@example.com", domain.CategoryJunkCandidate)))
	require.NoError(t, f.learner.Observe(ctx, correction("a@example.com", domain.CategoryKeep)))

	active, err := f.rules.ActiveRules()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestObserveIgnoresNonCorrections(t *testing.T) {
	f := newLearnerFixture(t, 1)

	entry := correction("a@example.com", domain.CategoryJunkCandidate)
	entry.Outcome = domain.OutcomeAccepted
	require.NoError(t, f.learner.Observe(context.Background(), entry))

	active, err := f.rules.ActiveRules()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSeedReplaysAcrossSessions(t *testing.T) {
	f := newLearnerFixture(t, 2)
	ctx := context.Background()

	// Session one: a single correction, recorded in the ledger but below
	// the threshold.
	first := correction("newsletter@example.com", domain.CategoryJunkCandidate)
	require.NoError(t, f.ledger.Append(&first))
	require.NoError(t, f.learner.Observe(ctx, first))
	active, err := f.rules.ActiveRules()
	require.NoError(t, err)
	assert.Empty(t, active)

	// Session two: a fresh learner seeds from history; the second
	// correction tips the pattern over.
	second := NewLearner(f.rules, f.ledger, f.prompter, 2, 20, nil)
	require.NoError(t, second.Seed(ctx, "acct"))

	entry := correction("newsletter@example.com", domain.CategoryJunkCandidate)
	require.NoError(t, f.ledger.Append(&entry))
	require.NoError(t, second.Observe(ctx, entry))

	active, err = f.rules.ActiveRules()
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestSeedIsIdempotent(t *testing.T) {
	f := newLearnerFixture(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		entry := correction("newsletter@example.com", domain.CategoryJunkCandidate)
		require.NoError(t, f.ledger.Append(&entry))
		require.NoError(t, f.learner.Observe(ctx, entry))
	}

	// A later session replays the same corrections; nothing new appears.
	later := NewLearner(f.rules, f.ledger, f.prompter, 2, 20, nil)
	require.NoError(t, later.Seed(ctx, "acct"))

	all, err := f.rules.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestContradictionFlagsConflictAndPrompts(t *testing.T) {
	f := newLearnerFixture(t, 2)
	f.prompter.resolution = domain.ConflictReplace
	ctx := context.Background()

	// Established rule: junk.
	require.NoError(t, f.learner.Observe(ctx, correction("a@example.com", domain.CategoryJunkCandidate)))
	require.NoError(t, f.learner.Observe(ctx, correction("a@example.com", domain.CategoryJunkCandidate)))

	// New evidence the other way.
	require.NoError(t, f.learner.Observe(ctx, correction("a@example.com", domain.CategoryKeep)))
	require.NoError(t, f.learner.Observe(ctx, correction("a@example.com", domain.CategoryKeep)))

	assert.Equal(t, 2, f.prompter.asked, "sender and domain conflicts each prompted")

	// The operator chose replace: keep wins as a fresh active version.
	active, err := f.rules.ActiveRules()
	require.NoError(t, err)
	byPattern := make(map[domain.PatternKind]domain.Rule)
	for _, r := range active {
		byPattern[r.Pattern] = r
	}
	assert.Equal(t, domain.CategoryKeep, byPattern[domain.PatternSender].Action)

	// The conflicted version is preserved in the trail.
	all, err := f.rules.All()
	require.NoError(t, err)
	conflictedSeen := false
	for _, r := range all {
		if r.Status == domain.RuleConflicted {
			conflictedSeen = true
		}
	}
	assert.True(t, conflictedSeen)
}

func TestContradictionWithoutPrompterStaysPending(t *testing.T) {
	f := newLearnerFixture(t, 2)
	ctx := context.Background()
	unattended := NewLearner(f.rules, f.ledger, nil, 2, 20, nil)

	require.NoError(t, unattended.Observe(ctx, correction("a@example.com", domain.CategoryJunkCandidate)))
	require.NoError(t, unattended.Observe(ctx, correction("a@example.com", domain.CategoryJunkCandidate)))
	require.NoError(t, unattended.Observe(ctx, correction("a@example.com", domain.CategoryKeep)))
	require.NoError(t, unattended.Observe(ctx, correction("a@example.com", domain.CategoryKeep)))

	// The junk rules stay in force; the keep proposals await the rules
	// command.
	active, err := f.rules.ActiveRules()
	require.NoError(t, err)
	for _, r := range active {
		assert.Equal(t, domain.CategoryJunkCandidate, r.Action)
	}

	pending, err := unattended.PendingConflicts()
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// A later interactive session resolves the backlog.
	f.prompter.resolution = domain.ConflictReplace
	for _, p := range pending {
		require.NoError(t, f.learner.ResolvePending(ctx, p))
	}
	active, err = f.rules.ActiveRules()
	require.NoError(t, err)
	for _, r := range active {
		assert.Equal(t, domain.CategoryKeep, r.Action)
	}
	remaining, err := f.learner.PendingConflicts()
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPendingConflictSurvivesFurtherCorrections(t *testing.T) {
	f := newLearnerFixture(t, 2)
	ctx := context.Background()
	unattended := NewLearner(f.rules, f.ledger, nil, 2, 20, nil)

	// Established junk rules, then a pending keep conflict.
	for i := 0; i < 2; i++ {
		require.NoError(t, unattended.Observe(ctx, correction("a@example.com", domain.CategoryJunkCandidate)))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, unattended.Observe(ctx, correction("a@example.com", domain.CategoryKeep)))
	}
	pending, err := unattended.PendingConflicts()
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// More keep corrections reach the threshold again while the conflict
	// is unresolved. They must not promote the proposal behind the
	// operator's back.
	for i := 0; i < 2; i++ {
		entry := correction("a@example.com", domain.CategoryKeep)
		require.NoError(t, f.ledger.Append(&entry))
		require.NoError(t, unattended.Observe(ctx, entry))
	}

	active, err := f.rules.ActiveRules()
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, r := range active {
		assert.Equal(t, domain.CategoryJunkCandidate, r.Action, "junk rules stay in force")
	}
	pending, err = unattended.PendingConflicts()
	require.NoError(t, err)
	assert.Len(t, pending, 2, "conflicts still await the operator")

	// A seed replay in a later session leaves the backlog alone too.
	later := NewLearner(f.rules, f.ledger, nil, 2, 20, nil)
	require.NoError(t, later.Seed(ctx, "acct"))
	pending, err = later.PendingConflicts()
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestApplyManualInsertsRule(t *testing.T) {
	f := newLearnerFixture(t, 2)

	require.NoError(t, f.learner.ApplyManual(context.Background(), domain.RuleSpec{
		Pattern:      domain.PatternSubject,
		PatternValue: "unsubscribe",
		Action:       domain.CategoryJunkCandidate,
	}, "manual"))

	active, err := f.rules.ActiveRules()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.PatternSubject, active[0].Pattern)

	// Same rule again is a no-op, not a new version.
	require.NoError(t, f.learner.ApplyManual(context.Background(), domain.RuleSpec{
		Pattern:      domain.PatternSubject,
		PatternValue: "unsubscribe",
		Action:       domain.CategoryJunkCandidate,
	}, "manual"))
	all, err := f.rules.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestApplyManualRejectsInvalidSpec(t *testing.T) {
	f := newLearnerFixture(t, 2)

	assert.Error(t, f.learner.ApplyManual(context.Background(), domain.RuleSpec{
		Pattern: domain.PatternSender, Action: domain.CategoryKeep,
	}, "manual"))
	assert.Error(t, f.learner.ApplyManual(context.Background(), domain.RuleSpec{
		Pattern: domain.PatternSender, PatternValue: "a@example.com",
		Action: domain.Category("MAYBE"),
	}, "manual"))
}
