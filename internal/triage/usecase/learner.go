package usecase

import (
	"context"
	"fmt"
	"sync"

	"mailtriage/internal/triage/domain"
	"mailtriage/internal/triage/repository"

	"go.uber.org/zap"
)

// Learner synthesizes classification rules from repeated human corrections.
// It keeps a sliding window of corrections per sender and per sender-domain
// pattern; when the same pattern accumulates the correction threshold with a
// consistent corrected outcome, a new rule version is inserted and folded
// into future inference prompts.
type Learner struct {
	rules    repository.RuleRepository
	ledger   repository.LedgerRepository
	prompter domain.Prompter
	log      *zap.Logger

	threshold  int
	windowSize int

	mu      sync.Mutex
	windows map[string][]observation
}

type observation struct {
	action  domain.Category
	entryID string
}

// NewLearner creates a new Learner. threshold is the number of consistent
// corrections that synthesizes a rule; windowSize bounds how far back a
// pattern's corrections are remembered.
func NewLearner(rules repository.RuleRepository, ledger repository.LedgerRepository, prompter domain.Prompter, threshold, windowSize int, log *zap.Logger) *Learner {
	if threshold <= 0 {
		threshold = 2
	}
	if windowSize < threshold {
		windowSize = threshold * 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Learner{
		rules:      rules,
		ledger:     ledger,
		prompter:   prompter,
		log:        log,
		threshold:  threshold,
		windowSize: windowSize,
		windows:    make(map[string][]observation),
	}
}

// Seed replays the account's historical corrections into the sliding
// windows so that patterns recurring across sessions still reach the
// threshold. Synthesis during replay is naturally idempotent: a pattern
// whose rule already exists with the corrected action is skipped.
func (l *Learner) Seed(ctx context.Context, accountID string) error {
	corrections, err := l.ledger.Corrections(accountID, 0)
	if err != nil {
		return fmt.Errorf("failed to load corrections: %w", err)
	}
	for _, entry := range corrections {
		if err := l.Observe(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Observe records one correction entry and synthesizes a rule when a
// pattern reaches the threshold. The corrected outcome is the action that
// was actually applied, i.e. what the operator decided over the
// recommendation.
func (l *Learner) Observe(ctx context.Context, entry domain.LedgerEntry) error {
	if !entry.Correction() || entry.Sender == "" || !entry.Applied.Valid() {
		return nil
	}

	patterns := []struct {
		kind  domain.PatternKind
		value string
	}{
		{domain.PatternSender, entry.Sender},
	}
	if d := domain.SenderDomain(entry.Sender); d != "" {
		patterns = append(patterns, struct {
			kind  domain.PatternKind
			value string
		}{domain.PatternDomain, d})
	}

	for _, p := range patterns {
		ready, provenance := l.record(p.kind, p.value, observation{action: entry.Applied, entryID: entry.ID})
		if !ready {
			continue
		}
		if err := l.synthesize(ctx, p.kind, p.value, entry.Applied, provenance); err != nil {
			return err
		}
	}
	return nil
}

// record appends an observation to a pattern window and reports whether the
// threshold is met with a consistent action. The window is cleared once it
// triggers so the K-th occurrence produces exactly one rule.
func (l *Learner) record(kind domain.PatternKind, value string, obs observation) (bool, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := string(kind) + "\x00" + value
	window := append(l.windows[key], obs)
	if len(window) > l.windowSize {
		window = window[len(window)-l.windowSize:]
	}
	l.windows[key] = window

	consistent := 0
	var provenance []string
	for _, o := range window {
		if o.action == obs.action {
			consistent++
			provenance = append(provenance, o.entryID)
		}
	}
	if consistent < l.threshold {
		return false, nil
	}
	delete(l.windows, key)
	return true, provenance
}

// synthesize inserts a new rule version, detecting contradictions with the
// pattern's active rule. A contradiction is never auto-resolved: the new
// rule lands as conflicted and the operator chooses through the prompter.
// While a conflict is pending, further corrections never insert an active
// version; only an explicit resolution moves the pattern forward.
func (l *Learner) synthesize(ctx context.Context, kind domain.PatternKind, value string, action domain.Category, provenance []string) error {
	head, err := l.rules.LatestForPattern(kind, value)
	if err != nil {
		return err
	}
	if head != nil && head.Status == domain.RuleConflicted {
		l.log.Info("correction for pattern with pending conflict, awaiting resolution",
			zap.String("pattern", string(kind)), zap.String("value", value),
			zap.String("proposed", string(action)))
		return nil
	}

	rule := &domain.Rule{
		Pattern:      kind,
		PatternValue: value,
		Action:       action,
		Provenance:   joinProvenance(provenance),
	}

	existing, err := l.rules.LatestActiveForPattern(kind, value)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Action == action {
			// Already learned; nothing new to record.
			return nil
		}
		rule.Status = domain.RuleConflicted
		if err := l.rules.Insert(rule); err != nil {
			return err
		}
		l.log.Warn("learned rule conflicts with active rule",
			zap.String("pattern", string(kind)), zap.String("value", value),
			zap.String("existing", string(existing.Action)), zap.String("proposed", string(action)))
		return l.resolve(ctx, *existing, *rule)
	}

	if err := l.rules.Insert(rule); err != nil {
		return err
	}
	l.log.Info("synthesized rule from corrections",
		zap.String("pattern", string(kind)), zap.String("value", value),
		zap.String("action", string(action)), zap.Int("version", rule.Version))
	return nil
}

// resolve surfaces a rule conflict through the human interface. Either
// answer is recorded as a fresh active version so the conflicted row stops
// being the pattern head.
func (l *Learner) resolve(ctx context.Context, existing, proposed domain.Rule) error {
	if l.prompter == nil {
		// No operator available (watch mode); the conflict stays pending
		// and is listed by the rules command.
		return nil
	}

	resolution, err := l.prompter.ResolveConflict(ctx, existing, proposed)
	if err != nil {
		return err
	}

	winner := &domain.Rule{
		Pattern:      existing.Pattern,
		PatternValue: existing.PatternValue,
		Provenance:   "conflict resolution over " + proposed.ID,
	}
	switch resolution {
	case domain.ConflictReplace:
		winner.Action = proposed.Action
	default:
		winner.Action = existing.Action
	}
	return l.rules.Insert(winner)
}

// ApplyManual folds an operator-supplied rule (the UPDATE action) into the
// rule set, subject to the same conflict handling as learned rules.
func (l *Learner) ApplyManual(ctx context.Context, spec domain.RuleSpec, provenance string) error {
	if !spec.Action.Valid() || spec.PatternValue == "" {
		return fmt.Errorf("invalid rule specification")
	}
	return l.synthesize(ctx, spec.Pattern, spec.PatternValue, spec.Action, []string{provenance})
}

// PendingConflicts lists conflicts still awaiting resolution.
func (l *Learner) PendingConflicts() ([]domain.Rule, error) {
	return l.rules.Conflicted()
}

// ResolvePending resolves one pending conflict from the rules command.
func (l *Learner) ResolvePending(ctx context.Context, proposed domain.Rule) error {
	existing, err := l.rules.LatestActiveForPattern(proposed.Pattern, proposed.PatternValue)
	if err != nil {
		return err
	}
	if existing == nil {
		// No surviving counterpart: promote by re-synthesis.
		winner := &domain.Rule{
			Pattern:      proposed.Pattern,
			PatternValue: proposed.PatternValue,
			Action:       proposed.Action,
			Provenance:   "conflict resolution over " + proposed.ID,
		}
		return l.rules.Insert(winner)
	}
	return l.resolve(ctx, *existing, proposed)
}

func joinProvenance(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}
