package usecase

import (
	"context"
	"fmt"

	"mailtriage/internal/triage/domain"
	"mailtriage/internal/triage/repository"
	"mailtriage/pkg/retry"

	"go.uber.org/zap"
)

// ThreadState is the engine's per-thread state machine position.
type ThreadState int

const (
	StatePending ThreadState = iota
	StateAnalyzed
	StateAutoAccepted
	StateAwaitingHuman
	StateApplied
	StateAborted
)

// String implements fmt.Stringer for logging.
func (s ThreadState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateAnalyzed:
		return "ANALYZED"
	case StateAutoAccepted:
		return "AUTO_ACCEPTED"
	case StateAwaitingHuman:
		return "AWAITING_HUMAN"
	case StateApplied:
		return "APPLIED"
	case StateAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// ProcessResult reports how one thread was resolved.
type ProcessResult struct {
	State      ThreadState
	Outcome    domain.Outcome
	Applied    domain.Category
	AutoAccept bool
	Correction bool
}

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	// Threshold is the confidence cutoff T: at or above it the recommended
	// action is committed without human input.
	Threshold float64
	// JunkLabel is applied to discarded messages, which also leave INBOX.
	JunkLabel string
}

// Engine is the orchestrating state machine. Threads move
// PENDING → ANALYZED → {AUTO_ACCEPTED | AWAITING_HUMAN} → {APPLIED | ABORTED};
// a failed provider apply leaves the thread PENDING for the next run and
// writes nothing, so the ledger only ever records successfully applied
// decisions.
type Engine struct {
	provider    domain.MailProvider
	prompter    domain.Prompter
	ledger      repository.LedgerRepository
	analyzer    *Analyzer
	learner     *Learner
	applyPolicy retry.Policy
	cfg         EngineConfig
	log         *zap.Logger
}

// NewEngine creates a new Engine.
func NewEngine(provider domain.MailProvider, prompter domain.Prompter, ledger repository.LedgerRepository,
	analyzer *Analyzer, learner *Learner, applyPolicy retry.Policy, cfg EngineConfig, log *zap.Logger) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.9
	}
	if cfg.JunkLabel == "" {
		cfg.JunkLabel = "Junk-Candidate"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		provider:    provider,
		prompter:    prompter,
		ledger:      ledger,
		analyzer:    analyzer,
		learner:     learner,
		applyPolicy: applyPolicy,
		cfg:         cfg,
		log:         log,
	}
}

// ProcessThread drives one thread to a terminal state. It returns
// domain.ErrAborted when the operator quits, and a non-nil error on ledger
// write failure, which is fatal for the account's session. A thread left in
// StatePending (apply failure, or UPDATE without an explicit outcome) gets
// no ledger entry and is re-presented next run.
func (e *Engine) ProcessThread(ctx context.Context, accountID string, t domain.Thread) (ProcessResult, error) {
	decision := e.analyzer.AnalyzeThread(ctx, t)
	e.log.Debug("thread analyzed",
		zap.String("key", t.Key()),
		zap.String("category", string(decision.Category)),
		zap.Float64("confidence", decision.Confidence),
		zap.String("override", decision.OverrideReason))

	var (
		outcome    domain.Outcome
		applied    domain.Category
		feedback   string
		autoAccept bool
	)

	if decision.Confidence >= e.cfg.Threshold {
		autoAccept = true
		outcome = domain.OutcomeAccepted
		applied = decision.Category
	} else {
		action, err := e.prompter.PresentThread(ctx, t, decision)
		if err != nil {
			return ProcessResult{State: StateAborted}, fmt.Errorf("human interface failed: %w", err)
		}

		switch action.Kind {
		case domain.ActionQuit:
			return ProcessResult{State: StateAborted}, domain.ErrAborted

		case domain.ActionSkip:
			outcome = domain.OutcomeSkipped
			applied = domain.CategoryKeep

		case domain.ActionAccept:
			outcome = domain.OutcomeAccepted
			applied = decision.Category
			feedback = action.Feedback

		case domain.ActionReject:
			outcome = domain.OutcomeRejected
			applied = decision.Category.Opposite()
			feedback = action.Feedback
			if feedback == "" {
				feedback = fmt.Sprintf("operator chose %s despite %s recommendation (confidence %.2f)",
					applied, decision.Category, decision.Confidence)
			}

		case domain.ActionUpdate:
			if action.Rule == nil {
				return ProcessResult{State: StatePending}, nil
			}
			if err := e.learner.ApplyManual(ctx, *action.Rule, "manual update for "+t.Key()); err != nil {
				return ProcessResult{State: StatePending}, fmt.Errorf("failed to apply rule update: %w", err)
			}
			if action.Outcome == nil {
				// Rule folded in; thread stays pending for the next pass.
				return ProcessResult{State: StatePending}, nil
			}
			outcome = domain.OutcomeUpdated
			feedback = action.Feedback
			switch *action.Outcome {
			case domain.ActionReject:
				applied = decision.Category.Opposite()
			default:
				applied = decision.Category
			}

		default:
			return ProcessResult{State: StateAwaitingHuman}, fmt.Errorf("unknown human action %d", action.Kind)
		}
	}

	// Provider-side mutation happens before the ledger write: the ledger
	// only records decisions that were successfully applied.
	if applied == domain.CategoryJunkCandidate && outcome != domain.OutcomeSkipped {
		if err := e.applyJunk(ctx, t); err != nil {
			e.log.Warn("failed to apply decision, leaving thread pending",
				zap.String("key", t.Key()), zap.Error(err))
			return ProcessResult{State: StatePending}, nil
		}
	}

	entry := &domain.LedgerEntry{
		AccountID:       accountID,
		Key:             t.Key(),
		Outcome:         outcome,
		RecCategory:     decision.Category,
		RecConfidence:   decision.Confidence,
		RecReasoning:    decision.Reasoning,
		Sender:          threadSender(t),
		Subject:         threadSubject(t),
		Applied:         applied,
		HumanCorrection: feedback,
	}
	if err := e.ledger.Append(entry); err != nil {
		// Fatal: continuing would risk silent duplicate or lost work.
		return ProcessResult{State: StateApplied}, fmt.Errorf("ledger write failed for %s: %w", t.Key(), err)
	}

	if entry.Correction() {
		// The decision is already ledgered; learning failures must not
		// unwind it.
		if err := e.learner.Observe(ctx, *entry); err != nil {
			e.log.Error("rule learning failed", zap.String("key", t.Key()), zap.Error(err))
		}
	}

	state := StateApplied
	finalState := ProcessResult{
		State:      state,
		Outcome:    outcome,
		Applied:    applied,
		AutoAccept: autoAccept,
		Correction: entry.Correction(),
	}
	e.log.Info("thread resolved",
		zap.String("key", t.Key()),
		zap.String("outcome", string(outcome)),
		zap.String("applied", string(applied)),
		zap.Bool("auto", autoAccept))
	return finalState, nil
}

// applyJunk tags every message in the thread and removes it from the inbox,
// retrying each mutation with the shared backoff policy. Fatal provider
// errors stop retrying immediately.
func (e *Engine) applyJunk(ctx context.Context, t domain.Thread) error {
	for _, m := range t.Messages {
		uid := m.UID
		err := e.applyPolicy.Do(ctx, func() error {
			if err := e.provider.ApplyLabel(ctx, uid, e.cfg.JunkLabel); err != nil {
				if !domain.IsTransient(err) {
					return retry.Permanent(err)
				}
				return err
			}
			if err := e.provider.RemoveLabel(ctx, uid, "INBOX"); err != nil {
				if !domain.IsTransient(err) {
					return retry.Permanent(err)
				}
				return err
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("apply failed for message %s: %w", uid, err)
		}
	}
	return nil
}

func threadSender(t domain.Thread) string {
	if len(t.Messages) == 0 {
		return ""
	}
	return t.Messages[0].Sender
}

func threadSubject(t domain.Thread) string {
	if len(t.Messages) == 0 {
		return ""
	}
	return t.Messages[0].Subject
}
