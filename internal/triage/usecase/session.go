package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mailtriage/internal/triage/domain"
	"mailtriage/internal/triage/repository"

	"go.uber.org/zap"
)

// SessionStats summarizes one triage pass over an account.
type SessionStats struct {
	AccountID    string
	Fetched      int
	Threads      int
	Processed    int
	Kept         int
	Discarded    int
	AutoAccepted int
	Skipped      int
	Corrections  int
	Pending      int
	Aborted      bool
}

// SessionConfig holds the per-run tunables for a triage session.
type SessionConfig struct {
	Mailbox    string
	BatchSize  int
	JunkLabel  string
	ThreadMode bool
}

// Session runs one end-to-end triage pass: ensure the junk label exists,
// load processed keys from the ledger, seed the learner from past
// corrections, fetch a batch of unprocessed mail, group it and drive each
// thread through the engine. Skipped threads are recorded but not excluded
// from the next fetch.
type Session struct {
	provider domain.MailProvider
	ledger   repository.LedgerRepository
	engine   *Engine
	learner  *Learner
	cfg      SessionConfig
	log      *zap.Logger
}

// NewSession creates a new Session.
func NewSession(provider domain.MailProvider, ledger repository.LedgerRepository,
	engine *Engine, learner *Learner, cfg SessionConfig, log *zap.Logger) *Session {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.JunkLabel == "" {
		cfg.JunkLabel = "Junk-Candidate"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		provider: provider,
		ledger:   ledger,
		engine:   engine,
		learner:  learner,
		cfg:      cfg,
		log:      log,
	}
}

// Run executes one triage pass for the account. An operator quit stops the
// loop cleanly; remaining threads stay pending for the next run.
func (s *Session) Run(ctx context.Context, accountID string) (SessionStats, error) {
	stats := SessionStats{AccountID: accountID}

	if err := s.provider.EnsureLabel(ctx, s.cfg.JunkLabel); err != nil {
		return stats, fmt.Errorf("failed to ensure label %q: %w", s.cfg.JunkLabel, err)
	}

	processed, err := s.ledger.LoadProcessedKeys(accountID)
	if err != nil {
		return stats, fmt.Errorf("failed to load processed keys: %w", err)
	}
	s.log.Info("session starting",
		zap.String("account", accountID),
		zap.Int("already_processed", len(processed)))

	if err := s.learner.Seed(ctx, accountID); err != nil {
		return stats, fmt.Errorf("failed to seed rule learner: %w", err)
	}

	messages, err := s.provider.FetchBatch(ctx, s.cfg.Mailbox, processed, s.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch mail: %w", err)
	}
	stats.Fetched = len(messages)
	if len(messages) == 0 {
		s.log.Info("nothing to triage", zap.String("account", accountID))
		return stats, nil
	}

	threads := s.group(messages)
	stats.Threads = len(threads)

	for _, t := range threads {
		if key := t.Key(); processed[key] {
			continue
		}
		res, err := s.engine.ProcessThread(ctx, accountID, t)
		if err != nil {
			if errors.Is(err, domain.ErrAborted) {
				stats.Aborted = true
				s.log.Info("session aborted by operator", zap.String("account", accountID))
				return stats, nil
			}
			return stats, err
		}
		s.tally(&stats, res)
	}

	s.log.Info("session complete",
		zap.String("account", accountID),
		zap.Int("processed", stats.Processed),
		zap.Int("kept", stats.Kept),
		zap.Int("discarded", stats.Discarded),
		zap.Int("auto", stats.AutoAccepted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("corrections", stats.Corrections))
	return stats, nil
}

// group arranges fetched messages into processing units. In thread mode
// messages sharing a thread ID travel together; otherwise every message is
// triaged on its own.
func (s *Session) group(messages []domain.Message) []domain.Thread {
	if s.cfg.ThreadMode {
		return GroupThreads(messages)
	}
	singles := make([]domain.Message, len(messages))
	copy(singles, messages)
	for i := range singles {
		singles[i].ThreadID = ""
	}
	return GroupThreads(singles)
}

func (s *Session) tally(stats *SessionStats, res ProcessResult) {
	switch res.State {
	case StatePending:
		stats.Pending++
		return
	case StateApplied:
		stats.Processed++
	default:
		return
	}
	if res.AutoAccept {
		stats.AutoAccepted++
	}
	if res.Correction {
		stats.Corrections++
	}
	switch res.Outcome {
	case domain.OutcomeSkipped:
		stats.Skipped++
	default:
		if res.Applied == domain.CategoryJunkCandidate {
			stats.Discarded++
		} else {
			stats.Kept++
		}
	}
}

// RunAccounts triages several accounts concurrently, one session each.
// Each account gets its own session so provider and prompter state never
// crosses accounts; results arrive in accounts order.
func RunAccounts(ctx context.Context, sessions map[string]*Session, accounts []string, log *zap.Logger) []SessionStats {
	if log == nil {
		log = zap.NewNop()
	}
	results := make([]SessionStats, len(accounts))
	var wg sync.WaitGroup
	for i, id := range accounts {
		sess, ok := sessions[id]
		if !ok {
			results[i] = SessionStats{AccountID: id}
			log.Warn("no session configured for account", zap.String("account", id))
			continue
		}
		wg.Add(1)
		go func(i int, id string, sess *Session) {
			defer wg.Done()
			stats, err := sess.Run(ctx, id)
			if err != nil {
				log.Error("session failed", zap.String("account", id), zap.Error(err))
			}
			results[i] = stats
		}(i, id, sess)
	}
	wg.Wait()
	return results
}
