package repository

import (
	"errors"
	"fmt"
	"time"

	"mailtriage/internal/triage/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerStats summarizes an account's ledger for the history command.
type LedgerStats struct {
	Total    int64
	Accepted int64
	Rejected int64
	Skipped  int64
	Updated  int64
	Undone   int64
}

// LedgerRepository is the append-only durable log of applied decisions and
// the authority for resume/dedup. Implementations must never update or
// delete rows.
type LedgerRepository interface {
	// Append durably persists one entry. It fails with
	// domain.ErrLedgerConflict when the key already carries an active
	// decision (a terminal outcome other than SKIPPED) and the new entry
	// is not an undo.
	Append(entry *domain.LedgerEntry) error
	// Undo appends an UNDONE entry for the key, reopening it for future
	// sessions. Prior entries are preserved.
	Undo(accountID, key string) (*domain.LedgerEntry, error)
	// LoadProcessedKeys returns the keys that must not be re-presented:
	// those whose most recent entry is a terminal outcome other than
	// SKIPPED (a skip is re-presented next run by design).
	LoadProcessedKeys(accountID string) (map[string]bool, error)
	// History returns the full entry trail for a key, oldest first.
	History(accountID, key string) ([]domain.LedgerEntry, error)
	// Corrections returns entries recording human disagreement or explicit
	// rule updates, oldest first, capped at limit (0 for all).
	Corrections(accountID string, limit int) ([]domain.LedgerEntry, error)
	// Recent returns the account's most recent entries, newest first,
	// capped at limit (0 for all).
	Recent(accountID string, limit int) ([]domain.LedgerEntry, error)
	// Stats returns outcome counts for the account.
	Stats(accountID string) (LedgerStats, error)
}

// ledgerRepository implements LedgerRepository on gorm/sqlite. Row-per-entry
// inserts are atomic, so a crash mid-append leaves no partial trailing
// record to skip on resume.
type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new instance of ledgerRepository.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

// latest returns the most recent entry for a key, or nil.
func (r *ledgerRepository) latest(accountID, key string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := r.db.Where("account_id = ? AND key = ?", accountID, key).
		Order("rowid DESC").First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// Append durably persists one entry, enforcing the append-only invariant.
func (r *ledgerRepository) Append(entry *domain.LedgerEntry) error {
	if entry.AccountID == "" || entry.Key == "" {
		return fmt.Errorf("ledger entry requires account and key")
	}
	if !entry.Outcome.Terminal() && entry.Outcome != domain.OutcomeUndone {
		return fmt.Errorf("unknown ledger outcome %q", entry.Outcome)
	}

	last, err := r.latest(entry.AccountID, entry.Key)
	if err != nil {
		return err
	}
	// A skip is not a final decision; the key may be decided again. Undo
	// entries are always allowed and reopen the key.
	if last != nil && last.Outcome != domain.OutcomeUndone && last.Outcome != domain.OutcomeSkipped &&
		entry.Outcome != domain.OutcomeUndone {
		return fmt.Errorf("%w: %s already %s", domain.ErrLedgerConflict, entry.Key, last.Outcome)
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return r.db.Create(entry).Error
}

// Undo appends an UNDONE entry for the key.
func (r *ledgerRepository) Undo(accountID, key string) (*domain.LedgerEntry, error) {
	last, err := r.latest(accountID, key)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, fmt.Errorf("nothing to undo for %s", key)
	}
	if last.Outcome == domain.OutcomeUndone {
		return nil, fmt.Errorf("%s is already undone", key)
	}

	entry := &domain.LedgerEntry{
		ID:            uuid.New().String(),
		AccountID:     accountID,
		Key:           key,
		Outcome:       domain.OutcomeUndone,
		RecCategory:   last.RecCategory,
		RecConfidence: last.RecConfidence,
		RecReasoning:  last.RecReasoning,
		Sender:        last.Sender,
		Subject:       last.Subject,
		Applied:       last.Applied,
		CreatedAt:     time.Now(),
	}
	if err := r.db.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// LoadProcessedKeys folds the ledger into the resume filter.
func (r *ledgerRepository) LoadProcessedKeys(accountID string) (map[string]bool, error) {
	var entries []domain.LedgerEntry
	err := r.db.Where("account_id = ?", accountID).Order("rowid").Find(&entries).Error
	if err != nil {
		return nil, err
	}

	// Effective state of a key is its most recent entry.
	effective := make(map[string]domain.Outcome)
	for _, e := range entries {
		effective[e.Key] = e.Outcome
	}

	keys := make(map[string]bool)
	for key, outcome := range effective {
		if outcome.Terminal() && outcome != domain.OutcomeSkipped {
			keys[key] = true
		}
	}
	return keys, nil
}

// History returns the full entry trail for a key.
func (r *ledgerRepository) History(accountID, key string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := r.db.Where("account_id = ? AND key = ?", accountID, key).
		Order("rowid").Find(&entries).Error
	return entries, err
}

// Corrections returns correction-tagged entries, oldest first.
func (r *ledgerRepository) Corrections(accountID string, limit int) ([]domain.LedgerEntry, error) {
	q := r.db.Where("account_id = ? AND outcome IN ?", accountID,
		[]domain.Outcome{domain.OutcomeRejected, domain.OutcomeUpdated}).
		Order("rowid")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []domain.LedgerEntry
	err := q.Find(&entries).Error
	return entries, err
}

// Recent returns the newest entries for the account.
func (r *ledgerRepository) Recent(accountID string, limit int) ([]domain.LedgerEntry, error) {
	q := r.db.Where("account_id = ?", accountID).Order("rowid DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []domain.LedgerEntry
	err := q.Find(&entries).Error
	return entries, err
}

// Stats returns outcome counts for the account.
func (r *ledgerRepository) Stats(accountID string) (LedgerStats, error) {
	var stats LedgerStats
	counts := []struct {
		outcome domain.Outcome
		dest    *int64
	}{
		{domain.OutcomeAccepted, &stats.Accepted},
		{domain.OutcomeRejected, &stats.Rejected},
		{domain.OutcomeSkipped, &stats.Skipped},
		{domain.OutcomeUpdated, &stats.Updated},
		{domain.OutcomeUndone, &stats.Undone},
	}
	for _, c := range counts {
		err := r.db.Model(&domain.LedgerEntry{}).
			Where("account_id = ? AND outcome = ?", accountID, c.outcome).
			Count(c.dest).Error
		if err != nil {
			return stats, err
		}
		stats.Total += *c.dest
	}
	return stats, nil
}
