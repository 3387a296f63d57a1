package repository

import (
	"testing"

	"mailtriage/internal/triage/domain"
	"mailtriage/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) LedgerRepository {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.LedgerEntry{}, &domain.Rule{}))
	return NewLedgerRepository(db)
}

func entry(key string, outcome domain.Outcome) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		AccountID:     "acct",
		Key:           key,
		Outcome:       outcome,
		RecCategory:   domain.CategoryJunkCandidate,
		RecConfidence: 0.8,
		Sender:        "sender@example.com",
		Applied:       domain.CategoryJunkCandidate,
	}
}

func TestAppendAssignsIdentity(t *testing.T) {
	ledger := newTestLedger(t)

	e := entry("msg:1", domain.OutcomeAccepted)
	require.NoError(t, ledger.Append(e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestAppendRejectsSecondDecision(t *testing.T) {
	ledger := newTestLedger(t)

	require.NoError(t, ledger.Append(entry("thread:t1", domain.OutcomeAccepted)))

	err := ledger.Append(entry("thread:t1", domain.OutcomeRejected))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerConflict)

	// The conflicting append left no trace.
	history, err := ledger.History("acct", "thread:t1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAppendAfterSkip(t *testing.T) {
	ledger := newTestLedger(t)

	// A skip is provisional: deciding the key later is not a conflict.
	require.NoError(t, ledger.Append(entry("msg:7", domain.OutcomeSkipped)))
	require.NoError(t, ledger.Append(entry("msg:7", domain.OutcomeAccepted)))

	history, err := ledger.History("acct", "msg:7")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.OutcomeSkipped, history[0].Outcome)
	assert.Equal(t, domain.OutcomeAccepted, history[1].Outcome)
}

func TestAppendRejectsUnknownOutcome(t *testing.T) {
	ledger := newTestLedger(t)
	err := ledger.Append(entry("msg:1", domain.Outcome("BOGUS")))
	assert.Error(t, err)
}

func TestUndoReopensKey(t *testing.T) {
	ledger := newTestLedger(t)

	require.NoError(t, ledger.Append(entry("thread:t1", domain.OutcomeAccepted)))

	undone, err := ledger.Undo("acct", "thread:t1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUndone, undone.Outcome)
	assert.Equal(t, domain.CategoryJunkCandidate, undone.Applied)

	// Key no longer counts as processed and may be decided again.
	keys, err := ledger.LoadProcessedKeys("acct")
	require.NoError(t, err)
	assert.NotContains(t, keys, "thread:t1")
	require.NoError(t, ledger.Append(entry("thread:t1", domain.OutcomeRejected)))

	// All three entries survive.
	history, err := ledger.History("acct", "thread:t1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestUndoRequiresPriorEntry(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Undo("acct", "msg:404")
	assert.Error(t, err)

	require.NoError(t, ledger.Append(entry("msg:1", domain.OutcomeAccepted)))
	_, err = ledger.Undo("acct", "msg:1")
	require.NoError(t, err)
	_, err = ledger.Undo("acct", "msg:1")
	assert.Error(t, err, "double undo")
}

func TestLoadProcessedKeys(t *testing.T) {
	ledger := newTestLedger(t)

	require.NoError(t, ledger.Append(entry("msg:a", domain.OutcomeAccepted)))
	require.NoError(t, ledger.Append(entry("msg:r", domain.OutcomeRejected)))
	require.NoError(t, ledger.Append(entry("msg:u", domain.OutcomeUpdated)))
	require.NoError(t, ledger.Append(entry("msg:s", domain.OutcomeSkipped)))

	keys, err := ledger.LoadProcessedKeys("acct")
	require.NoError(t, err)

	assert.True(t, keys["msg:a"])
	assert.True(t, keys["msg:r"])
	assert.True(t, keys["msg:u"])
	// Skipped keys are re-presented next run.
	assert.False(t, keys["msg:s"])

	// Other accounts are unaffected.
	other, err := ledger.LoadProcessedKeys("other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCorrections(t *testing.T) {
	ledger := newTestLedger(t)

	require.NoError(t, ledger.Append(entry("msg:1", domain.OutcomeAccepted)))
	require.NoError(t, ledger.Append(entry("msg:2", domain.OutcomeRejected)))
	require.NoError(t, ledger.Append(entry("msg:3", domain.OutcomeUpdated)))
	require.NoError(t, ledger.Append(entry("msg:4", domain.OutcomeSkipped)))

	corrections, err := ledger.Corrections("acct", 0)
	require.NoError(t, err)
	require.Len(t, corrections, 2)
	assert.Equal(t, "msg:2", corrections[0].Key)
	assert.Equal(t, "msg:3", corrections[1].Key)

	limited, err := ledger.Corrections("acct", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecent(t *testing.T) {
	ledger := newTestLedger(t)

	require.NoError(t, ledger.Append(entry("msg:1", domain.OutcomeAccepted)))
	require.NoError(t, ledger.Append(entry("msg:2", domain.OutcomeRejected)))
	require.NoError(t, ledger.Append(entry("msg:3", domain.OutcomeAccepted)))

	recent, err := ledger.Recent("acct", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "msg:3", recent[0].Key)
	assert.Equal(t, "msg:2", recent[1].Key)

	all, err := ledger.Recent("acct", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStats(t *testing.T) {
	ledger := newTestLedger(t)

	require.NoError(t, ledger.Append(entry("msg:1", domain.OutcomeAccepted)))
	require.NoError(t, ledger.Append(entry("msg:2", domain.OutcomeAccepted)))
	require.NoError(t, ledger.Append(entry("msg:3", domain.OutcomeRejected)))
	_, err := ledger.Undo("acct", "msg:3")
	require.NoError(t, err)

	stats, err := ledger.Stats("acct")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.Accepted)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(1), stats.Undone)
}
