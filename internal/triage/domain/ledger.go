package domain

import "time"

// Outcome is the terminal result recorded for a processed key.
type Outcome string

const (
	OutcomeAccepted Outcome = "ACCEPTED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeSkipped  Outcome = "SKIPPED"
	OutcomeUpdated  Outcome = "UPDATED"
	OutcomeUndone   Outcome = "UNDONE"
)

// Terminal reports whether the outcome resolves the key for the session.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeAccepted, OutcomeRejected, OutcomeSkipped, OutcomeUpdated:
		return true
	}
	return false
}

// LedgerEntry is one record in the append-only processing ledger. Entries
// are insert-only rows: corrections and undos are new entries, never edits
// to prior ones. The snapshot fields capture the recommendation the decision
// was made against so corrections can be replayed for rule learning.
type LedgerEntry struct {
	ID        string  `json:"id" gorm:"primaryKey"`
	AccountID string  `json:"account_id" gorm:"index:idx_account_key;not null"`
	Key       string  `json:"key" gorm:"index:idx_account_key;not null"`
	Outcome   Outcome `json:"outcome" gorm:"not null"`

	// Recommendation snapshot at decision time.
	RecCategory   Category `json:"rec_category"`
	RecConfidence float64  `json:"rec_confidence"`
	RecReasoning  string   `json:"rec_reasoning" gorm:"type:text"`
	Sender        string   `json:"sender"`
	Subject       string   `json:"subject"`

	// Applied is the action actually taken, which differs from the
	// recommendation when the operator rejected it.
	Applied Category `json:"applied"`

	HumanCorrection string    `json:"human_correction,omitempty" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for GORM.
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// Correction reports whether this entry records a human decision that
// disagreed with the recommendation, or an explicit rule update.
func (e LedgerEntry) Correction() bool {
	return e.Outcome == OutcomeRejected || e.Outcome == OutcomeUpdated
}
