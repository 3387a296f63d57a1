package domain

import (
	"strings"
	"time"
)

// PatternKind selects which message attribute a rule matches on.
type PatternKind string

const (
	PatternSender  PatternKind = "sender"
	PatternDomain  PatternKind = "domain"
	PatternSubject PatternKind = "subject"
)

// RuleStatus tracks the lifecycle of a rule version. Rows are never updated:
// a rule is superseded by inserting a higher version for the same pattern,
// and a conflicted rule stays on record until a resolution inserts the
// winning version.
type RuleStatus string

const (
	RuleActive     RuleStatus = "active"
	RuleConflicted RuleStatus = "conflicted"
)

// Rule is a learned classification bias derived from repeated human
// corrections. The active rule set is folded into future inference prompts.
type Rule struct {
	ID           string      `json:"id" gorm:"primaryKey"`
	Pattern      PatternKind `json:"pattern" gorm:"index:idx_pattern;not null"`
	PatternValue string      `json:"pattern_value" gorm:"index:idx_pattern;not null"`
	Action       Category    `json:"action" gorm:"not null"`
	Version      int         `json:"version" gorm:"not null"`
	SupersedesID string      `json:"supersedes_id,omitempty"`
	Status       RuleStatus  `json:"status" gorm:"not null"`

	// Provenance is a comma-joined list of the ledger entry IDs whose
	// corrections produced this rule.
	Provenance string    `json:"provenance" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Rule) TableName() string {
	return "rules"
}

// Matches reports whether the rule applies to the given message.
func (r Rule) Matches(m Message) bool {
	switch r.Pattern {
	case PatternSender:
		return strings.EqualFold(m.Sender, r.PatternValue)
	case PatternDomain:
		return strings.EqualFold(SenderDomain(m.Sender), r.PatternValue)
	case PatternSubject:
		return strings.Contains(strings.ToLower(m.Subject), strings.ToLower(r.PatternValue))
	}
	return false
}

// RuleSpec is an operator-supplied rule correction, as entered through the
// human interface during an UPDATE action.
type RuleSpec struct {
	Pattern      PatternKind
	PatternValue string
	Action       Category
}

// ConflictResolution is the operator's answer when a newly learned rule
// contradicts an existing active rule for the same pattern.
type ConflictResolution int

const (
	// ConflictKeepExisting leaves the current active rule in force.
	ConflictKeepExisting ConflictResolution = iota
	// ConflictReplace promotes the proposed rule to a new active version.
	ConflictReplace
)

// SenderDomain extracts the domain part of a sender address. Addresses of
// the form "Name <user@host>" and bare "user@host" are both handled.
func SenderDomain(sender string) string {
	addr := sender
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return strings.ToLower(strings.TrimSpace(addr[i+1:]))
	}
	return ""
}
