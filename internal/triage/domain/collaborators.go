package domain

import "context"

// MailProvider is the narrow contract the engine consumes from the mail
// transport. Implementations own authentication and connection management;
// the engine only calls these operations and reacts to their errors, which
// must wrap ErrTransient or ErrFatalProvider.
type MailProvider interface {
	// FetchBatch returns up to limit messages from the mailbox, skipping
	// any whose ledger key (message or thread) is in exclude.
	FetchBatch(ctx context.Context, mailbox string, exclude map[string]bool, limit int) ([]Message, error)
	// ApplyLabel tags a message with the given label.
	ApplyLabel(ctx context.Context, uid, label string) error
	// RemoveLabel removes a label from a message.
	RemoveLabel(ctx context.Context, uid, label string) error
	// EnsureLabel creates the label/folder if it does not exist.
	EnsureLabel(ctx context.Context, label string) error
}

// ActionKind is the operator's choice for a thread awaiting human review.
type ActionKind int

const (
	ActionAccept ActionKind = iota
	ActionReject
	ActionSkip
	ActionUpdate
	ActionQuit
)

// HumanAction is a single response from the human-interface collaborator.
type HumanAction struct {
	Kind ActionKind
	// Feedback is the operator's free-text explanation, recorded as a
	// correction signal when the action disagrees with the recommendation.
	Feedback string
	// Rule is set for ActionUpdate: the correction rule to fold into the
	// active rule set.
	Rule *RuleSpec
	// Outcome, when set alongside ActionUpdate, resolves the thread in the
	// same pass instead of leaving it pending for the next run.
	Outcome *ActionKind
}

// Prompter is the synchronous human-interface collaborator. The engine
// blocks on these calls; a scripted implementation stands in during tests.
type Prompter interface {
	PresentThread(ctx context.Context, t Thread, d ThreadDecision) (HumanAction, error)
	// ResolveConflict asks the operator how to handle a learned rule that
	// contradicts an existing active rule. Never auto-resolved.
	ResolveConflict(ctx context.Context, existing, proposed Rule) (ConflictResolution, error)
}
