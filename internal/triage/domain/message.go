package domain

import (
	"sort"
	"time"
)

// Message is a single mail message as fetched from the provider.
// It is immutable once fetched; the engine never mutates message state locally.
type Message struct {
	UID      string    `json:"uid"`
	ThreadID string    `json:"thread_id"`
	Sender   string    `json:"sender"`
	Subject  string    `json:"subject"`
	Date     time.Time `json:"date"`
	Size     int64     `json:"size"`
	Starred  bool      `json:"starred"`
	Body     string    `json:"body"`
}

// Thread is an ordered group of messages sharing a provider-assigned
// conversation identifier. Threads are rebuilt from each batch and never
// persisted.
type Thread struct {
	ID           string    `json:"id"`
	Messages     []Message `json:"messages"`
	Participants []string  `json:"participants"`
	FirstDate    time.Time `json:"first_date"`
	LastDate     time.Time `json:"last_date"`
}

// Key returns the ledger key for this thread. A singleton thread built from
// an unthreaded message keys on the message itself so that thread-mode and
// individual-mode sessions share resume state for unthreaded mail.
func (t Thread) Key() string {
	if len(t.Messages) == 1 && t.Messages[0].ThreadID == "" {
		return MessageKey(t.Messages[0].UID)
	}
	return ThreadKey(t.ID)
}

// Subject returns the subject of the first message in the thread.
func (t Thread) Subject() string {
	if len(t.Messages) == 0 {
		return ""
	}
	return t.Messages[0].Subject
}

// HasStarred reports whether any message in the thread is starred.
func (t Thread) HasStarred() bool {
	for _, m := range t.Messages {
		if m.Starred {
			return true
		}
	}
	return false
}

// NewThread builds a thread aggregate from its messages, sorting them
// chronologically and deriving participants and the date range.
func NewThread(id string, messages []Message) Thread {
	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	seen := make(map[string]bool, len(sorted))
	participants := make([]string, 0, len(sorted))
	for _, m := range sorted {
		if m.Sender != "" && !seen[m.Sender] {
			seen[m.Sender] = true
			participants = append(participants, m.Sender)
		}
	}
	sort.Strings(participants)

	t := Thread{
		ID:           id,
		Messages:     sorted,
		Participants: participants,
	}
	if len(sorted) > 0 {
		t.FirstDate = sorted[0].Date
		t.LastDate = sorted[len(sorted)-1].Date
	}
	return t
}

// ThreadKey returns the ledger key for a thread identifier.
func ThreadKey(threadID string) string {
	return "thread:" + threadID
}

// MessageKey returns the ledger key for a message identifier.
func MessageKey(uid string) string {
	return "msg:" + uid
}
