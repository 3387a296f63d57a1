package usecase

import (
	"sort"

	"mailtriage/internal/triage/domain"
)

// GroupThreads partitions a batch of messages into thread aggregates by
// their provider-assigned conversation identifier. Messages without a
// thread identifier become singleton threads keyed by their own UID.
// Deterministic: the same batch always yields the same grouping, and
// threads come back ordered by their oldest message.
func GroupThreads(messages []domain.Message) []domain.Thread {
	buckets := make(map[string][]domain.Message)
	for _, m := range messages {
		id := m.ThreadID
		if id == "" {
			id = m.UID
		}
		buckets[id] = append(buckets[id], m)
	}

	threads := make([]domain.Thread, 0, len(buckets))
	for id, msgs := range buckets {
		threads = append(threads, domain.NewThread(id, msgs))
	}

	sort.Slice(threads, func(i, j int) bool {
		if !threads[i].FirstDate.Equal(threads[j].FirstDate) {
			return threads[i].FirstDate.Before(threads[j].FirstDate)
		}
		return threads[i].ID < threads[j].ID
	})
	return threads
}
