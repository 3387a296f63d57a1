package usecase

import (
	"fmt"
	"strings"

	"mailtriage/internal/triage/domain"
)

// basePrompt is the fixed classification instruction. Learned rules are
// appended per call; the full prompt is what the inference provider sees.
const basePrompt = `Classify the following email as KEEP or JUNK_CANDIDATE.

KEEP: personal or work correspondence, receipts, account notices, anything
a reasonable person might need again.
JUNK_CANDIDATE: marketing, newsletters the user never reads, expired
time-sensitive offers, social media notifications, obvious spam.

When in doubt, prefer KEEP.

Respond with ONLY a JSON object in this exact format:
{
  "category": "KEEP" or "JUNK_CANDIDATE",
  "confidence": 0.0-1.0,
  "reasoning": "one or two sentences",
  "signals": ["signal 1", "signal 2"]
}`

// buildPrompt assembles the per-message classification prompt: base
// instructions, the active rule set, then the message itself.
func buildPrompt(m domain.Message, rules []domain.Rule) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	matching := make([]domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Matches(m) {
			matching = append(matching, r)
		}
	}
	if len(matching) > 0 {
		b.WriteString("\n\nLearned rules from past operator corrections. These take precedence:\n")
		for _, r := range matching {
			fmt.Fprintf(&b, "- mail whose %s matches %q should be classified %s\n",
				r.Pattern, r.PatternValue, r.Action)
		}
	}

	body := m.Body
	if len(body) > maxBodyChars {
		// Truncate on a rune boundary; a split multi-byte sequence would
		// feed the model invalid text.
		if runes := []rune(body); len(runes) > maxBodyChars {
			body = string(runes[:maxBodyChars])
		}
	}

	b.WriteString("\n\n## Email to Analyze\n\n")
	fmt.Fprintf(&b, "From: %s\n", m.Sender)
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\n\n", m.Date.Format("2006-01-02 15:04"))
	b.WriteString(body)
	return b.String()
}

// maxBodyChars bounds the prompt size to stay inside local model context
// windows.
const maxBodyChars = 5000
