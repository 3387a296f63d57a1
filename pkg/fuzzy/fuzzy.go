// Package fuzzy implements tolerant text matching for searching triage
// history from the command line, where senders and subjects are typed from
// memory.
package fuzzy

import (
	"strings"
	"unicode"
)

// Distance is the Levenshtein edit distance between two normalized strings.
func Distance(s1, s2 string) int {
	s1 = Normalize(s1)
	s2 = Normalize(s2)

	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	r1 := []rune(s1)
	r2 := []rune(s2)
	m, n := len(r1), len(r2)

	prev := make([]int, n+1)
	cur := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		cur[0] = i
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[n]
}

// Match reports whether query loosely matches text: a substring hit, a
// word within the edit-distance threshold, or a word-prefix match.
func Match(query, text string, threshold int) bool {
	query = Normalize(query)
	text = Normalize(text)
	if query == "" {
		return false
	}
	if strings.Contains(text, query) {
		return true
	}
	for _, word := range tokens(text) {
		if Distance(query, word) <= threshold {
			return true
		}
		if strings.HasPrefix(word, query) {
			return true
		}
	}
	return false
}

// Score ranks how well query matches the given fields. Earlier fields
// weigh more; exact substring hits beat fuzzy word hits.
func Score(query string, fields ...string) float64 {
	query = Normalize(query)
	if query == "" {
		return 0
	}

	score := 0.0
	weight := 100.0
	for _, field := range fields {
		norm := Normalize(field)
		if strings.Contains(norm, query) {
			score += weight
		} else {
			for _, word := range tokens(norm) {
				if d := Distance(query, word); d <= 2 {
					score += (weight / 2) - float64(d)*(weight/10)
					break
				}
				if strings.HasPrefix(word, query) {
					score += weight / 3
					break
				}
			}
		}
		weight *= 0.7
	}
	return score
}

// Normalize lowercases and strips diacritics so queries match accented
// sender names.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := diacritics[r]; ok {
			b.WriteRune(folded)
			continue
		}
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tokens splits normalized text into alphanumeric runs, so the parts of an
// email address match individually.
func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var diacritics = map[rune]rune{
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a',
	'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u',
	'ý': 'y', 'ÿ': 'y',
	'ñ': 'n', 'ç': 'c',
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}
