package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	assert.Equal(t, 0, Distance("newsletter", "newsletter"))
	assert.Equal(t, 1, Distance("newsletter", "newsletier"), "one substitution")
	assert.Equal(t, 2, Distance("newsletter", "newslettre"), "a transposition is two edits")
	assert.Equal(t, 3, Distance("", "abc"))
	assert.Equal(t, 0, Distance("José", "jose"), "diacritics fold before comparing")
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("deals", "Weekly Deals from MegaShop", 1))
	assert.True(t, Match("megashop", "deals@megashop.example", 1), "substring inside an address")
	assert.True(t, Match("megashap", "deals from megashop", 1), "one typo within threshold")
	assert.False(t, Match("invoice", "weekly deals digest", 1))
	assert.False(t, Match("", "anything", 1))
}

func TestScoreOrdersByFieldAndQuality(t *testing.T) {
	exactSender := Score("megashop", "deals@megashop.example", "Weekly Deals")
	exactSubject := Score("megashop", "noreply@other.example", "MegaShop receipt")
	typo := Score("megashap", "deals@megashop.example", "Weekly Deals")

	assert.Greater(t, exactSender, exactSubject, "sender hits outrank subject hits")
	assert.Greater(t, exactSender, typo, "exact hits outrank fuzzy hits")
	assert.Greater(t, typo, 0.0)
	assert.Zero(t, Score("megashop", "noreply@other.example", "invoice"))
}
