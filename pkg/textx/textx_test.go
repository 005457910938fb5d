package textx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "hello world", SanitizeText("  hello\x00 world\x07  "))
	assert.Equal(t, "a\tb", SanitizeText("a\tb"))
	assert.Equal(t, "", SanitizeText("\x00\x01\x02"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  a\n\n b\t c ", 0))
	assert.Equal(t, "abc", Normalize("abcdef", 3))
	// cap lands on a rune boundary
	assert.Equal(t, "héllo", Normalize("héllo wörld", 5))
}

func TestHeadSummary(t *testing.T) {
	assert.Equal(t, "short", HeadSummary("short", 100))
	got := HeadSummary("the quick brown fox jumps over the lazy dog", 15)
	assert.True(t, strings.HasSuffix(got, "…"), got)
	assert.LessOrEqual(t, len([]rune(got)), 16)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Fed Raises Rates", "fed raises rates"))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.InDelta(t, 0.0, Similarity("abcd", "wxyz"), 0.01)

	a := "Fed raises interest rates by 25 basis points"
	b := "Fed raises interest rates by 50 basis points"
	assert.Greater(t, Similarity(a, b), 0.9)
	assert.Less(t, Similarity(a, "Oil prices slump on demand fears"), 0.5)
}

func TestKeyTerms(t *testing.T) {
	terms := KeyTerms("Fed Raises Interest Rates Amid Inflation Fears", 4)
	assert.Equal(t, []string{"raises", "interest", "rates", "inflation", "fears"}, terms)

	// stopwords and short words drop out, duplicates collapse
	terms = KeyTerms("This that with from rates rates", 4)
	assert.Equal(t, []string{"rates"}, terms)

	assert.Empty(t, KeyTerms("", 4))
}
