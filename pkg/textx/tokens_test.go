package textx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokensEmpty(t *testing.T) {
	assert.Zero(t, CountTokens(""))
}

func TestFitTokenBudgetNoTrim(t *testing.T) {
	s := "short enough already"
	assert.Equal(t, s, FitTokenBudget(s, 1000))
	assert.Equal(t, s, FitTokenBudget(s, 0), "non-positive budget disables the check")
}

func TestFitTokenBudgetTrims(t *testing.T) {
	s := strings.Repeat("market opens higher on rate cut hopes ", 200)
	got := FitTokenBudget(s, 50)

	assert.Less(t, len(got), len(s))
	assert.LessOrEqual(t, CountTokens(got), 50)
	assert.False(t, strings.HasSuffix(got, " "), "trim lands on a word boundary")
}
