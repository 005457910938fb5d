package textx

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates model-input tokens for s using the cl100k_base
// encoding. When the encoding cannot be loaded (offline), it falls back to
// a chars/4 heuristic so the budget check never blocks processing.
func CountTokens(s string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return (len(s) + 3) / 4
	}
	return len(enc.Encode(s, nil, nil))
}

// FitTokenBudget trims s (on word boundaries) until CountTokens(s) fits
// within budget.
func FitTokenBudget(s string, budget int) string {
	if budget <= 0 || CountTokens(s) <= budget {
		return s
	}
	runes := []rune(s)
	lo, hi := 0, len(runes)
	// search one under budget: the trailing ellipsis costs a token
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if CountTokens(string(runes[:mid])) < budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return HeadSummary(string(runes[:lo]), lo)
}
