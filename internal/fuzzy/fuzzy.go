// Package fuzzy scores string similarity on a 0-100 scale.
//
// Ratio is the normalized Indel similarity (insertions and deletions only),
// computed from the longest common subsequence of the two rune sequences.
// TokenSortRatio sorts whitespace-separated tokens first, so word order does
// not affect the score.
package fuzzy

import (
	"sort"
	"strings"
)

// Scorer compares two strings and returns a similarity in [0, 100].
type Scorer func(a, b string) float64

// Ratio returns 100 * (1 - indel/(len(a)+len(b))) over runes. An empty
// operand never matches and scores 0.
func Ratio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	total := len(ra) + len(rb)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	lcs := longestCommonSubsequence(ra, rb)
	indel := total - 2*lcs
	return 100 * (1 - float64(indel)/float64(total))
}

// TokenSortRatio compares a and b after sorting their whitespace tokens.
func TokenSortRatio(a, b string) float64 {
	return Ratio(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// ExtractOne returns the index and score of the best choice for query.
// Ties resolve to the earliest choice. ok is false when choices is empty.
func ExtractOne(query string, choices []string, scorer Scorer) (index int, score float64, ok bool) {
	index = -1
	for i, choice := range choices {
		s := scorer(query, choice)
		if index == -1 || s > score {
			index = i
			score = s
		}
	}
	return index, score, index >= 0
}

func longestCommonSubsequence(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
