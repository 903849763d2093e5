// Package normalize canonicalizes client names and postal addresses before
// fuzzy comparison.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are compared against a token with its dots removed, so
// "s.l.", "S.L" and "sl" all hit the same entry.
var legalSuffixes = map[string]struct{}{
	"slu": {},
	"sl":  {},
	"sa":  {},
}

var punctuation = strings.NewReplacer(
	",", " ",
	";", " ",
	":", " ",
	"(", " ",
	")", " ",
	"-", " ",
	"_", " ",
	"/", " ",
	"\\", " ",
)

// Normalize lowercases text, drops legal-entity suffix tokens, turns the
// punctuation set . , ; : ( ) - _ / \ into spaces and collapses whitespace.
// The result is a fixed point: Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	current := text
	for {
		next := pass(current)
		if next == current {
			return next
		}
		current = next
	}
}

func pass(text string) string {
	text = punctuation.Replace(norm.NFKC.String(strings.ToLower(text)))
	fields := strings.Fields(text)
	kept := make([]string, 0, len(fields))
	for _, field := range fields {
		if isLegalSuffix(field) {
			continue
		}
		for _, part := range strings.Fields(strings.ReplaceAll(field, ".", " ")) {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, " ")
}

func isLegalSuffix(token string) bool {
	compact := strings.ReplaceAll(token, ".", "")
	if compact == "" {
		return false
	}
	_, ok := legalSuffixes[compact]
	return ok
}
