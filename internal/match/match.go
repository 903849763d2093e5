// Package match resolves document identifiers to recipients by fuzzy name
// comparison, falling back to the postal address.
package match

import (
	"math"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/fuzzy"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/normalize"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/recipients"
)

// Threshold is the inclusive minimum similarity for a match.
const Threshold = 80.0

// Field is the recipient field that produced a match.
type Field string

const (
	ByName    Field = "Name"
	ByAddress Field = "Address"
)

// Result links one document to the recipient it resolved to.
type Result struct {
	DocumentID     string
	Recipient      recipients.Recipient
	Score          int
	MatchedBy      Field
	Selected       bool
	RecipientIndex int
}

// Outcome partitions the input identifiers into matches and unmatched.
type Outcome struct {
	Matches   []Result
	Unmatched []string
}

// Match scores every identifier against all recipient names, then against
// addresses when no name reaches Threshold. Identifiers are processed in the
// given order, and ties resolve to the earliest recipient.
func Match(ids []string, people []recipients.Recipient) Outcome {
	names := make([]string, len(people))
	addresses := make([]string, len(people))
	for i, person := range people {
		names[i] = normalize.Normalize(person.Name)
		addresses[i] = normalize.Normalize(person.Address)
	}

	outcome := Outcome{
		Matches:   []Result{},
		Unmatched: []string{},
	}
	for _, id := range ids {
		query := normalize.Normalize(id)
		result, ok := best(query, names, ByName)
		if !ok {
			result, ok = best(query, addresses, ByAddress)
		}
		if !ok {
			outcome.Unmatched = append(outcome.Unmatched, id)
			continue
		}
		result.DocumentID = id
		result.Recipient = people[result.RecipientIndex]
		outcome.Matches = append(outcome.Matches, result)
	}
	return outcome
}

func best(query string, choices []string, field Field) (Result, bool) {
	index, score, ok := fuzzy.ExtractOne(query, choices, fuzzy.TokenSortRatio)
	if !ok || score < Threshold {
		return Result{}, false
	}
	return Result{
		Score:          int(math.Round(score)),
		MatchedBy:      field,
		Selected:       true,
		RecipientIndex: index,
	}, true
}

// Selected returns the selected matches in order.
func (o Outcome) Selected() []Result {
	var out []Result
	for _, m := range o.Matches {
		if m.Selected {
			out = append(out, m)
		}
	}
	return out
}

// SetSelected toggles one match. It reports false when i is out of range.
func (o *Outcome) SetSelected(i int, selected bool) bool {
	if i < 0 || i >= len(o.Matches) {
		return false
	}
	o.Matches[i].Selected = selected
	return true
}

func (o *Outcome) SelectAll(selected bool) {
	for i := range o.Matches {
		o.Matches[i].Selected = selected
	}
}
