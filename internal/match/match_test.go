package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/recipients"
)

func people() []recipients.Recipient {
	return []recipients.Recipient{
		{Name: "Juan Pérez García", Email: "juan@example.com", Address: "Calle Mayor 1, Murcia", Row: 0},
		{Name: "Acme, S.L.", Email: "facturas@acme.es", Address: "Polígono Oeste Nave 7", Row: 1},
		{Name: "Distribuciones Levante SA", Email: "admin@levante.es", Address: "Avenida Libertad 33", Row: 2},
		{Name: "Acme SL", Email: "otra@acme.es", Address: "Calle Sur 2", Row: 3},
	}
}

func TestMatch_NameTokenOrder(t *testing.T) {
	outcome := Match([]string{"Garcia Perez Juan"}, people())

	require.Len(t, outcome.Matches, 1)
	m := outcome.Matches[0]
	assert.Equal(t, "Garcia Perez Juan", m.DocumentID)
	assert.Equal(t, ByName, m.MatchedBy)
	assert.GreaterOrEqual(t, m.Score, 80)
	assert.Equal(t, 0, m.RecipientIndex)
	assert.Equal(t, "juan@example.com", m.Recipient.Email)
	assert.True(t, m.Selected)
	assert.Empty(t, outcome.Unmatched)
}

func TestMatch_AddressFallback(t *testing.T) {
	outcome := Match([]string{"Avenida Libertad 33"}, people())

	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, ByAddress, outcome.Matches[0].MatchedBy)
	assert.Equal(t, 100, outcome.Matches[0].Score)
	assert.Equal(t, 2, outcome.Matches[0].RecipientIndex)
}

func TestMatch_TieGoesToFirstRecipient(t *testing.T) {
	outcome := Match([]string{"ACME SL"}, people())

	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, 1, outcome.Matches[0].RecipientIndex)
	assert.Equal(t, "facturas@acme.es", outcome.Matches[0].Recipient.Email)
}

func TestMatch_NoPlausibleCandidate(t *testing.T) {
	outcome := Match([]string{"Zzyzx Qwerty Holdings"}, people())

	assert.Empty(t, outcome.Matches)
	assert.Equal(t, []string{"Zzyzx Qwerty Holdings"}, outcome.Unmatched)
}

func TestMatch_PartitionsInput(t *testing.T) {
	ids := []string{"Garcia Perez Juan", "Nadie", "Acme", "", "Distribuciones Levante", "Calle Mayor 1 Murcia"}
	outcome := Match(ids, people())

	seen := map[string]int{}
	for _, m := range outcome.Matches {
		seen[m.DocumentID]++
	}
	for _, id := range outcome.Unmatched {
		seen[id]++
	}
	require.Len(t, seen, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "id %q", id)
	}
	assert.Contains(t, outcome.Unmatched, "", "empty identifiers never match")
}

func TestMatch_Deterministic(t *testing.T) {
	ids := []string{"Garcia Perez Juan", "Acme", "Nadie", "Levante Distribuciones"}
	first := Match(ids, people())
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Match(ids, people()))
	}
}

func TestMatch_NoRecipients(t *testing.T) {
	outcome := Match([]string{"Juan"}, nil)
	assert.Empty(t, outcome.Matches)
	assert.Equal(t, []string{"Juan"}, outcome.Unmatched)
}

func TestOutcome_Selection(t *testing.T) {
	outcome := Match([]string{"Garcia Perez Juan", "Acme", "Distribuciones Levante"}, people())
	require.Len(t, outcome.Matches, 3)

	require.True(t, outcome.SetSelected(1, false))
	assert.False(t, outcome.SetSelected(3, false))
	assert.False(t, outcome.SetSelected(-1, false))

	selected := outcome.Selected()
	require.Len(t, selected, 2)
	assert.Equal(t, "Garcia Perez Juan", selected[0].DocumentID)
	assert.Equal(t, "Distribuciones Levante", selected[1].DocumentID)

	outcome.SelectAll(false)
	assert.Empty(t, outcome.Selected())
	outcome.SelectAll(true)
	assert.Len(t, outcome.Selected(), 3)
}
