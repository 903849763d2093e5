package letters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/documents"
)

const marker = "B73798340"

type fakeReader struct {
	pages []string
	err   error
}

func (f fakeReader) PageTexts(context.Context, []byte) ([]string, error) {
	return f.pages, f.err
}

type fakeSlicer struct {
	calls [][2]int
}

func (f *fakeSlicer) Slice(_ []byte, first, last int) ([]byte, error) {
	f.calls = append(f.calls, [2]int{first, last})
	return []byte(fmt.Sprintf("pages %d-%d", first, last)), nil
}

func letterPage(name string) string {
	return "NATU LABORATORIES\nCIF " + marker + "\n" + name + "\nMuy Sres. nuestros:\n"
}

func TestSplit_SixPagesTwoLetters(t *testing.T) {
	pages := []string{
		letterPage("Juan Perez Garcia"), "anexo", "anexo",
		letterPage("Acme SL"), "anexo", "anexo",
	}
	slicer := &fakeSlicer{}
	splitter := NewSplitter(fakeReader{pages: pages}, slicer)

	got, err := splitter.Split(context.Background(), documents.Document{ID: "todas", Content: []byte("pdf")}, marker)
	require.NoError(t, err)

	assert.Equal(t, [][2]int{{0, 2}, {3, 5}}, slicer.calls)
	assert.Equal(t, []string{"Juan Perez Garcia", "Acme SL"}, got.IDs())
	doc, ok := got.Get("Acme SL")
	require.True(t, ok)
	assert.Equal(t, []byte("pages 3-5"), doc.Content)
}

func TestSplit_MarkerNotFound(t *testing.T) {
	splitter := NewSplitter(fakeReader{pages: []string{"a", "b"}}, &fakeSlicer{})
	_, err := splitter.Split(context.Background(), documents.Document{ID: "todas"}, marker)
	assert.ErrorIs(t, err, ErrMarkerNotFound)
}

func TestSplit_ReaderError(t *testing.T) {
	boom := errors.New("boom")
	splitter := NewSplitter(fakeReader{err: boom}, &fakeSlicer{})
	_, err := splitter.Split(context.Background(), documents.Document{ID: "todas"}, marker)
	assert.ErrorIs(t, err, boom)
}

func TestSplit_LabelCollisionOverwrites(t *testing.T) {
	pages := []string{letterPage("Acme: SL"), letterPage("Acme SL"), letterPage("Otro")}
	splitter := NewSplitter(fakeReader{pages: pages}, &fakeSlicer{})

	got, err := splitter.Split(context.Background(), documents.Document{ID: "todas"}, marker)
	require.NoError(t, err)

	assert.Equal(t, []string{"Acme SL", "Otro"}, got.IDs())
	doc, _ := got.Get("Acme SL")
	assert.Equal(t, []byte("pages 1-1"), doc.Content)
	assert.Equal(t, []documents.Collision{{ID: "Acme SL", Count: 1}}, got.Collisions())
}

func TestRanges(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 2}, {3, 5}}, Ranges([]int{0, 3}, 6))
	assert.Equal(t, [][2]int{{2, 2}, {3, 3}}, Ranges([]int{2, 3}, 4))
	assert.Empty(t, Ranges(nil, 4))
}

func TestBoundaries(t *testing.T) {
	pages := []string{"x " + marker, "y", marker, "z"}
	assert.Equal(t, []int{0, 2}, Boundaries(pages, marker))
	assert.Nil(t, Boundaries(pages, ""))
}

func TestInferLabel(t *testing.T) {
	tests := []struct {
		name     string
		page     string
		expected string
	}{
		{
			name:     "pattern A",
			page:     "Cabecera\nEl importe del ejercicio 2024 que nos consta ES DE:\n  Talleres Norte SL  \n1.234,00\n",
			expected: "Talleres Norte SL",
		},
		{
			name:     "pattern A skips euros then pattern B fires",
			page:     "ejercicio 2024 ... es de:\nEUROS\nCIF " + marker + "\nMaria Lopez\n",
			expected: "Maria Lopez",
		},
		{
			name:     "first rule to fire in line order wins",
			page:     "CIF " + marker + "\nPedro Ruiz\nejercicio es de:\nOtro Nombre\n",
			expected: "Pedro Ruiz",
		},
		{
			name:     "pattern B rejects salutation and keeps scanning",
			page:     "CIF " + marker + "\nMuy Sr. nuestro:\nejercicio es de:\nAna Gil\n",
			expected: "Ana Gil",
		},
		{
			name:     "pattern B rejects URANO",
			page:     "CIF " + marker + "\nEDIFICIO URANO\n",
			expected: "Cliente_007",
		},
		{
			name:     "blank lines are skipped",
			page:     "CIF " + marker + "\n\n   \nLuis Mar\n",
			expected: "Luis Mar",
		},
		{
			name:     "marker on last line",
			page:     "texto\nCIF " + marker,
			expected: "Cliente_007",
		},
		{
			name:     "empty page",
			page:     "",
			expected: "Cliente_007",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InferLabel(tt.page, marker, 7))
		})
	}
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "AcmeSL", SanitizeLabel(`A\c/m*e?:S"L<>|`, 1))
	assert.Equal(t, "Cliente_002", SanitizeLabel(` /:* `, 2))
	assert.Equal(t, "Cliente_123", SanitizeLabel("", 123))
	assert.Equal(t, "Cliente_1000", SanitizeLabel("", 1000))

	long := strings.Repeat("ñ", 100)
	assert.Equal(t, strings.Repeat("ñ", 80), SanitizeLabel(long, 1))
}

func TestPlan(t *testing.T) {
	pages := []string{letterPage("Uno"), letterPage(`"?"`), "anexo"}
	got := Plan(pages, marker)
	assert.Equal(t, []Letter{
		{Label: "Uno", FirstPage: 0, LastPage: 0},
		{Label: "Cliente_002", FirstPage: 1, LastPage: 2},
	}, got)
}
