// Package letters cuts a combined PDF holding many recipients' letters into
// one document per letter.
//
// A letter starts on every page containing the marker (the sender's tax id
// printed in the letterhead) and runs until the page before the next
// marker. The recipient label is read from the first page of each letter.
package letters

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/documents"
)

var ErrMarkerNotFound = errors.New("marker not found in document")

const maxLabelRunes = 80

// PageReader returns the text of every page of a PDF.
type PageReader interface {
	PageTexts(ctx context.Context, content []byte) ([]string, error)
}

// PageSlicer extracts pages first..last (0-based, inclusive) into a new PDF.
type PageSlicer interface {
	Slice(content []byte, first, last int) ([]byte, error)
}

// Letter is one planned slice of the combined document.
type Letter struct {
	Label     string
	FirstPage int
	LastPage  int
}

type Splitter struct {
	reader PageReader
	slicer PageSlicer
}

func NewSplitter(reader PageReader, slicer PageSlicer) *Splitter {
	return &Splitter{reader: reader, slicer: slicer}
}

// Split returns one document per letter keyed by its label. Letters whose
// labels collide overwrite earlier ones; the collection reports them.
func (s *Splitter) Split(ctx context.Context, doc documents.Document, marker string) (*documents.Collection, error) {
	pages, err := s.reader.PageTexts(ctx, doc.Content)
	if err != nil {
		return nil, fmt.Errorf("read pages of %s: %w", doc.ID, err)
	}
	plan := Plan(pages, marker)
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrMarkerNotFound, marker)
	}

	collection := documents.NewCollection()
	for _, letter := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := s.slicer.Slice(doc.Content, letter.FirstPage, letter.LastPage)
		if err != nil {
			return nil, fmt.Errorf("slice letter %s: %w", letter.Label, err)
		}
		collection.Add(documents.Document{ID: letter.Label, Content: content})
	}
	return collection, nil
}

// Plan computes the letters of a document from its page texts.
func Plan(pages []string, marker string) []Letter {
	boundaries := Boundaries(pages, marker)
	letters := make([]Letter, 0, len(boundaries))
	for i, r := range Ranges(boundaries, len(pages)) {
		seq := i + 1
		letters = append(letters, Letter{
			Label:     SanitizeLabel(InferLabel(pages[r[0]], marker, seq), seq),
			FirstPage: r[0],
			LastPage:  r[1],
		})
	}
	return letters
}

// Boundaries lists the indices of pages containing marker.
func Boundaries(pages []string, marker string) []int {
	if marker == "" {
		return nil
	}
	var out []int
	for i, text := range pages {
		if strings.Contains(text, marker) {
			out = append(out, i)
		}
	}
	return out
}

// Ranges turns boundaries into inclusive [first, last] page ranges.
func Ranges(boundaries []int, pageCount int) [][2]int {
	out := make([][2]int, 0, len(boundaries))
	for i, start := range boundaries {
		end := pageCount - 1
		if i+1 < len(boundaries) {
			end = boundaries[i+1] - 1
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// InferLabel reads the recipient name from a letter's first page. Lines are
// scanned in order and the first rule to fire wins:
//   - a line with "ejercicio" and "es de:" followed by a line that is not
//     "euros" yields that following line;
//   - a line containing the marker followed by a line without "Muy Sr" or
//     "URANO" yields that following line.
//
// Without a hit the label is Cliente_NNN.
func InferLabel(pageText, marker string, seq int) string {
	lines := nonBlankLines(pageText)
	for i, line := range lines {
		hasNext := i+1 < len(lines)
		lower := strings.ToLower(line)
		if strings.Contains(lower, "ejercicio") && strings.Contains(lower, "es de:") {
			if hasNext && strings.ToLower(lines[i+1]) != "euros" {
				return lines[i+1]
			}
		}
		if marker != "" && strings.Contains(line, marker) && hasNext {
			next := lines[i+1]
			if !strings.Contains(next, "Muy Sr") && !strings.Contains(next, "URANO") {
				return next
			}
		}
	}
	return fallbackLabel(seq)
}

var illegalFilenameChars = strings.NewReplacer(
	`\`, "", "/", "", "*", "", "?", "", ":", "", `"`, "", "<", "", ">", "", "|", "",
)

// SanitizeLabel strips characters illegal in filenames, trims and truncates
// to 80 runes. An empty result falls back to Cliente_NNN.
func SanitizeLabel(label string, seq int) string {
	cleaned := strings.TrimSpace(illegalFilenameChars.Replace(label))
	if runes := []rune(cleaned); len(runes) > maxLabelRunes {
		cleaned = string(runes[:maxLabelRunes])
	}
	if cleaned == "" {
		return fallbackLabel(seq)
	}
	return cleaned
}

func fallbackLabel(seq int) string {
	return fmt.Sprintf("Cliente_%03d", seq)
}

func nonBlankLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
