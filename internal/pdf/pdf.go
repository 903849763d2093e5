// Package pdf extracts per-page text and cuts page ranges out of PDF files.
//
// Text comes from poppler's pdftotext in reading-order mode, run as an
// external command. Page slicing and counting use pdfcpu.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const toolName = "pdftotext"

// ErrToolNotFound is returned when pdftotext is not on PATH.
var ErrToolNotFound = errors.New("pdftotext not found: install poppler (brew install poppler, apt install poppler-utils)")

func init() {
	api.DisableConfigDir()
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrToolNotFound
	}
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// CheckAvailable reports whether pdftotext can be found.
func CheckAvailable() error {
	if _, err := exec.LookPath(toolName); err != nil {
		return ErrToolNotFound
	}
	return nil
}

// Toolkit reads page text and slices page ranges.
type Toolkit struct {
	runner CommandRunner
}

func New() *Toolkit {
	return &Toolkit{runner: execRunner{}}
}

func NewWithRunner(runner CommandRunner) *Toolkit {
	return &Toolkit{runner: runner}
}

// PageTexts returns the extracted text of every page, in page order.
func (t *Toolkit) PageTexts(ctx context.Context, content []byte) ([]string, error) {
	tmp, err := os.CreateTemp("", "envios-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp pdf: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	out, err := t.runner.Run(ctx, toolName, "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	return splitPages(string(out)), nil
}

// splitPages splits pdftotext output on the form feed it writes after each
// page.
func splitPages(out string) []string {
	if out == "" {
		return nil
	}
	pages := strings.Split(out, "\f")
	if pages[len(pages)-1] == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}

// Slice returns a new PDF holding pages first..last (0-based, inclusive).
func (t *Toolkit) Slice(content []byte, first, last int) ([]byte, error) {
	if first < 0 || last < first {
		return nil, fmt.Errorf("invalid page range %d-%d", first, last)
	}
	selection := fmt.Sprintf("%d-%d", first+1, last+1)
	if first == last {
		selection = fmt.Sprintf("%d", first+1)
	}
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(content), &out, []string{selection}, configuration()); err != nil {
		return nil, fmt.Errorf("slice pages %s: %w", selection, err)
	}
	return out.Bytes(), nil
}

// PageCount returns the number of pages in content.
func (t *Toolkit) PageCount(content []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(content), configuration())
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}
