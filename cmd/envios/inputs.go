package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/documents"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/letters"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/pdf"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/session"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/store"
)

// inputFlags are the document and recipient sources shared by match and
// send.
type inputFlags struct {
	archive    string
	combined   string
	marker     string
	recipients string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.archive, "archive", "", "ZIP archive with one PDF per recipient")
	cmd.Flags().StringVar(&f.combined, "combined", "", "Single PDF holding every letter")
	cmd.Flags().StringVar(&f.marker, "marker", "", "Text that starts each letter in --combined (default SPLIT_MARKER)")
	cmd.Flags().StringVar(&f.recipients, "recipients", "", "Recipient spreadsheet (.xlsx or .csv) with Name, Email and Address columns")
	cmd.MarkFlagsMutuallyExclusive("archive", "combined")
	cmd.MarkFlagsOneRequired("archive", "combined")
	_ = cmd.MarkFlagRequired("recipients")
}

func newSplitter() *letters.Splitter {
	toolkit := pdf.New()
	return letters.NewSplitter(toolkit, toolkit)
}

// loadSession builds a matched session from the command line inputs.
func loadSession(ctx context.Context, out io.Writer, flags inputFlags, defaultMarker, operator string, db *store.Store, logger *slog.Logger, colorize bool) (*session.Session, error) {
	sess := session.New(operator, newSplitter(), db, logger)

	switch {
	case flags.archive != "":
		data, err := os.ReadFile(flags.archive)
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		result, err := sess.LoadArchive(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, err
		}
		for _, name := range result.Skipped {
			fmt.Fprintf(out, "skipped %s (not a PDF)\n", name)
		}
		printCollisions(out, result.Collisions, colorize)
	case flags.combined != "":
		if err := pdf.CheckAvailable(); err != nil {
			return nil, err
		}
		doc, err := readDocument(flags.combined)
		if err != nil {
			return nil, err
		}
		marker := strings.TrimSpace(flags.marker)
		if marker == "" {
			marker = defaultMarker
		}
		result, err := sess.LoadCombined(ctx, doc, marker)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "split %s into %d letters\n", filepath.Base(flags.combined), result.Documents)
		printCollisions(out, result.Collisions, colorize)
	default:
		return nil, errors.New("one of --archive or --combined is required")
	}

	file, err := os.Open(flags.recipients)
	if err != nil {
		return nil, fmt.Errorf("open recipients: %w", err)
	}
	defer file.Close()
	if _, err := sess.LoadRecipients(filepath.Base(flags.recipients), file); err != nil {
		return nil, err
	}

	if _, err := sess.Match(); err != nil {
		return nil, err
	}
	return sess, nil
}

func readDocument(path string) (documents.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return documents.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	base := filepath.Base(path)
	return documents.Document{ID: strings.TrimSuffix(base, filepath.Ext(base)), Content: data}, nil
}
