package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/letters"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/pdf"
)

func newSplitCommand(ctx *commandContext) *cobra.Command {
	var marker string
	var outDir string

	cmd := &cobra.Command{
		Use:   "split <combined.pdf>",
		Short: "Cut a combined PDF into one file per letter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := pdf.CheckAvailable(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(marker) == "" {
				marker = cfg.Letters.SplitMarker
			}

			toolkit := pdf.New()
			pages, err := toolkit.PageTexts(cmd.Context(), doc.Content)
			if err != nil {
				return err
			}
			plan := letters.Plan(pages, marker)
			if len(plan) == 0 {
				return fmt.Errorf("%w: %q", letters.ErrMarkerNotFound, marker)
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			seen := make(map[string]int, len(plan))
			rows := make([][]string, 0, len(plan))
			for _, letter := range plan {
				content, err := toolkit.Slice(doc.Content, letter.FirstPage, letter.LastPage)
				if err != nil {
					return fmt.Errorf("slice letter %s: %w", letter.Label, err)
				}
				path := filepath.Join(outDir, letter.Label+".pdf")
				if err := os.WriteFile(path, content, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				seen[letter.Label]++
				rows = append(rows, []string{
					letter.Label,
					strconv.Itoa(letter.FirstPage + 1),
					strconv.Itoa(letter.LastPage + 1),
				})
			}

			fmt.Fprintln(out, renderTable([]string{"Letter", "First page", "Last page"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight}))
			for _, letter := range plan {
				if n := seen[letter.Label]; n > 1 {
					fmt.Fprintln(out, paint(fmt.Sprintf("warning: %q appeared %d times; the last copy was kept", letter.Label, n), ansiYellow, colorize))
					seen[letter.Label] = 1
				}
			}
			fmt.Fprintf(out, "%d letters written to %s\n", len(seen), outDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&marker, "marker", "", "Text that starts each letter (default SPLIT_MARKER)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "letters", "Directory for the split letters")
	return cmd
}
