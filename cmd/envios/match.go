package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/match"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/report"
)

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var flags inputFlags
	var unmatchedOut string

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Show which letters resolve to which recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			logger := ctx.logger(os.Stderr)

			sess, err := loadSession(cmd.Context(), out, flags, cfg.Letters.SplitMarker, cfg.SMTP.Sender, nil, logger, colorize)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, renderMatches(sess.Matches()))
			unmatched := sess.Unmatched()
			for _, id := range unmatched {
				fmt.Fprintln(out, paint("unmatched: "+id+".pdf", ansiYellow, colorize))
			}
			fmt.Fprintf(out, "%d matched, %d unmatched\n", len(sess.Matches()), len(unmatched))

			if unmatchedOut != "" {
				if err := writeUnmatched(unmatchedOut, unmatched); err != nil {
					return err
				}
				fmt.Fprintf(out, "unmatched list written to %s\n", unmatchedOut)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&unmatchedOut, "unmatched-out", "", "Write the unmatched list to this .xlsx or .csv file")
	return cmd
}

func renderMatches(matches []match.Result) string {
	rows := make([][]string, 0, len(matches))
	for i, m := range matches {
		rows = append(rows, []string{
			strconv.Itoa(i),
			m.DocumentID,
			m.Recipient.Name,
			m.Recipient.Email,
			strconv.Itoa(m.Score),
			string(m.MatchedBy),
		})
	}
	return renderTable(
		[]string{"#", "Letter", "Recipient", "Email", "Score", "By"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func writeUnmatched(path string, ids []string) error {
	format, err := report.ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.WriteUnmatched(file, format, ids); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
