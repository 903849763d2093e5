package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/dispatch"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/documents"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func paint(value, color string, colorize bool) string {
	if !colorize || color == "" {
		return value
	}
	return color + value + ansiReset
}

func statusColor(status dispatch.Status) string {
	if status == dispatch.StatusSent {
		return ansiGreen
	}
	return ansiRed
}

func stateColor(state dispatch.State) string {
	switch state {
	case dispatch.StateCompleted:
		return ansiGreen
	case dispatch.StateCancelled:
		return ansiYellow
	default:
		return ""
	}
}

func printCollisions(w io.Writer, collisions []documents.Collision, colorize bool) {
	for _, c := range collisions {
		fmt.Fprintln(w, paint(fmt.Sprintf("warning: %q appeared %d times; the last copy was kept", c.ID, c.Count+1), ansiYellow, colorize))
	}
}
