package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/config"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/dispatch"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/mailer"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/report"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/session"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	var flags inputFlags
	var throttleSeconds int
	var logOut string
	var useSandbox bool
	var exclude []string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Mail every matched letter to its recipient",
		Long: "Match the letters to the recipients and mail each selected match one at a time. " +
			"Every match is selected unless named with --exclude. " +
			"Ctrl-C stops the run after the letter being sent; the send log is written either way.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !useSandbox {
				if err := cfg.ValidateForSending(); err != nil {
					return err
				}
			}
			throttle := cfg.Throttle()
			if cmd.Flags().Changed("throttle") {
				if throttleSeconds < 0 {
					return errors.New("--throttle must not be negative")
				}
				throttle = time.Duration(throttleSeconds) * time.Second
			}
			format := report.FormatXLSX
			if logOut == "" {
				logOut = report.SendLogFilename(time.Now(), format)
			} else if format, err = report.ParseFormat(strings.TrimPrefix(filepath.Ext(logOut), ".")); err != nil {
				return err
			}

			lock := flock.New(cfg.LockPath)
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another send is already running (lock %s)", cfg.LockPath)
			}
			defer func() { _ = lock.Unlock() }()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			logger := ctx.logger(os.Stderr)

			db, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			operator := cfg.SMTP.Sender
			if operator == "" {
				operator = "sandbox@localhost"
			}
			sess, err := loadSession(cmd.Context(), out, flags, cfg.Letters.SplitMarker, operator, db, logger, colorize)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderMatches(sess.Matches()))
			if err := excludeLetters(sess, exclude); err != nil {
				return err
			}
			for _, id := range exclude {
				fmt.Fprintf(out, "excluded %s\n", strings.TrimSuffix(strings.TrimSpace(id), ".pdf"))
			}
			if n := len(sess.Unmatched()); n > 0 {
				fmt.Fprintln(out, paint(fmt.Sprintf("%d letters have no recipient and will not be sent", n), ansiYellow, colorize))
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			stopWatching := watchSignals(signals, func() {
				if sess.Cancel() {
					fmt.Fprintln(out, paint("cancelling after the current letter...", ansiYellow, colorize))
				}
			})
			defer func() {
				signal.Stop(signals)
				stopWatching()
			}()

			sender := newSMTPSender(cfg, operator, useSandbox)
			rep, err := sess.Dispatch(cmd.Context(), sender, throttle, func(p dispatch.Progress) {
				line := fmt.Sprintf("[%d/%d] %s -> %s %s", p.Position, p.Total, p.Entry.DocumentID, p.Entry.RecipientEmail,
					paint(string(p.Entry.Status), statusColor(p.Entry.Status), colorize))
				if p.Entry.Error != "" {
					line += ": " + p.Entry.Error
				}
				fmt.Fprintln(out, line)
			})
			if err != nil {
				return err
			}

			if err := writeSendLog(logOut, format, rep.Entries); err != nil {
				return err
			}
			summary := sess.Summary()
			fmt.Fprintf(out, "run %s %s: %d sent, %d failed, log written to %s\n",
				rep.RunID, paint(string(rep.State), stateColor(rep.State), colorize), summary.Sent, summary.Failed, logOut)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&throttleSeconds, "throttle", 0, "Seconds to pause between letters (default THROTTLE_SECONDS)")
	cmd.Flags().StringVar(&logOut, "log-out", "", "Send log file, .xlsx or .csv (default send_log_<timestamp>.xlsx)")
	cmd.Flags().StringArrayVar(&exclude, "exclude", nil, "Letter to leave out of the run, by name (repeatable)")
	cmd.Flags().BoolVar(&useSandbox, "sandbox", false, "Deliver to the local sandbox SMTP server started with `envios sandbox`")
	return cmd
}

func newSMTPSender(cfg config.Config, from string, sandbox bool) dispatch.Sender {
	template := mailer.Template{Subject: cfg.Letters.Subject, Body: cfg.Letters.Body}
	if sandbox {
		// The sandbox sender never fails to build.
		sender, _ := sandboxSender(cfg)(from, "", template)
		return sender
	}
	timeout, _ := cfg.SMTPTimeout()
	client := mailer.NewClient(mailer.Config{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Username:   cfg.SMTP.Sender,
		Password:   cfg.SMTP.Password,
		RequireTLS: cfg.SMTP.RequireTLS,
		Timeout:    timeout,
	})
	return mailer.NewTransport(client, from, template)
}

// watchSignals calls onSignal once when a signal arrives. The returned
// function stops the watcher and waits for it to exit.
func watchSignals(signals <-chan os.Signal, onSignal func()) func() {
	finished := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-signals:
			onSignal()
		case <-finished:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(finished) })
		<-exited
	}
}

// excludeLetters deselects the matches whose letter is named in ids. Naming a
// letter that has no match is an error.
func excludeLetters(sess *session.Session, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		pending[strings.TrimSuffix(strings.TrimSpace(id), ".pdf")] = struct{}{}
	}
	for i, m := range sess.Matches() {
		if _, ok := pending[m.DocumentID]; !ok {
			continue
		}
		if err := sess.SetSelected(i, false); err != nil {
			return err
		}
		delete(pending, m.DocumentID)
	}
	if len(pending) > 0 {
		missing := make([]string, 0, len(pending))
		for id := range pending {
			missing = append(missing, id)
		}
		sort.Strings(missing)
		return fmt.Errorf("--exclude: no matched letter named %s", strings.Join(missing, ", "))
	}
	return nil
}

func writeSendLog(path string, format report.Format, entries []dispatch.Entry) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.WriteSendLog(file, format, entries); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
