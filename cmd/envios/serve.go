package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/api"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/auth"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/config"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/dispatch"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/letters"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/mailer"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/pdf"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/smtpserver"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/sse"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/store"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var withSandbox bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP API",
		Long: "Run the operator HTTP API. With --sandbox every dispatch is delivered to an " +
			"in-process capturing SMTP server instead of the configured relay.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(os.Stdout)

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := ctx.openStore(runCtx)
			if err != nil {
				return err
			}
			defer db.Close()

			authManager, err := auth.New(cfg.AuthSecret, 30*24*time.Hour)
			if err != nil {
				return err
			}
			if cfg.AuthSecret == "" {
				logger.Warn("AUTH_SECRET not set; sessions reset on restart")
			}
			if err := pdf.CheckAvailable(); err != nil {
				logger.Warn("combined PDF splitting disabled", "error", err)
			}

			hub := sse.NewHub()
			toolkit := pdf.New()
			apiServer := api.NewServer(cfg, db, authManager, hub, letters.NewSplitter(toolkit, toolkit), logger).
				WithContext(runCtx)

			var sandbox *smtpserver.Server
			if withSandbox {
				sandbox = startSandbox(cfg, db, hub, logger)
				apiServer.WithSender(sandboxSender(cfg))
				logger.Warn("sandbox mode: letters are captured, not delivered", "port", cfg.Sandbox.Port)
			}

			httpAddr := net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort))
			httpSrv := &http.Server{
				Addr:    httpAddr,
				Handler: apiServer,
			}
			go func() {
				logger.Info("http server listening", "addr", httpAddr)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", "error", err)
					stop()
				}
			}()

			<-runCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown http", "error", err)
			}
			if sandbox != nil {
				if err := sandbox.Close(); err != nil {
					logger.Error("shutdown smtp", "error", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSandbox, "sandbox", false, "Deliver to an in-process capturing SMTP server")
	return cmd
}

func startSandbox(cfg config.Config, db *store.Store, hub *sse.Hub, logger *slog.Logger) *smtpserver.Server {
	authCfg := smtpserver.AuthConfig{
		Enabled:  cfg.Sandbox.AuthEnabled,
		Username: cfg.Sandbox.Username,
		Password: cfg.Sandbox.Password,
	}
	onCapture := func(message store.CapturedMessage, recipients []store.Recipient) {
		if hub == nil {
			return
		}
		hub.Publish(message.From, sse.Event{Name: "captured", Data: map[string]any{
			"id":         message.ID,
			"subject":    message.Subject,
			"recipients": len(recipients),
		}})
	}
	srv := smtpserver.New(db, logger, net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Sandbox.Port)), authCfg, onCapture)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("smtp server stopped", "error", err)
		}
	}()
	return srv
}

// sandboxSender delivers over plain SMTP to the local sandbox, logging in
// with the sandbox credentials when it requires them.
func sandboxSender(cfg config.Config) api.SenderFunc {
	return func(from, _ string, template mailer.Template) (dispatch.Sender, error) {
		timeout, _ := cfg.SMTPTimeout()
		clientCfg := mailer.Config{
			Host:    "127.0.0.1",
			Port:    cfg.Sandbox.Port,
			Timeout: timeout,
		}
		if cfg.Sandbox.AuthEnabled {
			clientCfg.Username = cfg.Sandbox.Username
			clientCfg.Password = cfg.Sandbox.Password
		}
		return mailer.NewTransport(mailer.NewClient(clientCfg), from, template), nil
	}
}
