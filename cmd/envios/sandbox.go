package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSandboxCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sandbox",
		Short: "Run only the capturing SMTP server",
		Long: "Run a capturing SMTP server on SANDBOX_SMTP_PORT. Messages are stored in " +
			"DB_PATH instead of being relayed, so `envios send --sandbox` can rehearse a run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(os.Stdout)
			if cfg.DBPath == "" {
				logger.Warn("DB_PATH not set; captured messages are kept in memory only")
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := ctx.openStore(runCtx)
			if err != nil {
				return err
			}
			defer db.Close()

			srv := startSandbox(cfg, db, nil, logger)
			<-runCtx.Done()
			return srv.Close()
		},
	}
}
