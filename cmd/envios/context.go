package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/config"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// logger builds the process logger. Long-running commands log to stdout;
// one-shot commands keep stdout for their tables and log to stderr.
func (c *commandContext) logger(w io.Writer) *slog.Logger {
	cfg, _ := c.ensureConfig()
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *commandContext) openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}
