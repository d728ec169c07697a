// Command server runs the adkarma ledger and trust engine.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/adkarma/adkarma/internal/config"
	"github.com/adkarma/adkarma/internal/logging"
	"github.com/adkarma/adkarma/internal/server"
)

// set by ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.IsProduction() {
		format = "json"
	}
	logger := logging.New(cfg.LogLevel, format)
	slog.SetDefault(logger)

	logger.Info("starting adkarma",
		"version", version,
		"commit", commit,
		"env", cfg.Env,
		"min_withdrawal", cfg.MinWithdrawal.String(),
		"tds_rate", cfg.TDSRate.String(),
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("server init failed", "error", err)
		os.Exit(1)
	}
	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
