package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/keppel-erp/keppel/internal/app"
	"github.com/keppel-erp/keppel/internal/platform/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	core := app.NewCore(pool, cfg, logger)
	_ = core // embedded by the host process's request handlers

	logger.Info("ledger core ready",
		slog.String("env", cfg.AppEnv),
		slog.Float64("match_tolerance_pct", cfg.MatchTolerancePct))

	<-ctx.Done()
	logger.Info("shutting down")
}
