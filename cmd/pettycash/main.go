package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"pettycash/internal/backend"
	"pettycash/internal/cli"
	apphttp "pettycash/internal/http"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()

	components, err := backend.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize backends", "error", err)
		os.Exit(1)
	}

	checks := make(map[string]apphttp.ReadinessCheck, len(components.Checks))
	for name, check := range components.Checks {
		checks[name] = apphttp.ReadinessCheck(check)
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
		Checks:             checks,
	}, components.Receipts)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := components.Close(ctx); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	logger.Info("Starting pettycash server",
		"port", cfg.Port,
		"ledger_backend", cfg.LedgerBackend,
		"ocr_backend", cfg.OCRBackend,
		"docstore_backend", cfg.DocstoreBackend,
		"rule_set", cfg.ExtractRuleSet,
		"amqp_enabled", cfg.AMQPURL != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		_ = components.Close(context.Background())
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
