package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/preston-bernstein/livescore-service/internal/config"
	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/server"
)

const (
	appVersion  = "dev"
	serviceName = "livescore-service"
)

func main() {
	if os.Getenv("SKIP_SERVER_RUN") == "1" {
		return
	}

	cfg, logger, err := setup(os.Getenv)
	if err != nil {
		logging.Error(logger, "invalid configuration", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, logger)
	srv.Run(ctx, stop)
}

// setup loads and validates configuration. The logger is returned even when
// validation fails so the failure can be reported.
func setup(getenv func(string) string) (config.Config, *slog.Logger, error) {
	logger := logging.NewLogger(logging.Config{
		Level:   getenv("LOG_LEVEL"),
		Format:  getenv("LOG_FORMAT"),
		Service: serviceName,
		Version: appVersion,
	})
	cfg := config.LoadFrom(getenv)
	if err := cfg.Validate(); err != nil {
		return cfg, logger, err
	}
	return cfg, logger, nil
}
