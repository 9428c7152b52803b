package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/02loveslollipop/aws-rainfall/internal/logging"
	"github.com/02loveslollipop/aws-rainfall/services/api/config"
	"github.com/02loveslollipop/aws-rainfall/services/api/db"
	httpserver "github.com/02loveslollipop/aws-rainfall/services/api/http"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default("api").Error("config error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging, "api", version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection error", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	srv := httpserver.New(cfg, store, logger.With("component", "http"))
	logger.Info("REST API listening", "addr", cfg.ListenAddr(), "failover_dir", cfg.FailoverDir)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
