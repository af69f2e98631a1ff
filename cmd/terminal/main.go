package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/uhyunpark/goldperp/params"
	"github.com/uhyunpark/goldperp/pkg/api"
	"github.com/uhyunpark/goldperp/pkg/app"
	"github.com/uhyunpark/goldperp/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Server.LogFile, cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Server.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, app.Options{WithStore: true, WithMetrics: true}, sugar)
	if err != nil {
		sugar.Fatalw("startup_failed", "err", err)
	}
	defer a.Close()

	go a.Session.Run(ctx)

	// Initial load; failures are already logged and visible in the state.
	if err := a.Session.Bootstrap(ctx); err != nil {
		sugar.Warnw("bootstrap_incomplete", "err", err)
	}

	server := api.NewServer(a.Session, api.Config{
		Addr:        cfg.Server.APIAddr,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, a.Metrics, sugar.Named("api"))

	if err := server.Run(ctx); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
		return
	}
	sugar.Info("shutdown_complete")
}
