package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulsegrid-lab/pulsegrid/internal/archive"
	"github.com/pulsegrid-lab/pulsegrid/internal/auth"
	"github.com/pulsegrid-lab/pulsegrid/internal/core/alerting"
	corecfg "github.com/pulsegrid-lab/pulsegrid/internal/core/config"
	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage/postgres"
	"github.com/pulsegrid-lab/pulsegrid/internal/ingestion"
	"github.com/pulsegrid-lab/pulsegrid/internal/migrations"
	"github.com/pulsegrid-lab/pulsegrid/internal/query"
	"github.com/pulsegrid-lab/pulsegrid/internal/realtime"
	"github.com/pulsegrid-lab/pulsegrid/internal/server"
	"github.com/pulsegrid-lab/pulsegrid/internal/stream"
)

func main() {
	configPath := flag.String("config", "pulsegrid.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"addr", fmtAddr(cfg.Server.Host, cfg.Server.Port),
		"window_ms", cfg.Realtime.WindowMs,
		"max_batch", cfg.Realtime.MaxBatch,
		"alert_rules", len(cfg.AlertRules),
	)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	alertStore := postgres.NewAlertAdapter(dbAdapter.DB())
	tokenStore := postgres.NewTokenAdapter(dbAdapter.DB())

	// 3. Initialize Auth and Archive
	authSvc := auth.NewService(tokenStore, cfg.Auth.TokenTTLDuration())
	archiver := archive.NewFileSystemArchive(cfg.Archive.RootDir)

	// 4. Initialize the Realtime Core (partition router + coordinators)
	router := realtime.NewRouter(cfg.Realtime.WindowMs, cfg.Realtime.MaxBatch, nil)
	defer router.Close()

	// 5. Initialize Ingestion
	evaluator := alerting.NewEvaluator(cfg.AlertRules)
	ingestionSvc := ingestion.NewService(
		authSvc,
		archiver,
		dbAdapter,
		alertStore,
		evaluator,
		router,
		cfg.Server.MaxBodySizeMB,
	)

	// 6. Initialize Query and Stream APIs
	querySvc := query.NewService(dbAdapter, alertStore)
	streamSvc := stream.NewService(authSvc, router)

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), router, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	querySvc.RegisterRoutes(srv.Engine, authSvc)
	streamSvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
