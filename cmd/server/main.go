// Package main is the entry point for the screener server. It wires
// the snapshot store, the refresh orchestrator, the screening API, and
// the background jobs, then serves HTTP until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/screener/internal/backup"
	"github.com/aristath/screener/internal/cache"
	"github.com/aristath/screener/internal/config"
	"github.com/aristath/screener/internal/database"
	"github.com/aristath/screener/internal/events"
	"github.com/aristath/screener/internal/fetch"
	"github.com/aristath/screener/internal/refresh"
	"github.com/aristath/screener/internal/scheduler"
	"github.com/aristath/screener/internal/server"
	"github.com/aristath/screener/internal/settings"
	"github.com/aristath/screener/internal/universe"
	"github.com/aristath/screener/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting screener")

	db, err := database.New(filepath.Join(cfg.DataDir, "screener.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	settingsRepo := settings.NewRepository(db.Conn(), log)
	cacheStore := cache.NewStore(db.Conn(), settingsRepo, log)
	universeRepo := universe.NewRepository(db.Conn(), log)
	if err := universeRepo.SeedDefaults(); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed default universe")
	}
	eventBus := events.NewBus()

	yahooClient := fetch.NewYahooClient(cfg.FetchTimeout, settingsRepo, cacheStore, log)

	orchestrator := refresh.NewOrchestrator(refresh.Config{
		Resolver: universeRepo,
		Adapter:  yahooClient,
		Cache:    cacheStore,
		Pacer:    refresh.NewPacer(settingsRepo.RateLimitDelay()),
		State:    refresh.NewState(),
		Bus:      eventBus,
		Log:      log,
	})

	// Background jobs.
	sched := scheduler.New(log)

	if cfg.RefreshUniverse != "" {
		refreshJob := refresh.NewJob(orchestrator, settingsRepo, cfg.RefreshUniverse, cfg.RefreshRetries, log)
		if err := sched.AddJob(cfg.RefreshSchedule, refreshJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register refresh job")
		}
	} else {
		log.Info().Msg("No refresh universe configured, scheduled refresh disabled")
	}

	var backupService *backup.Service
	if cfg.Backup.Enabled() {
		backupClient, err := backup.NewClient(context.Background(), backup.ClientConfig{
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			Bucket:    cfg.Backup.Bucket,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup client")
		}

		backupService = backup.NewService(backupClient, db, cfg.DataDir, log)
		backupJob := backup.NewJob(backupService, cfg.BackupRetention, log)
		if err := sched.AddJob(cfg.BackupSchedule, backupJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	} else {
		log.Info().Msg("Backup storage not configured, backups disabled")
	}

	sched.Start()

	srv := server.New(server.Config{
		Log:           log,
		Port:          cfg.Port,
		DevMode:       cfg.DevMode,
		DataDir:       cfg.DataDir,
		Cache:         cacheStore,
		Orchestrator:  orchestrator,
		Settings:      settingsRepo,
		Universes:     universeRepo,
		EventBus:      eventBus,
		BackupService: backupService,
		MaxRetries:    cfg.RefreshRetries,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
