package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/photovault/internal/api"
	"github.com/edvin/photovault/internal/backup"
	"github.com/edvin/photovault/internal/config"
	"github.com/edvin/photovault/internal/core"
	"github.com/edvin/photovault/internal/db"
	"github.com/edvin/photovault/internal/logging"
	"github.com/edvin/photovault/internal/metrics"
	"github.com/edvin/photovault/internal/model"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "run" {
		runOnce(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("backupd"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	services := core.NewServices(pool)
	notifier := &backup.LogNotifier{Logger: logger}
	orchestrator := backup.NewOrchestrator(cfg,
		services.BackupRun, services.FileState, services.Settings,
		services.DatabaseBackupRun, services.Admin, notifier, logger)
	scheduler := backup.NewScheduler(orchestrator, logger)

	retentionDays := installSchedule(ctx, logger, services.Settings, scheduler)
	defer scheduler.Stop()

	srv := api.NewServer(logger, pool, orchestrator, retentionDays, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting backup service")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

// installSchedule starts the cron loop from the stored settings and returns
// the configured retention window. A broken or disabled configuration
// leaves the scheduler idle; runs can still be triggered over the API once
// the settings are fixed.
func installSchedule(ctx context.Context, logger zerolog.Logger, settings *core.SettingsService, scheduler *backup.Scheduler) int {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	backupCfg, err := settings.LoadBackupConfiguration(loadCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("backup configuration not usable, scheduler idle")
		return 90
	}
	if !backupCfg.Enabled {
		logger.Info().Msg("backups disabled, scheduler idle")
		return backupCfg.RetentionDays
	}

	if err := scheduler.Start(backupCfg.Schedule); err != nil {
		logger.Error().Err(err).Msg("failed to install backup schedule")
	}
	return backupCfg.RetentionDays
}

// runOnce executes a single backup run in the foreground and exits
// non-zero unless the run completed cleanly.
func runOnce(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate("backupd"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	services := core.NewServices(pool)
	notifier := &backup.LogNotifier{Logger: logger}
	orchestrator := backup.NewOrchestrator(cfg,
		services.BackupRun, services.FileState, services.Settings,
		services.DatabaseBackupRun, services.Admin, notifier, logger)

	run, err := orchestrator.RunBackup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup failed to start: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Backup run %s finished.\n\n", run.ID)
	fmt.Printf("  Type:    %s\n", run.Type)
	fmt.Printf("  Status:  %s\n", run.Status)
	fmt.Printf("  Files:   %d\n", run.FilesBackedUp)
	fmt.Printf("  Bytes:   %d\n", run.TotalSizeBytes)
	if run.ErrorMessage != nil {
		fmt.Printf("  Error:   %s\n", *run.ErrorMessage)
	}
	if run.ManifestPath != nil {
		fmt.Printf("  Manifest: %s\n", *run.ManifestPath)
	}

	if run.Status != model.RunStatusCompleted {
		os.Exit(1)
	}
}
