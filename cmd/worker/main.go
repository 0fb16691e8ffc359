package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/notion-ledger/internal/app"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/config"
	"github.com/dvloznov/notion-ledger/internal/invoice"
	"github.com/dvloznov/notion-ledger/internal/jobs"
	"github.com/dvloznov/notion-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/notion-ledger/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (or set LEDGER_CONFIG)")
	once := flag.Bool("once", false, "Run a single import and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := cfg.ValidateOffline(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if !cfg.InvoiceImportEnabled() {
		log.Fatal().Msg("Error: scraper.url is not configured")
	}
	if cfg.Invoice.ImportInterval <= 0 && !*once {
		log.Fatal().Msg("Error: invoice.import_interval must be positive")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	api := app.NewAPIClient(cfg)
	if api == nil {
		log.Warn().Msg("No api.url configured - the API server will not see imported entries until its caches expire")
	}

	store := cache.NewMemory()
	importer, err := app.NewImporter(ctx, cfg, app.NewRepository(cfg, store), store, api)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create invoice importer")
	}

	if *once {
		result, err := importer.Import(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Invoice import failed")
		}
		log.Info().Int("saved", result.SavedCount).Int("skipped", result.SkippedCount).Msg("Invoice import finished")
		return
	}

	// Initialize job store and queue
	jobStore := inmemory.NewStore(cfg.Jobs.Retain)
	jobQueue := inmemory.NewQueue(inmemory.Options{
		Workers:    1,
		Buffer:     cfg.Jobs.Buffer,
		MaxRetries: cfg.Jobs.MaxRetries,
	}, jobStore)

	log.Info().Dur("interval", cfg.Invoice.ImportInterval).Msg("Starting invoice import worker")

	go func() {
		if err := jobQueue.Start(ctx, invoice.JobHandler(importer)); err != nil {
			log.Error().Err(err).Msg("Job consumer stopped with error")
		}
	}()

	go schedule(ctx, cfg.Invoice.ImportInterval, jobQueue)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop the scheduler and workers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}

// schedule enqueues an import right away and then once per interval until
// ctx is done.
func schedule(ctx context.Context, interval time.Duration, pub jobs.Publisher) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job := &jobs.ImportInvoicesJob{RequestedBy: "schedule"}
		if err := pub.PublishImportInvoices(ctx, job); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue invoice import")
		} else {
			log.Info().Str("job_id", job.JobID).Msg("Invoice import enqueued")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
