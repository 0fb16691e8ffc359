package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dvloznov/notion-ledger/internal/api"
	"github.com/dvloznov/notion-ledger/internal/api/middleware"
	"github.com/dvloznov/notion-ledger/internal/app"
	"github.com/dvloznov/notion-ledger/internal/auth"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/config"
	"github.com/dvloznov/notion-ledger/internal/infra/gcs"
	"github.com/dvloznov/notion-ledger/internal/invoice"
	"github.com/dvloznov/notion-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/dvloznov/notion-ledger/internal/summary"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to a config file (or set LEDGER_CONFIG)")
		port       = flag.Int("port", 0, "HTTP server port (overrides server.port)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	// Initialize repositories
	store := cache.NewMemory()
	repo := app.NewRepository(cfg, store)

	gate, err := auth.NewGate(cfg.Auth.PIN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create auth gate")
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid trusted proxies")
	}

	deps := api.Deps{
		Repo:        repo,
		Summary:     summary.NewService(repo, store, cfg.Cache.SummaryTTL),
		Cache:       store,
		Gate:        gate,
		AuthLimiter: middleware.NewIPLimiter(cfg.Auth.AttemptsPerMinute, proxies),
		Log:         log,
		CORSOrigin:  cfg.Server.CORSOrigin,
		EntriesTTL:  cfg.Cache.EntriesTTL,
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore(cfg.Jobs.Retain)
	deps.Jobs = jobStore

	var jobQueue *inmemory.Queue
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if cfg.InvoiceImportEnabled() {
		importer, err := app.NewImporter(ctx, cfg, repo, store, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create invoice importer")
		}

		jobQueue = inmemory.NewQueue(inmemory.Options{
			Workers:    cfg.Jobs.Workers,
			Buffer:     cfg.Jobs.Buffer,
			MaxRetries: cfg.Jobs.MaxRetries,
		}, jobStore)
		deps.Publisher = jobQueue

		// Start job consumer in background
		go func() {
			log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job worker")
			if err := jobQueue.Start(workerCtx, invoice.JobHandler(importer)); err != nil {
				log.Error().Err(err).Msg("Job worker stopped with error")
			}
		}()
	} else {
		log.Warn().Msg("No scraper URL configured - invoice import will be disabled")
	}

	if cfg.Export.Bucket != "" {
		uploader, err := gcs.NewUploader(ctx, cfg.Export.Bucket, cfg.Export.CredentialsFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create export uploader")
		}
		defer uploader.Close()
		deps.Uploader = uploader
	} else {
		log.Warn().Msg("No export bucket configured - export uploads will be disabled")
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if jobQueue != nil {
		if err := jobQueue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job queue")
		}
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
