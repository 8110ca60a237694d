package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ledgerline/internal/config"
	"ledgerline/internal/domain"
	"ledgerline/internal/handler"
	"ledgerline/internal/pipeline"
	"ledgerline/internal/pkg/logger"
	"ledgerline/internal/recognition"
	"ledgerline/internal/recognition/claude"
	"ledgerline/internal/recognition/gemini"
	"ledgerline/internal/recognition/openai"
	"ledgerline/internal/repository/postgres"
	"ledgerline/internal/router"
	"ledgerline/internal/service"
	s3storage "ledgerline/internal/storage/s3"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLog := logger.New(&cfg.Log)
	defer func() { _ = appLog.Sync() }()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := postgres.NewDB(&cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := s3storage.NewObjectStore(ctx, &cfg.S3, appLog)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	// Recognition backends
	claude.Register()
	gemini.Register()
	openai.Register()
	backend, err := recognition.Build(&cfg.Recognition, appLog)
	if err != nil {
		return fmt.Errorf("failed to build recognition backend: %w", err)
	}

	p := pipeline.New(pipeline.Config{
		Timeout:        cfg.Pipeline.Timeout(),
		Tolerance:      domain.Money(cfg.Pipeline.ToleranceMinor),
		MatchThreshold: cfg.Pipeline.MatchThreshold,
	}, pipeline.WithLogger(appLog))

	// Repositories and services
	draftRepo := postgres.NewDraftRepo(db)
	extractionSvc := service.NewExtractionService(draftRepo, storage, backend, p, &cfg.S3,
		domain.AlignmentSource(cfg.Pipeline.AlignmentSource), appLog)
	exportSvc := service.NewExportService(draftRepo, storage, &cfg.S3, appLog)

	worker := service.NewExtractQueueWorker(draftRepo, extractionSvc, service.ExtractQueueConfig{
		PollInterval: time.Duration(cfg.Queue.PollIntervalSecs) * time.Second,
		MaxAttempts:  cfg.Queue.MaxRetries,
		Concurrency:  cfg.Queue.Concurrency,
		JobTimeout:   cfg.Pipeline.Timeout() + 2*time.Minute,
	}, appLog)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Start(ctx)
	}()

	// Handlers
	errs := handler.NewErrorHandler(appLog)
	r := router.Setup(router.Handlers{
		Extraction: handler.NewExtractionHandler(extractionSvc, errs),
		Draft:      handler.NewDraftHandler(extractionSvc, exportSvc, errs),
		Health:     handler.NewHealthHandler(db),
	}, cfg.CORS.AllowedOrigins, appLog)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		appLog.Info("server", "server starting", map[string]interface{}{
			"addr":      cfg.Server.Port,
			"backend":   cfg.Recognition.Primary.Provider,
			"alignment": cfg.Pipeline.AlignmentSource,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			<-workerDone
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	appLog.Info("server", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-workerDone
	return nil
}
