package service

import (
	"context"
	"sync"
	"time"

	"ledgerline/internal/pkg/logger"
	"ledgerline/internal/port"
)

// ExtractQueueConfig holds settings for the extraction queue worker.
type ExtractQueueConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	Concurrency  int
	JobTimeout   time.Duration
}

// ExtractQueueWorker polls for submitted drafts and dispatches them for extraction.
type ExtractQueueWorker struct {
	repo    port.DraftRepository
	service ExtractionService
	cfg     ExtractQueueConfig
	log     logger.Logger
	wg      sync.WaitGroup
}

// NewExtractQueueWorker creates a new ExtractQueueWorker.
func NewExtractQueueWorker(repo port.DraftRepository, svc ExtractionService, cfg ExtractQueueConfig, log logger.Logger) *ExtractQueueWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ExtractQueueWorker{
		repo:    repo,
		service: svc,
		cfg:     cfg,
		log:     log,
	}
}

// Start runs the polling loop until ctx is canceled. It blocks until all in-flight
// extractions have finished.
func (w *ExtractQueueWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.cfg.Concurrency)

	w.log.Info("queue", "worker started", map[string]interface{}{
		"poll":         w.cfg.PollInterval.String(),
		"concurrency":  w.cfg.Concurrency,
		"max_attempts": w.cfg.MaxAttempts,
	})

	for {
		select {
		case <-ctx.Done():
			w.log.Info("queue", "shutting down, waiting for in-flight extractions", nil)
			w.wg.Wait()
			w.log.Info("queue", "shutdown complete", nil)
			return
		case <-ticker.C:
			available := w.cfg.Concurrency - len(sem)
			if available <= 0 {
				continue
			}

			drafts, err := w.repo.ClaimQueued(ctx, available)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				w.log.Error("queue", "claim failed", map[string]interface{}{"error": err.Error()})
				continue
			}

			for i := range drafts {
				draft := drafts[i]
				draft.Attempts++

				sem <- struct{}{}
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					defer func() { <-sem }()

					// A fresh context lets in-flight jobs finish during shutdown.
					jobCtx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
					defer cancel()

					w.log.Debug("queue", "dispatching draft", map[string]interface{}{
						"draft_id": draft.ID.String(),
						"attempt":  draft.Attempts,
					})
					w.service.ProcessDraft(jobCtx, &draft, w.cfg.MaxAttempts)
				}()
			}
		}
	}
}
