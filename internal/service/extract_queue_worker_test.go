package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ledgerline/internal/domain"
	"ledgerline/internal/service"
	"ledgerline/mocks"
)

func runWorker(w *service.ExtractQueueWorker, d time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(d)
	cancel()
	<-done
}

func TestExtractQueueWorker_DispatchesClaimedDrafts(t *testing.T) {
	repo := new(mocks.MockDraftRepo)
	svc := new(mocks.MockExtractionService)

	draft := domain.InvoiceDraft{ID: uuid.New(), Status: domain.DraftStatusProcessing, Attempts: 0}
	repo.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).
		Return([]domain.InvoiceDraft{draft}, nil).Once()
	repo.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).
		Return([]domain.InvoiceDraft{}, nil).Maybe()
	svc.On("ProcessDraft", mock.Anything, mock.MatchedBy(func(d *domain.InvoiceDraft) bool {
		return d.ID == draft.ID && d.Attempts == 1
	}), 4).Return()

	worker := service.NewExtractQueueWorker(repo, svc, service.ExtractQueueConfig{
		PollInterval: 20 * time.Millisecond,
		MaxAttempts:  4,
		Concurrency:  2,
	}, nil)
	runWorker(worker, 150*time.Millisecond)

	svc.AssertNumberOfCalls(t, "ProcessDraft", 1)
}

func TestExtractQueueWorker_ClaimLimitNeverExceedsConcurrency(t *testing.T) {
	repo := new(mocks.MockDraftRepo)
	svc := new(mocks.MockExtractionService)
	repo.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).
		Return([]domain.InvoiceDraft{}, nil).Maybe()

	cfg := service.ExtractQueueConfig{PollInterval: 20 * time.Millisecond, MaxAttempts: 3, Concurrency: 3}
	runWorker(service.NewExtractQueueWorker(repo, svc, cfg, nil), 100*time.Millisecond)

	for _, call := range repo.Calls {
		if call.Method == "ClaimQueued" {
			assert.LessOrEqual(t, call.Arguments.Get(1).(int), cfg.Concurrency)
		}
	}
	svc.AssertNotCalled(t, "ProcessDraft", mock.Anything, mock.Anything, mock.Anything)
}

func TestExtractQueueWorker_WaitsForInFlightOnShutdown(t *testing.T) {
	repo := new(mocks.MockDraftRepo)
	svc := new(mocks.MockExtractionService)
	var finished atomic.Bool

	repo.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).
		Return([]domain.InvoiceDraft{{ID: uuid.New()}}, nil).Once()
	repo.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).
		Return([]domain.InvoiceDraft{}, nil).Maybe()
	svc.On("ProcessDraft", mock.Anything, mock.Anything, 3).
		Run(func(mock.Arguments) {
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
		}).Return()

	worker := service.NewExtractQueueWorker(repo, svc, service.ExtractQueueConfig{
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  3,
		Concurrency:  1,
	}, nil)
	runWorker(worker, 40*time.Millisecond)

	assert.True(t, finished.Load())
}
