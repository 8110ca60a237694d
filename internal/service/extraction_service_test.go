package service_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ledgerline/internal/config"
	"ledgerline/internal/domain"
	"ledgerline/internal/extraction"
	"ledgerline/internal/pipeline"
	"ledgerline/internal/port"
	"ledgerline/internal/recognition"
	"ledgerline/internal/service"
	"ledgerline/mocks"
)

var invoiceLines = []domain.RawLine{
	{Text: "ACME FOODS LTD"},
	{Text: "Invoice No: INV-1042"},
	{Text: "Description Qty Price Total"},
	{Text: "Widget 3 5.00 15.00"},
	{Text: "Gadget 2 10.00 20.00"},
	{Text: "Subtotal 35.00"},
	{Text: "VAT 20% 7.00"},
	{Text: "Total 42.00"},
}

type fixture struct {
	repo    *mocks.MockDraftRepo
	storage *mocks.MockObjectStorage
	backend *mocks.MockRecognitionBackend
	svc     service.ExtractionService
}

func newFixture(alignment domain.AlignmentSource, opts ...pipeline.Option) *fixture {
	f := &fixture{
		repo:    new(mocks.MockDraftRepo),
		storage: new(mocks.MockObjectStorage),
		backend: new(mocks.MockRecognitionBackend),
	}
	p := pipeline.New(pipeline.Config{Tolerance: extraction.DefaultTolerance}, opts...)
	s3Cfg := &config.S3Config{Bucket: "ledgerline-test", MaxFileSizeMB: 1}
	f.svc = service.NewExtractionService(f.repo, f.storage, f.backend, p, s3Cfg, alignment, nil)
	return f
}

func TestExtractionService_Extract(t *testing.T) {
	f := newFixture(domain.AlignmentSourcePrior)
	f.repo.On("GetLatestByDocumentKey", mock.Anything, "acme/2024-03", uuid.Nil).Return(nil, domain.ErrNotFound)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.InvoiceDraft")).Return(nil)

	draft, err := f.svc.Extract(context.Background(), service.ExtractInput{
		DocumentKey: "acme/2024-03",
		Backend:     config.BackendText,
		Lines:       invoiceLines,
	})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, draft.ID)
	assert.Equal(t, "acme/2024-03", draft.DocumentKey)
	assert.Equal(t, domain.DraftStatusParsed, draft.Status)
	assert.Len(t, draft.LineItems, 2)
	assert.Equal(t, 1, draft.Attempts)
	assert.False(t, draft.CreatedAt.IsZero())
	f.repo.AssertExpectations(t)
}

func TestExtractionService_Extract_UsesPriorDraft(t *testing.T) {
	f := newFixture(domain.AlignmentSourcePrior)
	prior := &domain.InvoiceDraft{LineItems: []domain.ValidatedLineItem{
		{Description: "Widget"}, {Description: "Gadget"}, {Description: "Basil"},
	}}
	f.repo.On("GetLatestByDocumentKey", mock.Anything, "acme/2024-03", uuid.Nil).Return(prior, nil)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.InvoiceDraft")).Return(nil)

	draft, err := f.svc.Extract(context.Background(), service.ExtractInput{
		DocumentKey: "acme/2024-03",
		Backend:     config.BackendText,
		Lines:       invoiceLines,
	})

	require.NoError(t, err)
	require.Len(t, draft.LineItems, 3)
	assert.Equal(t, domain.DiscrepancyMissing, draft.LineItems[2].Discrepancy)
}

func TestExtractionService_Extract_MissingKey(t *testing.T) {
	f := newFixture(domain.AlignmentSourceNone)

	_, err := f.svc.Extract(context.Background(), service.ExtractInput{Lines: invoiceLines})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestExtractionService_Extract_NoBackendStillSaved(t *testing.T) {
	f := newFixture(domain.AlignmentSourceNone)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.InvoiceDraft")).Return(nil)

	draft, err := f.svc.Extract(context.Background(), service.ExtractInput{DocumentKey: "k", Lines: invoiceLines})

	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusFailed, draft.Status)
	assert.ErrorIs(t, draft.Error, domain.ErrBackendUnavailable)
}

func TestExtractionService_Extract_RepoError(t *testing.T) {
	f := newFixture(domain.AlignmentSourceNone)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := f.svc.Extract(context.Background(), service.ExtractInput{
		DocumentKey: "k", Backend: config.BackendText, Lines: invoiceLines,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "saving draft")
}

// liveCtx matches only a context that has not expired, the way a real driver rejects
// a canceled query.
var liveCtx = mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })

// stallAfterHeader makes the pipeline outlive a short caller deadline.
func stallAfterHeader() pipeline.Option {
	return pipeline.WithStageHook(func(s domain.Stage) {
		if s == domain.StageHeader {
			time.Sleep(30 * time.Millisecond)
		}
	})
}

func TestExtractionService_Extract_SavesTimedOutDraft(t *testing.T) {
	f := newFixture(domain.AlignmentSourceNone, stallAfterHeader())
	f.repo.On("Create", liveCtx, mock.AnythingOfType("*domain.InvoiceDraft")).Return(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	draft, err := f.svc.Extract(ctx, service.ExtractInput{
		DocumentKey: "k", Backend: config.BackendText, Lines: invoiceLines,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusTimeout, draft.Status)
	require.NotNil(t, draft.Error)
	assert.Equal(t, domain.CheckDeadlineExceeded, draft.Error.Check)
	assert.Equal(t, "INV-1042", draft.InvoiceNumber)
	assert.Empty(t, draft.LineItems)
	f.repo.AssertExpectations(t)
}

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")

func TestExtractionService_Submit(t *testing.T) {
	f := newFixture(domain.AlignmentSourceLayout)
	f.storage.On("Upload", mock.Anything, mock.MatchedBy(func(in port.UploadInput) bool {
		return in.Bucket == "ledgerline-test" && in.ContentType == "application/pdf"
	})).Return(&port.UploadOutput{Location: "s3://ledgerline-test/x"}, nil)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.InvoiceDraft")).Return(nil)

	draft, err := f.svc.Submit(context.Background(), service.SubmitInput{
		DocumentKey: "acme-march",
		FileName:    "march.PDF",
		Size:        int64(len(pdfBytes)),
		File:        bytes.NewReader(pdfBytes),
		Expectation: &extraction.Expectation{Descriptions: []string{"Widget", "Gadget"}},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusSubmitted, draft.Status)
	require.NotNil(t, draft.Source)
	assert.Equal(t, "march.PDF", draft.Source.FileName)
	assert.Contains(t, draft.Source.Key, "documents/acme-march/sources/")
	assert.Equal(t, []string{"Widget", "Gadget"}, draft.Expected)
	f.storage.AssertExpectations(t)
}

func TestExtractionService_Submit_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		input   service.SubmitInput
		wantErr error
	}{
		{
			name:    "missing key",
			input:   service.SubmitInput{FileName: "a.pdf", File: bytes.NewReader(pdfBytes)},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:    "unknown extension",
			input:   service.SubmitInput{DocumentKey: "k", FileName: "a.docx", File: bytes.NewReader(pdfBytes)},
			wantErr: domain.ErrUnsupportedFileType,
		},
		{
			name:    "content does not match extension",
			input:   service.SubmitInput{DocumentKey: "k", FileName: "a.png", File: bytes.NewReader(pdfBytes)},
			wantErr: domain.ErrUnsupportedFileType,
		},
		{
			name:    "too large",
			input:   service.SubmitInput{DocumentKey: "k", FileName: "a.pdf", Size: 2 * 1024 * 1024, File: bytes.NewReader(pdfBytes)},
			wantErr: domain.ErrFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(domain.AlignmentSourceLayout)

			_, err := f.svc.Submit(context.Background(), tt.input)

			assert.ErrorIs(t, err, tt.wantErr)
			f.storage.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
		})
	}
}

func TestExtractionService_Submit_UploadFails(t *testing.T) {
	f := newFixture(domain.AlignmentSourceLayout)
	f.storage.On("Upload", mock.Anything, mock.Anything).Return(nil, errors.New("s3 unavailable"))

	_, err := f.svc.Submit(context.Background(), service.SubmitInput{
		DocumentKey: "k", FileName: "a.pdf", File: bytes.NewReader(pdfBytes),
	})

	assert.ErrorIs(t, err, domain.ErrUploadFailed)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestExtractionService_Submit_CreateFailsRemovesSource(t *testing.T) {
	f := newFixture(domain.AlignmentSourceLayout)
	f.storage.On("Upload", mock.Anything, mock.Anything).Return(&port.UploadOutput{}, nil)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))
	f.storage.On("Delete", mock.Anything, "ledgerline-test", mock.AnythingOfType("string")).Return(nil)

	_, err := f.svc.Submit(context.Background(), service.SubmitInput{
		DocumentKey: "k", FileName: "a.pdf", File: bytes.NewReader(pdfBytes),
	})

	require.Error(t, err)
	f.storage.AssertCalled(t, "Delete", mock.Anything, "ledgerline-test", mock.AnythingOfType("string"))
}

func queuedDraft(attempts int) *domain.InvoiceDraft {
	return &domain.InvoiceDraft{
		ID:          uuid.New(),
		DocumentKey: "acme-march",
		Status:      domain.DraftStatusProcessing,
		Attempts:    attempts,
		Source: &domain.SourceRef{
			Bucket: "ledgerline-test", Key: "documents/acme-march/sources/x.pdf",
			FileName: "x.pdf", ContentType: "application/pdf",
		},
		Expected: []string{"Widget", "Gadget"},
	}
}

func TestExtractionService_ProcessDraft(t *testing.T) {
	f := newFixture(domain.AlignmentSourceLayout)
	draft := queuedDraft(1)
	id := draft.ID
	var statuses []domain.DraftStatus
	f.storage.On("Download", mock.Anything, "ledgerline-test", draft.Source.Key).Return(pdfBytes, nil)
	f.backend.On("Recognize", mock.Anything, mock.AnythingOfType("domain.RawImage")).
		Return(&domain.RawDocument{Backend: config.BackendClaude, Lines: invoiceLines}, nil)
	f.repo.On("Update", mock.Anything, mock.AnythingOfType("*domain.InvoiceDraft")).
		Run(func(args mock.Arguments) {
			statuses = append(statuses, args.Get(1).(*domain.InvoiceDraft).Status)
		}).Return(nil)

	f.svc.ProcessDraft(context.Background(), draft, 3)

	assert.Equal(t, []domain.DraftStatus{domain.DraftStatusScanned, domain.DraftStatusParsed}, statuses)
	assert.Equal(t, id, draft.ID)
	assert.Equal(t, "acme-march", draft.DocumentKey)
	assert.Equal(t, config.BackendClaude, draft.Backend)
	assert.Equal(t, 1, draft.Attempts)
	assert.NotNil(t, draft.Source)
	assert.Len(t, draft.LineItems, 2)
	assert.Nil(t, draft.RetryAfter)
}

func TestExtractionService_ProcessDraft_RateLimitedRequeues(t *testing.T) {
	f := newFixture(domain.AlignmentSourceLayout)
	draft := queuedDraft(1)
	f.storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(pdfBytes, nil)
	f.backend.On("Recognize", mock.Anything, mock.Anything).
		Return(nil, recognition.NewRateLimitError("claude", errors.New("429"), 30))
	f.repo.On("Update", mock.Anything, draft).Return(nil)

	f.svc.ProcessDraft(context.Background(), draft, 3)

	assert.Equal(t, domain.DraftStatusSubmitted, draft.Status)
	require.NotNil(t, draft.RetryAfter)
	assert.Contains(t, draft.ErrorMessage, "rate limited by claude")
}

func TestExtractionService_ProcessDraft_RateLimitedOutOfAttempts(t *testing.T) {
	f := newFixture(domain.AlignmentSourceLayout)
	draft := queuedDraft(3)
	f.storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(pdfBytes, nil)
	f.backend.On("Recognize", mock.Anything, mock.Anything).
		Return(nil, recognition.NewRateLimitError("claude", errors.New("429"), 30))
	f.repo.On("Update", mock.Anything, draft).Return(nil)

	f.svc.ProcessDraft(context.Background(), draft, 3)

	assert.Equal(t, domain.DraftStatusFailed, draft.Status)
	require.NotNil(t, draft.Error)
	assert.Equal(t, domain.CheckBackendError, draft.Error.Check)
	assert.ErrorIs(t, draft.Error, domain.ErrBackendUnavailable)
}

func TestExtractionService_ProcessDraft_DownloadFails(t *testing.T) {
	f := newFixture(domain.AlignmentSourceLayout)
	draft := queuedDraft(1)
	f.storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(nil, domain.ErrNotFound)
	f.repo.On("Update", mock.Anything, draft).Return(nil)

	f.svc.ProcessDraft(context.Background(), draft, 3)

	assert.Equal(t, domain.DraftStatusFailed, draft.Status)
	f.backend.AssertNotCalled(t, "Recognize", mock.Anything, mock.Anything)
}

func TestExtractionService_ProcessDraft_SavesAfterJobDeadline(t *testing.T) {
	f := newFixture(domain.AlignmentSourceLayout, stallAfterHeader())
	draft := queuedDraft(1)
	var statuses []domain.DraftStatus
	f.storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(pdfBytes, nil)
	f.backend.On("Recognize", mock.Anything, mock.Anything).
		Return(&domain.RawDocument{Backend: config.BackendClaude, Lines: invoiceLines}, nil)
	f.repo.On("Update", liveCtx, draft).
		Run(func(args mock.Arguments) {
			statuses = append(statuses, args.Get(1).(*domain.InvoiceDraft).Status)
		}).Return(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	f.svc.ProcessDraft(ctx, draft, 3)

	assert.Equal(t, []domain.DraftStatus{domain.DraftStatusScanned, domain.DraftStatusTimeout}, statuses)
	require.NotNil(t, draft.Error)
	assert.ErrorIs(t, draft.Error, domain.ErrTimeout)
}

func TestExtractionService_ProcessDraft_FailsWithExpiredContext(t *testing.T) {
	f := newFixture(domain.AlignmentSourceLayout)
	draft := queuedDraft(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(nil, context.Canceled)
	f.repo.On("Update", liveCtx, draft).Return(nil).Once()

	f.svc.ProcessDraft(ctx, draft, 3)

	assert.Equal(t, domain.DraftStatusFailed, draft.Status)
	f.repo.AssertExpectations(t)
}

func TestExtractionService_ProcessDraft_SkipsFrozenDraft(t *testing.T) {
	f := newFixture(domain.AlignmentSourceLayout)
	draft := queuedDraft(1)
	draft.Status = domain.DraftStatusParsed

	f.svc.ProcessDraft(context.Background(), draft, 3)

	f.storage.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestExtractionService_GetAndList(t *testing.T) {
	f := newFixture(domain.AlignmentSourceNone)
	id := uuid.New()
	f.repo.On("GetByID", mock.Anything, id).Return(&domain.InvoiceDraft{ID: id}, nil)
	f.repo.On("List", mock.Anything, 0, 20).Return([]domain.InvoiceDraft{{ID: id}}, 1, nil)

	got, err := f.svc.GetDraft(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	list, total, err := f.svc.ListDrafts(context.Background(), 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)
}
