package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledgerline/internal/config"
	"ledgerline/internal/domain"
	"ledgerline/internal/extraction"
	"ledgerline/internal/pipeline"
	"ledgerline/internal/pkg/logger"
	"ledgerline/internal/port"
	"ledgerline/internal/recognition"
)

// ExtractInput is the DTO for a synchronous extraction over already recognised lines.
type ExtractInput struct {
	DocumentKey string
	Backend     string
	Lines       []domain.RawLine
	Secondary   []domain.RawLine
	Expectation *extraction.Expectation
}

// SubmitInput is the DTO for queuing a source file for extraction.
type SubmitInput struct {
	DocumentKey string
	FileName    string
	Size        int64
	File        io.ReadSeeker
	Expectation *extraction.Expectation
}

// ExtractionService defines the extraction contract.
type ExtractionService interface {
	Extract(ctx context.Context, input ExtractInput) (*domain.InvoiceDraft, error)
	Submit(ctx context.Context, input SubmitInput) (*domain.InvoiceDraft, error)
	ProcessDraft(ctx context.Context, draft *domain.InvoiceDraft, maxAttempts int)
	GetDraft(ctx context.Context, id uuid.UUID) (*domain.InvoiceDraft, error)
	ListDrafts(ctx context.Context, offset, limit int) ([]domain.InvoiceDraft, int, error)
}

type extractionService struct {
	repo      port.DraftRepository
	storage   port.ObjectStorage
	backend   port.RecognitionBackend
	pipeline  *pipeline.Pipeline
	s3Cfg     *config.S3Config
	alignment domain.AlignmentSource
	log       logger.Logger
	now       func() time.Time
}

// NewExtractionService creates a new ExtractionService implementation.
func NewExtractionService(
	repo port.DraftRepository,
	storage port.ObjectStorage,
	backend port.RecognitionBackend,
	p *pipeline.Pipeline,
	s3Cfg *config.S3Config,
	alignment domain.AlignmentSource,
	log logger.Logger,
) ExtractionService {
	if log == nil {
		log = logger.Nop()
	}
	return &extractionService{
		repo:      repo,
		storage:   storage,
		backend:   backend,
		pipeline:  p,
		s3Cfg:     s3Cfg,
		alignment: alignment,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *extractionService) Extract(ctx context.Context, input ExtractInput) (*domain.InvoiceDraft, error) {
	if strings.TrimSpace(input.DocumentKey) == "" {
		return nil, fmt.Errorf("%w: document_key is required", domain.ErrInvalidInput)
	}

	in, err := s.pipelineInput(ctx, input.DocumentKey, uuid.Nil, input.Expectation)
	if err != nil {
		return nil, err
	}
	in.Document = domain.RawDocument{Backend: input.Backend, Lines: input.Lines, Secondary: input.Secondary}

	draft := s.pipeline.Run(ctx, in)
	now := s.now()
	draft.ID = uuid.New()
	draft.DocumentKey = input.DocumentKey
	draft.Attempts = 1
	draft.CreatedAt = now
	draft.UpdatedAt = now

	saveCtx, cancel := detached(ctx)
	defer cancel()
	if err := s.repo.Create(saveCtx, draft); err != nil {
		return nil, fmt.Errorf("extractionService.Extract: saving draft: %w", err)
	}
	s.log.Info("extraction", "draft extracted", map[string]interface{}{
		"draft_id":     draft.ID.String(),
		"document_key": draft.DocumentKey,
		"status":       draft.Status,
		"confidence":   draft.Confidence,
		"review":       draft.ConfidenceBand.RequiresReview(),
	})
	return draft, nil
}

func (s *extractionService) Submit(ctx context.Context, input SubmitInput) (*domain.InvoiceDraft, error) {
	if strings.TrimSpace(input.DocumentKey) == "" {
		return nil, fmt.Errorf("%w: document_key is required", domain.ErrInvalidInput)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(input.FileName), "."))
	fileType, ok := domain.AllowedExtensions[ext]
	if !ok {
		return nil, domain.ErrUnsupportedFileType
	}

	maxBytes := s.s3Cfg.MaxFileSizeMB * 1024 * 1024
	if input.Size > maxBytes {
		return nil, domain.ErrFileTooLarge
	}

	// Read first 512 bytes for magic-byte content type detection
	buf := make([]byte, 512)
	n, err := input.File.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading file header: %w", err)
	}
	detected := strings.TrimSpace(strings.SplitN(http.DetectContentType(buf[:n]), ";", 2)[0])
	if detectedType, valid := domain.AllowedContentTypes[detected]; !valid || detectedType != fileType {
		return nil, domain.ErrUnsupportedFileType
	}

	if _, err := input.File.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking file: %w", err)
	}

	draftID := uuid.New()
	contentType := domain.FileContentTypes[fileType]
	key := fmt.Sprintf("documents/%s/sources/%s.%s", input.DocumentKey, draftID, ext)

	s.log.Info("extraction", "uploading source", map[string]interface{}{
		"document_key": input.DocumentKey,
		"file_name":    input.FileName,
		"content_type": contentType,
		"size":         input.Size,
	})

	if _, err := s.storage.Upload(ctx, port.UploadInput{
		Bucket:      s.s3Cfg.Bucket,
		Key:         key,
		Body:        input.File,
		ContentType: contentType,
		Size:        input.Size,
	}); err != nil {
		s.log.Error("extraction", "source upload failed", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}

	now := s.now()
	draft := domain.NewDraft()
	draft.ID = draftID
	draft.DocumentKey = input.DocumentKey
	draft.Status = domain.DraftStatusSubmitted
	draft.Source = &domain.SourceRef{
		Bucket:      s.s3Cfg.Bucket,
		Key:         key,
		FileName:    input.FileName,
		ContentType: contentType,
	}
	if !input.Expectation.Empty() {
		draft.Expected = input.Expectation.Descriptions
		draft.ExpectedCount = input.Expectation.Count
	}
	draft.CreatedAt = now
	draft.UpdatedAt = now

	if err := s.repo.Create(ctx, draft); err != nil {
		if delErr := s.storage.Delete(ctx, s.s3Cfg.Bucket, key); delErr != nil {
			s.log.Warn("extraction", "orphaned source not removed", map[string]interface{}{
				"key":   key,
				"error": delErr.Error(),
			})
		}
		return nil, fmt.Errorf("extractionService.Submit: saving draft: %w", err)
	}
	return draft, nil
}

// ProcessDraft recognises the stored source of a claimed draft, runs the pipeline and
// saves the outcome. Rate limited recognition is requeued until maxAttempts.
func (s *extractionService) ProcessDraft(ctx context.Context, draft *domain.InvoiceDraft, maxAttempts int) {
	if draft.Status.IsTerminal() {
		s.log.Warn("extraction", "skipping frozen draft", map[string]interface{}{
			"draft_id": draft.ID.String(),
			"status":   draft.Status,
		})
		return
	}
	if draft.Source == nil {
		s.failDraft(ctx, draft, domain.NewExtractionError(domain.KindBackendUnavailable, domain.CheckBackendError,
			domain.StageNone, "draft has no source file"))
		return
	}

	data, err := s.storage.Download(ctx, draft.Source.Bucket, draft.Source.Key)
	if err != nil {
		s.failDraft(ctx, draft, domain.NewExtractionError(domain.KindBackendUnavailable, domain.CheckBackendError,
			domain.StageNone, "downloading source: %v", err))
		return
	}

	raw, err := s.backend.Recognize(ctx, domain.RawImage{
		Data:        data,
		ContentType: draft.Source.ContentType,
		FileName:    draft.Source.FileName,
	})
	if err != nil {
		s.handleRecognitionError(ctx, draft, err, maxAttempts)
		return
	}

	draft.Status = domain.DraftStatusScanned
	draft.Backend = raw.Backend
	draft.UpdatedAt = s.now()
	if err := s.save(ctx, draft); err != nil {
		s.log.Warn("extraction", "failed to mark draft scanned", map[string]interface{}{
			"draft_id": draft.ID.String(),
			"error":    err.Error(),
		})
	}

	var exp *extraction.Expectation
	if len(draft.Expected) > 0 || draft.ExpectedCount > 0 {
		exp = &extraction.Expectation{
			Source:       domain.AlignmentSourceLayout,
			Descriptions: draft.Expected,
			Count:        draft.ExpectedCount,
		}
	}
	in, err := s.pipelineInput(ctx, draft.DocumentKey, draft.ID, exp)
	if err != nil {
		s.log.Warn("extraction", "prior draft lookup failed, aligning without prior", map[string]interface{}{
			"draft_id": draft.ID.String(),
			"error":    err.Error(),
		})
		in = pipeline.Input{}
	}
	in.Document = *raw

	result := s.pipeline.Run(ctx, in)
	adopt(draft, result)
	draft.RetryAfter = nil
	draft.UpdatedAt = s.now()

	if err := s.save(ctx, draft); err != nil {
		s.log.Error("extraction", "failed to save draft", map[string]interface{}{
			"draft_id": draft.ID.String(),
			"error":    err.Error(),
		})
		return
	}
	s.log.Info("extraction", "draft processed", map[string]interface{}{
		"draft_id":   draft.ID.String(),
		"status":     draft.Status,
		"confidence": draft.Confidence,
		"attempt":    draft.Attempts,
		"review":     draft.ConfidenceBand.RequiresReview(),
	})
}

// handleRecognitionError requeues a rate limited draft while attempts remain and
// otherwise fails it as BackendUnavailable.
func (s *extractionService) handleRecognitionError(ctx context.Context, draft *domain.InvoiceDraft, recErr error, maxAttempts int) {
	var rlErr *recognition.RateLimitError
	if errors.As(recErr, &rlErr) && draft.Attempts < maxAttempts {
		retryAt := s.now().Add(rlErr.RetryAfter)
		draft.Status = domain.DraftStatusSubmitted
		draft.ErrorMessage = fmt.Sprintf("rate limited by %s, queued for retry", rlErr.Backend)
		draft.RetryAfter = &retryAt
		draft.UpdatedAt = s.now()
		if err := s.save(ctx, draft); err != nil {
			s.log.Error("extraction", "failed to requeue draft", map[string]interface{}{
				"draft_id": draft.ID.String(),
				"error":    err.Error(),
			})
			return
		}
		s.log.Info("extraction", "draft queued for retry", map[string]interface{}{
			"draft_id":    draft.ID.String(),
			"retry_after": retryAt.Format(time.RFC3339),
			"attempt":     draft.Attempts,
		})
		return
	}
	s.failDraft(ctx, draft, domain.NewExtractionError(domain.KindBackendUnavailable, domain.CheckBackendError,
		domain.StageNone, "recognition: %v", recErr))
}

func (s *extractionService) failDraft(ctx context.Context, draft *domain.InvoiceDraft, extErr *domain.ExtractionError) {
	s.log.Warn("extraction", "draft failed", map[string]interface{}{
		"draft_id": draft.ID.String(),
		"error":    extErr.Error(),
	})
	draft.Fail(extErr)
	draft.RetryAfter = nil
	draft.UpdatedAt = s.now()
	if err := s.save(ctx, draft); err != nil {
		s.log.Error("extraction", "failed to update draft status", map[string]interface{}{
			"draft_id": draft.ID.String(),
			"error":    err.Error(),
		})
	}
}

// saveTimeout bounds a write made after the job context may already have expired.
const saveTimeout = 10 * time.Second

// detached keeps ctx values but drops its deadline, so a timed-out draft is still stored.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
}

func (s *extractionService) save(ctx context.Context, draft *domain.InvoiceDraft) error {
	saveCtx, cancel := detached(ctx)
	defer cancel()
	return s.repo.Update(saveCtx, draft)
}

// pipelineInput resolves the alignment expectation for the configured source. An
// explicit expectation wins; with the prior source the latest earlier draft of the same
// document is used otherwise.
func (s *extractionService) pipelineInput(ctx context.Context, documentKey string, exclude uuid.UUID, exp *extraction.Expectation) (pipeline.Input, error) {
	switch s.alignment {
	case domain.AlignmentSourceNone:
		return pipeline.Input{}, nil
	case domain.AlignmentSourceLayout:
		return pipeline.Input{Expectation: exp}, nil
	}

	if !exp.Empty() {
		return pipeline.Input{Expectation: exp}, nil
	}
	prior, err := s.repo.GetLatestByDocumentKey(ctx, documentKey, exclude)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return pipeline.Input{}, nil
		}
		return pipeline.Input{}, fmt.Errorf("extractionService.pipelineInput: %w", err)
	}
	return pipeline.Input{Prior: prior}, nil
}

func (s *extractionService) GetDraft(ctx context.Context, id uuid.UUID) (*domain.InvoiceDraft, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *extractionService) ListDrafts(ctx context.Context, offset, limit int) ([]domain.InvoiceDraft, int, error) {
	return s.repo.List(ctx, offset, limit)
}

// adopt copies pipeline output onto a stored draft, keeping its identity and queue state.
func adopt(dst, src *domain.InvoiceDraft) {
	id, key, source, attempts, created := dst.ID, dst.DocumentKey, dst.Source, dst.Attempts, dst.CreatedAt
	expected, expectedCount := dst.Expected, dst.ExpectedCount
	*dst = *src
	dst.ID = id
	dst.DocumentKey = key
	dst.Source = source
	dst.Attempts = attempts
	dst.CreatedAt = created
	dst.Expected = expected
	dst.ExpectedCount = expectedCount
}
