package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ledgerline/internal/config"
	"ledgerline/internal/domain"
	"ledgerline/internal/export"
	"ledgerline/internal/pkg/logger"
	"ledgerline/internal/port"
)

// Export formats.
const (
	ExportFormatCSV  = "csv"
	ExportFormatXLSX = "xlsx"
)

var exportContentTypes = map[string]string{
	ExportFormatCSV:  "text/csv; charset=utf-8",
	ExportFormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ExportResult is a rendered draft export.
type ExportResult struct {
	FileName    string
	ContentType string
	Data        []byte
	// URL is a presigned download link for the stored copy, when stored.
	URL string
}

// ExportService defines the draft export contract.
type ExportService interface {
	Render(ctx context.Context, id uuid.UUID, format string) (*ExportResult, error)
	// Publish renders the export, stores it and returns a presigned download link.
	Publish(ctx context.Context, id uuid.UUID, format string) (*ExportResult, error)
}

type exportService struct {
	repo    port.DraftRepository
	storage port.ObjectStorage
	cfg     *config.S3Config
	log     logger.Logger
	now     func() time.Time
}

// NewExportService creates a new ExportService implementation.
func NewExportService(repo port.DraftRepository, storage port.ObjectStorage, cfg *config.S3Config, log logger.Logger) ExportService {
	if log == nil {
		log = logger.Nop()
	}
	return &exportService{
		repo:    repo,
		storage: storage,
		cfg:     cfg,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *exportService) Render(ctx context.Context, id uuid.UUID, format string) (*ExportResult, error) {
	contentType, ok := exportContentTypes[format]
	if !ok {
		return nil, fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidInput, format)
	}

	draft, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	drafts := []domain.InvoiceDraft{*draft}

	var buf bytes.Buffer
	switch format {
	case ExportFormatCSV:
		buf.Write(export.BOM)
		w := export.NewWriter(&buf)
		if err := w.WriteHeader(); err != nil {
			return nil, fmt.Errorf("exportService.Render: %w", err)
		}
		if err := w.WriteDrafts(drafts); err != nil {
			return nil, fmt.Errorf("exportService.Render: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("exportService.Render: %w", err)
		}
	case ExportFormatXLSX:
		if err := export.WriteXLSX(&buf, drafts); err != nil {
			return nil, fmt.Errorf("exportService.Render: %w", err)
		}
	}

	key := draft.DocumentKey
	if key == "" {
		key = draft.ID.String()
	}
	return &ExportResult{
		FileName:    export.BuildFilename(key, s.now(), format),
		ContentType: contentType,
		Data:        buf.Bytes(),
	}, nil
}

func (s *exportService) Publish(ctx context.Context, id uuid.UUID, format string) (*ExportResult, error) {
	result, err := s.Render(ctx, id, format)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("exports/%s/%s", id, result.FileName)
	if _, err := s.storage.Upload(ctx, port.UploadInput{
		Bucket:      s.cfg.Bucket,
		Key:         key,
		Body:        bytes.NewReader(result.Data),
		ContentType: result.ContentType,
		Size:        int64(len(result.Data)),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}

	url, err := s.storage.GetPresignedURL(ctx, s.cfg.Bucket, key, s.cfg.PresignExpiry)
	if err != nil {
		return nil, fmt.Errorf("exportService.Publish: presign: %w", err)
	}
	result.URL = url

	s.log.Info("export", "export published", map[string]interface{}{
		"draft_id": id.String(),
		"format":   format,
		"key":      key,
	})
	return result, nil
}
