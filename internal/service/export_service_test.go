package service_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ledgerline/internal/config"
	"ledgerline/internal/domain"
	"ledgerline/internal/export"
	"ledgerline/internal/port"
	"ledgerline/internal/service"
	"ledgerline/mocks"
)

func exportDraft(id uuid.UUID) *domain.InvoiceDraft {
	return &domain.InvoiceDraft{
		ID:            id,
		DocumentKey:   "acme/march",
		Status:        domain.DraftStatusParsed,
		InvoiceNumber: "INV-1042",
		LineItems: []domain.ValidatedLineItem{
			{Description: "Widget", LineTotal: domain.SomeMoney(1500), Discrepancy: domain.DiscrepancyNone},
		},
		GrandTotal: 1500,
	}
}

func TestExportService_RenderCSV(t *testing.T) {
	repo := new(mocks.MockDraftRepo)
	id := uuid.New()
	repo.On("GetByID", mock.Anything, id).Return(exportDraft(id), nil)
	svc := service.NewExportService(repo, new(mocks.MockObjectStorage), &config.S3Config{Bucket: "b"}, nil)

	res, err := svc.Render(context.Background(), id, service.ExportFormatCSV)

	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(res.Data, export.BOM))
	assert.True(t, strings.HasPrefix(res.FileName, "acme_march_"))
	assert.True(t, strings.HasSuffix(res.FileName, ".csv"))
	assert.Equal(t, "text/csv; charset=utf-8", res.ContentType)
	body := string(res.Data[len(export.BOM):])
	assert.Contains(t, body, "Document Key,Status,Invoice Number")
	assert.Contains(t, body, "acme/march,parsed,INV-1042")
	assert.Contains(t, body, "Widget")
}

func TestExportService_RenderXLSX(t *testing.T) {
	repo := new(mocks.MockDraftRepo)
	id := uuid.New()
	repo.On("GetByID", mock.Anything, id).Return(exportDraft(id), nil)
	svc := service.NewExportService(repo, new(mocks.MockObjectStorage), &config.S3Config{Bucket: "b"}, nil)

	res, err := svc.Render(context.Background(), id, service.ExportFormatXLSX)

	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(res.Data, []byte("PK")))
	assert.True(t, strings.HasSuffix(res.FileName, ".xlsx"))
}

func TestExportService_RenderErrors(t *testing.T) {
	repo := new(mocks.MockDraftRepo)
	id := uuid.New()
	repo.On("GetByID", mock.Anything, id).Return(nil, domain.ErrNotFound)
	svc := service.NewExportService(repo, new(mocks.MockObjectStorage), &config.S3Config{Bucket: "b"}, nil)

	_, err := svc.Render(context.Background(), id, "pdf")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Render(context.Background(), id, service.ExportFormatCSV)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExportService_Publish(t *testing.T) {
	repo := new(mocks.MockDraftRepo)
	storage := new(mocks.MockObjectStorage)
	id := uuid.New()
	repo.On("GetByID", mock.Anything, id).Return(exportDraft(id), nil)
	storage.On("Upload", mock.Anything, mock.MatchedBy(func(in port.UploadInput) bool {
		return in.Bucket == "exports-bucket" && strings.HasPrefix(in.Key, "exports/"+id.String()+"/")
	})).Return(&port.UploadOutput{}, nil)
	storage.On("GetPresignedURL", mock.Anything, "exports-bucket", mock.AnythingOfType("string"), int64(900)).
		Return("https://example.test/signed", nil)

	svc := service.NewExportService(repo, storage, &config.S3Config{Bucket: "exports-bucket", PresignExpiry: 900}, nil)
	res, err := svc.Publish(context.Background(), id, service.ExportFormatCSV)

	require.NoError(t, err)
	assert.Equal(t, "https://example.test/signed", res.URL)
	storage.AssertExpectations(t)
}

func TestExportService_PublishUploadFails(t *testing.T) {
	repo := new(mocks.MockDraftRepo)
	storage := new(mocks.MockObjectStorage)
	id := uuid.New()
	repo.On("GetByID", mock.Anything, id).Return(exportDraft(id), nil)
	storage.On("Upload", mock.Anything, mock.Anything).Return(nil, errors.New("denied"))

	svc := service.NewExportService(repo, storage, &config.S3Config{Bucket: "b"}, nil)
	_, err := svc.Publish(context.Background(), id, service.ExportFormatCSV)

	assert.ErrorIs(t, err, domain.ErrUploadFailed)
	storage.AssertNotCalled(t, "GetPresignedURL", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
