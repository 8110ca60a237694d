package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ledgerline/internal/domain"
	"ledgerline/internal/service"
)

// MockExtractionService is a mock implementation of service.ExtractionService.
type MockExtractionService struct {
	mock.Mock
}

func (m *MockExtractionService) Extract(ctx context.Context, input service.ExtractInput) (*domain.InvoiceDraft, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InvoiceDraft), args.Error(1)
}

func (m *MockExtractionService) Submit(ctx context.Context, input service.SubmitInput) (*domain.InvoiceDraft, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InvoiceDraft), args.Error(1)
}

func (m *MockExtractionService) ProcessDraft(ctx context.Context, draft *domain.InvoiceDraft, maxAttempts int) {
	m.Called(ctx, draft, maxAttempts)
}

func (m *MockExtractionService) GetDraft(ctx context.Context, id uuid.UUID) (*domain.InvoiceDraft, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InvoiceDraft), args.Error(1)
}

func (m *MockExtractionService) ListDrafts(ctx context.Context, offset, limit int) ([]domain.InvoiceDraft, int, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.InvoiceDraft), args.Int(1), args.Error(2)
}
