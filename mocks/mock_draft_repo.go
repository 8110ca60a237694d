package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ledgerline/internal/domain"
)

// MockDraftRepo is a mock implementation of port.DraftRepository.
type MockDraftRepo struct {
	mock.Mock
}

func (m *MockDraftRepo) Create(ctx context.Context, draft *domain.InvoiceDraft) error {
	args := m.Called(ctx, draft)
	return args.Error(0)
}

func (m *MockDraftRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.InvoiceDraft, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InvoiceDraft), args.Error(1)
}

func (m *MockDraftRepo) GetLatestByDocumentKey(ctx context.Context, documentKey string, exclude uuid.UUID) (*domain.InvoiceDraft, error) {
	args := m.Called(ctx, documentKey, exclude)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InvoiceDraft), args.Error(1)
}

func (m *MockDraftRepo) List(ctx context.Context, offset, limit int) ([]domain.InvoiceDraft, int, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.InvoiceDraft), args.Int(1), args.Error(2)
}

func (m *MockDraftRepo) Update(ctx context.Context, draft *domain.InvoiceDraft) error {
	args := m.Called(ctx, draft)
	return args.Error(0)
}

func (m *MockDraftRepo) ClaimQueued(ctx context.Context, limit int) ([]domain.InvoiceDraft, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.InvoiceDraft), args.Error(1)
}
