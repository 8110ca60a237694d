package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ledgerline/internal/domain"
)

// MockRecognitionBackend is a mock implementation of port.RecognitionBackend.
type MockRecognitionBackend struct {
	mock.Mock
}

func (m *MockRecognitionBackend) Recognize(ctx context.Context, img domain.RawImage) (*domain.RawDocument, error) {
	args := m.Called(ctx, img)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RawDocument), args.Error(1)
}
