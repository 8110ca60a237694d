package port

import (
	"context"

	"ledgerline/internal/domain"
)

// RecognitionBackend turns a source image into recognised text lines.
type RecognitionBackend interface {
	Recognize(ctx context.Context, img domain.RawImage) (*domain.RawDocument, error)
}
