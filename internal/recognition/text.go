package recognition

import (
	"context"
	"fmt"
	"unicode/utf8"

	"ledgerline/internal/config"
	"ledgerline/internal/domain"
)

// TextBackend reads sources that are already text, such as digital invoices exported
// to plain text. Each non-blank line becomes a RawLine.
type TextBackend struct{}

// NewTextBackend creates a TextBackend.
func NewTextBackend() *TextBackend {
	return &TextBackend{}
}

func (t *TextBackend) Recognize(ctx context.Context, img domain.RawImage) (*domain.RawDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.ContentType != "" && img.ContentType != "text/plain" {
		return nil, fmt.Errorf("text backend: %w: %s", ErrUnsupportedContentType, img.ContentType)
	}
	if !utf8.Valid(img.Data) {
		return nil, fmt.Errorf("text backend: source is not valid UTF-8")
	}
	return &domain.RawDocument{
		Backend: config.BackendText,
		Lines:   SplitText(string(img.Data)),
	}, nil
}

// NoneBackend stands in when no recognition backend is configured. It returns a
// document with no lines that the pipeline reports as BackendUnavailable.
type NoneBackend struct{}

// NewNoneBackend creates a NoneBackend.
func NewNoneBackend() *NoneBackend {
	return &NoneBackend{}
}

func (n *NoneBackend) Recognize(_ context.Context, _ domain.RawImage) (*domain.RawDocument, error) {
	return &domain.RawDocument{Backend: config.BackendNone}, nil
}
