package port

import (
	"context"

	"github.com/google/uuid"

	"ledgerline/internal/domain"
)

// DraftRepository defines the contract for invoice draft persistence.
type DraftRepository interface {
	Create(ctx context.Context, draft *domain.InvoiceDraft) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.InvoiceDraft, error)
	// GetLatestByDocumentKey returns the most recent terminal draft for a document,
	// excluding the draft with id exclude.
	GetLatestByDocumentKey(ctx context.Context, documentKey string, exclude uuid.UUID) (*domain.InvoiceDraft, error)
	List(ctx context.Context, offset, limit int) ([]domain.InvoiceDraft, int, error)
	Update(ctx context.Context, draft *domain.InvoiceDraft) error
	// ClaimQueued atomically moves up to limit submitted drafts to processing and
	// returns them.
	ClaimQueued(ctx context.Context, limit int) ([]domain.InvoiceDraft, error)
}

// PriorStore keeps the latest draft per document key for re-extraction runs.
type PriorStore interface {
	Save(draft *domain.InvoiceDraft) error
	Latest(documentKey string) (*domain.InvoiceDraft, error)
	Close() error
}
