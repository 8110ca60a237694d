package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ledgerline/internal/domain"
	"ledgerline/internal/port"
)

// draftRow is the stored form of a draft. The full draft lives in payload; the other
// columns are copies used for filtering and queueing and win over the payload on read.
type draftRow struct {
	ID          uuid.UUID          `db:"id"`
	DocumentKey string             `db:"document_key"`
	Status      domain.DraftStatus `db:"status"`
	Confidence  int                `db:"confidence"`
	Attempts    int                `db:"attempts"`
	RetryAfter  *time.Time         `db:"retry_after"`
	Payload     json.RawMessage    `db:"payload"`
	CreatedAt   time.Time          `db:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at"`
}

func (r *draftRow) toDraft() (*domain.InvoiceDraft, error) {
	var d domain.InvoiceDraft
	if err := json.Unmarshal(r.Payload, &d); err != nil {
		return nil, fmt.Errorf("decoding draft %s: %w", r.ID, err)
	}
	d.ID = r.ID
	d.DocumentKey = r.DocumentKey
	d.Status = r.Status
	d.Confidence = r.Confidence
	d.Attempts = r.Attempts
	d.RetryAfter = r.RetryAfter
	d.CreatedAt = r.CreatedAt
	d.UpdatedAt = r.UpdatedAt
	if d.LineItems == nil {
		d.LineItems = []domain.ValidatedLineItem{}
	}
	return &d, nil
}

func rowsToDrafts(rows []draftRow) ([]domain.InvoiceDraft, error) {
	out := make([]domain.InvoiceDraft, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toDraft()
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

type draftRepo struct {
	db *sqlx.DB
}

// NewDraftRepo creates a new PostgreSQL-backed DraftRepository.
func NewDraftRepo(db *sqlx.DB) port.DraftRepository {
	return &draftRepo{db: db}
}

func (r *draftRepo) Create(ctx context.Context, draft *domain.InvoiceDraft) error {
	now := time.Now().UTC()
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("draftRepo.Create: encoding: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO invoice_drafts (
			id, document_key, status, confidence, attempts, retry_after,
			payload, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		draft.ID, draft.DocumentKey, draft.Status, draft.Confidence, draft.Attempts, draft.RetryAfter,
		json.RawMessage(payload), draft.CreatedAt, draft.UpdatedAt)
	if err != nil {
		return fmt.Errorf("draftRepo.Create: %w", err)
	}
	return nil
}

func (r *draftRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.InvoiceDraft, error) {
	var row draftRow
	err := r.db.GetContext(ctx, &row, "SELECT * FROM invoice_drafts WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("draftRepo.GetByID: %w", err)
	}
	return row.toDraft()
}

func (r *draftRepo) GetLatestByDocumentKey(ctx context.Context, documentKey string, exclude uuid.UUID) (*domain.InvoiceDraft, error) {
	var row draftRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM invoice_drafts
		 WHERE document_key = $1 AND id <> $2
		   AND status IN ('parsed', 'failed')
		   AND jsonb_array_length(payload->'line_items') > 0
		 ORDER BY created_at DESC LIMIT 1`,
		documentKey, exclude)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("draftRepo.GetLatestByDocumentKey: %w", err)
	}
	return row.toDraft()
}

func (r *draftRepo) List(ctx context.Context, offset, limit int) ([]domain.InvoiceDraft, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM invoice_drafts"); err != nil {
		return nil, 0, fmt.Errorf("draftRepo.List count: %w", err)
	}

	var rows []draftRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT * FROM invoice_drafts ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("draftRepo.List: %w", err)
	}
	drafts, err := rowsToDrafts(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("draftRepo.List: %w", err)
	}
	return drafts, total, nil
}

// Update rewrites a draft that has not been frozen. Parsed, failed and timed-out
// drafts return domain.ErrDraftFrozen.
func (r *draftRepo) Update(ctx context.Context, draft *domain.InvoiceDraft) error {
	draft.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("draftRepo.Update: encoding: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE invoice_drafts SET
			status = $1, confidence = $2, attempts = $3, retry_after = $4,
			payload = $5, updated_at = $6
		 WHERE id = $7 AND status NOT IN ('parsed', 'failed', 'timeout')`,
		draft.Status, draft.Confidence, draft.Attempts, draft.RetryAfter,
		json.RawMessage(payload), draft.UpdatedAt, draft.ID)
	if err != nil {
		return fmt.Errorf("draftRepo.Update: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM invoice_drafts WHERE id = $1)`, draft.ID); err != nil {
		return fmt.Errorf("draftRepo.Update: %w", err)
	}
	if exists {
		return domain.ErrDraftFrozen
	}
	return domain.ErrNotFound
}

func (r *draftRepo) ClaimQueued(ctx context.Context, limit int) ([]domain.InvoiceDraft, error) {
	var rows []draftRow
	err := r.db.SelectContext(ctx, &rows,
		`UPDATE invoice_drafts SET status = 'processing', updated_at = NOW()
		 WHERE id IN (
			SELECT id FROM invoice_drafts
			WHERE status = 'submitted' AND (retry_after IS NULL OR retry_after <= NOW())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING *`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("draftRepo.ClaimQueued: %w", err)
	}
	drafts, err := rowsToDrafts(rows)
	if err != nil {
		return nil, fmt.Errorf("draftRepo.ClaimQueued: %w", err)
	}
	return drafts, nil
}
