package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"ledgerline/internal/domain"
)

const (
	draftsBucket = "drafts"
	latestBucket = "latest_by_document"
)

// PriorStore keeps extracted drafts in a local bbolt file and remembers the latest
// draft per document key, so a re-run of the same document can align against it.
type PriorStore struct {
	db *bbolt.DB
}

// NewPriorStore opens (or creates) the store at path.
func NewPriorStore(path string) (*PriorStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{draftsBucket, latestBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &PriorStore{db: db}, nil
}

// Save stores a draft and makes it the latest for its document key. Drafts without a
// document key are rejected.
func (s *PriorStore) Save(draft *domain.InvoiceDraft) error {
	if draft.DocumentKey == "" {
		return fmt.Errorf("%w: draft has no document key", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshaling draft: %w", err)
	}
	id := []byte(draft.ID.String())
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(draftsBucket)).Put(id, data); err != nil {
			return err
		}
		return tx.Bucket([]byte(latestBucket)).Put([]byte(draft.DocumentKey), id)
	})
}

// Get returns a stored draft by ID.
func (s *PriorStore) Get(id string) (*domain.InvoiceDraft, error) {
	var draft *domain.InvoiceDraft
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(draftsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("draft %s: %w", id, domain.ErrNotFound)
		}
		return json.Unmarshal(data, &draft)
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// Latest returns the most recently saved draft for a document key.
func (s *PriorStore) Latest(documentKey string) (*domain.InvoiceDraft, error) {
	var id []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(latestBucket)).Get([]byte(documentKey)); v != nil {
			id = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, fmt.Errorf("document %s: %w", documentKey, domain.ErrNotFound)
	}
	return s.Get(string(id))
}

// Close closes the underlying database file.
func (s *PriorStore) Close() error {
	return s.db.Close()
}
