package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/contractdesk/audittrail/pkg/audit"
)

// DBStore persists document metadata in PostgreSQL. Lifecycle transitions
// are guarded by state predicates so concurrent delete/restore/purge
// serialize on the row.
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a database-backed document store and ensures the
// schema exists.
func NewDBStore(db *sql.DB) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &DBStore{db: db}
	if err := store.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure documents table: %w", err)
	}

	return store, nil
}

// ensureSchema creates the documents table if it doesn't exist
func (s *DBStore) ensureSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		id BIGSERIAL PRIMARY KEY,
		contract_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		content_type VARCHAR(100) NOT NULL,
		size BIGINT NOT NULL,
		blob_handle VARCHAR(64) NOT NULL,
		state VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
		uploaded_by VARCHAR(64) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMP WITH TIME ZONE,
		deleted_by VARCHAR(64)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_contract ON documents(contract_id);
	CREATE INDEX IF NOT EXISTS idx_documents_state_deleted ON documents(state, deleted_at);
	`

	_, err := s.db.Exec(query)
	return err
}

const documentColumns = `
	id, contract_id, name, content_type, size, blob_handle,
	state, uploaded_by, created_at, deleted_at, deleted_by
`

// Insert stores a new active document and assigns its ID and timestamp.
func (s *DBStore) Insert(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO documents (
			contract_id, name, content_type, size, blob_handle, state, uploaded_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		doc.ContractID, doc.Name, doc.ContentType, doc.Size,
		doc.BlobHandle, StateActive, doc.UploadedBy,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert: %w", ErrStoreUnavailable, err)
	}

	doc.State = StateActive
	return nil
}

// Get retrieves a document by ID regardless of state.
func (s *DBStore) Get(ctx context.Context, id int64) (*Document, error) {
	query := fmt.Sprintf("SELECT %s FROM documents WHERE id = $1", documentColumns)

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %w", ErrStoreUnavailable, err)
	}
	return doc, nil
}

// SoftDelete transitions ACTIVE -> SOFT_DELETED, stamping who deleted it
// and when. The state predicate makes concurrent deletes lose cleanly. A
// document that is already soft-deleted reads as gone to the delete caller,
// so a repeated delete reports NotFound rather than a state conflict.
func (s *DBStore) SoftDelete(ctx context.Context, id int64, deletedBy string, deletedAt time.Time) (*Document, error) {
	query := `
		UPDATE documents
		SET state = $2, deleted_at = $3, deleted_by = $4
		WHERE id = $1 AND state = $5
	`

	result, err := s.db.ExecContext(ctx, query, id, StateSoftDeleted, deletedAt, deletedBy, StateActive)
	if err != nil {
		return nil, fmt.Errorf("%w: soft delete: %w", ErrStoreUnavailable, err)
	}

	if err := s.requireTransition(ctx, result, id, ErrNotFound); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Restore transitions SOFT_DELETED -> ACTIVE, clearing the deletion stamps.
// The document stays associated with its owning contract throughout.
func (s *DBStore) Restore(ctx context.Context, id int64) (*Document, error) {
	query := `
		UPDATE documents
		SET state = $2, deleted_at = NULL, deleted_by = NULL
		WHERE id = $1 AND state = $3
	`

	result, err := s.db.ExecContext(ctx, query, id, StateActive, StateSoftDeleted)
	if err != nil {
		return nil, fmt.Errorf("%w: restore: %w", ErrStoreUnavailable, err)
	}

	if err := s.requireTransition(ctx, result, id, ErrInvalidState); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// requireTransition classifies a zero-row state transition: the document is
// either gone (purged or never existed) or in the wrong state, reported with
// the given sentinel.
func (s *DBStore) requireTransition(ctx context.Context, result sql.Result, id int64, wrongState error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrStoreUnavailable, err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err // ErrNotFound or store failure
	}
	return fmt.Errorf("%w: id %d", wrongState, id)
}

// ListDeleted returns all soft-deleted documents, most recently deleted
// first, ties broken by id for a stable order.
func (s *DBStore) ListDeleted(ctx context.Context) ([]*Document, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM documents WHERE state = $1 ORDER BY deleted_at DESC, id DESC",
		documentColumns,
	)

	rows, err := s.db.QueryContext(ctx, query, StateSoftDeleted)
	if err != nil {
		return nil, fmt.Errorf("%w: list deleted: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	docs := make([]*Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStoreUnavailable, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate: %w", ErrStoreUnavailable, err)
	}

	return docs, nil
}

// FindDue returns the IDs of soft-deleted documents whose deletion happened
// at or before the cutoff, i.e. whose purge deadline has passed. Oldest
// first, so retries make progress on the same items.
func (s *DBStore) FindDue(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := `
		SELECT id FROM documents
		WHERE state = $1 AND deleted_at <= $2
		ORDER BY deleted_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, StateSoftDeleted, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: find due: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStoreUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate: %w", ErrStoreUnavailable, err)
	}

	return ids, nil
}

// CountSoftDeleted reports how many documents await purge; feeds the gauge.
func (s *DBStore) CountSoftDeleted(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE state = $1", StateSoftDeleted,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Purge permanently removes one soft-deleted document: it locks the row,
// deletes the blob while holding the lock, then deletes the row, scrubs the
// audit snapshots and runs record against the same transaction. record
// appends the terminal trail event; because it shares the transaction, a
// purge whose event cannot be written rolls back entirely and is retried.
//
// Ordering makes each step retry-safe: if the blob deletion fails the
// transaction rolls back and the row stays SOFT_DELETED for the next sweep;
// if the transaction fails after the blob is gone, the next sweep finds the
// row again and the blob store treats the missing blob as already deleted.
// A concurrent restore either commits before the row lock is taken (the
// SELECT finds no soft-deleted row and the purge is a no-op) or blocks
// until the purge commits and then fails its state predicate. The record
// step runs after the scrub so the terminal event's own snapshot survives.
//
// Returns the purged document, or nil if the document was not soft-deleted
// (already purged or restored) — a successful no-op, not an error.
func (s *DBStore) Purge(ctx context.Context, id int64, deleteBlob func(handle string) error, record func(ctx context.Context, events audit.EventWriter, doc *Document) error) (*Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(
		"SELECT %s FROM documents WHERE id = $1 AND state = $2 FOR UPDATE",
		documentColumns,
	)
	doc, err := scanDocument(tx.QueryRowContext(ctx, query, id, StateSoftDeleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock: %w", ErrStoreUnavailable, err)
	}

	if err := deleteBlob(doc.BlobHandle); err != nil {
		return nil, fmt.Errorf("delete blob %s: %w", doc.BlobHandle, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = $1", id); err != nil {
		return nil, fmt.Errorf("%w: delete row: %w", ErrStoreUnavailable, err)
	}

	if err := audit.ScrubDocumentSnapshots(ctx, tx, id); err != nil {
		return nil, err
	}

	if err := record(ctx, audit.NewTxWriter(tx), doc); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrStoreUnavailable, err)
	}

	return doc, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*Document, error) {
	doc := &Document{}
	err := row.Scan(
		&doc.ID, &doc.ContractID, &doc.Name, &doc.ContentType, &doc.Size,
		&doc.BlobHandle, &doc.State, &doc.UploadedBy, &doc.CreatedAt,
		&doc.DeletedAt, &doc.DeletedBy,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
