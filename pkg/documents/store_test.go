package documents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractdesk/audittrail/pkg/audit"
)

func newTestStore(t *testing.T) (*DBStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewDBStore(db)
	require.NoError(t, err)

	return store, mock
}

func documentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "contract_id", "name", "content_type", "size", "blob_handle",
		"state", "uploaded_by", "created_at", "deleted_at", "deleted_by",
	})
}

func activeRow(id int64) *sqlmock.Rows {
	return documentRows().AddRow(
		id, int64(1), "contract.pdf", "application/pdf", int64(2048), "handle-1",
		"ACTIVE", "u-1", time.Now().UTC(), nil, nil,
	)
}

func deletedRow(id int64, deletedAt time.Time) *sqlmock.Rows {
	return documentRows().AddRow(
		id, int64(1), "contract.pdf", "application/pdf", int64(2048), "handle-1",
		"SOFT_DELETED", "u-1", time.Now().UTC(), deletedAt, "u-2",
	)
}

func TestDocumentStoreInsert(t *testing.T) {
	store, mock := newTestStore(t)

	created := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO documents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(5), created))

	doc := &Document{
		ContractID:  1,
		Name:        "contract.pdf",
		ContentType: "application/pdf",
		Size:        2048,
		BlobHandle:  "handle-1",
		UploadedBy:  "u-1",
	}

	require.NoError(t, store.Insert(context.Background(), doc))
	assert.Equal(t, int64(5), doc.ID)
	assert.Equal(t, StateActive, doc.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreGetNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id").
		WithArgs(int64(99)).
		WillReturnRows(documentRows())

	_, err := store.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreSoftDelete(t *testing.T) {
	store, mock := newTestStore(t)
	deletedAt := time.Now().UTC()

	mock.ExpectExec("UPDATE documents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id").
		WillReturnRows(deletedRow(5, deletedAt))

	doc, err := store.SoftDelete(context.Background(), 5, "u-2", deletedAt)
	require.NoError(t, err)
	assert.Equal(t, StateSoftDeleted, doc.State)
	require.NotNil(t, doc.DeletedBy)
	assert.Equal(t, "u-2", *doc.DeletedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreSoftDeleteAlreadyDeleted(t *testing.T) {
	store, mock := newTestStore(t)

	// Zero rows updated, the follow-up Get finds a soft-deleted row: the
	// document already reads as gone to the delete caller.
	mock.ExpectExec("UPDATE documents").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id").
		WillReturnRows(deletedRow(5, time.Now().UTC()))

	_, err := store.SoftDelete(context.Background(), 5, "u-2", time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreSoftDeleteMissing(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE documents").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id").
		WillReturnRows(documentRows())

	_, err := store.SoftDelete(context.Background(), 99, "u-2", time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreRestore(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE documents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id").
		WillReturnRows(activeRow(5))

	doc, err := store.Restore(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, StateActive, doc.State)
	assert.Nil(t, doc.DeletedAt)
	assert.Nil(t, doc.DeletedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreRestoreActiveDocument(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE documents").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id").
		WillReturnRows(activeRow(5))

	_, err := store.Restore(context.Background(), 5)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreListDeleted(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE state").
		WillReturnRows(deletedRow(5, time.Now().UTC()))

	docs, err := store.ListDeleted(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, StateSoftDeleted, docs[0].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreFindDue(t *testing.T) {
	store, mock := newTestStore(t)
	cutoff := time.Now().Add(-90 * 24 * time.Hour)

	mock.ExpectQuery("SELECT id FROM documents").
		WithArgs(string(StateSoftDeleted), cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(8)))

	ids, err := store.FindDue(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 8}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// recordNothing satisfies the Purge record callback where the test has no
// interest in the terminal event.
func recordNothing(ctx context.Context, events audit.EventWriter, doc *Document) error {
	return nil
}

func TestDocumentStorePurge(t *testing.T) {
	store, mock := newTestStore(t)
	deletedAt := time.Now().Add(-91 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = (.+) FOR UPDATE").
		WillReturnRows(deletedRow(5, deletedAt))
	mock.ExpectExec("DELETE FROM documents").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE audit_events SET old_value = NULL, new_value = NULL").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("INSERT INTO audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(9), time.Now().UTC()))
	mock.ExpectCommit()

	var deletedHandle string
	doc, err := store.Purge(context.Background(), 5,
		func(handle string) error {
			deletedHandle = handle
			return nil
		},
		func(ctx context.Context, events audit.EventWriter, doc *Document) error {
			// The terminal event rides the purge transaction.
			return events.Insert(ctx, &audit.Event{
				Action:     audit.ActionDelete,
				EntityType: audit.EntityDocument,
				EntityID:   "5",
				UserID:     "system",
			})
		})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "handle-1", deletedHandle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStorePurgeNoOpWhenNotSoftDeleted(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = (.+) FOR UPDATE").
		WillReturnRows(documentRows())
	mock.ExpectRollback()

	doc, err := store.Purge(context.Background(), 5, func(handle string) error {
		t.Fatal("blob deletion must not run for an absent row")
		return nil
	}, recordNothing)
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStorePurgeBlobFailureRollsBack(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = (.+) FOR UPDATE").
		WillReturnRows(deletedRow(5, time.Now().Add(-91*24*time.Hour)))
	mock.ExpectRollback()

	_, err := store.Purge(context.Background(), 5, func(handle string) error {
		return errors.New("blob store outage")
	}, recordNothing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob store outage")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStorePurgeEventFailureRollsBack(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = (.+) FOR UPDATE").
		WillReturnRows(deletedRow(5, time.Now().Add(-91*24*time.Hour)))
	mock.ExpectExec("DELETE FROM documents").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE audit_events SET old_value = NULL, new_value = NULL").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectRollback()

	// When the terminal event cannot be written the whole purge rolls back;
	// the row survives for the next sweep.
	_, err := store.Purge(context.Background(), 5,
		func(handle string) error { return nil },
		func(ctx context.Context, events audit.EventWriter, doc *Document) error {
			return errors.New("trail insert failed")
		})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trail insert failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreCountSoftDeleted(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM documents WHERE state`).
		WithArgs(string(StateSoftDeleted)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := store.CountSoftDeleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
