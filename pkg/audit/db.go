package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBStore persists audit events in PostgreSQL. It is append-only: the only
// statements it issues against existing rows are reads, except for the
// snapshot scrub performed by the document purge cascade.
type DBStore struct {
	db          *sql.DB
	maxPageSize int
}

// NewDBStore creates a database-backed audit store and ensures the schema
// exists. maxPageSize bounds the page size of filtered queries; a value
// below one selects DefaultMaxPageSize.
func NewDBStore(db *sql.DB, maxPageSize int) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if maxPageSize < 1 {
		maxPageSize = DefaultMaxPageSize
	}

	store := &DBStore{db: db, maxPageSize: maxPageSize}
	if err := store.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}

	return store, nil
}

// ensureSchema creates the audit_events table if it doesn't exist
func (s *DBStore) ensureSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		action VARCHAR(20) NOT NULL,
		entity_type VARCHAR(20) NOT NULL,
		entity_id VARCHAR(255) NOT NULL,
		old_value JSONB,
		new_value JSONB,
		user_id VARCHAR(64) NOT NULL,
		ip_address VARCHAR(64),
		user_agent TEXT,
		contract_id BIGINT,
		document_id BIGINT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_entity ON audit_events(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_contract ON audit_events(contract_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_document ON audit_events(document_id);
	`

	_, err := s.db.Exec(query)
	return err
}

// Insert appends one event and assigns its ID and server-side timestamp.
func (s *DBStore) Insert(ctx context.Context, event *Event) error {
	return insertEvent(ctx, s.db, event)
}

// rowQuerier covers *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertEvent(ctx context.Context, q rowQuerier, event *Event) error {
	query := `
		INSERT INTO audit_events (
			action, entity_type, entity_id,
			old_value, new_value,
			user_id, ip_address, user_agent,
			contract_id, document_id
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10
		) RETURNING id, created_at
	`

	err := q.QueryRowContext(ctx, query,
		event.Action, event.EntityType, event.EntityID,
		nullableJSON(event.OldValue), nullableJSON(event.NewValue),
		event.UserID, nullableString(event.IPAddress), nullableString(event.UserAgent),
		event.ContractID, event.DocumentID,
	).Scan(&event.ID, &event.CreatedAt)

	if err != nil {
		return fmt.Errorf("%w: insert: %w", ErrStoreUnavailable, err)
	}

	return nil
}

// TxWriter is an EventWriter bound to a caller-owned transaction, so an event
// commits or rolls back atomically with the caller's own statements. The
// document purge uses it to make the terminal event and the row deletion one
// unit of work.
type TxWriter struct {
	tx *sql.Tx
}

// NewTxWriter wraps an open transaction as an EventWriter.
func NewTxWriter(tx *sql.Tx) *TxWriter {
	return &TxWriter{tx: tx}
}

// Insert appends one event within the transaction.
func (w *TxWriter) Insert(ctx context.Context, event *Event) error {
	return insertEvent(ctx, w.tx, event)
}

// whereClause builds the conjunctive WHERE fragment for a filter. The
// returned clause always starts with "WHERE 1=1" so callers can append.
func whereClause(f Filter) (string, []interface{}) {
	clause := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if f.UserID != "" {
		clause += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, f.UserID)
		argCount++
	}

	if f.EntityType != "" {
		clause += fmt.Sprintf(" AND entity_type = $%d", argCount)
		args = append(args, string(f.EntityType))
		argCount++
	}

	if len(f.Actions) > 0 {
		clause += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		actionStrs := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actionStrs[i] = string(a)
		}
		args = append(args, pq.Array(actionStrs))
		argCount++
	}

	if f.ContractID != nil {
		clause += fmt.Sprintf(" AND contract_id = $%d", argCount)
		args = append(args, *f.ContractID)
		argCount++
	}

	if f.CreatedFrom != nil {
		clause += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *f.CreatedFrom)
		argCount++
	}

	if f.CreatedTo != nil {
		clause += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *f.CreatedTo)
	}

	return clause, args
}

const selectColumns = `
	id, action, entity_type, entity_id,
	old_value, new_value,
	user_id, ip_address, user_agent,
	contract_id, document_id, created_at
`

// FindAll returns one page of events matching the filter, newest first.
// Ties on created_at break by id descending so pagination stays stable
// under concurrent inserts.
func (s *DBStore) FindAll(ctx context.Context, filter Filter) (*Page, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	page, limit := filter.normalize(s.maxPageSize)
	clause, args := whereClause(filter)

	var total int64
	countQuery := "SELECT COUNT(*) FROM audit_events " + clause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: count: %w", ErrStoreUnavailable, err)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM audit_events %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		selectColumns, clause, len(args)+1, len(args)+2,
	)
	args = append(args, limit, (page-1)*limit)

	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))

	return &Page{
		Events:     events,
		PageNumber: page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// FindByContract returns the full trail for one contract, newest first.
func (s *DBStore) FindByContract(ctx context.Context, contractID int64) ([]*Event, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM audit_events WHERE contract_id = $1 ORDER BY created_at DESC, id DESC",
		selectColumns,
	)
	return s.queryEvents(ctx, query, contractID)
}

// Get retrieves a single event by ID.
func (s *DBStore) Get(ctx context.Context, id int64) (*Event, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_events WHERE id = $1", selectColumns)

	events, err := s.queryEvents(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return events[0], nil
}

// FindForExport returns up to cap events matching the filter plus a flag
// telling whether rows beyond the cap were cut off. It asks for cap+1 rows
// so truncation is observable without a second count query.
func (s *DBStore) FindForExport(ctx context.Context, filter Filter, cap int) ([]*Event, bool, error) {
	if err := filter.Validate(); err != nil {
		return nil, false, err
	}
	if cap < 1 {
		return nil, false, fmt.Errorf("%w: export cap must be positive", ErrValidation)
	}

	clause, args := whereClause(filter)
	query := fmt.Sprintf(
		"SELECT %s FROM audit_events %s ORDER BY created_at DESC, id DESC LIMIT $%d",
		selectColumns, clause, len(args)+1,
	)
	args = append(args, cap+1)

	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}

	truncated := len(events) > cap
	if truncated {
		events = events[:cap]
	}
	return events, truncated, nil
}

// queryEvents runs a select over audit_events and scans the rows.
func (s *DBStore) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}

		var oldValue, newValue []byte
		var ipAddress, userAgent sql.NullString

		err := rows.Scan(
			&event.ID, &event.Action, &event.EntityType, &event.EntityID,
			&oldValue, &newValue,
			&event.UserID, &ipAddress, &userAgent,
			&event.ContractID, &event.DocumentID, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStoreUnavailable, err)
		}

		if len(oldValue) > 0 {
			event.OldValue = oldValue
		}
		if len(newValue) > 0 {
			event.NewValue = newValue
		}
		event.IPAddress = ipAddress.String
		event.UserAgent = userAgent.String

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate: %w", ErrStoreUnavailable, err)
	}

	return events, nil
}

// StatsSince aggregates trail activity recorded at or after the cutoff.
// ByAction and ByEntityType are zero-filled for every enumeration member.
// TopUsers carries raw user IDs; name resolution happens in the service.
func (s *DBStore) StatsSince(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{
		ByAction:     make(map[Action]int64, len(Actions())),
		ByEntityType: make(map[EntityType]int64, len(EntityTypes())),
	}
	for _, a := range Actions() {
		stats.ByAction[a] = 0
	}
	for _, e := range EntityTypes() {
		stats.ByEntityType[e] = 0
	}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_events WHERE created_at >= $1", since,
	).Scan(&stats.TotalActions)
	if err != nil {
		return nil, fmt.Errorf("%w: total: %w", ErrStoreUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT action, COUNT(*) FROM audit_events WHERE created_at >= $1 GROUP BY action", since,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: by action: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var action Action
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("%w: scan action: %w", ErrStoreUnavailable, err)
		}
		stats.ByAction[action] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate actions: %w", ErrStoreUnavailable, err)
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT entity_type, COUNT(*) FROM audit_events WHERE created_at >= $1 GROUP BY entity_type", since,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: by entity type: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityType EntityType
		var count int64
		if err := rows.Scan(&entityType, &count); err != nil {
			return nil, fmt.Errorf("%w: scan entity type: %w", ErrStoreUnavailable, err)
		}
		stats.ByEntityType[entityType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate entity types: %w", ErrStoreUnavailable, err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT user_id, COUNT(*) AS n FROM audit_events
		 WHERE created_at >= $1
		 GROUP BY user_id ORDER BY n DESC, user_id ASC LIMIT 5`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: top users: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ua UserActivity
		if err := rows.Scan(&ua.UserID, &ua.Count); err != nil {
			return nil, fmt.Errorf("%w: scan user: %w", ErrStoreUnavailable, err)
		}
		stats.TopUsers = append(stats.TopUsers, ua)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate users: %w", ErrStoreUnavailable, err)
	}

	return stats, nil
}

// ScrubDocumentSnapshots erases the stored before/after payloads of every
// event referencing a purged document. This is the one sanctioned mutation
// of persisted events: it runs only inside the purge cascade, in the same
// transaction that removes the document row. The events themselves, and
// their who/when/what-kind fields, survive.
func ScrubDocumentSnapshots(ctx context.Context, tx *sql.Tx, documentID int64) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE audit_events SET old_value = NULL, new_value = NULL WHERE document_id = $1",
		documentID,
	)
	if err != nil {
		return fmt.Errorf("%w: scrub snapshots: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// nullableJSON maps empty JSON payloads to NULL.
func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return data
}

// nullableString maps "" to NULL.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Ping verifies store reachability; used by the health endpoint.
func (s *DBStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStoreUnavailable, err)
	}
	return nil
}
