package documents

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/contractdesk/audittrail/pkg/audit"
	"github.com/contractdesk/audittrail/pkg/observability"
	"github.com/contractdesk/audittrail/pkg/principal"
	"github.com/contractdesk/audittrail/pkg/storage"
)

// Store is the metadata persistence contract, implemented by DBStore.
type Store interface {
	Insert(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id int64) (*Document, error)
	SoftDelete(ctx context.Context, id int64, deletedBy string, deletedAt time.Time) (*Document, error)
	Restore(ctx context.Context, id int64) (*Document, error)
	ListDeleted(ctx context.Context) ([]*Document, error)
	FindDue(ctx context.Context, cutoff time.Time) ([]int64, error)
	CountSoftDeleted(ctx context.Context) (int64, error)
	Purge(ctx context.Context, id int64, deleteBlob func(handle string) error, record func(ctx context.Context, events audit.EventWriter, doc *Document) error) (*Document, error)
}

// DefaultRetentionDays is how long a soft-deleted document survives before
// the sweep may purge it.
const DefaultRetentionDays = 90

// SweepPrincipal is the actor recorded for purges performed by the
// background sweep rather than an operator.
var SweepPrincipal = principal.Principal{UserID: "system", Role: "system"}

// Service implements the document lifecycle: upload, download, soft delete,
// restore, and timed or manual permanent purge. Every transition lands in
// the audit trail.
type Service struct {
	store    Store
	blobs    storage.BlobStore
	recorder *audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	window   time.Duration
	now      func() time.Time
}

// NewService creates a document lifecycle service. retentionDays <= 0
// selects DefaultRetentionDays. metrics may be nil.
func NewService(store Store, blobs storage.BlobStore, recorder *audit.Recorder, logger *observability.Logger, metrics *observability.Metrics, retentionDays int) *Service {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Service{
		store:    store,
		blobs:    blobs,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
		window:   time.Duration(retentionDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

// RetentionWindow reports the configured retention window.
func (s *Service) RetentionWindow() time.Duration {
	return s.window
}

// CreateInput is the material for a document upload.
type CreateInput struct {
	ContractID  int64
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Create stores the content under a fresh handle, inserts the metadata row
// and records a CREATE event.
func (s *Service) Create(ctx context.Context, p principal.Principal, in CreateInput) (*Document, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: document name is required", audit.ErrValidation)
	}
	if in.ContractID <= 0 {
		return nil, fmt.Errorf("%w: contract id is required", audit.ErrValidation)
	}

	handle := uuid.NewString()
	if err := s.blobs.Put(ctx, handle, in.Content); err != nil {
		return nil, fmt.Errorf("%w: store blob: %w", ErrStoreUnavailable, err)
	}

	doc := &Document{
		ContractID:  in.ContractID,
		Name:        in.Name,
		ContentType: in.ContentType,
		Size:        in.Size,
		BlobHandle:  handle,
		UploadedBy:  p.UserID,
	}

	if err := s.store.Insert(ctx, doc); err != nil {
		// The metadata row never existed; remove the orphaned blob so the
		// store does not accumulate unreachable content.
		if cleanupErr := s.blobs.Delete(ctx, handle); cleanupErr != nil {
			s.logger.WithError(cleanupErr).Warnf("orphaned blob %s left behind", handle)
		}
		return nil, err
	}

	if _, err := s.recorder.Record(ctx, s.eventInput(p, audit.ActionCreate, doc, nil, doc)); err != nil {
		return nil, err
	}

	return doc, nil
}

// Download streams an active document's content and records a DOWNLOAD
// event. Soft-deleted documents are not downloadable.
func (s *Service) Download(ctx context.Context, p principal.Principal, id int64) (io.ReadCloser, *Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if doc.State != StateActive {
		return nil, nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	content, err := s.blobs.Get(ctx, doc.BlobHandle)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: fetch blob: %w", ErrStoreUnavailable, err)
	}

	if _, err := s.recorder.Record(ctx, s.eventInput(p, audit.ActionDownload, doc, nil, nil)); err != nil {
		content.Close()
		return nil, nil, err
	}

	return content, doc, nil
}

// SoftDelete marks a document deleted without touching its content. The
// blob and the row both survive until the retention window elapses.
func (s *Service) SoftDelete(ctx context.Context, p principal.Principal, id int64) (*Document, error) {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	doc, err := s.store.SoftDelete(ctx, id, p.UserID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if _, err := s.recorder.Record(ctx, s.eventInput(p, audit.ActionDelete, doc, before, doc)); err != nil {
		return nil, err
	}

	return doc, nil
}

// Restore brings a soft-deleted document back to active, clearing the
// deletion stamps. The trail marks it RESTORE, distinguishable from the
// original creation.
func (s *Service) Restore(ctx context.Context, p principal.Principal, id int64) (*Document, error) {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	doc, err := s.store.Restore(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.recorder.Record(ctx, s.eventInput(p, audit.ActionRestore, doc, before, doc)); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.DocumentsRestored.Inc()
	}

	return doc, nil
}

// ListDeleted returns the trash view: soft-deleted documents with the days
// remaining until purge, computed fresh against the current window.
func (s *Service) ListDeleted(ctx context.Context) ([]*TrashedDocument, error) {
	docs, err := s.store.ListDeleted(ctx)
	if err != nil {
		return nil, err
	}

	trashed := make([]*TrashedDocument, 0, len(docs))
	for _, doc := range docs {
		trashed = append(trashed, &TrashedDocument{
			Document:      *doc,
			DaysRemaining: s.daysRemaining(doc),
		})
	}

	if s.metrics != nil {
		s.metrics.SoftDeletedPending.Set(float64(len(trashed)))
	}

	return trashed, nil
}

// daysRemaining derives the countdown from deleted_at and the window. The
// deadline is never stored, so a window change is reflected immediately.
func (s *Service) daysRemaining(doc *Document) int {
	if doc.DeletedAt == nil {
		return 0
	}
	remaining := doc.DeletedAt.Add(s.window).Sub(s.now())
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// PermanentDelete purges one soft-deleted document on demand, bypassing the
// timer. An active document must be soft-deleted first.
func (s *Service) PermanentDelete(ctx context.Context, p principal.Principal, id int64) error {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.State != StateSoftDeleted {
		return fmt.Errorf("%w: id %d must be soft-deleted before permanent deletion", ErrInvalidState, id)
	}

	purged, err := s.purgeOne(ctx, p, id)
	if err != nil {
		return err
	}
	if !purged {
		// Lost a race with the sweep or a restore since the Get above.
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// PurgeDue sweeps all soft-deleted documents whose purge deadline has
// passed and permanently removes them. Re-running against already-purged
// items is a no-op. One failing item is logged, counted as a failure and
// skipped; it stays soft-deleted and is retried on the next sweep. The
// sweep stops cleanly between items when ctx is cancelled.
func (s *Service) PurgeDue(ctx context.Context) (int, error) {
	start := s.now()
	cutoff := start.Add(-s.window)

	ids, err := s.store.FindDue(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return purged, fmt.Errorf("sweep interrupted: %w", err)
		}

		ok, err := s.purgeOne(ctx, SweepPrincipal, id)
		if err != nil {
			s.logger.WithError(err).Errorf("purge of document %d failed, will retry next sweep", id)
			if s.metrics != nil {
				s.metrics.PurgeFailures.Inc()
			}
			continue
		}
		if ok {
			purged++
		}
	}

	if s.metrics != nil {
		if pending, err := s.store.CountSoftDeleted(ctx); err == nil {
			s.metrics.SoftDeletedPending.Set(float64(pending))
		}
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}

	return purged, nil
}

// purgeOne removes one document's blob and row. The terminal DELETE event is
// appended within the purge transaction itself, so a purge is never silent:
// if the event cannot be written the whole purge rolls back and the document
// stays soft-deleted for a retry. Returns false when the document was not
// soft-deleted anymore (already purged or restored) — a successful no-op.
func (s *Service) purgeOne(ctx context.Context, p principal.Principal, id int64) (bool, error) {
	doc, err := s.store.Purge(ctx, id,
		func(handle string) error {
			return s.blobs.Delete(ctx, handle)
		},
		func(ctx context.Context, events audit.EventWriter, doc *Document) error {
			rec := audit.NewRecorder(events, s.metrics)
			in := s.eventInput(p, audit.ActionDelete, doc, doc, map[string]bool{"permanent": true})
			_, err := rec.Record(ctx, in)
			return err
		},
	)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}

	if s.metrics != nil {
		s.metrics.DocumentsPurged.Inc()
	}

	return true, nil
}

// eventInput assembles the audit input shared by every document operation.
func (s *Service) eventInput(p principal.Principal, action audit.Action, doc *Document, oldValue, newValue any) audit.Input {
	docID := doc.ID
	contractID := doc.ContractID
	return audit.Input{
		Action:     action,
		EntityType: audit.EntityDocument,
		EntityID:   strconv.FormatInt(doc.ID, 10),
		OldValue:   oldValue,
		NewValue:   newValue,
		UserID:     p.UserID,
		IPAddress:  p.IPAddress,
		UserAgent:  p.UserAgent,
		ContractID: &contractID,
		DocumentID: &docID,
	}
}
