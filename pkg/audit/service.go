package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/contractdesk/audittrail/pkg/directory"
	"github.com/contractdesk/audittrail/pkg/observability"
)

// Store is the query side of the audit trail, implemented by DBStore.
type Store interface {
	FindAll(ctx context.Context, filter Filter) (*Page, error)
	FindByContract(ctx context.Context, contractID int64) ([]*Event, error)
	Get(ctx context.Context, id int64) (*Event, error)
	FindForExport(ctx context.Context, filter Filter, cap int) ([]*Event, bool, error)
	StatsSince(ctx context.Context, since time.Time) (*Stats, error)
}

// DefaultExportCap bounds CSV export size. Exceeding it truncates, and the
// truncation is reported, never silent.
const DefaultExportCap = 10000

// Service answers operator queries over the trail: filtered pages, contract
// views, CSV export and stats. It runs on the read path and may execute
// concurrently with recording; events are immutable once visible, so no
// cross-row consistency work is needed.
type Service struct {
	store     Store
	dir       directory.Directory
	metrics   *observability.Metrics
	exportCap int
	now       func() time.Time
}

// NewService creates an audit query service. dir and metrics may be nil;
// exportCap <= 0 selects DefaultExportCap.
func NewService(store Store, dir directory.Directory, metrics *observability.Metrics, exportCap int) *Service {
	if exportCap <= 0 {
		exportCap = DefaultExportCap
	}
	return &Service{
		store:     store,
		dir:       dir,
		metrics:   metrics,
		exportCap: exportCap,
		now:       time.Now,
	}
}

// FindAll returns one page of events matching the filter.
func (s *Service) FindAll(ctx context.Context, filter Filter) (*Page, error) {
	return s.store.FindAll(ctx, filter)
}

// FindByContract returns the complete, unpaginated trail for one contract.
func (s *Service) FindByContract(ctx context.Context, contractID int64) ([]*Event, error) {
	return s.store.FindByContract(ctx, contractID)
}

// Get returns a single event by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Event, error) {
	return s.store.Get(ctx, id)
}

// ExportResult is a materialized CSV export.
type ExportResult struct {
	Data      []byte
	Rows      int
	Truncated bool
}

// ExportCSV materializes the filtered trail as semicolon-delimited,
// BOM-prefixed CSV. At most the configured cap of rows is written; the
// Truncated flag makes the cut observable to the caller.
func (s *Service) ExportCSV(ctx context.Context, filter Filter) (*ExportResult, error) {
	events, truncated, err := s.store.FindForExport(ctx, filter, s.exportCap)
	if err != nil {
		return nil, err
	}

	data, err := writeCSV(ctx, events, s.resolver())
	if err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ExportRowsTotal.Add(float64(len(events)))
		if truncated {
			s.metrics.ExportsTruncated.Inc()
		}
	}

	return &ExportResult{
		Data:      data,
		Rows:      len(events),
		Truncated: truncated,
	}, nil
}

// GetStats aggregates activity over the trailing window of whole days.
func (s *Service) GetStats(ctx context.Context, windowDays int) (*Stats, error) {
	if windowDays < 1 {
		return nil, fmt.Errorf("%w: window must be at least one day", ErrValidation)
	}

	since := s.now().AddDate(0, 0, -windowDays)
	stats, err := s.store.StatsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	// Best-effort name resolution; the ranking stands even when a user
	// record is gone.
	for i := range stats.TopUsers {
		stats.TopUsers[i].Name = s.userName(ctx, stats.TopUsers[i].UserID)
	}

	return stats, nil
}

// placeholder shown when a referenced user record no longer exists.
const unknownUser = "unknown user"

func (s *Service) userName(ctx context.Context, userID string) string {
	if s.dir == nil {
		return unknownUser
	}
	u, err := s.dir.User(ctx, userID)
	if err != nil || u == nil {
		return unknownUser
	}
	return u.FullName
}

// resolver adapts the directory for the CSV writer, tolerating a nil
// directory (all lookups fall back to placeholders).
func (s *Service) resolver() directory.Directory {
	return s.dir
}
