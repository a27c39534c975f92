package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/contractdesk/audittrail/pkg/observability"
	"github.com/contractdesk/audittrail/pkg/principal"
)

// EventWriter is the append-only persistence contract the Recorder writes
// through. Insert stores exactly one row and assigns ID and CreatedAt
// server-side.
type EventWriter interface {
	Insert(ctx context.Context, event *Event) error
}

// Recorder captures one immutable event per qualifying operation.
//
// Recording is the caller's obligation after a successful mutation; the
// business layer calls Record itself (or is wrapped by an interceptor that
// does). A store failure is always surfaced so the integrating application
// can choose fail-open or fail-closed.
type Recorder struct {
	store   EventWriter
	metrics *observability.Metrics
}

// NewRecorder creates a Recorder writing through store. metrics may be nil.
func NewRecorder(store EventWriter, metrics *observability.Metrics) *Recorder {
	return &Recorder{store: store, metrics: metrics}
}

// Record validates the input, takes defensive deep copies of the snapshots
// and appends one event to the trail. It never best-effort-succeeds: any
// store failure is returned to the caller.
func (r *Recorder) Record(ctx context.Context, in Input) (*Event, error) {
	if !in.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, in.Action)
	}
	if !in.EntityType.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrValidation, in.EntityType)
	}
	if in.EntityID == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrValidation)
	}
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	event := &Event{
		Action:     in.Action,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		UserID:     in.UserID,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		ContractID: copyInt64(in.ContractID),
		DocumentID: copyInt64(in.DocumentID),
	}

	// Snapshots are only meaningful for mutations; read-class actions carry
	// none regardless of what the caller passed.
	if in.Action.mutates() {
		var err error
		if event.OldValue, err = snapshot(in.OldValue); err != nil {
			return nil, fmt.Errorf("%w: old value is not JSON-serializable: %v", ErrValidation, err)
		}
		if event.NewValue, err = snapshot(in.NewValue); err != nil {
			return nil, fmt.Errorf("%w: new value is not JSON-serializable: %v", ErrValidation, err)
		}
	}

	if err := r.store.Insert(ctx, event); err != nil {
		if r.metrics != nil {
			r.metrics.RecordFailures.Inc()
		}
		return nil, fmt.Errorf("record audit event: %w", err)
	}

	if r.metrics != nil {
		r.metrics.EventsRecorded.WithLabelValues(string(event.Action), string(event.EntityType)).Inc()
	}

	return event, nil
}

// RecordMutation appends a mutation event with before/after snapshots on
// behalf of the given principal.
func (r *Recorder) RecordMutation(ctx context.Context, p principal.Principal, action Action, entityType EntityType, entityID string, oldValue, newValue any) (*Event, error) {
	return r.Record(ctx, Input{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldValue:   oldValue,
		NewValue:   newValue,
		UserID:     p.UserID,
		IPAddress:  p.IPAddress,
		UserAgent:  p.UserAgent,
	})
}

// RecordAccess appends a sensitive-read event (READ, DOWNLOAD, EXPORT) on
// behalf of the given principal.
func (r *Recorder) RecordAccess(ctx context.Context, p principal.Principal, action Action, entityType EntityType, entityID string) (*Event, error) {
	return r.Record(ctx, Input{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     p.UserID,
		IPAddress:  p.IPAddress,
		UserAgent:  p.UserAgent,
	})
}

// mutates reports whether an action carries before/after snapshots.
func (a Action) mutates() bool {
	switch a {
	case ActionRead, ActionDownload, ActionExport:
		return false
	}
	return true
}

// snapshot deep-copies a caller-supplied value into an independent JSON
// document. Mutating the source after Record returns must not change what
// was stored, so the marshalled bytes are the copy boundary.
func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
