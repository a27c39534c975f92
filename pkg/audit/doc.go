// Package audit implements the append-only audit trail: recording,
// filtered query, CSV export and stats.
//
// # Recording
//
// Every state-changing and sensitive-read operation appends exactly one
// Event through the Recorder:
//
//	recorder := audit.NewRecorder(store, metrics)
//	recorder.RecordMutation(ctx, principal, audit.ActionUpdate,
//		audit.EntityContract, "42", before, after)
//
// Snapshots are deep-copied at capture time; mutating the source afterwards
// never changes what was stored. Store failures are surfaced, never
// swallowed — whether the parent business operation fails with them is the
// integrator's policy.
//
// # Querying
//
// The Service answers filtered, paginated queries ordered by
// (created_at DESC, id DESC), renders semicolon-delimited CSV exports capped
// at a configurable row limit, and aggregates per-window stats.
//
// # Immutability
//
// Events are never updated or deleted. The single exception is
// ScrubDocumentSnapshots, invoked by the document purge cascade to erase
// before/after payloads of a permanently deleted document.
package audit
