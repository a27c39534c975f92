// Package documents implements the two-phase deletion lifecycle for
// file-bearing documents.
//
// A document is a metadata row plus a blob held under an opaque handle.
// Deleting one is reversible at first: the DELETE endpoint only marks the
// row SOFT_DELETED and stamps who deleted it and when. The content stays
// intact and the document can be restored until the retention window
// elapses. After that a background sweep (or an explicit permanent delete)
// purges it: the blob is removed, the row is deleted and the audit trail
// snapshots of the document are scrubbed, all atomically with the row
// deletion. Purge is terminal — nothing distinguishes a purged document
// from one that never existed.
//
// The purge deadline is never stored; it is derived from deleted_at and
// the configured window on every read, so changing the window applies to
// documents already in the trash.
package documents
