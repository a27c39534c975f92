package documents

import (
	"errors"
	"time"
)

// State is the lifecycle state of a document. PURGED is terminal and has no
// row: a purged document simply no longer exists in the store.
type State string

const (
	StateActive      State = "ACTIVE"
	StateSoftDeleted State = "SOFT_DELETED"
)

// Document is a file-bearing entity subject to two-phase deletion. The
// metadata row and the blob exist together and are removed together.
type Document struct {
	ID          int64  `json:"id"`
	ContractID  int64  `json:"contract_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`

	// BlobHandle is the opaque key of the content in the blob store. It is
	// server-generated and never derived from user input.
	BlobHandle string `json:"-"`

	State      State     `json:"state"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`

	// Set while SOFT_DELETED, cleared on restore.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *string    `json:"deleted_by,omitempty"`
}

// TrashedDocument is a soft-deleted document as shown in the trash view.
// DaysRemaining is derived from DeletedAt and the retention window at read
// time; the purge deadline is never stored.
type TrashedDocument struct {
	Document
	DaysRemaining int `json:"days_remaining"`
}

// Sentinel errors for the document lifecycle.
var (
	// ErrNotFound covers documents that do not exist — including ones that
	// once existed and have been purged; purge leaves nothing behind to
	// distinguish.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidState marks a lifecycle transition requested from a state
	// that does not permit it, such as restoring an active document.
	ErrInvalidState = errors.New("document is not in the required state")

	// ErrStoreUnavailable marks a failure of the metadata store or the blob
	// store.
	ErrStoreUnavailable = errors.New("document store unavailable")
)
