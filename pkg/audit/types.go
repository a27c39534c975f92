package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action identifies what was done to an entity.
type Action string

const (
	ActionCreate   Action = "CREATE"
	ActionRead     Action = "READ"
	ActionUpdate   Action = "UPDATE"
	ActionDelete   Action = "DELETE"
	ActionRestore  Action = "RESTORE"
	ActionDownload Action = "DOWNLOAD"
	ActionExport   Action = "EXPORT"
)

// Actions lists every member of the Action enumeration in stable order.
// Stats reporting zero-fills from this list.
func Actions() []Action {
	return []Action{
		ActionCreate,
		ActionRead,
		ActionUpdate,
		ActionDelete,
		ActionRestore,
		ActionDownload,
		ActionExport,
	}
}

// Valid reports whether a is a member of the Action enumeration.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete,
		ActionRestore, ActionDownload, ActionExport:
		return true
	}
	return false
}

// ParseAction validates a raw string against the Action enumeration.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
	}
	return a, nil
}

// EntityType identifies the kind of canonical entity an event refers to.
type EntityType string

const (
	EntityContract EntityType = "CONTRACT"
	EntityDocument EntityType = "DOCUMENT"
	EntityPartner  EntityType = "PARTNER"
	EntityUser     EntityType = "USER"
	EntityReminder EntityType = "REMINDER"
)

// EntityTypes lists every member of the EntityType enumeration in stable order.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityContract,
		EntityDocument,
		EntityPartner,
		EntityUser,
		EntityReminder,
	}
}

// Valid reports whether e is a member of the EntityType enumeration.
func (e EntityType) Valid() bool {
	switch e {
	case EntityContract, EntityDocument, EntityPartner, EntityUser, EntityReminder:
		return true
	}
	return false
}

// ParseEntityType validates a raw string against the EntityType enumeration.
func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(s)
	if !e.Valid() {
		return "", fmt.Errorf("%w: unknown entity type %q", ErrValidation, s)
	}
	return e, nil
}

// Event is a single immutable audit trail entry. Once persisted it is never
// mutated or deleted by any code path other than the document purge cascade.
type Event struct {
	ID         int64           `json:"id"`
	Action     Action          `json:"action"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`

	// Actor and request provenance.
	UserID    string `json:"user_id"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Optional foreign associations used for scoped retrieval. The referenced
	// rows are not required to still exist.
	ContractID *int64 `json:"contract_id,omitempty"`
	DocumentID *int64 `json:"document_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Input is the caller-supplied material for one audit event. OldValue and
// NewValue accept any JSON-serializable representation; the Recorder takes a
// defensive deep copy before storage so no shared mutable state survives.
type Input struct {
	Action     Action
	EntityType EntityType
	EntityID   string
	OldValue   any
	NewValue   any
	UserID     string
	IPAddress  string
	UserAgent  string
	ContractID *int64
	DocumentID *int64
}

// Filter narrows event retrieval. All fields are optional and combine
// conjunctively.
type Filter struct {
	UserID     string
	EntityType EntityType
	Actions    []Action
	ContractID *int64

	// Inclusive creation time bounds.
	CreatedFrom *time.Time
	CreatedTo   *time.Time

	// 1-indexed pagination; Limit is clamped to the store's page size bound.
	Page  int
	Limit int
}

// Validate rejects malformed filters before they reach the store.
func (f Filter) Validate() error {
	if f.EntityType != "" && !f.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, f.EntityType)
	}
	for _, a := range f.Actions {
		if !a.Valid() {
			return fmt.Errorf("%w: unknown action %q", ErrValidation, a)
		}
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedTo.Before(*f.CreatedFrom) {
		return fmt.Errorf("%w: date range ends before it starts", ErrValidation)
	}
	if f.Page < 0 {
		return fmt.Errorf("%w: page must be positive", ErrValidation)
	}
	if f.Limit < 0 {
		return fmt.Errorf("%w: limit must be positive", ErrValidation)
	}
	return nil
}

// Pagination defaults and bounds.
const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
)

// normalize returns the effective page and limit after clamping against the
// given upper bound. A bound below one selects DefaultMaxPageSize.
func (f Filter) normalize(maxLimit int) (page, limit int) {
	if maxLimit < 1 {
		maxLimit = DefaultMaxPageSize
	}
	page = f.Page
	if page < 1 {
		page = 1
	}
	limit = f.Limit
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

// Page is one page of audit events plus pagination bookkeeping. Ordering is
// (created_at DESC, id DESC) so concurrent inserts never shift rows between
// already-fetched pages.
type Page struct {
	Events     []*Event `json:"events"`
	PageNumber int      `json:"page"`
	Limit      int      `json:"limit"`
	Total      int64    `json:"total"`
	TotalPages int      `json:"total_pages"`
}

// Stats summarizes trail activity over a trailing window.
type Stats struct {
	TotalActions int64                `json:"total_actions"`
	ByAction     map[Action]int64     `json:"by_action"`
	ByEntityType map[EntityType]int64 `json:"by_entity_type"`
	TopUsers     []UserActivity       `json:"top_users"`
}

// UserActivity is one row of the top-users ranking.
type UserActivity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Count  int64  `json:"count"`
}
