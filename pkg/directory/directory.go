// Package directory resolves user and contract display data for the audit
// trail's export and stats views.
//
// Lookups are best-effort: the trail outlives the entities it references, so
// a missing row resolves to a placeholder instead of an error. Results are
// cached in a small LRU because exports hammer the same handful of users and
// contracts thousands of times per run.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// User is the display subset of a user record.
type User struct {
	ID       string
	FullName string
	Email    string
}

// Contract is the display subset of a contract record.
type Contract struct {
	ID     int64
	Number string
	Title  string
}

// Directory resolves display data by ID. Implementations return
// (nil, nil) when the record no longer exists.
type Directory interface {
	User(ctx context.Context, id string) (*User, error)
	Contract(ctx context.Context, id int64) (*Contract, error)
}

// DBDirectory reads users and contracts from the application database.
type DBDirectory struct {
	db        *sql.DB
	users     *lru.Cache[string, *User]
	contracts *lru.Cache[int64, *Contract]
}

const cacheSize = 1024

// NewDBDirectory creates a database-backed directory with LRU caching.
func NewDBDirectory(db *sql.DB) (*DBDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	users, err := lru.New[string, *User](cacheSize)
	if err != nil {
		return nil, err
	}
	contracts, err := lru.New[int64, *Contract](cacheSize)
	if err != nil {
		return nil, err
	}

	return &DBDirectory{db: db, users: users, contracts: contracts}, nil
}

// User resolves a user's display data, or (nil, nil) if the user is gone.
// Negative results are not cached: a deleted user can reappear after a
// restore from backup, and correctness matters more than one extra query.
func (d *DBDirectory) User(ctx context.Context, id string) (*User, error) {
	if u, ok := d.users.Get(id); ok {
		return u, nil
	}

	u := &User{ID: id}
	err := d.db.QueryRowContext(ctx,
		"SELECT full_name, email FROM users WHERE id = $1", id,
	).Scan(&u.FullName, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", id, err)
	}

	d.users.Add(id, u)
	return u, nil
}

// Contract resolves a contract's display data, or (nil, nil) if it is gone.
func (d *DBDirectory) Contract(ctx context.Context, id int64) (*Contract, error) {
	if c, ok := d.contracts.Get(id); ok {
		return c, nil
	}

	c := &Contract{ID: id}
	err := d.db.QueryRowContext(ctx,
		"SELECT number, title FROM contracts WHERE id = $1", id,
	).Scan(&c.Number, &c.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup contract %d: %w", id, err)
	}

	d.contracts.Add(id, c)
	return c, nil
}
