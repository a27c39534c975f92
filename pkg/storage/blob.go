// Package storage provides the content-addressed blob store behind
// file-bearing documents: S3 (or any S3-compatible endpoint such as MinIO)
// for deployments, the local filesystem for development, and an in-memory
// store for tests.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrBlobNotFound is returned by Get for a missing handle. Delete never
// returns it: deleting an absent blob is a no-op so the purge sweep stays
// idempotent across retries.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore stores document content under opaque handles.
type BlobStore interface {
	// Put stores the content under the given handle, overwriting any
	// previous content.
	Put(ctx context.Context, handle string, content io.Reader) error

	// Get returns a reader over the content. The caller closes it.
	Get(ctx context.Context, handle string) (io.ReadCloser, error)

	// Delete removes the content. A missing handle is not an error.
	Delete(ctx context.Context, handle string) error
}

// Config selects and parameterizes the blob store backend.
type Config struct {
	Type string `yaml:"type"` // "s3" or "filesystem"

	// Filesystem config
	FilesystemRoot string `yaml:"filesystem_root"`

	// S3 config
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`

	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Type:           "filesystem",
		FilesystemRoot: "/var/lib/audittrail/blobs",
		S3Region:       "us-east-1",
		Timeout:        10 * time.Second,
	}
}

// New creates the blob store selected by cfg.Type.
func New(cfg Config) (BlobStore, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Store(cfg)
	case "filesystem", "":
		return NewFilesystemStore(cfg.FilesystemRoot)
	default:
		return nil, errors.New("unknown blob store type " + cfg.Type)
	}
}
