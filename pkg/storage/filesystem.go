package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore keeps blobs as flat files under a root directory. It is
// the development and single-node backend.
type FilesystemStore struct {
	rootDir string
}

// NewFilesystemStore creates a filesystem-backed blob store.
func NewFilesystemStore(rootDir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FilesystemStore{rootDir: rootDir}, nil
}

// path maps a handle to a file path, rejecting traversal attempts. Handles
// are server-generated UUIDs, so anything with a separator is hostile.
func (s *FilesystemStore) path(handle string) (string, error) {
	if handle == "" || strings.ContainsAny(handle, `/\`) || handle == "." || handle == ".." {
		return "", fmt.Errorf("invalid blob handle %q", handle)
	}
	return filepath.Join(s.rootDir, handle), nil
}

// Put stores content under the handle, replacing any previous content.
func (s *FilesystemStore) Put(ctx context.Context, handle string, content io.Reader) error {
	path, err := s.path(handle)
	if err != nil {
		return err
	}

	// Write to a temp file first so a crash never leaves a torn blob
	// visible under the real handle.
	tmp, err := os.CreateTemp(s.rootDir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to place blob: %w", err)
	}
	return nil
}

// Get opens the blob for reading.
func (s *FilesystemStore) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	path, err := s.path(handle)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Delete removes the blob. A missing file is a successful no-op.
func (s *FilesystemStore) Delete(ctx context.Context, handle string) error {
	path, err := s.path(handle)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
