// Package blob stores immutable snapshot records under opaque keys. It is
// a thin S3-like abstraction with pluggable backends: local filesystem for
// development, S3/MinIO for production, memory for tests. Records are
// content-addressed by their callers, so a Put of an existing key with
// identical content is a no-op and keys are never overwritten with
// different bytes.
package blob

import (
	"context"
	"errors"
	"time"
)

// Driver identifies a concrete storage backend implementation.
type Driver string

const (
	// DriverFilesystem is the local filesystem backend (default, dev).
	DriverFilesystem Driver = "fs"
	// DriverS3 is the S3 / MinIO compatible backend.
	DriverS3 Driver = "s3"
	// DriverMemory is the in-memory backend used in tests.
	DriverMemory Driver = "memory"
)

// ErrNotFound is returned by Get when no record exists at the key.
var ErrNotFound = errors.New("blob not found")

// ErrImmutable is returned by Put when the key already holds different
// content. Snapshot records are immutable once written.
var ErrImmutable = errors.New("blob exists with different content")

// Info describes a stored record.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the backend interface. Implementations must be safe for
// concurrent use: recalculation workers write disjoint key sets while the
// query side reads.
type Store interface {
	// Put writes data at key. Re-putting identical content succeeds without
	// a second write; differing content yields ErrImmutable.
	Put(ctx context.Context, key string, data []byte) (Info, error)
	// Get returns the record content, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether a record is present at key.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns records whose key has the prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	// Delete removes a record, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	Driver() Driver
}
