package model

import (
	"context"
	"errors"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the portfolio from concrete storage backends
// (SQLite, Redis, in-memory). Each backend satisfies BlobStore.

// ErrNotFound is returned by BlobStore.Get when the key has never been written.
var ErrNotFound = errors.New("blob not found")

// BlobStore is a durable key-value store of opaque byte blobs.
type BlobStore interface {
	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put overwrites the blob stored under key.
	Put(ctx context.Context, key string, data []byte) error

	// Close releases underlying resources.
	Close() error
}

// StateStore loads and saves the whole portfolio State.
type StateStore interface {
	// Load returns the persisted state, or an empty State when nothing
	// usable is stored. It never fails.
	Load() State

	// Save writes the full state.
	Save(state State) error
}
