// Package storage defines the backend contract every file store implements,
// the local filesystem backend, and the Router that dispatches storage
// references to whichever backend holds them.
package storage

import (
	"context"
	"io"
	"time"
)

// Backend stores asset bytes. Keys returned by Put are opaque to callers and
// only meaningful to the backend that produced them.
type Backend interface {
	// Name is the identifier persisted in StorageRef.Backend.
	Name() string
	// Put stores the bytes and returns a new key.
	Put(ctx context.Context, r io.Reader, size int64, originalName, contentType string) (string, error)
	// Resolve returns a bounded-lifetime way to fetch the bytes.
	Resolve(ctx context.Context, key, filename string) (*Access, error)
	// Open returns the full stored bytes.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object; deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Health is a cheap reachability check.
	Health(ctx context.Context) error
}

// Access is either a signed URL (URL != "") or a byte stream (Body != nil).
// Whoever receives a Body must close it.
type Access struct {
	URL       string
	ExpiresAt time.Time
	Body      io.ReadCloser
	Size      int64
	ModTime   time.Time
}

// IsURL reports whether the access is a redirect-style signed URL.
func (a *Access) IsURL() bool { return a.URL != "" }

// Close releases the stream, if any.
func (a *Access) Close() error {
	if a == nil || a.Body == nil {
		return nil
	}
	return a.Body.Close()
}
