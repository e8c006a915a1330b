package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound indicates the referenced object does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store persists uploaded images behind one interface so the API can run on
// local disk or an S3-compatible object store.
type Store interface {
	// Save writes the object and returns the public reference (path or URL)
	// to persist alongside the post.
	Save(ctx context.Context, filename string, contentType string, r io.Reader) (string, error)
	// Remove deletes the object a previous Save returned. Removing an
	// already-absent object is not an error.
	Remove(ctx context.Context, ref string) error
}
