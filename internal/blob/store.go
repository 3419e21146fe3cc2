package blob

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidPath = errors.New("blob path escapes storage root")
	// ErrShortBlob means the stored bytes are fewer than the recorded offset.
	ErrShortBlob = errors.New("blob is shorter than the expected offset")
)

// Store is byte storage addressed by relative path. Every call opens and
// closes its own handle, so no file descriptor outlives a request.
type Store interface {
	// Create writes r to a new blob at path, replacing anything there.
	Create(ctx context.Context, path string, r io.Reader) (int64, error)
	// Append writes r after the first `at` bytes of the blob. Bytes past
	// `at` left by an interrupted earlier append are discarded first.
	Append(ctx context.Context, path string, at int64, r io.Reader) (int64, error)
	// Open returns a read-only handle.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Rename(ctx context.Context, from, to string) error
	Delete(ctx context.Context, path string) error
	Size(ctx context.Context, path string) (int64, error)
}
