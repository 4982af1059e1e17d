package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage. Get returns ErrNotFound
// for a missing object.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies a settled market's event log and settlement to cold
// storage. It returns the number of events written.
type Archiver interface {
	ArchiveMarket(ctx context.Context, marketID string) (int64, error)
	Archived(ctx context.Context, marketID string) (bool, error)
}
