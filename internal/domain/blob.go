package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobReader downloads data from object storage.
type BlobReader interface {
	// Get returns ErrNotFound when nothing is stored at path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// EvidencePath is where the evidence bundle committed to by hash is stored.
func EvidencePath(hash string) string {
	return "evidence/" + hash + ".json"
}
