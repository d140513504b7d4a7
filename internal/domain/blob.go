package domain

import (
	"context"
	"io"
	"strconv"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
	ETag         string
}

// Version identifies the content of the object at Path. A re-upload under the
// same path yields a different version.
func (b BlobInfo) Version() string {
	if b.ETag != "" {
		return b.ETag
	}
	return b.LastModified.UTC().Format(time.RFC3339Nano) + "/" + strconv.FormatInt(b.Size, 10)
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects from storage.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// ProcessedIndex remembers which blob versions were already ingested, so a
// blob whose deletion failed is not ingested a second time.
type ProcessedIndex interface {
	// Lookup returns the version recorded for path. An empty version means
	// the blob was ingested without being listed.
	Lookup(ctx context.Context, path string) (version string, found bool, err error)
	Mark(ctx context.Context, path, version string) error
	// Prune drops the markers under prefix whose path is not in keep and
	// that were written no later than cutoff.
	Prune(ctx context.Context, prefix string, keep map[string]struct{}, cutoff time.Time) (int, error)
}
