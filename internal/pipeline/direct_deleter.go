package pipeline

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// DirectDeleter satisfies domain.DeletionNotifier by deleting the blob from
// the bucket itself instead of calling an external deletion service.
type DirectDeleter struct {
	blobs  domain.BlobDeleter
	prefix string
}

// NewDirectDeleter creates a DirectDeleter for blobs under prefix.
func NewDirectDeleter(blobs domain.BlobDeleter, prefix string) *DirectDeleter {
	return &DirectDeleter{blobs: blobs, prefix: prefix}
}

// RequestDeletion deletes prefix+blobName.
func (d *DirectDeleter) RequestDeletion(ctx context.Context, blobName string) error {
	if blobName == "" {
		return fmt.Errorf("pipeline: empty blob name: %w", domain.ErrMalformedInput)
	}
	if err := d.blobs.Delete(ctx, d.prefix+blobName); err != nil {
		return fmt.Errorf("pipeline: delete blob %s: %w", blobName, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.DeletionNotifier = (*DirectDeleter)(nil)
