// Package deleter removes releases, stemcells and orphaned disks together
// with the blobs and IaaS resources they own.
package deleter

import (
	"context"
	"errors"
	"fmt"

	"github.com/dray-io/reclaim/internal/logging"
	"github.com/dray-io/reclaim/internal/objectstore"
)

// Blobs deletes blobstore objects by blob ID.
type Blobs struct {
	store  objectstore.Store
	logger *logging.Logger
}

// NewBlobs creates a blob deleter over store.
func NewBlobs(store objectstore.Store, logger *logging.Logger) *Blobs {
	if logger == nil {
		logger = logging.Global()
	}
	return &Blobs{store: store, logger: logger.Named("blobs")}
}

// DeleteAll deletes every blob in ids, continuing past failures. Blobs that
// are already gone are skipped. The returned error joins all failures.
func (b *Blobs) DeleteAll(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		key := objectstore.NormalizeKey(id)
		if key == "" {
			continue
		}
		err := b.store.Delete(ctx, key)
		if err == nil || errors.Is(err, objectstore.ErrNotFound) {
			continue
		}
		errs = append(errs, fmt.Errorf("delete blob %s: %w", id, err))
	}
	if len(errs) > 0 {
		logging.ContextLogger(ctx, b.logger).Warnf("blob deletion incomplete", map[string]any{
			"requested": len(ids),
			"failed":    len(errs),
		})
	}
	return errors.Join(errs...)
}
