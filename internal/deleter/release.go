package deleter

import (
	"context"
	"fmt"

	"github.com/dray-io/reclaim/internal/artifact"
	"github.com/dray-io/reclaim/internal/catalog"
	"github.com/dray-io/reclaim/internal/logging"
)

// ReleaseDeleter deletes release versions.
type ReleaseDeleter struct {
	catalog *catalog.Catalog
	blobs   *Blobs
	logger  *logging.Logger
}

func NewReleaseDeleter(c *catalog.Catalog, blobs *Blobs, logger *logging.Logger) *ReleaseDeleter {
	if logger == nil {
		logger = logging.Global()
	}
	return &ReleaseDeleter{catalog: c, blobs: blobs, logger: logger.Named("release-deleter")}
}

// DeleteByNameVersion deletes one release version: its blobs first, then
// its record. Blobs still referenced by another release version are kept.
//
// Without force, a version used by a deployment is refused with
// artifact.ErrInUse and a blob failure leaves the record in place so the
// deletion can be retried. With force, both are overridden.
//
// Releases sharing a blob may be deleted concurrently under different
// locks, so shared blobs are checked again once the record is gone and
// deleted if no version references them any more.
func (d *ReleaseDeleter) DeleteByNameVersion(ctx context.Context, name, version string, force bool) error {
	log := logging.ContextLogger(ctx, d.logger)

	rel, err := d.catalog.GetRelease(ctx, name, version)
	if err != nil {
		return err
	}
	if rel.InUse() && !force {
		return fmt.Errorf("release %s/%s is used by %v: %w", name, version, rel.Deployments, artifact.ErrInUse)
	}

	owned, shared, err := d.splitBlobs(ctx, rel)
	if err != nil {
		return err
	}
	if err := d.blobs.DeleteAll(ctx, owned); err != nil {
		if !force {
			return fmt.Errorf("release %s/%s: %w", name, version, err)
		}
		log.Warnf("ignoring blob errors on forced release delete", map[string]any{
			"release": name,
			"version": version,
			"error":   err.Error(),
		})
	}

	if err := d.catalog.DeleteRelease(ctx, name, version); err != nil {
		return err
	}

	released := 0
	if len(shared) > 0 {
		released = d.releaseShared(ctx, rel, shared)
	}
	log.Debugf("release version deleted", map[string]any{
		"release": name,
		"version": version,
		"blobs":   len(owned) + released,
	})
	return nil
}

// releaseShared deletes the blobs in shared that no remaining release
// version references. Failures are logged; the record is already gone.
func (d *ReleaseDeleter) releaseShared(ctx context.Context, rel catalog.Release, shared []string) int {
	log := logging.ContextLogger(ctx, d.logger)
	orphaned, _, err := d.splitBlobs(ctx, catalog.Release{Name: rel.Name, Version: rel.Version, BlobIDs: shared})
	if err == nil && len(orphaned) > 0 {
		err = d.blobs.DeleteAll(ctx, orphaned)
	}
	if err != nil {
		log.Warnf("shared blob recheck failed", map[string]any{
			"release": rel.Name,
			"version": rel.Version,
			"error":   err.Error(),
		})
		return 0
	}
	return len(orphaned)
}

// splitBlobs partitions the blobs of rel into those no other release
// version uses and those still shared.
func (d *ReleaseDeleter) splitBlobs(ctx context.Context, rel catalog.Release) (owned, shared []string, err error) {
	all, err := d.catalog.ListReleases(ctx)
	if err != nil {
		return nil, nil, err
	}
	inUse := make(map[string]bool)
	for _, other := range all {
		if other.Name == rel.Name && other.Version == rel.Version {
			continue
		}
		for _, id := range other.BlobIDs {
			inUse[id] = true
		}
		for _, id := range other.CompiledPackageBlobIDs {
			inUse[id] = true
		}
	}

	for _, ids := range [][]string{rel.BlobIDs, rel.CompiledPackageBlobIDs} {
		for _, id := range ids {
			if inUse[id] {
				shared = append(shared, id)
			} else {
				owned = append(owned, id)
			}
		}
	}
	return owned, shared, nil
}
