package deleter

import (
	"context"
	"errors"
	"fmt"

	"github.com/dray-io/reclaim/internal/catalog"
	"github.com/dray-io/reclaim/internal/cloud"
	"github.com/dray-io/reclaim/internal/logging"
)

// DiskManager lists and deletes orphaned disks.
type DiskManager struct {
	catalog *catalog.Catalog
	cloud   cloud.Cloud
	logger  *logging.Logger
}

func NewDiskManager(c *catalog.Catalog, iaas cloud.Cloud, logger *logging.Logger) *DiskManager {
	if logger == nil {
		logger = logging.Global()
	}
	return &DiskManager{catalog: c, cloud: iaas, logger: logger.Named("disk-deleter")}
}

// ListOrphanDisks returns orphaned disks, oldest first.
func (d *DiskManager) ListOrphanDisks(ctx context.Context) ([]catalog.OrphanDisk, error) {
	return d.catalog.ListOrphanDisks(ctx)
}

// DeleteOrphanDisk deletes the disk's snapshots, the disk itself, then the
// record. Resources the IaaS no longer knows are treated as deleted.
func (d *DiskManager) DeleteOrphanDisk(ctx context.Context, cid string) error {
	disk, err := d.catalog.GetOrphanDisk(ctx, cid)
	if err != nil {
		return err
	}

	for _, snap := range disk.SnapshotCIDs {
		if err := d.cloud.DeleteSnapshot(ctx, snap); err != nil && !errors.Is(err, cloud.ErrNotFound) {
			return fmt.Errorf("orphan disk %s: %w", cid, err)
		}
	}

	log := logging.ContextLogger(ctx, d.logger)
	if err := d.cloud.DeleteDisk(ctx, cid); err != nil {
		if !errors.Is(err, cloud.ErrNotFound) {
			return fmt.Errorf("orphan disk %s: %w", cid, err)
		}
		log.Debugf("disk already gone from the cloud", map[string]any{"cid": cid})
	}

	if err := d.catalog.DeleteOrphanDisk(ctx, cid); err != nil {
		return err
	}
	log.Debugf("orphan disk deleted", map[string]any{
		"cid":        cid,
		"deployment": disk.DeploymentName,
		"instance":   disk.InstanceName,
		"snapshots":  len(disk.SnapshotCIDs),
	})
	return nil
}
