package deleter

import (
	"context"
	"errors"
	"fmt"

	"github.com/dray-io/reclaim/internal/artifact"
	"github.com/dray-io/reclaim/internal/catalog"
	"github.com/dray-io/reclaim/internal/cloud"
	"github.com/dray-io/reclaim/internal/logging"
)

// StemcellDeleter deletes stemcell versions: compiled packages built
// against the stemcell, the IaaS image, then the record.
type StemcellDeleter struct {
	catalog *catalog.Catalog
	blobs   *Blobs
	cloud   cloud.Cloud
	logger  *logging.Logger
}

func NewStemcellDeleter(c *catalog.Catalog, blobs *Blobs, iaas cloud.Cloud, logger *logging.Logger) *StemcellDeleter {
	if logger == nil {
		logger = logging.Global()
	}
	return &StemcellDeleter{catalog: c, blobs: blobs, cloud: iaas, logger: logger.Named("stemcell-deleter")}
}

// Delete removes the stemcell described by s.
func (d *StemcellDeleter) Delete(ctx context.Context, s catalog.Stemcell) error {
	if s.InUse() {
		return fmt.Errorf("stemcell %s/%s is used by %v: %w", s.Name, s.Version, s.Deployments, artifact.ErrInUse)
	}
	if err := d.blobs.DeleteAll(ctx, s.CompiledPackageBlobIDs); err != nil {
		return fmt.Errorf("stemcell %s/%s compiled packages: %w", s.Name, s.Version, err)
	}
	if s.CID != "" {
		if err := d.cloud.DeleteStemcell(ctx, s.CID); err != nil && !errors.Is(err, cloud.ErrNotFound) {
			return fmt.Errorf("stemcell %s/%s: %w", s.Name, s.Version, err)
		}
	}
	if err := d.catalog.DeleteStemcell(ctx, s.Name, s.Version); err != nil {
		return err
	}
	logging.ContextLogger(ctx, d.logger).Debugf("stemcell deleted", map[string]any{
		"stemcell": s.Name,
		"version":  s.Version,
		"cid":      s.CID,
	})
	return nil
}
