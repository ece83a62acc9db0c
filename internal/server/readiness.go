package server

import (
	"context"
	"errors"

	"github.com/dray-io/reclaim/internal/metadata"
	"github.com/dray-io/reclaim/internal/metadata/keys"
	"github.com/dray-io/reclaim/internal/objectstore"
)

// MetadataStoreChecker checks the metadata store by reading a well-known key.
// The key normally does not exist; the store only has to answer.
type MetadataStoreChecker struct {
	store metadata.MetadataStore
}

func NewMetadataStoreChecker(store metadata.MetadataStore) *MetadataStoreChecker {
	return &MetadataStoreChecker{store: store}
}

func (c *MetadataStoreChecker) Name() string { return "metadata_store" }

func (c *MetadataStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("metadata store not configured")
	}
	_, err := c.store.Get(ctx, keys.HealthCheckKey)
	if err != nil && !errors.Is(err, metadata.ErrKeyNotFound) {
		return err
	}
	return nil
}

// healthCheckPrefix is listed by ObjectStoreChecker. It holds no objects.
const healthCheckPrefix = "reclaim-health-check/"

// ObjectStoreChecker checks the blobstore by listing an empty prefix.
type ObjectStoreChecker struct {
	store objectstore.Store
}

func NewObjectStoreChecker(store objectstore.Store) *ObjectStoreChecker {
	return &ObjectStoreChecker{store: store}
}

func (c *ObjectStoreChecker) Name() string { return "blobstore" }

// CheckReady fails on any List error. A missing bucket or denied access are
// real problems for a collector that must delete blobs.
func (c *ObjectStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("blobstore not configured")
	}
	_, err := c.store.List(ctx, healthCheckPrefix)
	return err
}

// FuncChecker adapts a function to ReadinessChecker.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
