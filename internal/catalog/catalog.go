// Package catalog stores the release, stemcell and orphaned disk records the
// garbage collector works from. Records are JSON values in the metadata
// store, one key per release version, stemcell version or disk.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dray-io/reclaim/internal/artifact"
	"github.com/dray-io/reclaim/internal/metadata"
	"github.com/dray-io/reclaim/internal/metadata/keys"
)

// Release is one uploaded version of a release.
type Release struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	// BlobIDs are the package and job blobs of this version.
	BlobIDs []string `json:"blobIds,omitempty"`

	// CompiledPackageBlobIDs are packages compiled from this version.
	CompiledPackageBlobIDs []string `json:"compiledPackageBlobIds,omitempty"`

	// Deployments currently using this version.
	Deployments []string `json:"deployments,omitempty"`

	UploadedAtMs int64 `json:"uploadedAtMs,omitempty"`
}

// InUse reports whether any deployment references the version.
func (r Release) InUse() bool { return len(r.Deployments) > 0 }

// Stemcell is one uploaded version of a stemcell.
type Stemcell struct {
	Name            string   `json:"name"`
	Version         string   `json:"version"`
	CID             string   `json:"cid"`
	OperatingSystem string   `json:"operatingSystem,omitempty"`
	Deployments     []string `json:"deployments,omitempty"`

	// CompiledPackageBlobIDs are packages compiled against this stemcell.
	CompiledPackageBlobIDs []string `json:"compiledPackageBlobIds,omitempty"`

	UploadedAtMs int64 `json:"uploadedAtMs,omitempty"`
}

func (s Stemcell) InUse() bool { return len(s.Deployments) > 0 }

// OrphanDisk is a persistent disk detached from a deleted instance.
type OrphanDisk struct {
	CID              string   `json:"cid"`
	SizeMB           int64    `json:"sizeMb"`
	DeploymentName   string   `json:"deploymentName"`
	InstanceName     string   `json:"instanceName"`
	AvailabilityZone string   `json:"availabilityZone,omitempty"`
	SnapshotCIDs     []string `json:"snapshotCids,omitempty"`
	OrphanedAtMs     int64    `json:"orphanedAtMs"`
}

// Catalog provides record operations backed by a MetadataStore.
type Catalog struct {
	meta metadata.MetadataStore
}

// New creates a Catalog over meta.
func New(meta metadata.MetadataStore) *Catalog {
	return &Catalog{meta: meta}
}

// PutRelease creates or replaces a release version record.
func (c *Catalog) PutRelease(ctx context.Context, r Release) error {
	if r.Name == "" || r.Version == "" {
		return fmt.Errorf("catalog: release name and version are required")
	}
	return c.put(ctx, keys.ReleaseVersionKeyPath(r.Name, r.Version), r)
}

// GetRelease returns one release version. A missing version yields an error
// matching artifact.ErrNotFound.
func (c *Catalog) GetRelease(ctx context.Context, name, version string) (Release, error) {
	var r Release
	err := c.get(ctx, keys.ReleaseVersionKeyPath(name, version), artifact.Release(name, version), &r)
	return r, err
}

// DeleteRelease removes a release version record. Missing records are ignored.
func (c *Catalog) DeleteRelease(ctx context.Context, name, version string) error {
	if err := c.meta.Delete(ctx, keys.ReleaseVersionKeyPath(name, version)); err != nil {
		return fmt.Errorf("catalog: delete release %s/%s: %w", name, version, err)
	}
	return nil
}

// ListReleases returns every release version ordered by name, then by
// ascending version.
func (c *Catalog) ListReleases(ctx context.Context) ([]Release, error) {
	kvs, err := c.meta.List(ctx, keys.ReleasesPrefix+"/", "", 0)
	if err != nil {
		return nil, fmt.Errorf("catalog: list releases: %w", err)
	}
	releases := make([]Release, 0, len(kvs))
	for _, kv := range kvs {
		var r Release
		if err := json.Unmarshal(kv.Value, &r); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal %s: %w", kv.Key, err)
		}
		releases = append(releases, r)
	}
	sort.SliceStable(releases, func(i, j int) bool {
		if releases[i].Name != releases[j].Name {
			return releases[i].Name < releases[j].Name
		}
		return CompareVersions(releases[i].Version, releases[j].Version) < 0
	})
	return releases, nil
}

// PutStemcell creates or replaces a stemcell version record.
func (c *Catalog) PutStemcell(ctx context.Context, s Stemcell) error {
	if s.Name == "" || s.Version == "" {
		return fmt.Errorf("catalog: stemcell name and version are required")
	}
	return c.put(ctx, keys.StemcellVersionKeyPath(s.Name, s.Version), s)
}

// GetStemcell returns one stemcell version.
func (c *Catalog) GetStemcell(ctx context.Context, name, version string) (Stemcell, error) {
	var s Stemcell
	err := c.get(ctx, keys.StemcellVersionKeyPath(name, version), artifact.Stemcell(name, version), &s)
	return s, err
}

// FindByNameAndVersion is GetStemcell under the name the orchestrator uses.
func (c *Catalog) FindByNameAndVersion(ctx context.Context, name, version string) (Stemcell, error) {
	return c.GetStemcell(ctx, name, version)
}

func (c *Catalog) DeleteStemcell(ctx context.Context, name, version string) error {
	if err := c.meta.Delete(ctx, keys.StemcellVersionKeyPath(name, version)); err != nil {
		return fmt.Errorf("catalog: delete stemcell %s/%s: %w", name, version, err)
	}
	return nil
}

// ListStemcells returns every stemcell version ordered by name, then by
// ascending version.
func (c *Catalog) ListStemcells(ctx context.Context) ([]Stemcell, error) {
	kvs, err := c.meta.List(ctx, keys.StemcellsPrefix+"/", "", 0)
	if err != nil {
		return nil, fmt.Errorf("catalog: list stemcells: %w", err)
	}
	stemcells := make([]Stemcell, 0, len(kvs))
	for _, kv := range kvs {
		var s Stemcell
		if err := json.Unmarshal(kv.Value, &s); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal %s: %w", kv.Key, err)
		}
		stemcells = append(stemcells, s)
	}
	sort.SliceStable(stemcells, func(i, j int) bool {
		if stemcells[i].Name != stemcells[j].Name {
			return stemcells[i].Name < stemcells[j].Name
		}
		return CompareVersions(stemcells[i].Version, stemcells[j].Version) < 0
	})
	return stemcells, nil
}

func (c *Catalog) PutOrphanDisk(ctx context.Context, d OrphanDisk) error {
	if d.CID == "" {
		return fmt.Errorf("catalog: orphan disk cid is required")
	}
	return c.put(ctx, keys.OrphanDiskKeyPath(d.CID), d)
}

func (c *Catalog) GetOrphanDisk(ctx context.Context, cid string) (OrphanDisk, error) {
	var d OrphanDisk
	err := c.get(ctx, keys.OrphanDiskKeyPath(cid), artifact.Disk(cid), &d)
	return d, err
}

func (c *Catalog) DeleteOrphanDisk(ctx context.Context, cid string) error {
	if err := c.meta.Delete(ctx, keys.OrphanDiskKeyPath(cid)); err != nil {
		return fmt.Errorf("catalog: delete orphan disk %s: %w", cid, err)
	}
	return nil
}

// ListOrphanDisks returns orphaned disks oldest first.
func (c *Catalog) ListOrphanDisks(ctx context.Context) ([]OrphanDisk, error) {
	kvs, err := c.meta.List(ctx, keys.OrphanDisksPrefix+"/", "", 0)
	if err != nil {
		return nil, fmt.Errorf("catalog: list orphan disks: %w", err)
	}
	disks := make([]OrphanDisk, 0, len(kvs))
	for _, kv := range kvs {
		var d OrphanDisk
		if err := json.Unmarshal(kv.Value, &d); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal %s: %w", kv.Key, err)
		}
		disks = append(disks, d)
	}
	sort.SliceStable(disks, func(i, j int) bool {
		if disks[i].OrphanedAtMs != disks[j].OrphanedAtMs {
			return disks[i].OrphanedAtMs < disks[j].OrphanedAtMs
		}
		return disks[i].CID < disks[j].CID
	})
	return disks, nil
}

func (c *Catalog) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("catalog: marshal %s: %w", key, err)
	}
	if _, err := c.meta.Put(ctx, key, data); err != nil {
		return fmt.Errorf("catalog: put %s: %w", key, err)
	}
	return nil
}

func (c *Catalog) get(ctx context.Context, key string, ref artifact.Ref, v any) error {
	result, err := c.meta.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("catalog: get %s: %w", ref, err)
	}
	if !result.Exists {
		return fmt.Errorf("catalog: %w", artifact.NotFound(ref))
	}
	if err := json.Unmarshal(result.Value, v); err != nil {
		return fmt.Errorf("catalog: unmarshal %s: %w", key, err)
	}
	return nil
}
