package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dray-io/reclaim/internal/metadata"
	"github.com/dray-io/reclaim/internal/metadata/keys"
)

// Store persists job records in the metadata store.
type Store struct {
	meta metadata.MetadataStore
}

// NewStore creates a Store over meta.
func NewStore(meta metadata.MetadataStore) *Store {
	return &Store{meta: meta}
}

// Create writes a new record. It fails with ErrJobExists if the ID is taken.
func (s *Store) Create(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("jobs: marshal %s: %w", rec.ID, err)
	}
	_, err = s.meta.Put(ctx, keys.JobKeyPath(rec.ID), data, metadata.WithExpectedVersion(0))
	if errors.Is(err, metadata.ErrVersionMismatch) {
		return fmt.Errorf("%w: %s", ErrJobExists, rec.ID)
	}
	if err != nil {
		return fmt.Errorf("jobs: create %s: %w", rec.ID, err)
	}
	return nil
}

// Update replaces an existing record.
func (s *Store) Update(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("jobs: marshal %s: %w", rec.ID, err)
	}
	if _, err := s.meta.Put(ctx, keys.JobKeyPath(rec.ID), data); err != nil {
		return fmt.Errorf("jobs: update %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns a record, or an error matching ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	res, err := s.meta.Get(ctx, keys.JobKeyPath(id))
	if err != nil {
		return Record{}, fmt.Errorf("jobs: get %s: %w", id, err)
	}
	if !res.Exists {
		return Record{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	var rec Record
	if err := json.Unmarshal(res.Value, &rec); err != nil {
		return Record{}, fmt.Errorf("jobs: unmarshal %s: %w", id, err)
	}
	return rec, nil
}

// List returns every record, most recently queued first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	kvs, err := s.meta.List(ctx, keys.JobsPrefix+"/", "", 0)
	if err != nil {
		return nil, fmt.Errorf("jobs: list: %w", err)
	}
	records := make([]Record, 0, len(kvs))
	for _, kv := range kvs {
		var rec Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil, fmt.Errorf("jobs: unmarshal %s: %w", kv.Key, err)
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].QueuedAtMs > records[j].QueuedAtMs
	})
	return records, nil
}
