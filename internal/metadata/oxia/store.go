package oxia

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/dray-io/reclaim/internal/metadata"
)

// Config configures the Oxia metadata store.
type Config struct {
	// ServiceAddress is the Oxia service endpoint, e.g. "localhost:6648".
	ServiceAddress string

	// Namespace scopes every key, e.g. "reclaim/director-1".
	Namespace string

	// RequestTimeout bounds individual requests. Default: 30s.
	RequestTimeout time.Duration

	// SessionTimeout controls how long ephemeral keys (lock leases) outlive
	// a silent client. Oxia enforces a 5s minimum. Default: 15s.
	SessionTimeout time.Duration
}

// Store implements metadata.MetadataStore on top of an Oxia sync client.
type Store struct {
	client oxiaclient.SyncClient
	config Config

	mu     sync.RWMutex
	closed bool
}

// New connects to Oxia.
func New(_ context.Context, cfg Config) (*Store, error) {
	if cfg.ServiceAddress == "" {
		return nil, errors.New("oxia: service address is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("oxia: namespace is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 15 * time.Second
	}

	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress,
		oxiaclient.WithNamespace(cfg.Namespace),
		oxiaclient.WithRequestTimeout(cfg.RequestTimeout),
		oxiaclient.WithSessionTimeout(cfg.SessionTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("oxia: failed to create client: %w", err)
	}

	return &Store{client: client, config: cfg}, nil
}

// Oxia versions start at 0 while metadata.Version reserves 0 for "absent".
func fromOxiaVersion(v int64) metadata.Version { return metadata.Version(v + 1) }
func toOxiaVersion(v metadata.Version) int64 { return int64(v - 1) }

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrStoreClosed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if err := s.checkOpen(); err != nil {
		return metadata.GetResult{}, err
	}

	_, value, version, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return metadata.GetResult{}, nil
		}
		return metadata.GetResult{}, fmt.Errorf("oxia: get %s: %w", key, err)
	}
	return metadata.GetResult{
		Value:   value,
		Version: fromOxiaVersion(version.VersionId),
		Exists:  true,
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, opts ...metadata.PutOption) (metadata.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var oxiaOpts []oxiaclient.PutOption
	if expected := metadata.ExtractExpectedVersion(opts); expected != nil {
		if *expected == 0 {
			oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedRecordNotExists())
		} else {
			oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedVersionId(toOxiaVersion(*expected)))
		}
	}
	return s.put(ctx, key, value, oxiaOpts)
}

func (s *Store) PutEphemeral(ctx context.Context, key string, value []byte, opts ...metadata.EphemeralOption) (metadata.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	oxiaOpts := []oxiaclient.PutOption{oxiaclient.Ephemeral()}
	expectNotExists, expected := metadata.ExtractEphemeralOptions(opts)
	switch {
	case expectNotExists:
		oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedRecordNotExists())
	case expected != nil:
		oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedVersionId(toOxiaVersion(*expected)))
	}
	return s.put(ctx, key, value, oxiaOpts)
}

func (s *Store) put(ctx context.Context, key string, value []byte, opts []oxiaclient.PutOption) (metadata.Version, error) {
	_, version, err := s.client.Put(ctx, key, value, opts...)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrUnexpectedVersionId) {
			return 0, metadata.ErrVersionMismatch
		}
		return 0, fmt.Errorf("oxia: put %s: %w", key, err)
	}
	return fromOxiaVersion(version.VersionId), nil
}

func (s *Store) Delete(ctx context.Context, key string, opts ...metadata.DeleteOption) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var oxiaOpts []oxiaclient.DeleteOption
	if expected := metadata.ExtractDeleteExpectedVersion(opts); expected != nil {
		oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedVersionId(toOxiaVersion(*expected)))
	}

	err := s.client.Delete(ctx, key, oxiaOpts...)
	switch {
	case err == nil, errors.Is(err, oxiaclient.ErrKeyNotFound):
		return nil
	case errors.Is(err, oxiaclient.ErrUnexpectedVersionId):
		return metadata.ErrVersionMismatch
	default:
		return fmt.Errorf("oxia: delete %s: %w", key, err)
	}
}

func (s *Store) List(ctx context.Context, startKey, endKey string, limit int) ([]metadata.KV, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	// Oxia sorts '/' specially: "<prefix>/" to "<prefix>//" covers the
	// direct children of a hierarchical prefix.
	if endKey == "" {
		if len(startKey) > 0 && startKey[len(startKey)-1] == '/' {
			endKey = startKey + "/"
		} else {
			endKey = prefixEnd(startKey)
		}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := s.client.RangeScan(scanCtx, startKey, endKey)

	var kvs []metadata.KV
	for result := range results {
		if result.Err != nil {
			go drain(results)
			return nil, fmt.Errorf("oxia: list %s: %w", startKey, result.Err)
		}
		kvs = append(kvs, metadata.KV{
			Key:     result.Key,
			Value:   result.Value,
			Version: fromOxiaVersion(result.Version.VersionId),
		})
		if limit > 0 && len(kvs) >= limit {
			go drain(results)
			break
		}
	}
	return kvs, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

func drain(results <-chan oxiaclient.GetResult) {
	for range results {
	}
}

var _ metadata.MetadataStore = (*Store)(nil)
