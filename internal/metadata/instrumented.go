package metadata

import (
	"context"
	"errors"
	"time"
)

// MetricsRecorder receives per-operation latency and outcome. It keeps this
// package independent of the metrics package.
type MetricsRecorder interface {
	RecordGet(durationSeconds float64, success bool)
	RecordPut(durationSeconds float64, success bool)
	RecordDelete(durationSeconds float64, success bool)
	RecordList(durationSeconds float64, success bool)
	RecordPutEphemeral(durationSeconds float64, success bool)
}

// InstrumentedStore wraps a MetadataStore and records metrics for each operation.
type InstrumentedStore struct {
	store   MetadataStore
	metrics MetricsRecorder
}

// NewInstrumentedStore wraps store. A nil recorder disables recording.
func NewInstrumentedStore(store MetadataStore, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

// succeeded treats a lost compare-and-set as a successful round trip; the
// store answered, the caller just lost the race.
func succeeded(err error) bool {
	return err == nil || errors.Is(err, ErrVersionMismatch)
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (GetResult, error) {
	start := time.Now()
	result, err := s.store.Get(ctx, key)
	if s.metrics != nil {
		s.metrics.RecordGet(time.Since(start).Seconds(), err == nil)
	}
	return result, err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	start := time.Now()
	v, err := s.store.Put(ctx, key, value, opts...)
	if s.metrics != nil {
		s.metrics.RecordPut(time.Since(start).Seconds(), succeeded(err))
	}
	return v, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string, opts ...DeleteOption) error {
	start := time.Now()
	err := s.store.Delete(ctx, key, opts...)
	if s.metrics != nil {
		s.metrics.RecordDelete(time.Since(start).Seconds(), succeeded(err))
	}
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error) {
	start := time.Now()
	result, err := s.store.List(ctx, startKey, endKey, limit)
	if s.metrics != nil {
		s.metrics.RecordList(time.Since(start).Seconds(), err == nil)
	}
	return result, err
}

func (s *InstrumentedStore) PutEphemeral(ctx context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error) {
	start := time.Now()
	v, err := s.store.PutEphemeral(ctx, key, value, opts...)
	if s.metrics != nil {
		s.metrics.RecordPutEphemeral(time.Since(start).Seconds(), succeeded(err))
	}
	return v, err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

var _ MetadataStore = (*InstrumentedStore)(nil)
