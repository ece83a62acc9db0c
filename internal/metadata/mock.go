package metadata

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MockStore implements MetadataStore in memory for tests in any package.
// Ephemeral keys are tracked so tests can simulate a session expiring.
type MockStore struct {
	mu        sync.RWMutex
	data      map[string]KV
	ephemeral map[string]bool
	nextVer   Version
	closed    bool
	failures  map[string]error
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		data:      make(map[string]KV),
		ephemeral: make(map[string]bool),
		failures:  make(map[string]error),
		nextVer:   1,
	}
}

// FailKey makes every operation touching key return err until cleared with a nil err.
func (m *MockStore) FailKey(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

func (m *MockStore) check(key string) error {
	if m.closed {
		return ErrStoreClosed
	}
	return m.failures[key]
}

func (m *MockStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(key); err != nil {
		return GetResult{}, err
	}
	kv, ok := m.data[key]
	if !ok {
		return GetResult{}, nil
	}
	return GetResult{Value: kv.Value, Version: kv.Version, Exists: true}, nil
}

// matches reports whether the current state of key satisfies expected.
// Caller holds m.mu.
func (m *MockStore) matches(key string, expected Version) bool {
	existing, ok := m.data[key]
	if !ok {
		return expected == 0
	}
	return existing.Version == expected
}

func (m *MockStore) write(key string, value []byte, ephemeral bool) Version {
	ver := m.nextVer
	m.nextVer++
	m.data[key] = KV{Key: key, Value: value, Version: ver}
	if ephemeral {
		m.ephemeral[key] = true
	} else {
		delete(m.ephemeral, key)
	}
	return ver
}

func (m *MockStore) Put(_ context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(key); err != nil {
		return 0, err
	}
	if expected := ExtractExpectedVersion(opts); expected != nil && !m.matches(key, *expected) {
		return 0, ErrVersionMismatch
	}
	return m.write(key, value, false), nil
}

func (m *MockStore) Delete(_ context.Context, key string, opts ...DeleteOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(key); err != nil {
		return err
	}
	if expected := ExtractDeleteExpectedVersion(opts); expected != nil {
		existing, ok := m.data[key]
		if !ok {
			return nil
		}
		if existing.Version != *expected {
			return ErrVersionMismatch
		}
	}
	delete(m.data, key)
	delete(m.ephemeral, key)
	return nil
}

func (m *MockStore) List(_ context.Context, startKey, endKey string, limit int) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var keys []string
	for k := range m.data {
		if endKey == "" {
			if isListed(startKey, k) {
				keys = append(keys, k)
			}
		} else if k >= startKey && k < endKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	result := make([]KV, len(keys))
	for i, k := range keys {
		result[i] = m.data[k]
	}
	return result, nil
}

func isListed(prefix, key string) bool {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return false
	}
	if strings.HasSuffix(prefix, "/") {
		return rest != "" && !strings.Contains(rest, "/")
	}
	return true
}

func (m *MockStore) PutEphemeral(_ context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(key); err != nil {
		return 0, err
	}
	expectNotExists, expected := ExtractEphemeralOptions(opts)
	if expectNotExists {
		if _, ok := m.data[key]; ok {
			return 0, ErrVersionMismatch
		}
	} else if expected != nil && !m.matches(key, *expected) {
		return 0, ErrVersionMismatch
	}
	return m.write(key, value, true), nil
}

// ExpireSession drops every ephemeral key, as if the client session ended.
func (m *MockStore) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.ephemeral {
		delete(m.data, key)
	}
	m.ephemeral = make(map[string]bool)
}

// IsEphemeral reports whether key currently exists as an ephemeral key.
func (m *MockStore) IsEphemeral(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ephemeral[key]
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ MetadataStore = (*MockStore)(nil)
