package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu       sync.RWMutex
	objects  map[string]mockObject
	failures map[string]error
	deletes  []string
	closed   bool
}

type mockObject struct {
	data []byte
	meta ObjectMeta
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		objects:  make(map[string]mockObject),
		failures: make(map[string]error),
	}
}

// FailKey makes operations on key return err wrapped in an ObjectError.
// A nil err clears the failure.
func (s *MockStore) FailKey(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, key)
		return
	}
	s.failures[key] = err
}

// Deletes returns every key passed to Delete, in call order.
func (s *MockStore) Deletes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.deletes...)
}

// Has reports whether key is stored.
func (s *MockStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

func (s *MockStore) check(op, key string) error {
	if s.closed {
		return &ObjectError{Op: op, Key: key, Err: ErrStoreClosed}
	}
	if err, ok := s.failures[key]; ok {
		return &ObjectError{Op: op, Key: key, Err: err}
	}
	return nil
}

func (s *MockStore) Put(_ context.Context, key string, reader io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Put", key); err != nil {
		return err
	}
	s.objects[key] = mockObject{
		data: data,
		meta: ObjectMeta{Key: key, Size: int64(len(data))},
	}
	return nil
}

func (s *MockStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("Get", key); err != nil {
		return nil, err
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, &ObjectError{Op: "Get", Key: key, Err: ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MockStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, key)
	if err := s.check("Delete", key); err != nil {
		return err
	}
	delete(s.objects, key)
	return nil
}

func (s *MockStore) List(_ context.Context, prefix string) ([]ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &ObjectError{Op: "List", Key: prefix, Err: ErrStoreClosed}
	}

	var result []ObjectMeta
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			result = append(result, obj.meta)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *MockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MockStore)(nil)
