package cloud

import (
	"context"
	"sync"
)

// MockCloud records deletions in memory. Resources are present unless
// marked missing; any CID can be made to fail.
type MockCloud struct {
	mu       sync.Mutex
	missing  map[string]bool
	failures map[string]error
	deleted  []string
}

// NewMockCloud creates an empty MockCloud.
func NewMockCloud() *MockCloud {
	return &MockCloud{
		missing:  make(map[string]bool),
		failures: make(map[string]error),
	}
}

// MarkMissing makes deletions of cid return ErrNotFound.
func (m *MockCloud) MarkMissing(cid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing[cid] = true
}

// FailCID makes deletions of cid return err. A nil err clears it.
func (m *MockCloud) FailCID(cid string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, cid)
		return
	}
	m.failures[cid] = err
}

// Deleted returns the CIDs deleted so far, in call order.
func (m *MockCloud) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.deleted))
	copy(out, m.deleted)
	return out
}

func (m *MockCloud) remove(op, cid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[cid]; err != nil {
		return &ResourceError{Op: op, CID: cid, Err: err}
	}
	if m.missing[cid] {
		return &ResourceError{Op: op, CID: cid, Err: ErrNotFound}
	}
	m.deleted = append(m.deleted, cid)
	m.missing[cid] = true
	return nil
}

func (m *MockCloud) DeleteDisk(_ context.Context, cid string) error {
	return m.remove("DeleteDisk", cid)
}

func (m *MockCloud) DeleteSnapshot(_ context.Context, cid string) error {
	return m.remove("DeleteSnapshot", cid)
}

func (m *MockCloud) DeleteStemcell(_ context.Context, cid string) error {
	return m.remove("DeleteStemcell", cid)
}

var _ Cloud = (*MockCloud)(nil)
