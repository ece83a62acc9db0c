package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordedCall struct {
	op      string
	success bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) add(op string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{op, success})
}

func (r *fakeRecorder) RecordGet(_ float64, ok bool)          { r.add("get", ok) }
func (r *fakeRecorder) RecordPut(_ float64, ok bool)          { r.add("put", ok) }
func (r *fakeRecorder) RecordDelete(_ float64, ok bool)       { r.add("delete", ok) }
func (r *fakeRecorder) RecordList(_ float64, ok bool)         { r.add("list", ok) }
func (r *fakeRecorder) RecordPutEphemeral(_ float64, ok bool) { r.add("put_ephemeral", ok) }

func TestInstrumentedStoreRecordsEachOperation(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	s := NewInstrumentedStore(NewMockStore(), rec)

	if _, err := s.Put(ctx, "/k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Get(ctx, "/k"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := s.List(ctx, "/", "", 0); err != nil {
		t.Fatalf("List: %v", err)
	}
	if _, err := s.PutEphemeral(ctx, "/lease", nil); err != nil {
		t.Fatalf("PutEphemeral: %v", err)
	}
	if err := s.Delete(ctx, "/k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []string{"put", "get", "list", "put_ephemeral", "delete"}
	if len(rec.calls) != len(want) {
		t.Fatalf("recorded %d calls, want %d", len(rec.calls), len(want))
	}
	for i, op := range want {
		if rec.calls[i].op != op || !rec.calls[i].success {
			t.Errorf("call %d = %+v, want successful %s", i, rec.calls[i], op)
		}
	}
}

func TestInstrumentedStoreVersionMismatchIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	s := NewInstrumentedStore(NewMockStore(), rec)

	if _, err := s.PutEphemeral(ctx, "/lease", nil, WithEphemeralExpectNotExists()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	_, err := s.PutEphemeral(ctx, "/lease", nil, WithEphemeralExpectNotExists())
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if last := rec.calls[len(rec.calls)-1]; !last.success {
		t.Error("lost compare-and-set should be recorded as success")
	}
}

func TestInstrumentedStoreRecordsFailures(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	mock := NewMockStore()
	mock.FailKey("/broken", errors.New("unavailable"))
	s := NewInstrumentedStore(mock, rec)

	if _, err := s.Get(ctx, "/broken"); err == nil {
		t.Fatal("expected error")
	}
	if rec.calls[0].success {
		t.Error("expected failed get to be recorded")
	}
}

func TestInstrumentedStoreNilRecorder(t *testing.T) {
	s := NewInstrumentedStore(NewMockStore(), nil)
	if _, err := s.Put(context.Background(), "/k", []byte("v")); err != nil {
		t.Fatalf("Put with nil recorder: %v", err)
	}
}
