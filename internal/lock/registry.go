package lock

import (
	"context"
	"sync"
)

// Registry is an in-process set of named mutexes. An entry is created on
// first use and dropped once no goroutine holds or waits for it.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Acquire blocks until name is free or ctx is done. The returned release
// func is safe to call more than once.
func (r *Registry) Acquire(ctx context.Context, name string) (release func(), err error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.entries[name] = e
	}
	e.refs++
	r.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		r.unref(name, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			r.unref(name, e)
		})
	}, nil
}

func (r *Registry) unref(name string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.entries, name)
	}
}

// Len returns the number of names currently held or awaited.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
