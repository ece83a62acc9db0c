// Package pool runs tasks with bounded parallelism. Submitting never blocks;
// the submitter only waits when it drains the pool. A failing or panicking
// task never affects its siblings; failures are collected and reported
// once, when the pool is drained.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrDrained is returned by Submit after Wait has been called.
var ErrDrained = errors.New("pool: already drained")

// Task is one unit of work.
type Task func() error

// Failure is a task that returned an error or panicked.
type Failure struct {
	// Seq is the task's submission order, starting at 0.
	Seq int
	Err error
}

// PanicError is the error recorded for a task that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pool: task panicked: %v", e.Value)
}

// TaskError is returned by Wrap when at least one task failed. It unwraps to
// the failure submitted first.
type TaskError struct {
	Failures []Failure
	Total    int
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("pool: %d of %d tasks failed, first: %v", len(e.Failures), e.Total, e.Failures[0].Err)
}

func (e *TaskError) Unwrap() error {
	return e.Failures[0].Err
}

// MetricsRecorder observes how many tasks are running.
type MetricsRecorder interface {
	SetInFlight(n int)
}

// Pool is a bounded task executor. The zero value is not usable; call New.
type Pool struct {
	g       errgroup.Group
	slots   *semaphore.Weighted
	metrics MetricsRecorder

	mu       sync.Mutex
	seq      int
	failures []Failure
	drained  bool

	inflight atomic.Int64
}

// New creates a pool running at most workers tasks at once. workers < 1
// is treated as 1.
func New(workers int, metrics MetricsRecorder) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{slots: semaphore.NewWeighted(int64(workers)), metrics: metrics}
}

// Submit schedules task and returns its sequence number without waiting
// for a free worker. Queued tasks start as workers free up, in no
// particular order.
func (p *Pool) Submit(task Task) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drained {
		return 0, ErrDrained
	}
	seq := p.seq
	p.seq++

	// the group has no limit, so Go returns at once; slots bounds how many
	// task bodies run
	p.g.Go(func() error {
		// Acquire cannot fail on a background context
		_ = p.slots.Acquire(context.Background(), 1)
		defer p.slots.Release(1)
		p.track(1)
		defer p.track(-1)
		if err := Guard(task); err != nil {
			p.mu.Lock()
			p.failures = append(p.failures, Failure{Seq: seq, Err: err})
			p.mu.Unlock()
		}
		// errors are kept per task; returning nil keeps the group from
		// recording only the first one
		return nil
	})
	return seq, nil
}

func (p *Pool) track(delta int64) {
	n := p.inflight.Add(delta)
	if p.metrics != nil {
		p.metrics.SetInFlight(int(n))
	}
}

// Wait blocks until every submitted task has finished and returns the
// failures ordered by submission. Later calls return the same result.
func (p *Pool) Wait() []Failure {
	p.mu.Lock()
	p.drained = true
	p.mu.Unlock()

	_ = p.g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	sort.Slice(p.failures, func(i, j int) bool { return p.failures[i].Seq < p.failures[j].Seq })
	out := make([]Failure, len(p.failures))
	copy(out, p.failures)
	return out
}

// Submitted returns the number of tasks submitted so far.
func (p *Pool) Submitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// Wrap runs body with a fresh pool and drains it exactly once, even when
// body fails part way through submitting. An error from body takes
// precedence; otherwise a *TaskError is returned if any task failed.
func Wrap(workers int, metrics MetricsRecorder, body func(p *Pool) error) error {
	p := New(workers, metrics)
	bodyErr := Guard(func() error { return body(p) })
	failures := p.Wait()

	if bodyErr != nil {
		return bodyErr
	}
	if len(failures) > 0 {
		return &TaskError{Failures: failures, Total: p.Submitted()}
	}
	return nil
}

// Guard calls fn and converts a panic into a *PanicError.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
