package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inflightRecorder struct {
	mu  sync.Mutex
	max int
}

func (r *inflightRecorder) SetInFlight(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.max {
		r.max = n
	}
}

func TestPoolBoundsParallelism(t *testing.T) {
	const workers, tasks = 3, 25
	rec := &inflightRecorder{}
	var running, peak int32
	var ran [tasks]int32

	err := Wrap(workers, rec, func(p *Pool) error {
		for i := 0; i < tasks; i++ {
			i := i
			if _, err := p.Submit(func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&peak)
					if n <= m || atomic.CompareAndSwapInt32(&peak, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&ran[i], 1)
				atomic.AddInt32(&running, -1)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, int(peak), workers)
	assert.LessOrEqual(t, rec.max, workers)
	for i, n := range ran {
		assert.Equal(t, int32(1), n, "task %d ran %d times", i, n)
	}
}

func TestSubmitNeverWaitsForWorkers(t *testing.T) {
	p := New(1, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	_, err := p.Submit(func() error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	var secondRan atomic.Bool
	submitted := make(chan int, 1)
	go func() {
		seq, _ := p.Submit(func() error {
			secondRan.Store(true)
			return nil
		})
		submitted <- seq
	}()

	select {
	case seq := <-submitted:
		assert.Equal(t, 1, seq)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit waited for the busy worker")
	}
	assert.False(t, secondRan.Load(), "second task ran while the only worker was busy")

	close(release)
	assert.Empty(t, p.Wait())
	assert.True(t, secondRan.Load())
}

func TestFailuresAreIsolated(t *testing.T) {
	var succeeded int32
	err := Wrap(2, nil, func(p *Pool) error {
		for i := 0; i < 10; i++ {
			i := i
			_, _ = p.Submit(func() error {
				if i == 3 || i == 7 {
					return fmt.Errorf("task %d failed", i)
				}
				atomic.AddInt32(&succeeded, 1)
				return nil
			})
		}
		return nil
	})

	var te *TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, int32(8), succeeded)
	assert.Equal(t, 10, te.Total)
	require.Len(t, te.Failures, 2)
	assert.Equal(t, 3, te.Failures[0].Seq)
	assert.Equal(t, 7, te.Failures[1].Seq)
	assert.EqualError(t, errors.Unwrap(err), "task 3 failed")
}

func TestPanicsBecomeFailures(t *testing.T) {
	var after int32
	err := Wrap(1, nil, func(p *Pool) error {
		_, _ = p.Submit(func() error { panic("kaboom") })
		_, _ = p.Submit(func() error {
			atomic.AddInt32(&after, 1)
			return nil
		})
		return nil
	})

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, int32(1), after)
}

func TestBodyErrorStillDrains(t *testing.T) {
	boom := errors.New("listing failed")
	var finished int32

	err := Wrap(4, nil, func(p *Pool) error {
		for i := 0; i < 5; i++ {
			_, _ = p.Submit(func() error {
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&finished, 1)
				return errors.New("task failure")
			})
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(5), atomic.LoadInt32(&finished))
}

func TestBodyPanicIsReturned(t *testing.T) {
	err := Wrap(1, nil, func(p *Pool) error { panic("orchestration bug") })
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
}

func TestSubmitAfterWait(t *testing.T) {
	p := New(1, nil)
	seq, err := p.Submit(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, seq)

	assert.Empty(t, p.Wait())
	_, err = p.Submit(func() error { return nil })
	assert.ErrorIs(t, err, ErrDrained)
	assert.Empty(t, p.Wait())
}

func TestEmptyWrap(t *testing.T) {
	assert.NoError(t, Wrap(0, nil, func(*Pool) error { return nil }))
}
