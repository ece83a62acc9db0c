package gc

import (
	"sort"
	"sync"

	"github.com/dray-io/reclaim/internal/artifact"
)

// OutcomeLog is an append-only, concurrency-safe list of task outcomes.
type OutcomeLog struct {
	mu       sync.Mutex
	outcomes []artifact.Outcome
}

// Record appends o.
func (l *OutcomeLog) Record(o artifact.Outcome) {
	l.mu.Lock()
	l.outcomes = append(l.outcomes, o)
	l.mu.Unlock()
}

// Outcomes returns the recorded outcomes in submission order.
func (l *OutcomeLog) Outcomes() []artifact.Outcome {
	l.mu.Lock()
	out := make([]artifact.Outcome, len(l.outcomes))
	copy(out, l.outcomes)
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Len returns the number of recorded outcomes.
func (l *OutcomeLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outcomes)
}
