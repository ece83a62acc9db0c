// Package eventlog records the progress of a cleanup run as a stream of
// JSON-lines events, one "started" and one "finished" or "failed" event per
// tracked task, grouped into stages.
package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state carried by an event.
type State string

const (
	StateStarted  State = "started"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// Event is one line of the event log.
type Event struct {
	Time  time.Time `json:"time"`
	Stage string    `json:"stage"`
	Task  string    `json:"task"`
	Index int       `json:"index"`
	Total int       `json:"total"`
	State State     `json:"state"`
	Error string    `json:"error,omitempty"`
}

// Log is a concurrency-safe event sink. Every event is kept in memory for
// archival and, when an output writer is set, also written to it.
type Log struct {
	mu     sync.Mutex
	out    io.Writer
	buf    bytes.Buffer
	events []Event
	now    func() time.Time
}

// New creates a Log. out may be nil.
func New(out io.Writer) *Log {
	return &Log{out: out, now: time.Now}
}

func (l *Log) emit(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	l.buf.Write(data)
	if l.out != nil {
		_, _ = l.out.Write(data)
	}
}

// Events returns a copy of the events emitted so far.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Bytes returns the JSON-lines encoding of every event emitted so far.
func (l *Log) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return bytes.Clone(l.buf.Bytes())
}

// BeginStage opens a stage expecting total tasks. Stages may overlap: a
// task always reports against the stage it was tracked on.
func (l *Log) BeginStage(label string, total int) *Stage {
	return &Stage{log: l, label: label, total: total}
}

// Stage groups the tasks of one artifact class.
type Stage struct {
	log   *Log
	label string
	total int
	next  atomic.Int64
}

// Label returns the stage label.
func (s *Stage) Label() string { return s.label }

// Track runs fn as a task of the stage and records its start and end. The
// error from fn is returned unchanged.
func (s *Stage) Track(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	index := int(s.next.Add(1))
	s.log.emit(Event{
		Time:  s.log.now(),
		Stage: s.label,
		Task:  label,
		Index: index,
		Total: s.total,
		State: StateStarted,
	})

	err := fn(ctx)

	end := Event{
		Time:  s.log.now(),
		Stage: s.label,
		Task:  label,
		Index: index,
		Total: s.total,
		State: StateFinished,
	}
	if err != nil {
		end.State = StateFailed
		end.Error = err.Error()
	}
	s.log.emit(end)
	return err
}
