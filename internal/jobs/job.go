// Package jobs runs cleanup work as named background jobs. A job request is
// persisted as a record in the metadata store, executed by the handler
// registered for its type, and finished with a result string. Requests arrive
// from the CLI, from a cron schedule, or from a Kafka request topic.
package jobs

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TypeDeleteArtifacts is the job type of an artifact cleanup run.
const TypeDeleteArtifacts = "delete_artifacts"

var (
	// ErrUnknownJobType is returned when no handler is registered for a request's type.
	ErrUnknownJobType = errors.New("jobs: unknown job type")

	// ErrInvalidConfig is returned when a job's config map cannot be parsed.
	ErrInvalidConfig = errors.New("jobs: invalid config")

	// ErrJobExists is returned when a request reuses the ID of an existing job.
	ErrJobExists = errors.New("jobs: job already exists")

	// ErrJobNotFound is returned when a job record does not exist.
	ErrJobNotFound = errors.New("jobs: job not found")
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateError      State = "error"
)

// Finished reports whether s is a terminal state.
func (s State) Finished() bool {
	return s == StateDone || s == StateError
}

// Request asks for one job to run.
type Request struct {
	// ID is assigned by the runner when empty.
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type"`
	User        string         `json:"user,omitempty"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// Record is the persisted state of a job.
type Record struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	State       State          `json:"state"`
	User        string         `json:"user,omitempty"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`

	// Result is the handler's result string. It is kept for failed jobs too.
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// EventLogKey is the blobstore key of the archived event log, if any.
	EventLogKey string `json:"eventLogKey,omitempty"`

	QueuedAtMs   int64 `json:"queuedAtMs"`
	StartedAtMs  int64 `json:"startedAtMs,omitempty"`
	FinishedAtMs int64 `json:"finishedAtMs,omitempty"`
}

// Duration returns how long the job ran, or zero if it has not finished.
func (r Record) Duration() time.Duration {
	if r.StartedAtMs == 0 || r.FinishedAtMs == 0 {
		return 0
	}
	return time.Duration(r.FinishedAtMs-r.StartedAtMs) * time.Millisecond
}

// DeleteArtifactsConfig is the config of a delete_artifacts job.
type DeleteArtifactsConfig struct {
	// RemoveAll deletes every unused version instead of keeping the newest
	// two, and also deletes orphaned disks.
	RemoveAll bool `json:"remove_all"`
}

// ParseDeleteArtifactsConfig reads a delete_artifacts config map. A missing
// or null remove_all means false. Booleans and the strings accepted by
// strconv.ParseBool are recognized; other keys are ignored.
func ParseDeleteArtifactsConfig(config map[string]any) (DeleteArtifactsConfig, error) {
	var cfg DeleteArtifactsConfig
	v, ok := config["remove_all"]
	if !ok || v == nil {
		return cfg, nil
	}
	switch t := v.(type) {
	case bool:
		cfg.RemoveAll = t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return cfg, fmt.Errorf("%w: remove_all: %q is not a boolean", ErrInvalidConfig, t)
		}
		cfg.RemoveAll = b
	default:
		return cfg, fmt.Errorf("%w: remove_all: unsupported type %T", ErrInvalidConfig, v)
	}
	return cfg, nil
}

// Map returns the config map form of c.
func (c DeleteArtifactsConfig) Map() map[string]any {
	return map[string]any{"remove_all": c.RemoveAll}
}
