package jobs

import (
	"context"

	"github.com/dray-io/reclaim/internal/eventlog"
	"github.com/dray-io/reclaim/internal/gc"
)

// Cleaner runs one artifact cleanup.
type Cleaner interface {
	Run(ctx context.Context, opts gc.RunOptions) (string, error)
}

// DeleteArtifacts handles delete_artifacts jobs.
type DeleteArtifacts struct {
	cleaner Cleaner
}

// NewDeleteArtifacts creates the delete_artifacts handler.
func NewDeleteArtifacts(cleaner Cleaner) *DeleteArtifacts {
	return &DeleteArtifacts{cleaner: cleaner}
}

func (d *DeleteArtifacts) Handle(ctx context.Context, rec Record, progress *eventlog.Log) (string, error) {
	cfg, err := ParseDeleteArtifactsConfig(rec.Config)
	if err != nil {
		return "", err
	}
	return d.cleaner.Run(ctx, gc.RunOptions{RemoveAll: cfg.RemoveAll, Progress: progress})
}

// NewDeleteArtifactsRequest builds a delete_artifacts request.
func NewDeleteArtifactsRequest(user string, cfg DeleteArtifactsConfig) Request {
	return Request{
		Type:        TypeDeleteArtifacts,
		User:        user,
		Description: "delete artifacts",
		Config:      cfg.Map(),
	}
}

var _ Handler = (*DeleteArtifacts)(nil)
