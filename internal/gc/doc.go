// Package gc implements the artifact cleanup run behind the
// delete_artifacts job.
//
// A run picks stale release and stemcell versions (keeping the newest two of
// each name, or none with remove_all), submits one deletion task per
// candidate to a shared bounded pool, and with remove_all also deletes every
// orphaned disk. Release deletions hold the release's named lock for the
// whole delete; stemcell and disk deletions take no lock.
//
// The pool is drained once, after every task has been submitted. Each task
// records exactly one outcome, and the report is built from those outcomes:
//
//	stemcell(s) deleted: jammy/1.1; release(s) deleted: nginx/1, nginx/2; orphaned disk(s) deleted: vol-1
//
// An artifact that was already gone counts as deleted. When any task failed,
// Run still returns the full report together with a *RunError.
//
// # Usage
//
//	orch, err := gc.NewOrchestrator(gc.DefaultConfig(), gc.Deps{...})
//	report, err := orch.Run(ctx, gc.RunOptions{RemoveAll: true})
package gc
