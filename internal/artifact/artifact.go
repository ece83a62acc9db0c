// Package artifact defines the references and outcomes shared by the
// pickers, deleters and the cleanup orchestrator.
package artifact

import "fmt"

// Kind is the class of a reclaimable artifact.
type Kind int

const (
	KindRelease Kind = iota
	KindStemcell
	KindDisk
)

func (k Kind) String() string {
	switch k {
	case KindRelease:
		return "release"
	case KindStemcell:
		return "stemcell"
	case KindDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Ref identifies one artifact. Releases and stemcells are identified by
// (Kind, Name, Version); orphaned disks by (Kind, ID).
type Ref struct {
	Kind    Kind
	Name    string
	Version string
	ID      string
}

// Release returns a release reference.
func Release(name, version string) Ref {
	return Ref{Kind: KindRelease, Name: name, Version: version}
}

// Stemcell returns a stemcell reference.
func Stemcell(name, version string) Ref {
	return Ref{Kind: KindStemcell, Name: name, Version: version}
}

// Disk returns an orphaned disk reference.
func Disk(cid string) Ref {
	return Ref{Kind: KindDisk, ID: cid}
}

// Label is the form used in cleanup reports: "name/version" or the disk id.
func (r Ref) Label() string {
	if r.Kind == KindDisk {
		return r.ID
	}
	return r.Name + "/" + r.Version
}

func (r Ref) String() string {
	return fmt.Sprintf("%s %s", r.Kind, r.Label())
}

// Outcome is the result of one deletion task. Exactly one is recorded per
// submitted task.
type Outcome struct {
	Ref Ref

	// Index is the task's submission order within the run.
	Index int

	// Err is nil when the artifact was deleted or was already gone.
	Err error

	// AlreadyGone is set when the artifact had vanished before deletion.
	AlreadyGone bool
}

// Succeeded reports whether the artifact no longer exists.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}
