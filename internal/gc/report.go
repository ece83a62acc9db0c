package gc

import (
	"fmt"
	"strings"

	"github.com/dray-io/reclaim/internal/artifact"
)

// Report lists the artifacts a run deleted, per kind, in submission order.
type Report struct {
	Stemcells []string
	Releases  []string
	Disks     []string

	// IncludeDisks is set when the run purged orphaned disks.
	IncludeDisks bool
}

// BuildReport reduces outcomes to the deleted artifacts.
func BuildReport(outcomes []artifact.Outcome, includeDisks bool) Report {
	r := Report{IncludeDisks: includeDisks}
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		switch o.Ref.Kind {
		case artifact.KindStemcell:
			r.Stemcells = append(r.Stemcells, o.Ref.Label())
		case artifact.KindRelease:
			r.Releases = append(r.Releases, o.Ref.Label())
		case artifact.KindDisk:
			r.Disks = append(r.Disks, o.Ref.Label())
		}
	}
	return r
}

func (r Report) String() string {
	s := fmt.Sprintf("stemcell(s) deleted: %s; release(s) deleted: %s", joinOrNone(r.Stemcells), joinOrNone(r.Releases))
	if r.IncludeDisks {
		s += "; orphaned disk(s) deleted: " + joinOrNone(r.Disks)
	}
	return s
}

func joinOrNone(labels []string) string {
	if len(labels) == 0 {
		return "none"
	}
	return strings.Join(labels, ", ")
}
