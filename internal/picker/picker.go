// Package picker selects release and stemcell versions eligible for
// garbage collection under a retention count.
package picker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dray-io/reclaim/internal/artifact"
	"github.com/dray-io/reclaim/internal/catalog"
)

// ErrNegativeKeepCount is returned when Pick is given a keepCount below zero.
var ErrNegativeKeepCount = errors.New("picker: keepCount must not be negative")

// Version is one version of a named artifact as seen by the picker.
type Version struct {
	Name    string
	Version string
	InUse   bool
}

// Source lists every version of one artifact kind. Versions of the same
// name need not be contiguous or ordered.
type Source interface {
	Versions(ctx context.Context) ([]Version, error)
}

// RetentionPicker returns the versions beyond the newest keepCount of each
// name. Versions still used by a deployment are never returned.
type RetentionPicker struct {
	kind   artifact.Kind
	source Source
}

// New creates a picker for kind over source.
func New(kind artifact.Kind, source Source) *RetentionPicker {
	return &RetentionPicker{kind: kind, source: source}
}

// NewReleasePicker picks release versions from the catalog.
func NewReleasePicker(c *catalog.Catalog) *RetentionPicker {
	return New(artifact.KindRelease, releaseSource{c})
}

// NewStemcellPicker picks stemcell versions from the catalog.
func NewStemcellPicker(c *catalog.Catalog) *RetentionPicker {
	return New(artifact.KindStemcell, stemcellSource{c})
}

// Pick returns the deletion candidates, grouped by name in first-seen order
// and oldest version first within a name. With keepCount 0 every version
// not in use is a candidate.
func (p *RetentionPicker) Pick(ctx context.Context, keepCount int) ([]artifact.Ref, error) {
	if keepCount < 0 {
		return nil, ErrNegativeKeepCount
	}
	versions, err := p.source.Versions(ctx)
	if err != nil {
		return nil, fmt.Errorf("picker: list %ss: %w", p.kind, err)
	}

	var names []string
	groups := make(map[string][]Version)
	for _, v := range versions {
		if _, ok := groups[v.Name]; !ok {
			names = append(names, v.Name)
		}
		groups[v.Name] = append(groups[v.Name], v)
	}

	var refs []artifact.Ref
	for _, name := range names {
		for _, v := range Eligible(groups[name], keepCount) {
			refs = append(refs, artifact.Ref{Kind: p.kind, Name: v.Name, Version: v.Version})
		}
	}
	return refs, nil
}

// Eligible applies the retention window to the versions of a single name:
// the newest keepCount are kept, and in-use versions are dropped from the
// rest. The result is in ascending version order.
func Eligible(versions []Version, keepCount int) []Version {
	if len(versions) <= keepCount {
		return nil
	}
	sorted := make([]Version, len(versions))
	copy(sorted, versions)
	sortVersions(sorted)

	var out []Version
	for _, v := range sorted[:len(sorted)-keepCount] {
		if !v.InUse {
			out = append(out, v)
		}
	}
	return out
}

func sortVersions(vs []Version) {
	sort.SliceStable(vs, func(i, j int) bool {
		return catalog.CompareVersions(vs[i].Version, vs[j].Version) < 0
	})
}

type releaseSource struct{ c *catalog.Catalog }

func (s releaseSource) Versions(ctx context.Context) ([]Version, error) {
	releases, err := s.c.ListReleases(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Version, len(releases))
	for i, r := range releases {
		out[i] = Version{Name: r.Name, Version: r.Version, InUse: r.InUse()}
	}
	return out, nil
}

type stemcellSource struct{ c *catalog.Catalog }

func (s stemcellSource) Versions(ctx context.Context) ([]Version, error) {
	stemcells, err := s.c.ListStemcells(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Version, len(stemcells))
	for i, sc := range stemcells {
		out[i] = Version{Name: sc.Name, Version: sc.Version, InUse: sc.InUse()}
	}
	return out, nil
}
