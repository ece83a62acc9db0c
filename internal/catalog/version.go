package catalog

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// CompareVersions orders two artifact versions, returning -1, 0 or +1.
//
// Versions that parse as semantic versions (with or without a leading "v",
// shorthands such as "3468.17" included) are compared with semver rules.
// Anything else falls back to a dotted comparison where numeric segments
// compare numerically. Remaining ties are broken by build metadata and then
// by plain string order, so distinct strings never compare equal.
func CompareVersions(a, b string) int {
	if a == b {
		return 0
	}
	ca, cb := canonical(a), canonical(b)
	if semver.IsValid(ca) && semver.IsValid(cb) {
		if c := semver.Compare(ca, cb); c != 0 {
			return c
		}
		if c := strings.Compare(semver.Build(ca), semver.Build(cb)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	}
	if c := compareDotted(strings.TrimPrefix(a, "v"), strings.TrimPrefix(b, "v")); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// SortVersions sorts versions in ascending order in place.
func SortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return CompareVersions(versions[i], versions[j]) < 0
	})
}

func canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func compareDotted(a, b string) int {
	as := strings.FieldsFunc(a, isSeparator)
	bs := strings.FieldsFunc(b, isSeparator)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareSegment(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

func isSeparator(r rune) bool {
	return r == '.' || r == '-' || r == '+'
}

func compareSegment(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case errA == nil:
		// numeric segments sort before alphanumeric ones, as in semver
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
