// Package keys builds and parses metadata keys for the reclaim keyspace.
//
// Layout:
//
//	/reclaim/v1/releases/<name>:<version>
//	/reclaim/v1/stemcells/<name>:<version>
//	/reclaim/v1/orphan-disks/<cid>
//	/reclaim/v1/locks/<scope>/<name>
//	/reclaim/v1/jobs/<jobId>
//
// Name and version components are path-escaped so they never contain '/' or
// ':'. Version records sit one level below their prefix so a direct-children
// scan of the prefix returns every version of every name.
package keys

import (
	"errors"
	"net/url"
	"strings"
)

const (
	// Prefix is the root prefix for all reclaim keys.
	Prefix = "/reclaim/v1"

	ReleasesPrefix    = Prefix + "/releases"
	StemcellsPrefix   = Prefix + "/stemcells"
	OrphanDisksPrefix = Prefix + "/orphan-disks"
	LocksPrefix       = Prefix + "/locks"
	JobsPrefix        = Prefix + "/jobs"

	// HealthCheckKey is read by readiness probes. It is never written.
	HealthCheckKey = Prefix + "/health-check"
)

// ErrInvalidKey is returned when a key does not have the expected shape.
var ErrInvalidKey = errors.New("keys: invalid key")

// versionSep joins a name and version into one key segment.
const versionSep = ":"

func esc(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), versionSep, "%3A")
}

// ReleaseVersionKeyPath returns the record key for one release version.
func ReleaseVersionKeyPath(name, version string) string {
	return ReleasesPrefix + "/" + esc(name) + versionSep + esc(version)
}

// ReleaseVersionsPrefix returns the prefix shared by all versions of a release.
func ReleaseVersionsPrefix(name string) string {
	return ReleasesPrefix + "/" + esc(name) + versionSep
}

// StemcellVersionKeyPath returns the record key for one stemcell version.
func StemcellVersionKeyPath(name, version string) string {
	return StemcellsPrefix + "/" + esc(name) + versionSep + esc(version)
}

// StemcellVersionsPrefix returns the prefix shared by all versions of a stemcell.
func StemcellVersionsPrefix(name string) string {
	return StemcellsPrefix + "/" + esc(name) + versionSep
}

// OrphanDiskKeyPath returns the record key for an orphaned disk.
func OrphanDiskKeyPath(cid string) string {
	return OrphanDisksPrefix + "/" + esc(cid)
}

// LockKeyPath returns the lease key for a named resource, e.g.
// LockKeyPath("release", "nginx").
func LockKeyPath(scope, name string) string {
	return LocksPrefix + "/" + esc(scope) + "/" + esc(name)
}

// JobKeyPath returns the record key for a job.
func JobKeyPath(jobID string) string {
	return JobsPrefix + "/" + esc(jobID)
}

// ParseVersionKey splits a release or stemcell key below prefix into its
// unescaped name and version.
func ParseVersionKey(prefix, key string) (name, version string, err error) {
	rest, ok := strings.CutPrefix(key, prefix+"/")
	if !ok {
		return "", "", ErrInvalidKey
	}
	rawName, rawVersion, ok := strings.Cut(rest, versionSep)
	if !ok || rawName == "" || rawVersion == "" ||
		strings.Contains(rest, "/") || strings.Contains(rawVersion, versionSep) {
		return "", "", ErrInvalidKey
	}
	if name, err = url.PathUnescape(rawName); err != nil {
		return "", "", ErrInvalidKey
	}
	if version, err = url.PathUnescape(rawVersion); err != nil {
		return "", "", ErrInvalidKey
	}
	return name, version, nil
}
