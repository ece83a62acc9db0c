package objectstore

import "strings"

// NormalizeKey turns a blob reference into a bucket-relative key. Catalog
// records may hold either a bare key or a full s3://bucket/key URI.
func NormalizeKey(ref string) string {
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		if _, key, found := strings.Cut(rest, "/"); found {
			return key
		}
	}
	return strings.TrimPrefix(ref, "/")
}
