package catalog

import (
	"reflect"
	"testing"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1", "2", -1},
		{"2", "10", -1},
		{"1.9", "1.10", -1},
		{"3468.17", "3468.9", 1},
		{"1.2.3", "v1.2.3", -1},
		{"1.2.3-rc.1", "1.2.3", -1},
		{"1.2.3+build.2", "1.2.3+build.1", 1},
		{"1.2.3.4", "1.2.3.10", -1},
		{"1.0-dev.3", "1.0-dev.12", -1},
		{"1.0.0.1", "1.0.0", 1},
		{"abc", "abd", -1},
		{"7", "7", 0},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := CompareVersions(tt.b, tt.a); got != -tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}

func TestSortVersions(t *testing.T) {
	versions := []string{"10", "2", "1.5", "1", "2.0.1", "1.10"}
	SortVersions(versions)

	want := []string{"1", "1.5", "1.10", "2", "2.0.1", "10"}
	if !reflect.DeepEqual(versions, want) {
		t.Errorf("SortVersions = %v, want %v", versions, want)
	}
}
