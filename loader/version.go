package loader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CurrentVersion is the schema_version stamped on encoded graph documents.
// Documents of any other minor or patch within the same major are read.
var CurrentVersion = Version{Major: 1}

// ErrUnsupportedVersion is returned for documents written for another major
// version of the graph format.
var ErrUnsupportedVersion = errors.New("unsupported schema_version")

// Version is the MAJOR.MINOR.PATCH triple of a graph document. Pre-release
// and build suffixes are accepted and dropped.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion parses a schema_version value such as "1", "1.2" or
// "1.2.3-rc.1+build.5". Missing minor and patch components read as zero.
func ParseVersion(s string) (Version, error) {
	head := strings.TrimSpace(s)
	if i := strings.IndexAny(head, "-+"); i >= 0 {
		head = head[:i]
	}
	parts := strings.Split(head, ".")
	if head == "" || len(parts) > 3 {
		return Version{}, fmt.Errorf("schema_version %q is not MAJOR[.MINOR[.PATCH]]", s)
	}

	var nums [3]int
	for i, p := range parts {
		if p == "" || (len(p) > 1 && p[0] == '0') {
			return Version{}, fmt.Errorf("schema_version %q has a malformed component %q", s, p)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("schema_version %q has a malformed component %q", s, p)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Readable reports whether a document of version v can be loaded.
func (v Version) Readable() bool {
	return v.Major == CurrentVersion.Major
}

// checkVersion validates a document's schema_version. Documents without one
// are read as CurrentVersion.
func checkVersion(raw string) error {
	if raw == "" {
		return nil
	}
	v, err := ParseVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	if !v.Readable() {
		return fmt.Errorf("%w: %w: %s (reads %d.x.x)", ErrInvalidGraph, ErrUnsupportedVersion, v, CurrentVersion.Major)
	}
	return nil
}
