// Package version handles parsing and ordering of release versions.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidFormat is returned when a version string does not parse as
// 1-3 dot-separated non-negative integers.
var ErrInvalidFormat = errors.New("invalid version format")

// versionPattern accepts "1", "1.2", "1.2.3", with an optional 'v' prefix.
var versionPattern = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?$`)

// Version represents a release version as a (major, minor, patch) triple.
type Version struct {
	v *semver.Version
}

// Parse parses a version string. Missing minor and patch components
// default to 0. Any other shape is a hard ErrInvalidFormat error,
// never silently coerced.
func Parse(s string) (Version, error) {
	matches := versionPattern.FindStringSubmatch(s)
	if matches == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	// The pattern only admits digit runs, but a run can still overflow
	// uint64; that is a hard parse error like any other malformed input.
	part := func(m string) (uint64, error) {
		if m == "" {
			return 0, nil
		}
		n, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
		}
		return n, nil
	}

	major, err := part(matches[1])
	if err != nil {
		return Version{}, err
	}
	minor, err := part(matches[2])
	if err != nil {
		return Version{}, err
	}
	patch, err := part(matches[3])
	if err != nil {
		return Version{}, err
	}

	return Version{v: semver.New(major, minor, patch, "", "")}, nil
}

// String returns the canonical major.minor.patch representation.
func (v Version) String() string {
	if v.v == nil {
		return "0.0.0"
	}
	return v.v.String()
}

// Compare orders two versions lexicographically over the triple.
// Returns:
//   - 1 if v > other
//   - 0 if v == other
//   - -1 if v < other
func (v Version) Compare(other Version) int {
	return v.v.Compare(other.v)
}

// Compare compares two version strings.
// Returns an error if either string is invalid.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// IsUpdateAvailable reports whether remote is strictly newer than current.
func IsUpdateAvailable(current, remote string) (bool, error) {
	cmp, err := Compare(current, remote)
	if err != nil {
		return false, err
	}
	return cmp < 0, nil
}

// IsUpdateMandatory reports whether the installed version has fallen below
// the oldest version the update path still supports. When true the update
// cannot be deferred, regardless of the manifest's critical flag.
func IsUpdateMandatory(current, minimum string) (bool, error) {
	cmp, err := Compare(current, minimum)
	if err != nil {
		return false, err
	}
	return cmp < 0, nil
}
