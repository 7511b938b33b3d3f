package dalekbridge

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a dotted interpreter version. Minor and Patch are -1 when the
// string did not carry them.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion accepts "X", "X.Y" or "X.Y.Z". A non-numeric suffix on the
// last component ("3.12.0rc1", "2.7.18+") is ignored.
func ParseVersion(versionStr string) (Version, error) {
	v := Version{Major: -1, Minor: -1, Patch: -1}
	parts := strings.SplitN(strings.TrimSpace(versionStr), ".", 3)
	fields := []*int{&v.Major, &v.Minor, &v.Patch}
	for i, part := range parts {
		end := 0
		for end < len(part) && part[end] >= '0' && part[end] <= '9' {
			end++
		}
		if end == 0 {
			if i == 0 {
				return Version{}, fmt.Errorf("invalid version: %q", versionStr)
			}
			break
		}
		n, err := strconv.Atoi(part[:end])
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", versionStr, err)
		}
		*fields[i] = n
		if end < len(part) {
			break
		}
	}
	return v, nil
}

// ParsePythonVersion parses the output of "python --version", for example
// "Python 3.10.5".
func ParsePythonVersion(versionStr string) (Version, error) {
	name, rest, ok := strings.Cut(strings.TrimSpace(versionStr), " ")
	if !ok || name != "Python" {
		return Version{}, fmt.Errorf("invalid version string: %q", versionStr)
	}
	return ParseVersion(rest)
}

// Compare returns -1, 0 or 1 comparing major, then minor, then patch.
func (v Version) Compare(other Version) int {
	for _, d := range [3]int{v.Major - other.Major, v.Minor - other.Minor, v.Patch - other.Patch} {
		if d < 0 {
			return -1
		}
		if d > 0 {
			return 1
		}
	}
	return 0
}

// String omits unspecified components: "3.10.5", "3.10", "3".
func (v Version) String() string {
	switch {
	case v.Patch >= 0:
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	case v.Minor >= 0:
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	default:
		return strconv.Itoa(v.Major)
	}
}

// MinorString is "major.minor", as used in "libpython3.10.so".
func (v Version) MinorString() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
