// Package release implements the strict release version model used by the
// gateway's auto-increment feature. The backing registry accepts fairly loose
// version strings, but because the gateway decides the next version by
// incrementing the latest one, it only recognises exact "<int>.<int>.<int>"
// forms — no pre-release or build suffixes, no leading zeros, no signs.
package release

import (
	"fmt"
	"regexp"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
)

// versionRe is the full grammar. Each segment is 0 or a digit sequence with
// no leading zero.
var versionRe = regexp.MustCompile(`^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)$`)

// Version is an immutable release version ordered lexicographically on
// (Major, Minor, Patch).
type Version struct {
	Major int
	Minor int
	Patch int
}

// Parse parses text against the strict grammar. Any deviation fails with
// InvalidVersionFormat naming the required format.
func Parse(text string) (Version, error) {
	m := versionRe.FindStringSubmatch(text)
	if m == nil {
		return Version{}, errdefs.New(errdefs.KindInvalidVersionFormat,
			"version %q must be in format '<int>.<int>.<int>': must match regexp '%s'",
			text, versionRe.String())
	}
	var v Version
	// The regexp guarantees plain decimal digits; Sscanf cannot fail here.
	fmt.Sscanf(text, "%d.%d.%d", &v.Major, &v.Minor, &v.Patch)
	return v, nil
}

// MustParse is Parse for static version strings; it panics on error.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the canonical form. It is the left inverse of Parse.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 ordering v against other lexicographically on
// (Major, Minor, Patch).
func (v Version) Compare(other Version) int {
	if c := cmpInt(v.Major, other.Major); c != 0 {
		return c
	}
	if c := cmpInt(v.Minor, other.Minor); c != 0 {
		return c
	}
	return cmpInt(v.Patch, other.Patch)
}

// Less reports v < other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// Increment returns the next release line: major bumped, minor and patch
// zeroed.
func (v Version) Increment() Version {
	return Version{Major: v.Major + 1}
}

// Latest returns the maximum of versions and false when the slice is empty.
func Latest(versions []Version) (Version, bool) {
	if len(versions) == 0 {
		return Version{}, false
	}
	max := versions[0]
	for _, v := range versions[1:] {
		if max.Less(v) {
			max = v
		}
	}
	return max, true
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
