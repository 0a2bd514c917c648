// Package matcher decides whether a concrete semantic version falls inside an
// npm-style version range expression, the same grammar advisories use for
// their vulnerable_versions field.
package matcher

import (
	"errors"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// maxSafeInteger mirrors the largest integer npm accepts in a version component.
const maxSafeInteger = 1<<53 - 1

const (
	numericIdent    = `0|[1-9]\d*`
	prereleaseIdent = `(?:0|[1-9]\d*|\d*[a-zA-Z-][a-zA-Z0-9-]*)`
	buildIdent      = `[0-9A-Za-z-]+`
	prerelease      = prereleaseIdent + `(?:\.` + prereleaseIdent + `)*`
	build           = buildIdent + `(?:\.` + buildIdent + `)*`
)

const identChars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ-"

// ErrInvalidVersion is returned when a string is not a strict semantic version.
var ErrInvalidVersion = errors.New("invalid semantic version")

// ParseVersion parses a concrete version. Surrounding whitespace and a single
// leading "v" are tolerated; everything else must be strict SemVer 2.0.
func ParseVersion(raw string) (*semver.Version, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, ErrInvalidVersion
	}

	if v.String() != s || !validIdents(v.Prerelease()) || !validIdents(v.Metadata()) {
		return nil, ErrInvalidVersion
	}
	for _, n := range []uint64{v.Major(), v.Minor(), v.Patch()} {
		if n > maxSafeInteger {
			return nil, ErrInvalidVersion
		}
	}
	return v, nil
}

// validIdents rejects empty or non-alphanumeric dot-separated identifiers,
// such as "1.2.3-a..b" or "1.2.3-beta_1".
func validIdents(s string) bool {
	if s == "" {
		return true
	}
	for _, id := range strings.Split(s, ".") {
		if id == "" || strings.TrimLeft(id, identChars) != "" {
			return false
		}
	}
	return true
}

// IsValidVersion reports whether raw is a valid concrete version.
func IsValidVersion(raw string) bool {
	_, err := ParseVersion(raw)
	return err == nil
}

func parseComponent(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n > maxSafeInteger {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func newVersion(major, minor, patch uint64, pre string) *semver.Version {
	return semver.New(major, minor, patch, pre, "")
}
