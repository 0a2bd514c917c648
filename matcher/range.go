package matcher

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

type operator string

const (
	opEQ  operator = ""
	opLT  operator = "<"
	opLTE operator = "<="
	opGT  operator = ">"
	opGTE operator = ">="
)

// comparator is a single primitive bound. A nil version matches everything.
type comparator struct {
	op  operator
	ver *semver.Version
}

var anyComparator = comparator{}

// nothing matches <0.0.0-0
var emptyComparator = comparator{op: opLT, ver: newVersion(0, 0, 0, "0")}

func (c comparator) test(v *semver.Version) bool {
	if c.ver == nil {
		return true
	}
	cmp := v.Compare(c.ver)
	switch c.op {
	case opLT:
		return cmp < 0
	case opLTE:
		return cmp <= 0
	case opGT:
		return cmp > 0
	case opGTE:
		return cmp >= 0
	default:
		return cmp == 0
	}
}

// Range is a parsed range expression: a union of comparator intersections.
// A Range is immutable and safe for concurrent use.
type Range struct {
	raw  string
	sets [][]comparator
}

// String returns the expression the range was parsed from.
func (r *Range) String() string {
	return r.raw
}

// Contains reports whether v satisfies at least one comparator set.
func (r *Range) Contains(v *semver.Version) bool {
	if r == nil || v == nil {
		return false
	}
	for _, set := range r.sets {
		if testSet(set, v) {
			return true
		}
	}
	return false
}

// testSet applies every comparator, then the prerelease rule: a prerelease
// version only matches when a comparator in the same set names a prerelease
// on the same major.minor.patch tuple.
func testSet(set []comparator, v *semver.Version) bool {
	for _, c := range set {
		if !c.test(v) {
			return false
		}
	}

	if v.Prerelease() == "" {
		return true
	}

	for _, c := range set {
		if c.ver == nil || c.ver.Prerelease() == "" {
			continue
		}
		if c.ver.Major() == v.Major() && c.ver.Minor() == v.Minor() && c.ver.Patch() == v.Patch() {
			return true
		}
	}
	return false
}

// ErrInvalidRange is wrapped by every range parse failure.
var ErrInvalidRange = errors.New("invalid version range")

const xrIdent = numericIdent + `|x|X|\*`

var (
	partialRe = regexp.MustCompile(`^[v=\s]*(` + xrIdent + `)(?:\.(` + xrIdent + `)(?:\.(` + xrIdent + `)` +
		`(?:-(` + prerelease + `))?(?:\+(` + build + `))?)?)?$`)
	hyphenRe  = regexp.MustCompile(`^\s*(\S+)\s+-\s+(\S+)\s*$`)
	orRe      = regexp.MustCompile(`\s*\|\|\s*`)
	opSpaceRe = regexp.MustCompile(`(~>?|\^|<=|>=|<|>|=)\s+`)
)

// ParseRange parses an npm-style range expression: "||" unions,
// space-separated intersections, primitive comparators, hyphen ranges,
// x-ranges, tilde and caret ranges.
func ParseRange(raw string) (*Range, error) {
	r := &Range{raw: raw}
	for _, part := range orRe.Split(strings.TrimSpace(raw), -1) {
		set, err := parseSet(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidRange, raw, err)
		}
		r.sets = append(r.sets, set)
	}
	return r, nil
}

// IsValidRange reports whether raw parses as a range expression.
func IsValidRange(raw string) bool {
	_, err := ParseRange(raw)
	return err == nil
}

// Matches reports whether version satisfies rng. An invalid version or an
// invalid range never matches.
func Matches(version, rng string) bool {
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	r, err := ParseRange(rng)
	if err != nil {
		return false
	}
	return r.Contains(v)
}

func parseSet(s string) ([]comparator, error) {
	if s == "" {
		return []comparator{anyComparator}, nil
	}

	if m := hyphenRe.FindStringSubmatch(s); m != nil {
		return hyphenRange(m[1], m[2])
	}

	var set []comparator
	for _, tok := range strings.Fields(opSpaceRe.ReplaceAllString(s, "$1")) {
		cs, err := parseSimple(tok)
		if err != nil {
			return nil, err
		}
		set = append(set, cs...)
	}
	return set, nil
}

func parseSimple(tok string) ([]comparator, error) {
	switch {
	case strings.HasPrefix(tok, "~"):
		p, err := parsePartial(strings.TrimPrefix(strings.TrimPrefix(tok, "~"), ">"))
		if err != nil {
			return nil, err
		}
		return tildeRange(p), nil
	case strings.HasPrefix(tok, "^"):
		p, err := parsePartial(strings.TrimPrefix(tok, "^"))
		if err != nil {
			return nil, err
		}
		return caretRange(p), nil
	}

	op, rest := splitOperator(tok)
	p, err := parsePartial(rest)
	if err != nil {
		return nil, err
	}
	return xRange(op, p), nil
}

func splitOperator(tok string) (string, string) {
	for _, op := range []string{"<=", ">=", "<", ">", "="} {
		if strings.HasPrefix(tok, op) {
			return op, tok[len(op):]
		}
	}
	return "", tok
}

// partial is a possibly incomplete version. Wildcards cascade: a wildcard
// major implies wildcard minor and patch.
type partial struct {
	major, minor, patch    uint64
	xMajor, xMinor, xPatch bool
	pre                    string
	full                   *semver.Version
}

func isX(s string) bool {
	return s == "" || s == "x" || s == "X" || s == "*"
}

func parsePartial(s string) (partial, error) {
	m := partialRe.FindStringSubmatch(s)
	if m == nil {
		return partial{}, fmt.Errorf("malformed comparator %q", s)
	}

	var p partial
	p.xMajor = isX(m[1])
	p.xMinor = p.xMajor || isX(m[2])
	p.xPatch = p.xMinor || isX(m[3])

	nums := []*uint64{&p.major, &p.minor, &p.patch}
	for i, n := range nums {
		if isX(m[i+1]) {
			continue
		}
		v, err := parseComponent(m[i+1])
		if err != nil {
			return partial{}, fmt.Errorf("version component %q out of range", m[i+1])
		}
		*n = v
	}

	if !p.xPatch {
		p.pre = m[4]
		p.full = semver.New(p.major, p.minor, p.patch, m[4], m[5])
	}
	return p, nil
}

func gte(major, minor, patch uint64, pre string) comparator {
	return comparator{op: opGTE, ver: newVersion(major, minor, patch, pre)}
}

func lt(major, minor, patch uint64) comparator {
	return comparator{op: opLT, ver: newVersion(major, minor, patch, "0")}
}

func xRange(op string, p partial) []comparator {
	if op == "=" && p.xPatch {
		op = ""
	}

	switch {
	case p.xMajor:
		if op == ">" || op == "<" {
			return []comparator{emptyComparator}
		}
		return []comparator{anyComparator}

	case op != "" && p.xPatch:
		major, minor := p.major, p.minor
		if p.xMinor {
			minor = 0
		}
		switch op {
		case ">":
			op = ">="
			if p.xMinor {
				major++
				minor = 0
			} else {
				minor++
			}
		case "<=":
			op = "<"
			if p.xMinor {
				major++
			} else {
				minor++
			}
		}
		if op == "<" {
			return []comparator{lt(major, minor, 0)}
		}
		return []comparator{{op: operator(op), ver: newVersion(major, minor, 0, "")}}

	case p.xMinor:
		return []comparator{gte(p.major, 0, 0, ""), lt(p.major+1, 0, 0)}

	case p.xPatch:
		return []comparator{gte(p.major, p.minor, 0, ""), lt(p.major, p.minor+1, 0)}
	}

	if op == "=" {
		op = ""
	}
	return []comparator{{op: operator(op), ver: p.full}}
}

func tildeRange(p partial) []comparator {
	switch {
	case p.xMajor:
		return []comparator{anyComparator}
	case p.xMinor:
		return []comparator{gte(p.major, 0, 0, ""), lt(p.major+1, 0, 0)}
	case p.xPatch:
		return []comparator{gte(p.major, p.minor, 0, ""), lt(p.major, p.minor+1, 0)}
	}
	return []comparator{gte(p.major, p.minor, p.patch, p.pre), lt(p.major, p.minor+1, 0)}
}

func caretRange(p partial) []comparator {
	switch {
	case p.xMajor:
		return []comparator{anyComparator}
	case p.xMinor:
		return []comparator{gte(p.major, 0, 0, ""), lt(p.major+1, 0, 0)}
	case p.xPatch:
		if p.major == 0 {
			return []comparator{gte(0, p.minor, 0, ""), lt(0, p.minor+1, 0)}
		}
		return []comparator{gte(p.major, p.minor, 0, ""), lt(p.major+1, 0, 0)}
	}

	lower := gte(p.major, p.minor, p.patch, p.pre)
	switch {
	case p.major == 0 && p.minor == 0:
		return []comparator{lower, lt(0, 0, p.patch+1)}
	case p.major == 0:
		return []comparator{lower, lt(0, p.minor+1, 0)}
	}
	return []comparator{lower, lt(p.major+1, 0, 0)}
}

func hyphenRange(from, to string) ([]comparator, error) {
	f, err := parsePartial(from)
	if err != nil {
		return nil, err
	}
	t, err := parsePartial(to)
	if err != nil {
		return nil, err
	}

	var set []comparator
	switch {
	case f.xMajor:
	case f.xMinor:
		set = append(set, gte(f.major, 0, 0, ""))
	case f.xPatch:
		set = append(set, gte(f.major, f.minor, 0, ""))
	default:
		set = append(set, comparator{op: opGTE, ver: f.full})
	}

	switch {
	case t.xMajor:
	case t.xMinor:
		set = append(set, lt(t.major+1, 0, 0))
	case t.xPatch:
		set = append(set, lt(t.major, t.minor+1, 0))
	default:
		set = append(set, comparator{op: opLTE, ver: t.full})
	}

	if len(set) == 0 {
		set = append(set, anyComparator)
	}
	return set, nil
}
