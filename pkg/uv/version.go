package uv

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed package version: dotted numeric release segments plus
// a flag for pre-release, dev and post-release markers. This covers the
// versions published on package indexes well enough for ordering and
// specifier checks; exotic forms (epochs, local versions) parse but only
// their release segments participate in comparison.
type Version struct {
	Release []int
	Final   bool

	raw string
}

// ParseVersion parses a version string.
func ParseVersion(s string) (Version, error) {
	raw := s
	s = strings.TrimSpace(strings.TrimPrefix(s, "v"))
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}
	// Drop an epoch and a local version segment.
	if i := strings.IndexByte(s, '!'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}

	v := Version{Final: true, raw: raw}
	for _, part := range strings.Split(s, ".") {
		n, rest := leadingDigits(part)
		if n == "" {
			// A non-numeric segment like "rc1" or "post0".
			v.Final = false
			break
		}
		seg, err := strconv.Atoi(n)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", raw, err)
		}
		v.Release = append(v.Release, seg)
		if rest != "" {
			// Attached suffix like "1rc2" or a separator like "1-beta".
			v.Final = false
			break
		}
	}
	if len(v.Release) == 0 {
		return Version{}, fmt.Errorf("invalid version %q", raw)
	}
	return v, nil
}

func leadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}

// String returns the original version string.
func (v Version) String() string { return v.raw }

// Compare orders two versions by their release segments, shorter releases
// padded with zeros. It returns -1, 0 or 1.
func (v Version) Compare(other Version) int {
	n := len(v.Release)
	if len(other.Release) > n {
		n = len(other.Release)
	}
	for i := 0; i < n; i++ {
		a, b := 0, 0
		if i < len(v.Release) {
			a = v.Release[i]
		}
		if i < len(other.Release) {
			b = other.Release[i]
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

type specifierOp string

const (
	opEq        specifierOp = "=="
	opNe        specifierOp = "!="
	opGe        specifierOp = ">="
	opLe        specifierOp = "<="
	opGt        specifierOp = ">"
	opLt        specifierOp = "<"
	opCompat    specifierOp = "~="
	opArbitrary specifierOp = "==="
)

type specifier struct {
	op      specifierOp
	operand string
	version Version
	// prefix is set for "==1.2.*" style clauses.
	prefix bool
}

// SpecifierSet is a comma-separated list of version specifier clauses, e.g.
// ">=0.4,<0.6". A version matches the set when it matches every clause.
type SpecifierSet struct {
	clauses []specifier
}

// ParseSpecifierSet parses a specifier string. An empty string yields a set
// every version matches.
func ParseSpecifierSet(s string) (SpecifierSet, error) {
	var set SpecifierSet
	for _, clause := range strings.Split(s, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		spec, err := parseSpecifier(clause)
		if err != nil {
			return SpecifierSet{}, err
		}
		set.clauses = append(set.clauses, spec)
	}
	return set, nil
}

func parseSpecifier(clause string) (specifier, error) {
	var op specifierOp
	for _, candidate := range []specifierOp{opArbitrary, opEq, opNe, opGe, opLe, opCompat, opGt, opLt} {
		if strings.HasPrefix(clause, string(candidate)) {
			op = candidate
			break
		}
	}
	if op == "" {
		return specifier{}, fmt.Errorf("invalid specifier %q: missing operator", clause)
	}
	operand := strings.TrimSpace(clause[len(op):])
	if operand == "" {
		return specifier{}, fmt.Errorf("invalid specifier %q: missing version", clause)
	}

	spec := specifier{op: op, operand: operand}
	if op == opArbitrary {
		return spec, nil
	}
	if (op == opEq || op == opNe) && strings.HasSuffix(operand, ".*") {
		spec.prefix = true
		operand = strings.TrimSuffix(operand, ".*")
	}
	version, err := ParseVersion(operand)
	if err != nil {
		return specifier{}, fmt.Errorf("invalid specifier %q: %w", clause, err)
	}
	spec.version = version
	return spec, nil
}

// Matches reports whether the version satisfies every clause in the set.
func (s SpecifierSet) Matches(v Version) bool {
	for _, clause := range s.clauses {
		if !clause.matches(v) {
			return false
		}
	}
	return true
}

func (c specifier) matches(v Version) bool {
	switch c.op {
	case opArbitrary:
		return v.raw == c.operand
	case opEq:
		if c.prefix {
			return c.prefixMatch(v)
		}
		return v.Compare(c.version) == 0
	case opNe:
		if c.prefix {
			return !c.prefixMatch(v)
		}
		return v.Compare(c.version) != 0
	case opGe:
		return v.Compare(c.version) >= 0
	case opLe:
		return v.Compare(c.version) <= 0
	case opGt:
		return v.Compare(c.version) > 0
	case opLt:
		return v.Compare(c.version) < 0
	case opCompat:
		// ~=1.4.2 means >=1.4.2,==1.4.*
		if v.Compare(c.version) < 0 {
			return false
		}
		if len(c.version.Release) < 2 {
			return true
		}
		trunc := Version{Release: c.version.Release[:len(c.version.Release)-1]}
		return specifier{op: opEq, version: trunc, prefix: true}.prefixMatch(v)
	}
	return false
}

func (c specifier) prefixMatch(v Version) bool {
	want := c.version.Release
	if len(v.Release) < len(want) {
		padded := make([]int, len(want))
		copy(padded, v.Release)
		return intsEqual(padded[:len(want)], want)
	}
	return intsEqual(v.Release[:len(want)], want)
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
