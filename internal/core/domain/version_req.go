package domain

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/zerr"
)

// ErrVersionReq is returned when a version requirement string does not parse.
var ErrVersionReq = zerr.New("invalid version requirement")

// VersionReq is a parsed version requirement. The source syntax follows the
// registry convention where a bare version means caret compatibility:
// "1.2.3" accepts anything >=1.2.3 and <2.0.0. Tilde, wildcard, comparison
// operators and comma-separated conjunctions are supported.
type VersionReq struct {
	raw        string
	constraint *semver.Constraints
	any        bool
}

// NewVersionReq parses a requirement string.
func NewVersionReq(raw string) (VersionReq, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "*" {
		return VersionReq{raw: "*", any: true}, nil
	}
	parts := strings.Split(trimmed, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return VersionReq{}, zerr.With(ErrVersionReq, "req", raw)
		}
		normalized = append(normalized, normalizeComparator(part))
	}
	c, err := semver.NewConstraint(strings.Join(normalized, ", "))
	if err != nil {
		return VersionReq{}, zerr.With(zerr.Wrap(err, ErrVersionReq.Error()), "req", raw)
	}
	return VersionReq{raw: trimmed, constraint: c}, nil
}

// MustVersionReq is a NewVersionReq that panics on error, for literals in
// tests and defaults.
func MustVersionReq(raw string) VersionReq {
	req, err := NewVersionReq(raw)
	if err != nil {
		panic(err)
	}
	return req
}

// ExactVersionReq returns a requirement matching only v.
func ExactVersionReq(v *semver.Version) VersionReq {
	req, err := NewVersionReq("=" + v.String())
	if err != nil {
		panic(err)
	}
	return req
}

// AnyVersionReq returns the requirement matching every version.
func AnyVersionReq() VersionReq {
	return VersionReq{raw: "*", any: true}
}

// normalizeComparator maps a single registry-style comparator onto the
// constraint syntax understood by the semver package. A bare version gets a
// caret prefix; everything else passes through unchanged.
func normalizeComparator(part string) string {
	switch part[0] {
	case '^', '~', '>', '<', '=':
		return part
	}
	if strings.ContainsAny(part, "*x") {
		// Wildcard comparators like 1.* already mean a range.
		return part
	}
	return "^" + part
}

// Matches reports whether v satisfies the requirement.
func (r VersionReq) Matches(v *semver.Version) bool {
	if r.any {
		return true
	}
	if r.constraint == nil {
		return false
	}
	return r.constraint.Check(v)
}

// IsAny reports whether the requirement accepts every version.
func (r VersionReq) IsAny() bool {
	return r.any
}

// String returns the requirement in its source syntax.
func (r VersionReq) String() string {
	return r.raw
}

// MarshalText implements encoding.TextMarshaler.
func (r VersionReq) MarshalText() ([]byte, error) {
	return []byte(r.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *VersionReq) UnmarshalText(text []byte) error {
	req, err := NewVersionReq(string(text))
	if err != nil {
		return err
	}
	*r = req
	return nil
}
