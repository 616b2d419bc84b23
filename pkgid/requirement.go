package pkgid

import (
	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// Requirement is a version predicate: "*", an exact version, an inequality,
// or several inequalities joined by commas/spaces (ANDed together), per
// Masterminds/semver's constraint grammar. An implicit major-only term (e.g.
// "7") means "any version of this major", exactly as semver's own partial-
// version expansion already implements.
type Requirement struct {
	raw string
	c   *semver.Constraints
}

// Any is the "*" requirement: admits every version.
func Any() Requirement {
	r, _ := NewRequirement("*")
	return r
}

// NewRequirement parses a textual version predicate.
func NewRequirement(s string) (Requirement, error) {
	if s == "" {
		s = "*"
	}
	c, err := semver.NewConstraint(s)
	if err != nil {
		return Requirement{}, errors.Wrapf(err, "invalid version requirement %q", s)
	}
	return Requirement{raw: s, c: c}, nil
}

// Admits reports whether v satisfies the requirement.
func (r Requirement) Admits(v *Version) bool {
	if v == nil {
		return false
	}
	return r.c.Check(v.sv)
}

// String renders the requirement in its original textual form.
func (r Requirement) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}

// Equal reports whether two requirements were authored with the same
// predicate text. Duplicate-requirement detection (graph.AddRequirement)
// uses this plus target-name equality, per spec.md's "same target +
// predicate" duplicate rule.
func (r Requirement) Equal(o Requirement) bool {
	return r.String() == o.String()
}
