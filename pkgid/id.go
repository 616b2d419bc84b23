// Package pkgid defines the identifiers that flow through the rest of the
// core: fully-qualified package ids, group names, and version requirements.
//
// The on-the-wire grammar for a fully-qualified id is
//
//	repo '::' category '/' name '#' version
//
// e.g. "stable::sys-devel/gcc#8.1.1". A `@`-prefixed string denotes a group
// identifier instead (e.g. "@root", "@project").
package pkgid

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// ID is a fully-qualified package identifier: repo::category/name#version.
type ID struct {
	Repo     string
	Category string
	Name     string
	Version  *Version
}

// String renders the canonical wire form of id.
func (id ID) String() string {
	return fmt.Sprintf("%s::%s/%s#%s", id.Repo, id.Category, id.Name, id.Version)
}

// FullName is the repo-qualified, version-less name: repo::category/name.
func (id ID) FullName() string {
	return fmt.Sprintf("%s::%s/%s", id.Repo, id.Category, id.Name)
}

// CategoryName is category/name, with no repo or version.
func (id ID) CategoryName() string {
	return fmt.Sprintf("%s/%s", id.Category, id.Name)
}

// Parse parses the canonical "repo::category/name#version" grammar.
func Parse(s string) (ID, error) {
	repo, rest, ok := strings.Cut(s, "::")
	if !ok {
		return ID{}, errors.Errorf("malformed package id %q: missing '::' repo separator", s)
	}

	catname, vers, ok := strings.Cut(rest, "#")
	if !ok {
		return ID{}, errors.Errorf("malformed package id %q: missing '#' version separator", s)
	}

	cat, name, ok := strings.Cut(catname, "/")
	if !ok {
		return ID{}, errors.Errorf("malformed package id %q: missing '/' category separator", s)
	}

	v, err := NewVersion(vers)
	if err != nil {
		return ID{}, errors.Wrapf(err, "malformed package id %q", s)
	}

	return ID{Repo: repo, Category: cat, Name: name, Version: v}, nil
}

// IsGroup reports whether s names a group (starts with '@') rather than a
// concrete package.
func IsGroup(s string) bool {
	return strings.HasPrefix(s, "@")
}

// RootGroup is the distinguished top-level group every graph contains.
const RootGroup = "@root"

// Version wraps a parsed semantic version, per spec.md's MAJOR.MINOR.PATCH
// requirement.
type Version struct {
	sv *semver.Version
}

// NewVersion parses a semver string.
func NewVersion(s string) (*Version, error) {
	sv, err := semver.NewVersion(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid version %q", s)
	}
	return &Version{sv: sv}, nil
}

func (v *Version) String() string {
	if v == nil {
		return ""
	}
	return v.sv.String()
}

// Compare returns -1, 0 or 1 as v is smaller, equal to, or larger than o.
func (v *Version) Compare(o *Version) int {
	return v.sv.Compare(o.sv)
}

// Equal reports whether v and o denote the same version.
func (v *Version) Equal(o *Version) bool {
	return v.Compare(o) == 0
}
