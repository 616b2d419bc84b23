package solver

import (
	"testing"

	"github.com/raven-os/nest/cache"
	"github.com/raven-os/nest/graph"
	"github.com/raven-os/nest/pkgid"
)

// fakeCache is a minimal in-memory stand-in for *cache.Cache, seeded
// directly with metadata, so the solver can be tested without bolt or a
// fetcher.
type fakeCache struct {
	byName map[string][]cache.PackageMeta // category/name -> versions, any order
}

func newFakeCache() *fakeCache {
	return &fakeCache{byName: make(map[string][]cache.PackageMeta)}
}

func (f *fakeCache) add(rawID string, deps ...cache.Dependency) pkgid.ID {
	id, err := pkgid.Parse(rawID)
	if err != nil {
		panic(err)
	}
	f.byName[id.CategoryName()] = append(f.byName[id.CategoryName()], cache.PackageMeta{
		ID:           id,
		Dependencies: deps,
	})
	return id
}

func dep(name, req string) cache.Dependency {
	r, err := pkgid.NewRequirement(req)
	if err != nil {
		panic(err)
	}
	return cache.Dependency{Name: name, Requirement: r}
}

func (f *fakeCache) Query(name string, req pkgid.Requirement, _ []string) ([]pkgid.ID, error) {
	var out []pkgid.ID
	for _, m := range f.byName[name] {
		if req.Admits(m.ID.Version) {
			out = append(out, m.ID)
		}
	}
	// descending version order, matching cache.Cache.Query's contract
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Version.Compare(out[i].Version) > 0 {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeCache) Lookup(id pkgid.ID) (*cache.PackageMeta, bool, error) {
	for _, m := range f.byName[id.CategoryName()] {
		if m.ID.String() == id.String() {
			cp := m
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func mustReq(t *testing.T, s string) pkgid.Requirement {
	t.Helper()
	r, err := pkgid.NewRequirement(s)
	if err != nil {
		t.Fatalf("NewRequirement(%q): %v", s, err)
	}
	return r
}

func TestSolveSimpleChain(t *testing.T) {
	c := newFakeCache()
	c.add("stable::sys-lib/glibc#6.0.1")
	c.add("stable::shell/dash#0.5.9", dep("sys-lib/glibc", ">=6 <7"))

	g := graph.New()
	root := g.RootID()
	if _, err := g.AddRequirement(root, "shell/dash", mustReq(t, "*"), graph.Static); err != nil {
		t.Fatal(err)
	}

	if err := Solve(g, c, []string{"stable"}); err != nil {
		t.Fatal(err)
	}

	dash, ok := g.PackageNode("shell/dash")
	if !ok || dash.Pkg.Version.String() != "0.5.9" {
		t.Fatalf("expected dash#0.5.9 resolved, got %+v ok=%v", dash, ok)
	}
	glibc, ok := g.PackageNode("sys-lib/glibc")
	if !ok || glibc.Pkg.Version.String() != "6.0.1" {
		t.Fatalf("expected glibc#6.0.1 resolved as automatic dependency, got %+v ok=%v", glibc, ok)
	}
}

func TestSolvePicksLatestCandidate(t *testing.T) {
	c := newFakeCache()
	c.add("stable::sys-devel/gcc#7.0.0")
	c.add("stable::sys-devel/gcc#8.1.1")

	g := graph.New()
	root := g.RootID()
	g.AddRequirement(root, "sys-devel/gcc", mustReq(t, "*"), graph.Static)

	if err := Solve(g, c, []string{"stable"}); err != nil {
		t.Fatal(err)
	}
	n, _ := g.PackageNode("sys-devel/gcc")
	if n.Pkg.Version.String() != "8.1.1" {
		t.Fatalf("expected latest version 8.1.1 picked, got %s", n.Pkg.Version)
	}
}

func TestSolveUnresolvable(t *testing.T) {
	c := newFakeCache()
	g := graph.New()
	root := g.RootID()
	g.AddRequirement(root, "sys-devel/gcc", mustReq(t, ">=8"), graph.Static)

	err := Solve(g, c, []string{"stable"})
	if _, ok := err.(*UnresolvableError); !ok {
		t.Fatalf("expected UnresolvableError, got %T: %v", err, err)
	}
}

func TestSolveConflictingConstraints(t *testing.T) {
	// @root requires x#>=2 and y#*; y transitively requires x#<2.
	c := newFakeCache()
	c.add("stable::cat/x#1.0.0")
	c.add("stable::cat/x#2.0.0")
	c.add("stable::cat/y#1.0.0", dep("cat/x", "<2"))

	g := graph.New()
	root := g.RootID()
	g.AddRequirement(root, "cat/x", mustReq(t, ">=2"), graph.Static)
	g.AddRequirement(root, "cat/y", mustReq(t, "*"), graph.Static)

	err := Solve(g, c, []string{"stable"})
	if _, ok := err.(*ConflictingConstraintsError); !ok {
		t.Fatalf("expected ConflictingConstraintsError, got %T: %v", err, err)
	}
}

func TestUpdateRederivesSubtree(t *testing.T) {
	c := newFakeCache()
	c.add("stable::sys-lib/glibc#6.0.1")
	c.add("stable::shell/dash#0.5.9", dep("sys-lib/glibc", ">=6 <7"))

	g := graph.New()
	root := g.RootID()
	g.AddRequirement(root, "shell/dash", mustReq(t, "*"), graph.Static)
	if err := Solve(g, c, []string{"stable"}); err != nil {
		t.Fatal(err)
	}
	dashNode, _ := g.PackageNode("shell/dash")
	if dashNode.Pkg.Version.String() != "0.5.9" {
		t.Fatalf("expected initial pin to 0.5.9, got %s", dashNode.Pkg.Version)
	}

	// A newer dash (and the glibc it needs) becomes available; update()
	// should clear the whole old subtree and re-derive it against the
	// newer candidates.
	c.add("stable::sys-lib/glibc#7.1.4")
	c.add("stable::shell/dash#1.0.1", dep("sys-lib/glibc", ">=7.1.0"))

	if err := Update(g, dashNode.ID, c, []string{"stable"}); err != nil {
		t.Fatal(err)
	}

	newDash, ok := g.PackageNode("shell/dash")
	if !ok || newDash.Pkg.Version.String() != "1.0.1" {
		t.Fatalf("expected dash upgraded to 1.0.1, got %+v ok=%v", newDash, ok)
	}
	glibc, ok := g.PackageNode("sys-lib/glibc")
	if !ok || glibc.Pkg.Version.String() != "7.1.4" {
		t.Fatalf("expected glibc re-derived to 7.1.4, got %+v ok=%v", glibc, ok)
	}
}
