package graph

import (
	"testing"

	"github.com/raven-os/nest/pkgid"
)

func mustID(t *testing.T, s string) pkgid.ID {
	t.Helper()
	id, err := pkgid.Parse(s)
	if err != nil {
		t.Fatalf("pkgid.Parse(%q): %v", s, err)
	}
	return id
}

func mustReq(t *testing.T, s string) pkgid.Requirement {
	t.Helper()
	r, err := pkgid.NewRequirement(s)
	if err != nil {
		t.Fatalf("NewRequirement(%q): %v", s, err)
	}
	return r
}

func TestNewGraphHasRoot(t *testing.T) {
	g := New()
	root, ok := g.Group(pkgid.RootGroup)
	if !ok {
		t.Fatal("expected @root to exist")
	}
	if root.Parent != 0 {
		t.Fatal("@root must have no parent")
	}
}

func TestAddRequirementRejectsDuplicates(t *testing.T) {
	g := New()
	root := g.RootID()
	req := mustReq(t, ">=7")
	if _, err := g.AddRequirement(root, "sys-devel/gcc", req, Static); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddRequirement(root, "sys-devel/gcc", req, Static); err == nil {
		t.Fatal("expected duplicate requirement to be rejected")
	}
}

func TestSetFulfillerRequiresSatisfaction(t *testing.T) {
	g := New()
	root := g.RootID()
	rid, _ := g.AddRequirement(root, "sys-devel/gcc", mustReq(t, ">=8"), Static)
	if _, err := g.SetFulfiller(rid, mustID(t, "stable::sys-devel/gcc#7.0.0")); err == nil {
		t.Fatal("expected fulfiller not satisfying predicate to be rejected")
	}
	if _, err := g.SetFulfiller(rid, mustID(t, "stable::sys-devel/gcc#8.1.1")); err != nil {
		t.Fatal(err)
	}
}

func TestSetFulfillerConflictingConstraints(t *testing.T) {
	g := New()
	root := g.RootID()
	r1, _ := g.AddRequirement(root, "sys-lib/glibc", mustReq(t, ">=7"), Static)
	r2, _ := g.AddRequirement(root, "sys-lib/glibc", mustReq(t, "<7"), Static)
	if _, err := g.SetFulfiller(r1, mustID(t, "stable::sys-lib/glibc#7.1.4")); err != nil {
		t.Fatal(err)
	}
	if _, err := g.SetFulfiller(r2, mustID(t, "stable::sys-lib/glibc#6.0.1")); err == nil {
		t.Fatal("expected conflicting-constraints failure")
	}
}

func TestRemoveRequirementCascadesOrphanedFulfiller(t *testing.T) {
	g := New()
	root := g.RootID()
	rid, _ := g.AddRequirement(root, "shell/dash", mustReq(t, "*"), Static)
	dash := mustID(t, "stable::shell/dash#0.5.9")
	pkgNode, err := g.SetFulfiller(rid, dash)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Node(pkgNode); !ok {
		t.Fatal("expected dash node to exist")
	}

	if err := g.RemoveRequirement(rid); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.PackageNode("shell/dash"); ok {
		t.Fatal("expected orphaned dash package node to be pruned")
	}
}

func TestRemoveRequirementKeepsStaticallyRequiredPackage(t *testing.T) {
	g := New()
	root := g.RootID()
	rAuto, _ := g.AddRequirement(root, "sys-lib/glibc", mustReq(t, "*"), Automatic)
	rStatic, _ := g.AddRequirement(root, "sys-lib/glibc", mustReq(t, ">=6"), Static)

	glibc := mustID(t, "stable::sys-lib/glibc#6.0.1")
	if _, err := g.SetFulfiller(rAuto, glibc); err != nil {
		t.Fatal(err)
	}
	if _, err := g.SetFulfiller(rStatic, glibc); err != nil {
		t.Fatal(err)
	}

	if err := g.RemoveRequirement(rAuto); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.PackageNode("sys-lib/glibc"); !ok {
		t.Fatal("glibc should survive: still statically required")
	}
}

func TestDeleteGroupRefusesNonEmptyWithoutForce(t *testing.T) {
	g := New()
	if err := g.CreateGroup("@proj", pkgid.RootGroup); err != nil {
		t.Fatal(err)
	}
	proj, _ := g.Group("@proj")
	if _, err := g.AddRequirement(proj.ID, "shell/dash", mustReq(t, "*"), Static); err != nil {
		t.Fatal(err)
	}

	if err := g.DeleteGroup("@proj", false); err == nil {
		t.Fatal("expected refusal to delete non-empty group without force")
	}
	if err := g.DeleteGroup("@proj", true); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Group("@proj"); ok {
		t.Fatal("expected @proj to be gone")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	g := New()
	scratch := g.Clone()
	root := scratch.RootID()
	if _, err := scratch.AddRequirement(root, "shell/dash", mustReq(t, "*"), Static); err != nil {
		t.Fatal(err)
	}
	rootNode, _ := g.Group(pkgid.RootGroup)
	if len(rootNode.Requirements) != 0 {
		t.Fatal("mutating the clone must not affect the original")
	}
}
