package graph

import (
	"testing"

	"github.com/raven-os/nest/pkgid"
	"github.com/raven-os/nest/plan"
)

func TestDiffStability(t *testing.T) {
	g := New()
	root := g.RootID()
	rid, _ := g.AddRequirement(root, "shell/dash", mustReq(t, "*"), Static)
	if _, err := g.SetFulfiller(rid, mustID(t, "stable::shell/dash#0.5.9")); err != nil {
		t.Fatal(err)
	}

	p := Diff(g, g)
	if !p.Empty() {
		t.Fatalf("diff(G, G) should be empty, got %d steps", len(p.Steps))
	}
}

func TestDiffSimpleInstall(t *testing.T) {
	current := New()
	scratch := current.Clone()
	root := scratch.RootID()

	rDash, _ := scratch.AddRequirement(root, "shell/dash", mustReq(t, "*"), Static)
	dash := mustID(t, "stable::shell/dash#0.5.9")
	dashNode, err := scratch.SetFulfiller(rDash, dash)
	if err != nil {
		t.Fatal(err)
	}

	rGlibc, _ := scratch.AddRequirement(dashNode, "sys-lib/glibc", mustReq(t, ">=6 <7"), Automatic)
	if _, err := scratch.SetFulfiller(rGlibc, mustID(t, "stable::sys-lib/glibc#6.0.1")); err != nil {
		t.Fatal(err)
	}

	p := Diff(current, scratch)
	if len(p.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d: %+v", len(p.Steps), p.Steps)
	}
	if p.Steps[0].Kind != plan.Install || p.Steps[0].New.CategoryName() != "sys-lib/glibc" {
		t.Fatalf("expected glibc installed first (dependency-before-dependent), got %+v", p.Steps[0])
	}
	if p.Steps[1].Kind != plan.Install || p.Steps[1].New.CategoryName() != "shell/dash" {
		t.Fatalf("expected dash installed second, got %+v", p.Steps[1])
	}
}

func TestDiffUpgradeChainOrdersRemoveLast(t *testing.T) {
	current := New()
	root := current.RootID()
	rDash, _ := current.AddRequirement(root, "shell/dash", mustReq(t, "*"), Static)
	dashNode, _ := current.SetFulfiller(rDash, mustID(t, "stable::shell/dash#0.5.9"))
	rGlibc, _ := current.AddRequirement(dashNode, "sys-lib/glibc", mustReq(t, ">=6 <7"), Automatic)
	current.SetFulfiller(rGlibc, mustID(t, "stable::sys-lib/glibc#6.0.1"))

	scratch := current.Clone()
	// Simulate update(dash): drop its old automatic deps, bump its version,
	// and re-derive the automatic requirement against the new glibc.
	scratchDashNode, _ := scratch.PackageNode("shell/dash")
	if err := scratch.ClearAutomaticRequirements(scratchDashNode.ID); err != nil {
		t.Fatal(err)
	}
	for _, r := range scratch.AllRequirements() {
		if r.Name == "shell/dash" {
			if _, err := scratch.SetFulfiller(r.ID, mustID(t, "stable::shell/dash#1.0.1")); err != nil {
				t.Fatal(err)
			}
		}
	}
	newDashNode, _ := scratch.PackageNode("shell/dash")
	rNewGlibc, _ := scratch.AddRequirement(newDashNode.ID, "sys-lib/glibc", mustReq(t, ">=7.1.0"), Automatic)
	if _, err := scratch.SetFulfiller(rNewGlibc, mustID(t, "stable::sys-lib/glibc#7.1.4")); err != nil {
		t.Fatal(err)
	}

	p := Diff(current, scratch)
	if len(p.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d: %+v", len(p.Steps), p.Steps)
	}
	last := p.Steps[len(p.Steps)-1]
	if last.Kind != plan.Remove || last.Old.CategoryName() != "sys-lib/glibc" {
		t.Fatalf("expected removal of old glibc last, got %+v", last)
	}
	for _, s := range p.Steps[:len(p.Steps)-1] {
		if s.Kind == plan.Remove {
			t.Fatalf("remove step appeared before installs/upgrades: %+v", p.Steps)
		}
	}
}

var _ = pkgid.RootGroup
