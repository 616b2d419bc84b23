package graph

import (
	"sort"

	"github.com/raven-os/nest/plan"
)

// Diff computes the transaction plan that turns current into scratch, per
// spec.md §4.2's ordering rules. Install/Upgrade/Downgrade steps are emitted
// first, in reverse-topological order of the *new* (scratch) graph so every
// step leaves each installed package's own dependencies already present;
// Remove steps follow, leaves-first against the *old* (current) graph, so a
// package is removed only once every former dependent has already been
// removed or upgraded off it. This ordering — changes before removals —
// matches spec.md's own worked example (§8 scenario 2) even though its
// numbered rule list names Remove first; the worked example is taken as
// authoritative (see DESIGN.md).
//
// Ties within one topological level are broken alphabetically on the
// fully-qualified package id, per rule 3.
func Diff(current, scratch *Graph) *plan.Plan {
	type change struct {
		name string
		old  *Node // nil if newly installed
		new  *Node // nil if being removed outright
	}

	byName := make(map[string]*change)
	for _, n := range current.Packages() {
		byName[n.Pkg.CategoryName()] = &change{name: n.Pkg.CategoryName(), old: n}
	}
	for _, n := range scratch.Packages() {
		c, ok := byName[n.Pkg.CategoryName()]
		if !ok {
			c = &change{name: n.Pkg.CategoryName()}
			byName[n.Pkg.CategoryName()] = c
		}
		c.new = n
	}

	var toInstall []NodeID  // ids in scratch
	var toRemove []NodeID   // ids in current
	steps := make(map[NodeID]plan.Step)

	for _, c := range byName {
		switch {
		case c.old == nil:
			toInstall = append(toInstall, c.new.ID)
			steps[c.new.ID] = plan.Step{Kind: plan.Install, New: c.new.Pkg}
		case c.new == nil:
			toRemove = append(toRemove, c.old.ID)
			steps[c.old.ID] = plan.Step{Kind: plan.Remove, Old: c.old.Pkg}
		case c.old.Pkg.String() != c.new.Pkg.String():
			toInstall = append(toInstall, c.new.ID)
			kind := plan.Upgrade
			if c.new.Pkg.Version.Compare(c.old.Pkg.Version) < 0 {
				kind = plan.Downgrade
			}
			steps[c.new.ID] = plan.Step{Kind: kind, Old: c.old.Pkg, New: c.new.Pkg}
		}
		// unchanged: no step.
	}

	installOrder := kahn(toInstall, func(n NodeID) []NodeID {
		return dependencyTargets(scratch, n, members(toInstall))
	}, func(n NodeID) string { return nodePkgID(scratch, n) })

	removeOrder := kahn(toRemove, func(n NodeID) []NodeID {
		return dependents(current, n, members(toRemove))
	}, func(n NodeID) string { return nodePkgID(current, n) })

	p := &plan.Plan{}
	for _, id := range installOrder {
		p.Steps = append(p.Steps, steps[id])
	}
	for _, id := range removeOrder {
		p.Steps = append(p.Steps, steps[id])
	}
	return p
}

func nodePkgID(g *Graph, id NodeID) string {
	n, _ := g.Node(id)
	return n.Pkg.String()
}

func members(ids []NodeID) map[NodeID]struct{} {
	m := make(map[NodeID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// dependencyTargets returns the package nodes n (in g) automatically depends
// on, restricted to set.
func dependencyTargets(g *Graph, n NodeID, set map[NodeID]struct{}) []NodeID {
	var out []NodeID
	for _, r := range g.AutomaticRequirementsOf(n) {
		if r.Fulfiller == 0 {
			continue
		}
		if _, ok := set[r.Fulfiller]; ok {
			out = append(out, r.Fulfiller)
		}
	}
	return out
}

// dependents returns the package nodes in g that automatically depend on n,
// restricted to set.
func dependents(g *Graph, n NodeID, set map[NodeID]struct{}) []NodeID {
	var out []NodeID
	for candidate := range set {
		for _, r := range g.AutomaticRequirementsOf(candidate) {
			if r.Fulfiller == n {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// kahn performs a level-wise topological sort over nodes: prereqs(n) must
// all have been emitted before n is eligible. Within one level (all nodes
// that became eligible in the same round), ties are broken by key(n).
func kahn(nodes []NodeID, prereqs func(NodeID) []NodeID, key func(NodeID) string) []NodeID {
	set := members(nodes)
	inDegree := make(map[NodeID]int, len(nodes))
	successors := make(map[NodeID][]NodeID)

	for _, n := range nodes {
		pre := prereqs(n)
		inDegree[n] = len(pre)
		for _, p := range pre {
			successors[p] = append(successors[p], n)
		}
	}

	var ready []NodeID
	for _, n := range nodes {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	var out []NodeID
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return key(ready[i]) < key(ready[j]) })
		out = append(out, ready...)

		var next []NodeID
		for _, n := range ready {
			for _, s := range successors[n] {
				if _, ok := set[s]; !ok {
					continue
				}
				inDegree[s]--
				if inDegree[s] == 0 {
					next = append(next, s)
				}
			}
		}
		ready = next
	}
	return out
}
