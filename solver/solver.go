// Package solver implements spec §4.3's greedy, latest-first, non-
// backtracking dependency resolution.
//
// Grounded on solver.go's overall shape (a work-queue of unresolved
// requirements consulting a cache-like source through a narrow interface)
// but deliberately not porting solver.go's CDCL backtracking machinery
// (vqs, the unselected priority queue, retry-on-conflict) — spec §4.3 and
// §9 are explicit that this solver is the simpler greedy algorithm with no
// backtracking (see DESIGN.md).
package solver

import (
	"github.com/raven-os/nest/cache"
	"github.com/raven-os/nest/graph"
	"github.com/raven-os/nest/pkgid"
)

// Cache is the narrow view of the package cache the solver needs: query
// candidates for a name, and look up a chosen candidate's manifest to
// discover its own dependencies.
type Cache interface {
	Query(name string, req pkgid.Requirement, reposInOrder []string) ([]pkgid.ID, error)
	Lookup(id pkgid.ID) (*cache.PackageMeta, bool, error)
}

// Solve assigns a fulfiller to every currently-unsolved requirement in g,
// recursively expanding the dependencies of whatever it picks, per spec
// §4.3's five-step algorithm. It mutates g in place and returns the first
// failure encountered; g is left exactly as it stood at the point of
// failure (already-resolved requirements stay resolved — §4.3 does not
// call for undoing partial progress on failure, only for reporting it).
func Solve(g *graph.Graph, c Cache, reposInOrder []string) error {
	queue := g.UnsolvedRequirements()

	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]

		if !req.Unsolved() {
			// Resolved already as a side effect of unifying an earlier
			// requirement onto the same package name.
			continue
		}

		if existing, ok := g.PackageNode(req.Name); ok {
			if !req.Predicate.Admits(existing.Pkg.Version) {
				return &ConflictingConstraintsError{
					Name:      req.Name,
					Existing:  existing.Pkg.String(),
					Predicate: req.Predicate.String(),
				}
			}
			if _, err := g.SetFulfiller(req.ID, existing.Pkg); err != nil {
				return err
			}
			continue
		}

		candidates, err := c.Query(req.Name, req.Predicate, reposInOrder)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return &UnresolvableError{Name: req.Name, Predicate: req.Predicate.String()}
		}

		chosen := candidates[0]
		nodeID, err := g.SetFulfiller(req.ID, chosen)
		if err != nil {
			return err
		}

		meta, ok, err := c.Lookup(chosen)
		if err != nil {
			return err
		}
		if !ok {
			return &UnresolvableError{Name: req.Name, Predicate: req.Predicate.String()}
		}

		for _, dep := range meta.Dependencies {
			rid, err := g.AddRequirement(nodeID, dep.Name, dep.Requirement, graph.Automatic)
			if err != nil {
				return err
			}
			r, _ := g.Requirement(rid)
			queue = append(queue, r)
		}
	}

	return nil
}

// Update implements spec §4.3's update(node): clears every fulfiller
// reachable from node (node itself and whatever its automatic dependency
// subtree resolved to), drops the automatic requirements that induced
// them, then re-runs Solve so the whole subtree is re-derived from
// scratch — picking the latest version satisfying whatever static
// requirements survive, per spec's latest-first rule.
func Update(g *graph.Graph, node graph.NodeID, c Cache, reposInOrder []string) error {
	visited := make(map[graph.NodeID]bool)
	var clearSubtree func(pkg graph.NodeID)
	clearSubtree = func(pkg graph.NodeID) {
		if visited[pkg] {
			return
		}
		visited[pkg] = true
		for _, r := range g.AutomaticRequirementsOf(pkg) {
			if r.Fulfiller != 0 {
				clearSubtree(r.Fulfiller)
			}
		}
		_ = g.ClearAutomaticRequirements(pkg)
	}
	clearSubtree(node)

	for _, r := range g.AllRequirements() {
		if r.Fulfiller == node {
			if err := g.ClearFulfiller(r.ID); err != nil {
				return err
			}
		}
	}

	return Solve(g, c, reposInOrder)
}
