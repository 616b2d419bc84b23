// Package graph implements the in-memory dependency graph of spec.md §4.2:
// group and package nodes, version-constrained requirement edges, and the
// fulfiller relationship between a requirement and the single package that
// satisfies it.
//
// Nodes and requirements live in arena maps keyed by stable integer ids
// (NodeID/RequirementID) rather than as a web of pointers, following the
// indirection gps itself uses internally (atoms referenced by id through a
// sourceBridge) — this is what makes Clone (the scratch-graph copy) and Diff
// cheap and simple: copy the maps, no pointer-cycle surgery required.
package graph

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/raven-os/nest/pkgid"
)

// NodeID identifies a node (group or package) in a Graph. The zero value
// never refers to a real node.
type NodeID int

// RequirementID identifies a requirement edge in a Graph. The zero value
// never refers to a real requirement.
type RequirementID int

// NodeKind distinguishes group nodes from package nodes.
type NodeKind uint8

const (
	// Group is an `@`-prefixed container of requirements.
	Group NodeKind = iota
	// Package is a concrete repo::category/name#version.
	Package
)

// Kind tags a requirement edge as user-authored or induced by a dependency.
type Kind uint8

const (
	// Static requirements are authored by the user and never removed
	// implicitly.
	Static Kind = iota
	// Automatic requirements are induced by a package's declared
	// dependencies; they are owned by their requirer and vanish with it.
	Automatic
)

func (k Kind) String() string {
	if k == Static {
		return "static"
	}
	return "automatic"
}

// Node is either a group or a package. Requirements holds the ordered list
// of requirement edges this node owns: for a Group that is its authored
// child requirements; for a Package it is the automatic requirements induced
// by that package's declared dependencies.
type Node struct {
	ID           NodeID
	Kind         NodeKind
	Name         string // group name, e.g. "@root"; empty for packages
	Parent       NodeID // parent group; zero for @root and for packages
	Requirements []RequirementID
	Pkg          pkgid.ID // populated only for Kind == Package
}

// Requirement is an edge from a requirer node to a named, version-
// constrained target, optionally resolved to a Fulfiller package node.
type Requirement struct {
	ID        RequirementID
	Requirer  NodeID
	Kind      Kind
	Name      string // unqualified target, e.g. "sys-devel/gcc"
	Predicate pkgid.Requirement
	Fulfiller NodeID // zero if unsolved
}

// Unsolved reports whether the requirement currently has no fulfiller.
func (r *Requirement) Unsolved() bool {
	return r.Fulfiller == 0
}

// Graph is the full, mutable dependency graph: a set of nodes, the
// requirement edges between them, and the fulfiller assignments.
type Graph struct {
	nodes map[NodeID]*Node
	reqs  map[RequirementID]*Requirement

	nextNode NodeID
	nextReq  RequirementID

	groupByName map[string]NodeID
	pkgByName   map[string]NodeID // category/name -> the one package node of that name

	// fulfilledBy is the reverse index of Fulfiller: which requirements
	// currently resolve to a given package node. Used to decide whether a
	// package node has become unreachable and should be pruned.
	fulfilledBy map[NodeID]map[RequirementID]struct{}
}

// New returns a fresh graph containing only the distinguished @root group
// (invariant 1 of spec.md §3).
func New() *Graph {
	g := &Graph{
		nodes:       make(map[NodeID]*Node),
		reqs:        make(map[RequirementID]*Requirement),
		groupByName: make(map[string]NodeID),
		pkgByName:   make(map[string]NodeID),
		fulfilledBy: make(map[NodeID]map[RequirementID]struct{}),
	}
	g.nextNode = 1
	g.nextReq = 1
	root := &Node{ID: g.nextNode, Kind: Group, Name: pkgid.RootGroup}
	g.nodes[root.ID] = root
	g.groupByName[root.Name] = root.ID
	g.nextNode++
	return g
}

// Clone deep-copies g, producing an independent scratch graph per spec.md's
// "scratch vs. current" lifecycle (§3, §9): mutations to the clone never
// affect the receiver until an explicit merge.
func (g *Graph) Clone() *Graph {
	ng := &Graph{
		nodes:       make(map[NodeID]*Node, len(g.nodes)),
		reqs:        make(map[RequirementID]*Requirement, len(g.reqs)),
		groupByName: make(map[string]NodeID, len(g.groupByName)),
		pkgByName:   make(map[string]NodeID, len(g.pkgByName)),
		fulfilledBy: make(map[NodeID]map[RequirementID]struct{}, len(g.fulfilledBy)),
		nextNode:    g.nextNode,
		nextReq:     g.nextReq,
	}
	for id, n := range g.nodes {
		cn := *n
		cn.Requirements = append([]RequirementID(nil), n.Requirements...)
		ng.nodes[id] = &cn
	}
	for id, r := range g.reqs {
		cr := *r
		ng.reqs[id] = &cr
	}
	for k, v := range g.groupByName {
		ng.groupByName[k] = v
	}
	for k, v := range g.pkgByName {
		ng.pkgByName[k] = v
	}
	for k, v := range g.fulfilledBy {
		m := make(map[RequirementID]struct{}, len(v))
		for rid := range v {
			m[rid] = struct{}{}
		}
		ng.fulfilledBy[k] = m
	}
	return ng
}

// RootID returns the id of @root.
func (g *Graph) RootID() NodeID {
	return g.groupByName[pkgid.RootGroup]
}

// Node looks up a node by id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Group looks up a group node by name (including "@root").
func (g *Graph) Group(name string) (*Node, bool) {
	id, ok := g.groupByName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// PackageNode looks up the single package node currently present in the
// graph for an unqualified name (category/name), if any.
func (g *Graph) PackageNode(name string) (*Node, bool) {
	id, ok := g.pkgByName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// Requirement looks up a requirement edge by id.
func (g *Graph) Requirement(id RequirementID) (*Requirement, bool) {
	r, ok := g.reqs[id]
	return r, ok
}

// Packages returns every package node in the graph, sorted by full id for
// deterministic iteration.
func (g *Graph) Packages() []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Kind == Package {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pkg.String() < out[j].Pkg.String() })
	return out
}

// UnsolvedRequirements returns every requirement with no fulfiller yet,
// sorted by id for deterministic solver seeding.
func (g *Graph) UnsolvedRequirements() []*Requirement {
	var out []*Requirement
	for _, r := range g.reqs {
		if r.Unsolved() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllRequirements returns every requirement edge, sorted by id.
func (g *Graph) AllRequirements() []*Requirement {
	var out []*Requirement
	for _, r := range g.reqs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateGroup adds a new group node named name, parented under parent.
func (g *Graph) CreateGroup(name, parent string) error {
	if !pkgid.IsGroup(name) {
		return errors.Errorf("group name %q must start with '@'", name)
	}
	if _, exists := g.groupByName[name]; exists {
		return errors.Errorf("group %q already exists", name)
	}
	pid, ok := g.groupByName[parent]
	if !ok {
		return errors.Errorf("parent group %q does not exist", parent)
	}

	id := g.nextNode
	g.nextNode++
	g.nodes[id] = &Node{ID: id, Kind: Group, Name: name, Parent: pid}
	g.groupByName[name] = id
	return nil
}

// DeleteGroup removes a group. A non-empty group (one with requirements, or
// with child groups) is refused unless force is set, in which case its
// requirements and child groups are removed recursively.
func (g *Graph) DeleteGroup(name string, force bool) error {
	if name == pkgid.RootGroup {
		return errors.New("cannot delete @root")
	}
	id, ok := g.groupByName[name]
	if !ok {
		return errors.Errorf("group %q does not exist", name)
	}
	n := g.nodes[id]

	children := g.childGroups(id)
	if (len(n.Requirements) > 0 || len(children) > 0) && !force {
		return errors.Errorf("group %q is not empty (use force)", name)
	}

	for _, cg := range children {
		if err := g.DeleteGroup(cg.Name, true); err != nil {
			return err
		}
	}
	// n.Requirements mutates as RemoveRequirement splices it, so iterate a
	// stable copy.
	for _, rid := range append([]RequirementID(nil), n.Requirements...) {
		if err := g.RemoveRequirement(rid); err != nil {
			return err
		}
	}

	delete(g.nodes, id)
	delete(g.groupByName, name)
	return nil
}

func (g *Graph) childGroups(parent NodeID) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Kind == Group && n.Parent == parent {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddRequirement appends a new requirement edge owned by requirer (a group
// or, for automatic requirements, a package node), targeting name under
// predicate. Duplicates (same target name + predicate text already present
// on this requirer) are rejected, per spec.md §4.2.
func (g *Graph) AddRequirement(requirer NodeID, name string, predicate pkgid.Requirement, kind Kind) (RequirementID, error) {
	owner, ok := g.nodes[requirer]
	if !ok {
		return 0, errors.Errorf("requirer node %d does not exist", requirer)
	}

	for _, rid := range owner.Requirements {
		r := g.reqs[rid]
		if r.Name == name && r.Predicate.Equal(predicate) {
			return 0, errors.Errorf("duplicate requirement %s%s on %s", name, predicate, describeNode(owner))
		}
	}

	id := g.nextReq
	g.nextReq++
	req := &Requirement{ID: id, Requirer: requirer, Kind: kind, Name: name, Predicate: predicate}
	g.reqs[id] = req
	owner.Requirements = append(owner.Requirements, id)
	return id, nil
}

func describeNode(n *Node) string {
	if n.Kind == Group {
		return n.Name
	}
	return n.Pkg.String()
}

// RemoveRequirement detaches req from its owner, clears its fulfiller, and
// cascades: if the fulfiller is left with no other incoming fulfillment edge
// and is not the target of any remaining static requirement, it is removed
// recursively (its own automatic requirements are removed the same way).
func (g *Graph) RemoveRequirement(id RequirementID) error {
	req, ok := g.reqs[id]
	if !ok {
		return errors.Errorf("requirement %d does not exist", id)
	}

	owner := g.nodes[req.Requirer]
	owner.Requirements = removeID(owner.Requirements, id)

	fulfiller := req.Fulfiller
	delete(g.reqs, id)
	if fulfiller != 0 {
		g.detachFulfillment(fulfiller, id)
		g.pruneIfOrphan(fulfiller)
	}
	return nil
}

func removeID(ids []RequirementID, target RequirementID) []RequirementID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func (g *Graph) detachFulfillment(pkg NodeID, req RequirementID) {
	m := g.fulfilledBy[pkg]
	if m == nil {
		return
	}
	delete(m, req)
	if len(m) == 0 {
		delete(g.fulfilledBy, pkg)
	}
}

// pruneIfOrphan removes pkg (and cascades through its own automatic
// requirements) if nothing fulfills any requirement with it anymore and no
// static requirement still targets it.
func (g *Graph) pruneIfOrphan(pkg NodeID) {
	n, ok := g.nodes[pkg]
	if !ok || n.Kind != Package {
		return
	}
	if len(g.fulfilledBy[pkg]) > 0 {
		return
	}
	if g.hasStaticRequirementTargeting(pkg) {
		return
	}

	for _, rid := range append([]RequirementID(nil), n.Requirements...) {
		_ = g.RemoveRequirement(rid)
	}
	delete(g.nodes, pkg)
	if g.pkgByName[n.Pkg.CategoryName()] == pkg {
		delete(g.pkgByName, n.Pkg.CategoryName())
	}
}

func (g *Graph) hasStaticRequirementTargeting(pkg NodeID) bool {
	for _, r := range g.reqs {
		if r.Kind == Static && r.Fulfiller == pkg {
			return true
		}
	}
	return false
}

// SetFulfiller resolves req to pkg, creating the package node if no node for
// pkg's name yet exists in the graph. Enforces the "at most one fulfiller
// per requirement" and "at most one concrete version of a name per graph"
// invariants.
func (g *Graph) SetFulfiller(id RequirementID, pkg pkgid.ID) (NodeID, error) {
	req, ok := g.reqs[id]
	if !ok {
		return 0, errors.Errorf("requirement %d does not exist", id)
	}
	if !req.Predicate.Admits(pkg.Version) {
		return 0, errors.Errorf("%s does not satisfy requirement %s%s", pkg, req.Name, req.Predicate)
	}

	catname := pkg.CategoryName()
	nodeID, exists := g.pkgByName[catname]
	if exists {
		existing := g.nodes[nodeID]
		if existing.Pkg.String() != pkg.String() {
			return 0, errors.Errorf("conflicting-constraints: %s already present as %s, cannot also fulfill as %s", catname, existing.Pkg, pkg)
		}
	} else {
		nodeID = g.nextNode
		g.nextNode++
		g.nodes[nodeID] = &Node{ID: nodeID, Kind: Package, Pkg: pkg}
		g.pkgByName[catname] = nodeID
	}

	if req.Fulfiller != 0 && req.Fulfiller != nodeID {
		g.detachFulfillment(req.Fulfiller, id)
		g.pruneIfOrphan(req.Fulfiller)
	}
	req.Fulfiller = nodeID
	if g.fulfilledBy[nodeID] == nil {
		g.fulfilledBy[nodeID] = make(map[RequirementID]struct{})
	}
	g.fulfilledBy[nodeID][id] = struct{}{}
	return nodeID, nil
}

// ClearFulfiller detaches req's fulfiller without removing the requirement
// itself, pruning the former fulfiller if it becomes orphaned.
func (g *Graph) ClearFulfiller(id RequirementID) error {
	req, ok := g.reqs[id]
	if !ok {
		return errors.Errorf("requirement %d does not exist", id)
	}
	if req.Fulfiller == 0 {
		return nil
	}
	old := req.Fulfiller
	g.detachFulfillment(old, id)
	req.Fulfiller = 0
	g.pruneIfOrphan(old)
	return nil
}

// AutomaticRequirementsOf returns the automatic requirements currently
// induced by pkg (the requirements in pkg's own Requirements list).
func (g *Graph) AutomaticRequirementsOf(pkg NodeID) []*Requirement {
	n, ok := g.nodes[pkg]
	if !ok {
		return nil
	}
	out := make([]*Requirement, 0, len(n.Requirements))
	for _, rid := range n.Requirements {
		out = append(out, g.reqs[rid])
	}
	return out
}

// ClearAutomaticRequirements removes every automatic requirement induced by
// pkg, cascading fulfiller detachment/pruning as RemoveRequirement does. Used
// by Update (spec.md §4.3) before re-running the solver.
func (g *Graph) ClearAutomaticRequirements(pkg NodeID) error {
	n, ok := g.nodes[pkg]
	if !ok {
		return nil
	}
	for _, rid := range append([]RequirementID(nil), n.Requirements...) {
		r := g.reqs[rid]
		if r.Kind != Automatic {
			continue
		}
		if err := g.RemoveRequirement(rid); err != nil {
			return err
		}
	}
	return nil
}
