package graph

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// snapshot is the exported, JSON-friendly view of a Graph's otherwise-
// unexported maps. Encoding is plain JSON, per SPEC_FULL.md §4.2: any
// self-describing format round-trips, and JSON matches the teacher's own
// manifest.go/lock.go encoding rather than inventing a new wire format.
type snapshot struct {
	NextNode    NodeID                   `json:"next_node"`
	NextReq     RequirementID            `json:"next_req"`
	Nodes       map[NodeID]Node          `json:"nodes"`
	Reqs        map[RequirementID]Requirement `json:"requirements"`
	GroupByName map[string]NodeID        `json:"groups"`
	PkgByName   map[string]NodeID        `json:"packages"`
	FulfilledBy map[NodeID][]RequirementID `json:"fulfilled_by"`
}

// MarshalJSON serializes the full graph state so it can be persisted as the
// current graph file and promoted via txn.SafeWriter's atomic rename.
func (g *Graph) MarshalJSON() ([]byte, error) {
	snap := snapshot{
		NextNode:    g.nextNode,
		NextReq:     g.nextReq,
		Nodes:       make(map[NodeID]Node, len(g.nodes)),
		Reqs:        make(map[RequirementID]Requirement, len(g.reqs)),
		GroupByName: g.groupByName,
		PkgByName:   g.pkgByName,
		FulfilledBy: make(map[NodeID][]RequirementID, len(g.fulfilledBy)),
	}
	for id, n := range g.nodes {
		snap.Nodes[id] = *n
	}
	for id, r := range g.reqs {
		snap.Reqs[id] = *r
	}
	for id, m := range g.fulfilledBy {
		ids := make([]RequirementID, 0, len(m))
		for rid := range m {
			ids = append(ids, rid)
		}
		snap.FulfilledBy[id] = ids
	}
	return json.Marshal(snap)
}

// UnmarshalJSON restores a graph previously written by MarshalJSON.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, "decoding persisted graph")
	}

	g.nextNode = snap.NextNode
	g.nextReq = snap.NextReq
	g.nodes = make(map[NodeID]*Node, len(snap.Nodes))
	g.reqs = make(map[RequirementID]*Requirement, len(snap.Reqs))
	g.groupByName = snap.GroupByName
	g.pkgByName = snap.PkgByName
	g.fulfilledBy = make(map[NodeID]map[RequirementID]struct{}, len(snap.FulfilledBy))

	for id, n := range snap.Nodes {
		cp := n
		g.nodes[id] = &cp
	}
	for id, r := range snap.Reqs {
		cp := r
		g.reqs[id] = &cp
	}
	for id, ids := range snap.FulfilledBy {
		m := make(map[RequirementID]struct{}, len(ids))
		for _, rid := range ids {
			m[rid] = struct{}{}
		}
		g.fulfilledBy[id] = m
	}
	if g.groupByName == nil {
		g.groupByName = make(map[string]NodeID)
	}
	if g.pkgByName == nil {
		g.pkgByName = make(map[string]NodeID)
	}
	return nil
}
