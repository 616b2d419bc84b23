// Package plan defines the transaction plan produced by graph.Diff and
// consumed by the txn engine: an ordered sequence of reversible filesystem
// steps, per spec §4.2/§4.4. It has no dependencies beyond pkgid so that
// both the graph and txn packages can share the same step vocabulary
// without creating an import cycle between them.
package plan

import "github.com/raven-os/nest/pkgid"

// StepKind tags one transaction step.
type StepKind int

const (
	// Install places a package that does not currently exist on disk.
	Install StepKind = iota
	// Upgrade replaces an older version of a package with a newer one.
	Upgrade
	// Downgrade replaces a newer version of a package with an older one.
	Downgrade
	// Remove deletes a package and its owned files.
	Remove
)

func (k StepKind) String() string {
	switch k {
	case Install:
		return "Install"
	case Upgrade:
		return "Upgrade"
	case Downgrade:
		return "Downgrade"
	case Remove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// Step is one tagged unit of work in a Plan. Old is populated for
// Upgrade/Downgrade/Remove; New is populated for Install/Upgrade/Downgrade.
type Step struct {
	Kind StepKind
	Old  pkgid.ID
	New  pkgid.ID
}

// String renders a step the way it is shown to the user for confirmation,
// e.g. "Install stable::shell/dash#0.5.9" or
// "Upgrade stable::shell/dash#0.5.9 -> stable::shell/dash#1.0.1".
func (s Step) String() string {
	switch s.Kind {
	case Install:
		return "Install " + s.New.String()
	case Remove:
		return "Remove " + s.Old.String()
	case Upgrade, Downgrade:
		return s.Kind.String() + " " + s.Old.String() + " -> " + s.New.String()
	default:
		return "?"
	}
}

// Plan is an ordered, first-class sequence of steps: a data structure, not a
// callback chain, so it can be rendered for confirmation, preflighted, and
// inverted for reverse() without re-running the solver (spec §9).
type Plan struct {
	Steps []Step
}

// Empty reports whether the plan has no work to do (spec §8's diff-stability
// law: diff(G, G) == an empty plan).
func (p *Plan) Empty() bool {
	return p == nil || len(p.Steps) == 0
}

// Inverse computes the plan that undoes p, for txn.Reverse. Install<->Remove
// and Upgrade<->Downgrade swap kind and direction; step order is reversed so
// that undoing happens in the opposite order things were applied.
func (p *Plan) Inverse() *Plan {
	inv := &Plan{Steps: make([]Step, len(p.Steps))}
	for i, s := range p.Steps {
		var is Step
		switch s.Kind {
		case Install:
			is = Step{Kind: Remove, Old: s.New}
		case Remove:
			is = Step{Kind: Install, New: s.Old}
		case Upgrade:
			is = Step{Kind: Downgrade, Old: s.New, New: s.Old}
		case Downgrade:
			is = Step{Kind: Upgrade, Old: s.New, New: s.Old}
		}
		inv.Steps[len(p.Steps)-1-i] = is
	}
	return inv
}
