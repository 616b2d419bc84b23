// Package core is the facade tying cache, graph, solver, txn, config,
// lockfile, and nestlog together into the command surface spec §6
// describes. It is the only package the CLI front-ends (cmd/nest,
// cmd/nest-basic) talk to.
//
// Grounded on the teacher's Ctx/Project split (context.go, project.go):
// Ctx is long-lived process setup (paths, lock, logs); the current/
// scratch graph pair plays the role of the teacher's manifest/lock pair.
package core

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/raven-os/nest/cache"
	"github.com/raven-os/nest/config"
	"github.com/raven-os/nest/graph"
	"github.com/raven-os/nest/lockfile"
	"github.com/raven-os/nest/nestlog"
	"github.com/raven-os/nest/pkgid"
	"github.com/raven-os/nest/plan"
	"github.com/raven-os/nest/solver"
	"github.com/raven-os/nest/txn"
)

// Core bundles every collaborator a command needs: the persistent cache,
// the current graph, the transaction engine, configuration, the
// install-root lock, and logging.
type Core struct {
	Config  *config.Config
	Log     *nestlog.Loggers
	Lock    *lockfile.Lock
	Cache   *cache.Cache
	Engine  *txn.Engine
	Current *graph.Graph
}

// Open wires up a Core from a loaded configuration: acquires the
// install-root lock, opens the cache and operation log, and loads (or
// creates) the current graph.
func Open(cfg *config.Config, fetcher cache.Fetcher, archiver txn.Archiver, txnFetcher txn.Fetcher, logs *nestlog.Loggers) (*Core, error) {
	lock := lockfile.New(filepath.Join(cfg.Paths.Root, ".nest.lock"))
	if err := lock.Acquire(); err != nil {
		return nil, err
	}

	c, err := cache.Open(filepath.Join(cfg.Paths.Available, "index.db"), fetcher)
	if err != nil {
		lock.Release()
		return nil, err
	}

	opLog, err := txn.OpenLog(filepath.Join(cfg.Paths.Installed, "operations.db"))
	if err != nil {
		c.Close()
		lock.Release()
		return nil, err
	}

	current, err := loadGraph(cfg.Paths.Depgraph)
	if err != nil {
		opLog.Close()
		c.Close()
		lock.Release()
		return nil, err
	}

	engine := &txn.Engine{
		InstallRoot:  cfg.Paths.Root,
		StagingRoot:  cfg.Paths.Downloaded,
		GraphPath:    cfg.Paths.Depgraph,
		ManifestPath: filepath.Join(cfg.Paths.Installed, "manifest.json"),
		Archiver:     archiver,
		Fetcher:      txnFetcher,
		Cache:        c,
		Log:          opLog,
	}

	return &Core{Config: cfg, Log: logs, Lock: lock, Cache: c, Engine: engine, Current: current}, nil
}

// Close releases every held resource, in particular the install-root
// lock — always call this once done with a Core.
func (co *Core) Close() error {
	co.Engine.Log.Close()
	co.Cache.Close()
	return co.Lock.Release()
}

func loadGraph(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return graph.New(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading graph file %q", path)
	}
	g := &graph.Graph{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, errors.Wrapf(err, "decoding graph file %q", path)
	}
	return g, nil
}

// scratch returns a working copy of the current graph, per spec §3's
// scratch/current lifecycle.
func (co *Core) scratch() *graph.Graph {
	return co.Current.Clone()
}

// Installed returns the durable record of what's actually on disk right
// now — the `list` command's read-only view of the installed manifests,
// independent of the resolved (but not yet necessarily merged) graph.
func (co *Core) Installed() (*txn.InstalledManifest, error) {
	return txn.LoadInstalledManifest(co.Engine.ManifestPath)
}

// PullRepository pulls one repository's index.
func (co *Core) PullRepository(ctx context.Context, name string) error {
	mirrors := co.Config.MirrorsFor(name)
	repo := cache.Repository{
		Name:    name,
		Mirrors: mirrors,
		IndexURL: func(mirror string) string {
			return mirror + "/index.json"
		},
	}
	return co.Cache.Pull(ctx, repo)
}

// PullAll pulls every configured repository, attempting each one even after
// another has failed (spec §4.1: "other repositories are still attempted"),
// and returns each repository's result keyed by name (nil on success).
func (co *Core) PullAll(ctx context.Context) map[string]error {
	out := make(map[string]error, len(co.Config.RepositoriesOrder))
	for _, name := range co.Config.RepositoriesOrder {
		out[name] = co.PullRepository(ctx, name)
	}
	return out
}

// RequirementAdd implements the advanced `requirement add` command: adds
// a static requirement to parentGroup on a scratch graph, solves it, and
// merges.
func (co *Core) RequirementAdd(ctx context.Context, parentGroup, name string, req pkgid.Requirement) (*plan.Plan, error) {
	scratch := co.scratch()
	parent, ok := scratch.Group(parentGroup)
	if !ok {
		return nil, errors.Errorf("no such group %q", parentGroup)
	}
	if _, err := scratch.AddRequirement(parent.ID, name, req, graph.Static); err != nil {
		return nil, err
	}
	if err := solver.Solve(scratch, co.Cache, co.Config.RepositoriesOrder); err != nil {
		return nil, err
	}
	return co.merge(ctx, scratch, "requirement add "+name+req.String())
}

// RequirementRemove implements `requirement remove`: removes every static
// requirement on parentGroup targeting name, then merges.
func (co *Core) RequirementRemove(ctx context.Context, parentGroup, name string) (*plan.Plan, error) {
	scratch := co.scratch()
	parent, ok := scratch.Group(parentGroup)
	if !ok {
		return nil, errors.Errorf("no such group %q", parentGroup)
	}
	var toRemove []graph.RequirementID
	for _, rid := range parent.Requirements {
		r, _ := scratch.Requirement(rid)
		if r.Name == name {
			toRemove = append(toRemove, rid)
		}
	}
	if len(toRemove) == 0 {
		return nil, errors.Errorf("no requirement on %q targets %q", parentGroup, name)
	}
	for _, rid := range toRemove {
		if err := scratch.RemoveRequirement(rid); err != nil {
			return nil, err
		}
	}
	return co.merge(ctx, scratch, "requirement remove "+name)
}

// RequirementUpdate implements `requirement update`: re-derives the
// dependency subtree of every currently-resolved package matching name.
func (co *Core) RequirementUpdate(ctx context.Context, names []string) (*plan.Plan, error) {
	scratch := co.scratch()
	targets := names
	if len(targets) == 0 {
		for _, n := range scratch.Packages() {
			targets = append(targets, n.Pkg.CategoryName())
		}
	}
	for _, name := range targets {
		node, ok := scratch.PackageNode(name)
		if !ok {
			continue
		}
		if err := solver.Update(scratch, node.ID, co.Cache, co.Config.RepositoriesOrder); err != nil {
			return nil, err
		}
	}
	return co.merge(ctx, scratch, "requirement update")
}

// GroupCreate implements `group create`.
func (co *Core) GroupCreate(name, parent string) error {
	scratch := co.scratch()
	if err := scratch.CreateGroup(name, parent); err != nil {
		return err
	}
	co.Current = scratch
	return co.persistGraphOnly()
}

// GroupDelete implements `group delete`.
func (co *Core) GroupDelete(name string, force bool) error {
	scratch := co.scratch()
	if err := scratch.DeleteGroup(name, force); err != nil {
		return err
	}
	if !graph.Diff(co.Current, scratch).Empty() {
		// A forced delete dropped packages: remove them from disk too.
		_, err := co.merge(context.Background(), scratch, "group delete "+name)
		return err
	}
	co.Current = scratch
	return co.persistGraphOnly()
}

// persistGraphOnly writes the current graph without going through the
// transaction engine. It is used only for group changes that leave the set
// of packages unchanged, so there is no plan to execute.
func (co *Core) persistGraphOnly() error {
	data, err := json.Marshal(co.Current)
	if err != nil {
		return err
	}
	sw := &txn.SafeWriter{Files: map[string][]byte{co.Config.Paths.Depgraph: data}}
	return sw.Write()
}

func (co *Core) merge(ctx context.Context, scratch *graph.Graph, command string) (*plan.Plan, error) {
	p, err := co.Engine.Merge(ctx, co.Current, scratch, command)
	if err != nil {
		return p, err
	}
	co.Current = scratch
	return p, nil
}

// Reverse implements `reverse <id>`.
func (co *Core) Reverse(ctx context.Context, id uint64) error {
	restored, err := co.Engine.Reverse(ctx, id)
	if err != nil {
		return err
	}
	co.Current = restored
	return nil
}

// Install is the basic front-end's `install R...`: requirement add R,
// then merge — spec §6's definitional equivalence.
func (co *Core) Install(ctx context.Context, reqs map[string]pkgid.Requirement) (*plan.Plan, error) {
	scratch := co.scratch()
	root := scratch.RootID()
	for name, req := range reqs {
		if _, err := scratch.AddRequirement(root, name, req, graph.Static); err != nil {
			return nil, err
		}
	}
	if err := solver.Solve(scratch, co.Cache, co.Config.RepositoriesOrder); err != nil {
		return nil, err
	}
	return co.merge(ctx, scratch, "install")
}

// Uninstall is the basic front-end's `uninstall R...`.
func (co *Core) Uninstall(ctx context.Context, names []string) (*plan.Plan, error) {
	scratch := co.scratch()
	root := scratch.RootID()
	for _, name := range names {
		if err := removeStaticRequirement(scratch, root, name); err != nil {
			return nil, err
		}
	}
	return co.merge(ctx, scratch, "uninstall")
}

func removeStaticRequirement(g *graph.Graph, requirer graph.NodeID, name string) error {
	n, ok := g.Node(requirer)
	if !ok {
		return errors.Errorf("no such node")
	}
	for _, rid := range n.Requirements {
		r, _ := g.Requirement(rid)
		if r.Name == name {
			return g.RemoveRequirement(rid)
		}
	}
	return errors.Errorf("no requirement targets %q", name)
}

// Upgrade is the basic front-end's `upgrade [R...]`.
func (co *Core) Upgrade(ctx context.Context, names []string) (*plan.Plan, error) {
	return co.RequirementUpdate(ctx, names)
}
