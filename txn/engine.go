// Package txn implements spec §4.4's transaction engine: phased,
// crash-safe, conflict-detecting, reversible execution of a plan against
// the filesystem.
//
// Grounded on the teacher's txn_writer.go (SafeWriter's rename-based
// commit/rollback) and fs.go (renameWithFallback's cross-device fallback),
// generalized from "manifest + lock + vendor dir" to "graph file +
// installed manifest + operation log".
package txn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/termie/go-shutil"

	"github.com/raven-os/nest/cache"
	"github.com/raven-os/nest/graph"
	"github.com/raven-os/nest/pkgid"
	"github.com/raven-os/nest/plan"
)

// Archiver extracts a downloaded archive into a destination directory,
// returning the paths (relative to destDir) of every file it wrote. The
// out-of-scope archive-reader collaborator spec §1 names.
type Archiver interface {
	Extract(archivePath, destDir string) ([]string, error)
}

// Fetcher downloads the content at url to destPath. The out-of-scope
// HTTP-fetch collaborator spec §1 names.
type Fetcher interface {
	FetchTo(ctx context.Context, url, destPath string) error
}

// PackageLookup is the narrow view of the cache the engine needs to stage
// an install/upgrade/downgrade step.
type PackageLookup interface {
	Lookup(id pkgid.ID) (*cache.PackageMeta, bool, error)
}

// Engine ties the staging area, install root, operation log, and the
// Archiver/Fetcher/Cache collaborators together to execute plans.
type Engine struct {
	InstallRoot  string
	StagingRoot  string
	GraphPath    string
	ManifestPath string

	Archiver Archiver
	Fetcher  Fetcher
	Cache    PackageLookup
	Log      *OperationLog
}

// Merge diffs current against scratch, executes the resulting plan against
// the filesystem, and on success promotes scratch to the new persisted
// current graph and appends a log entry (spec §3 "merge", §4.4).
//
// Returns the plan that was executed (possibly empty, in which case Merge
// changes nothing on disk beyond persisting scratch as current and
// appending a log entry — diff-stability means there was nothing to apply).
func (e *Engine) Merge(ctx context.Context, current, scratch *graph.Graph, command string) (*plan.Plan, error) {
	p := graph.Diff(current, scratch)
	if !p.Empty() {
		if err := e.apply(ctx, p); err != nil {
			return p, err
		}
	}
	if err := e.commit(scratch, command, p); err != nil {
		return p, err
	}
	return p, nil
}

type stagedInstall struct {
	extractDir string
	files      []string
}

// apply runs Stage, Preflight, the pre-overwrite check, and Apply, in that
// order, per spec §4.4.
func (e *Engine) apply(ctx context.Context, p *plan.Plan) (err error) {
	stagingDir := filepath.Join(e.StagingRoot, uuid.New().String())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return errors.Wrap(err, "creating staging directory")
	}
	defer func() {
		// After a failed rollback the staging directory still holds the
		// backups of removed files, so it is kept.
		if _, partial := err.(*ErrPartialApply); !partial {
			os.RemoveAll(stagingDir)
		}
	}()

	manifest, err := LoadInstalledManifest(e.ManifestPath)
	if err != nil {
		return err
	}

	staged, err := e.stage(ctx, p, stagingDir)
	if err != nil {
		return err
	}

	if err := e.preflight(p, manifest, staged); err != nil {
		return err
	}
	if err := e.preOverwriteCheck(p, manifest, staged); err != nil {
		return err
	}

	return e.execute(p, manifest, staged, stagingDir)
}

// stage downloads and extracts every Install/Upgrade/Downgrade step's
// archive, verifying its content hash against the cache's recorded value.
func (e *Engine) stage(ctx context.Context, p *plan.Plan, stagingDir string) (map[string]*stagedInstall, error) {
	out := make(map[string]*stagedInstall)
	for _, step := range p.Steps {
		if step.Kind == plan.Remove {
			continue
		}
		meta, ok, err := e.Cache.Lookup(step.New)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &ErrArchiveUnavailable{Pkg: step.New.String()}
		}

		archivePath := filepath.Join(stagingDir, "archives", safeName(step.New)+".archive")
		if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
			return nil, err
		}
		if err := e.Fetcher.FetchTo(ctx, meta.URL, archivePath); err != nil {
			return nil, err
		}

		if meta.Hash != "" {
			sum, err := sha256File(archivePath)
			if err != nil {
				return nil, err
			}
			if sum != meta.Hash {
				return nil, &ErrCorruptArchive{Pkg: step.New.String()}
			}
		}

		extractDir := filepath.Join(stagingDir, "extracted", safeName(step.New))
		files, err := e.Archiver.Extract(archivePath, extractDir)
		if err != nil {
			return nil, err
		}
		out[step.New.String()] = &stagedInstall{extractDir: extractDir, files: files}
	}
	return out, nil
}

func safeName(id pkgid.ID) string {
	return id.Repo + "_" + id.Category + "_" + id.Name + "_" + id.Version.String()
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// preflight builds the union of file paths every package will own once the
// plan completes and rejects any path two distinct packages both claim
// (spec §4.4 step 2).
func (e *Engine) preflight(p *plan.Plan, manifest *InstalledManifest, staged map[string]*stagedInstall) error {
	owners := make(map[string]string) // path -> owning category/name

	replacedOrRemoved := make(map[string]bool)
	for _, step := range p.Steps {
		switch step.Kind {
		case plan.Remove:
			replacedOrRemoved[step.Old.CategoryName()] = true
		case plan.Upgrade, plan.Downgrade:
			replacedOrRemoved[step.Old.CategoryName()] = true
		}
	}

	for catname, ip := range manifest.Packages {
		if replacedOrRemoved[catname] {
			continue
		}
		for _, f := range ip.Files {
			owners[f] = catname
		}
	}

	for _, step := range p.Steps {
		if step.Kind == plan.Remove {
			continue
		}
		catname := step.New.CategoryName()
		s := staged[step.New.String()]
		for _, f := range s.files {
			if existing, ok := owners[f]; ok && existing != catname {
				return &ErrFileConflict{Path: f, PkgA: existing, PkgB: catname}
			}
			owners[f] = catname
		}
	}
	return nil
}

// preOverwriteCheck refuses to overwrite a file that already exists on disk
// unless the step is an Upgrade/Downgrade and the file is owned by the
// installed version that step replaces. Files owned by any other installed
// package are refused too, including files of a package this same plan
// removes.
func (e *Engine) preOverwriteCheck(p *plan.Plan, manifest *InstalledManifest, staged map[string]*stagedInstall) error {
	known := manifest.knownOwnedFiles()

	for _, step := range p.Steps {
		if step.Kind == plan.Remove {
			continue
		}
		s := staged[step.New.String()]
		replacing := ""
		if step.Kind == plan.Upgrade || step.Kind == plan.Downgrade {
			replacing = step.Old.CategoryName()
		}
		for _, f := range s.files {
			target := filepath.Join(e.InstallRoot, f)
			if _, err := os.Stat(target); err != nil {
				continue // doesn't exist yet, nothing to protect
			}
			owner, isKnown := known[f]
			if isKnown && owner == replacing {
				continue
			}
			if !isKnown {
				return &ErrUntrackedFileOverwrite{Path: f}
			}
			if owner != replacing {
				return &ErrUntrackedFileOverwrite{Path: f}
			}
		}
	}
	return nil
}

type undoStep struct {
	desc string
	fn   func() error
}

// execute runs every step in diff order, publishing files atomically
// (temp-name-then-rename) and rolling back on failure.
func (e *Engine) execute(p *plan.Plan, manifest *InstalledManifest, staged map[string]*stagedInstall, stagingDir string) error {
	backupDir := filepath.Join(stagingDir, "backup")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return err
	}

	var undo []undoStep
	rollback := func() error {
		var last error
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i].fn(); err != nil {
				last = err
			}
		}
		return last
	}

	for _, step := range p.Steps {
		var err error
		switch step.Kind {
		case plan.Remove:
			err = e.applyRemove(step, manifest, backupDir, &undo)
		case plan.Install:
			err = e.applyInstall(step, manifest, staged, &undo)
		case plan.Upgrade, plan.Downgrade:
			if rerr := e.applyRemove(plan.Step{Kind: plan.Remove, Old: step.Old}, manifest, backupDir, &undo); rerr != nil {
				err = rerr
				break
			}
			err = e.applyInstall(plan.Step{Kind: plan.Install, New: step.New}, manifest, staged, &undo)
		}
		if err != nil {
			if rerr := rollback(); rerr != nil {
				return &ErrPartialApply{Step: step.String(), Cause: err}
			}
			return errors.Wrapf(err, "applying %s (rolled back)", step)
		}
	}

	return saveInstalledManifest(e.ManifestPath, manifest)
}

func (e *Engine) applyRemove(step plan.Step, manifest *InstalledManifest, backupDir string, undo *[]undoStep) error {
	catname := step.Old.CategoryName()
	ip, ok := manifest.Packages[catname]
	if !ok {
		return nil
	}

	type moved struct{ from, to string }
	var moves []moved
	for _, f := range ip.Files {
		target := filepath.Join(e.InstallRoot, f)
		if _, err := os.Stat(target); err != nil {
			continue
		}
		backup := filepath.Join(backupDir, safeName(step.Old), f)
		if err := os.MkdirAll(filepath.Dir(backup), 0o755); err != nil {
			return err
		}
		if err := renameWithFallback(target, backup); err != nil {
			return err
		}
		moves = append(moves, moved{from: backup, to: target})
	}

	delete(manifest.Packages, catname)

	*undo = append(*undo, undoStep{
		desc: "restore removed " + catname,
		fn: func() error {
			manifest.Packages[catname] = ip
			for _, m := range moves {
				if err := renameWithFallback(m.from, m.to); err != nil {
					return err
				}
			}
			return nil
		},
	})
	return nil
}

func (e *Engine) applyInstall(step plan.Step, manifest *InstalledManifest, staged map[string]*stagedInstall, undo *[]undoStep) error {
	s := staged[step.New.String()]
	var placed []string
	// fail removes the files this step already published before reporting
	// err, so a failed step leaves none of its files behind.
	fail := func(err error) error {
		for _, p := range placed {
			_ = os.Remove(p)
		}
		return err
	}

	for _, f := range s.files {
		src := filepath.Join(s.extractDir, f)
		dest := filepath.Join(e.InstallRoot, f)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fail(err)
		}
		tmp := dest + ".nest-tmp"
		if err := shutil.CopyFile(src, tmp, false); err != nil {
			return fail(err)
		}
		if err := renameWithFallback(tmp, dest); err != nil {
			return fail(err)
		}
		placed = append(placed, dest)
	}

	catname := step.New.CategoryName()
	manifest.Packages[catname] = InstalledPackage{ID: step.New, Files: append([]string(nil), s.files...)}

	*undo = append(*undo, undoStep{
		desc: "remove installed " + catname,
		fn: func() error {
			for _, p := range placed {
				_ = os.Remove(p)
			}
			delete(manifest.Packages, catname)
			return nil
		},
	})
	return nil
}

func saveInstalledManifest(path string, m *InstalledManifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	sw := &SafeWriter{Files: map[string][]byte{path: data}}
	return sw.Write()
}

// commit promotes scratch to the persisted current graph and appends a log
// entry (spec §4.4 step 5).
func (e *Engine) commit(scratch *graph.Graph, command string, p *plan.Plan) error {
	data, err := json.Marshal(scratch)
	if err != nil {
		return errors.Wrap(err, "marshalling graph for commit")
	}
	sw := &SafeWriter{Files: map[string][]byte{e.GraphPath: data}}
	if err := sw.Write(); err != nil {
		return err
	}
	_, err = e.Log.Append(command, p, data)
	return err
}

// Reverse implements spec §4.4's reverse(id): verifies every archive the
// rollback would need is available (failing with archive-unavailable
// before any mutation if not), undoes every logged operation newer than id
// on the filesystem in reverse chronological order, restores the graph
// snapshot recorded at id, and truncates the log at id.
func (e *Engine) Reverse(ctx context.Context, id uint64) (*graph.Graph, error) {
	entries, err := e.Log.EntriesSince(id)
	if err != nil {
		return nil, err
	}

	inverses := make([]*plan.Plan, len(entries))
	for i, entry := range entries {
		inv := entry.Plan.Inverse()
		if err := e.verifyReversible(inv); err != nil {
			return nil, err
		}
		inverses[i] = inv
	}

	for _, inv := range inverses {
		if !inv.Empty() {
			if err := e.apply(ctx, inv); err != nil {
				return nil, err
			}
		}
	}

	restored, err := e.snapshotAt(id)
	if err != nil {
		return nil, err
	}
	if err := e.commitWithoutLogging(restored); err != nil {
		return nil, err
	}
	if err := e.Log.TruncateAfter(id); err != nil {
		return nil, err
	}
	return restored, nil
}

// snapshotAt returns the graph as it stood right after operation id
// completed, or a fresh empty graph if id is 0 (before any operation).
func (e *Engine) snapshotAt(id uint64) (*graph.Graph, error) {
	if id == 0 {
		return graph.New(), nil
	}
	entries, err := e.Log.Entries()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.ID == id {
			g := &graph.Graph{}
			if err := json.Unmarshal(entry.GraphSnapshot, g); err != nil {
				return nil, errors.Wrapf(err, "decoding graph snapshot for operation %d", id)
			}
			return g, nil
		}
	}
	return nil, errors.Errorf("no logged operation with id %d", id)
}

// verifyReversible ensures every archive an inverse plan needs to reinstall
// is available before any mutation, per spec §4.4's reverse() contract.
func (e *Engine) verifyReversible(inv *plan.Plan) error {
	for _, step := range inv.Steps {
		if step.Kind == plan.Remove {
			continue
		}
		if _, ok, err := e.Cache.Lookup(step.New); err != nil {
			return err
		} else if !ok {
			return &ErrArchiveUnavailable{Pkg: step.New.String()}
		}
	}
	return nil
}

func (e *Engine) commitWithoutLogging(g *graph.Graph) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	sw := &SafeWriter{Files: map[string][]byte{e.GraphPath: data}}
	return sw.Write()
}

// SortedSteps returns p's steps in a deterministic, alphabetically-sorted
// order for callers that want a stable printable view (e.g. the CLI's
// confirmation output) independent of diff-assigned step order.
func SortedSteps(p *plan.Plan) []plan.Step {
	out := append([]plan.Step(nil), p.Steps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
