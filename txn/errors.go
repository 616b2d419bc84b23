package txn

import "fmt"

// ErrCorruptArchive reports a staged archive whose content hash does not
// match the cache's recorded hash; the plan aborts before any filesystem
// mutation (spec §4.4 Stage).
type ErrCorruptArchive struct {
	Pkg string
}

func (e *ErrCorruptArchive) Error() string {
	return fmt.Sprintf("corrupt-archive: %s", e.Pkg)
}

// ErrFileConflict reports two distinct packages that would both own the
// same path after the plan completes (spec §4.4 Preflight).
type ErrFileConflict struct {
	Path       string
	PkgA, PkgB string
}

func (e *ErrFileConflict) Error() string {
	return fmt.Sprintf("file-conflict: %s claimed by both %s and %s", e.Path, e.PkgA, e.PkgB)
}

// ErrUntrackedFileOverwrite reports a path that exists on disk and is about
// to be overwritten by a step, while not being owned by the installed
// version that step replaces: either no package owns it, or another
// installed package does (spec §4.4 Pre-overwrite check).
type ErrUntrackedFileOverwrite struct {
	Path string
}

func (e *ErrUntrackedFileOverwrite) Error() string {
	return fmt.Sprintf("untracked-file-overwrite: %s", e.Path)
}

// ErrPartialApply reports an Apply failure whose rollback itself failed:
// the staging directory, which holds the backups of removed files, is left
// in place and no log entry is written. This state is not recorded
// anywhere, so later operations are not refused because of it.
type ErrPartialApply struct {
	Step  string
	Cause error
}

func (e *ErrPartialApply) Error() string {
	return fmt.Sprintf("partial-apply at step %q (rollback also failed): %v", e.Step, e.Cause)
}

func (e *ErrPartialApply) Unwrap() error { return e.Cause }

// ErrArchiveUnavailable reports that reverse() needs a package's archive
// (to reinstall a version being un-removed) and it is neither cached nor
// fetchable. reverse() fails with this before any mutation.
type ErrArchiveUnavailable struct {
	Pkg string
}

func (e *ErrArchiveUnavailable) Error() string {
	return fmt.Sprintf("archive-unavailable: %s", e.Pkg)
}
