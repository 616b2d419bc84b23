package txn

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// SafeWriter is a direct generalization of the teacher's txn_writer.go
// SafeWriter to an arbitrary set of named files: write every new version to
// a temp dir first, then move the old file aside and the new one into
// place one at a time, restoring whatever was already moved if any step
// fails. It is what makes the graph-file and installed-manifest promotion
// atomic-per-file instead of a single non-atomic multi-file write. The
// operation log is not written through it: it lives in bolt (log.go).
type SafeWriter struct {
	// Files maps a final destination path to the bytes that should end up
	// there.
	Files map[string][]byte
}

// Write executes the swap: stage every file in a temp dir, then move old
// files aside and new files in, restoring on any failure.
func (sw *SafeWriter) Write() error {
	if len(sw.Files) == 0 {
		return nil
	}

	td, err := os.MkdirTemp("", "nest-safewrite")
	if err != nil {
		return errors.Wrap(err, "creating temp dir for safe write")
	}
	defer os.RemoveAll(td)

	staged := make(map[string]string, len(sw.Files)) // dest -> staged temp path
	i := 0
	for dest, content := range sw.Files {
		tmp := filepath.Join(td, filepath.Base(dest)+"."+strconv.Itoa(i))
		i++
		if err := os.WriteFile(tmp, content, 0o644); err != nil {
			return errors.Wrapf(err, "staging %s", dest)
		}
		staged[dest] = tmp
	}

	type pathpair struct{ from, to string }
	var restore []pathpair
	var failErr error

	for dest, tmp := range staged {
		if _, err := os.Stat(dest); err == nil {
			backup := tmp + ".orig"
			if failErr = renameWithFallback(dest, backup); failErr != nil {
				break
			}
			restore = append(restore, pathpair{from: backup, to: dest})
		}
		if failErr = renameWithFallback(tmp, dest); failErr != nil {
			break
		}
	}

	if failErr != nil {
		for _, rp := range restore {
			_ = renameWithFallback(rp.from, rp.to)
		}
		return errors.Wrap(failErr, "safe write failed, rolled back")
	}
	return nil
}

// renameWithFallback renames src to dest, falling back to copy+remove when
// they live on different filesystems (os.Rename's EXDEV) — grounded
// verbatim on the teacher's fs.go helper of the same name.
func renameWithFallback(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}

	terr, ok := err.(*os.LinkError)
	if !ok {
		return err
	}
	if runtime.GOOS != "windows" {
		if errno, ok := terr.Err.(syscall.Errno); !ok || errno != syscall.EXDEV {
			return err
		}
	}

	data, rerr := os.ReadFile(src)
	if rerr != nil {
		return rerr
	}
	if werr := os.WriteFile(dest, data, 0o644); werr != nil {
		return werr
	}
	return os.Remove(src)
}
