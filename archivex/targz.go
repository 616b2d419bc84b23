// Package archivex provides the default implementation of txn.Archiver:
// reading the tar+gzip archive format packages are distributed in.
//
// No archive library appears anywhere in the retrieval pack (see
// DESIGN.md), so this is built on the standard library's archive/tar and
// compress/gzip rather than a corpus-grounded third party dependency.
package archivex

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// TarGzArchiver extracts .tar.gz archives, the on-disk format nest's cache
// records a hash and URL for.
type TarGzArchiver struct{}

// Extract unpacks archivePath into destDir, returning the slash-separated
// relative path of every regular file it wrote (directory entries and
// anything outside destDir are not reported — the latter is refused
// outright, see below).
func (TarGzArchiver) Extract(archivePath, destDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening archive %q", archivePath)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "archive %q is not gzip-compressed", archivePath)
	}
	defer gz.Close()

	var files []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading archive %q", archivePath)
		}

		name := filepath.Clean(hdr.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return nil, errors.Errorf("archive %q contains unsafe path %q", archivePath, hdr.Name)
		}

		target := filepath.Join(destDir, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return nil, err
			}
			out.Close()
			files = append(files, filepath.ToSlash(name))
		default:
			// symlinks and other special entries: not a supported payload
			// for nest packages, skipped rather than faithfully
			// reproduced.
		}
	}
	return files, nil
}
