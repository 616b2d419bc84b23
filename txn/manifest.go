package txn

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/raven-os/nest/pkgid"
)

// InstalledPackage records what one package put on disk: the concrete
// version installed and the files it owns, relative to the install root.
type InstalledPackage struct {
	ID    pkgid.ID `json:"id"`
	Files []string `json:"files"`
}

// InstalledManifest is the durable record of what's actually on disk right
// now, keyed by category/name. Apply consults and updates it; Preflight and
// the pre-overwrite check use it to tell "owned by a package we manage"
// apart from "untracked file placed by something else" (spec §4.4).
type InstalledManifest struct {
	Packages map[string]InstalledPackage `json:"packages"`
}

func newInstalledManifest() *InstalledManifest {
	return &InstalledManifest{Packages: make(map[string]InstalledPackage)}
}

// LoadInstalledManifest reads the installed manifest at path, returning an
// empty manifest if it doesn't exist yet (a fresh install root).
func LoadInstalledManifest(path string) (*InstalledManifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newInstalledManifest(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading installed manifest %q", path)
	}
	m := newInstalledManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrapf(err, "decoding installed manifest %q", path)
	}
	if m.Packages == nil {
		m.Packages = make(map[string]InstalledPackage)
	}
	return m, nil
}

// knownOwnedFiles returns the union of every file currently owned by any
// installed package, and which package owns each one.
func (m *InstalledManifest) knownOwnedFiles() map[string]string {
	out := make(map[string]string)
	for catname, ip := range m.Packages {
		for _, f := range ip.Files {
			out[f] = catname
		}
	}
	return out
}
