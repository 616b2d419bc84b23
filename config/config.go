// Package config loads nest's TOML configuration file (spec §6): the
// enabled repositories in order, the well-known paths under the install
// root, the training-wheels flag, and each repository's mirror list.
//
// Grounded on the teacher's registry_config.go: a raw, toml-tagged struct
// decoded with github.com/pelletier/go-toml, the same library the teacher
// vendors for exactly this purpose.
package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// Paths is the set of well-known directories a nest install root is laid
// out with (spec §6).
type Paths struct {
	Root       string `toml:"root"`
	Available  string `toml:"available"`  // cache
	Downloaded string `toml:"downloaded"` // staging
	Installed  string `toml:"installed"`  // installed manifests
	Depgraph   string `toml:"depgraph"`   // persisted graph
}

// Repository is one configured repository's mirror list.
type Repository struct {
	Mirrors []string `toml:"mirrors"`
}

// Config is the decoded form of nest's configuration file.
type Config struct {
	RepositoriesOrder []string              `toml:"repositories_order"`
	Paths             Paths                 `toml:"paths"`
	TrainingWheels    bool                  `toml:"training_wheels"`
	Repositories      map[string]Repository `toml:"repositories"`
}

// Default returns a Config with paths rooted at root and no repositories
// configured, for callers bootstrapping a fresh install.
func Default(root string) *Config {
	return &Config{
		Paths: Paths{
			Root:       root,
			Available:  filepath.Join(root, "available"),
			Downloaded: filepath.Join(root, "downloaded"),
			Installed:  filepath.Join(root, "installed"),
			Depgraph:   filepath.Join(root, "depgraph.json"),
		},
		Repositories: make(map[string]Repository),
	}
}

// Load reads and decodes the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %q", path)
	}
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %q as TOML", path)
	}
	if c.Repositories == nil {
		c.Repositories = make(map[string]Repository)
	}
	return &c, nil
}

// Save writes c to path in TOML form.
func Save(path string, c *Config) error {
	data, err := toml.Marshal(*c)
	if err != nil {
		return errors.Wrap(err, "marshalling config to TOML")
	}
	return os.WriteFile(path, data, 0o644)
}

// MirrorsFor returns the configured mirror list for repo, or nil if repo
// is not configured.
func (c *Config) MirrorsFor(repo string) []string {
	return c.Repositories[repo].Mirrors
}
