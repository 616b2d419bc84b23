// Package cache implements spec §4.1: a persistent, per-repository index of
// packages pulled from configured mirrors, queryable by name and version
// requirement.
//
// Persistence follows the teacher's own choice in
// internal/gps/source_cache_bolt.go: a bolt database with one bucket per
// repository, so "atomically replace the local index for that repository"
// (spec §4.1) is a single bolt read-write transaction rather than a
// write-temp-then-rename dance over a flat file.
package cache

import (
	"context"
	"encoding/json"
	"io"
	"sort"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/raven-os/nest/pkgid"
)

// Dependency is one entry of a package's declared dependency list, as
// recorded in its cached manifest.
type Dependency struct {
	Name        string            `json:"name"` // unqualified category/name
	Requirement pkgid.Requirement `json:"-"`
	RawReq      string            `json:"requirement"`
}

// PackageMeta is everything the cache knows about one concrete package:
// its declared dependencies, the files it owns, and what's needed to fetch
// and verify its archive.
type PackageMeta struct {
	ID           pkgid.ID     `json:"-"`
	RawID        string       `json:"id"`
	Dependencies []Dependency `json:"dependencies"`
	Files        []string     `json:"files"`
	URL          string       `json:"url"`
	Hash         string       `json:"hash"` // hex sha256 of the archive
	Size         int64        `json:"size"`
}

// index is the on-disk (JSON, stored as a bolt value) document for one
// repository: every package name maps to its known versions, in the order
// the pulled index document lists them (Query sorts them).
type index struct {
	Packages map[string][]PackageMeta `json:"packages"` // keyed by category/name
}

// Fetcher is the out-of-scope HTTP collaborator spec §1 names: cache never
// imports net/http directly, it calls through this interface.
type Fetcher interface {
	// Fetch retrieves the raw bytes at url, e.g. a mirror's index document
	// or a package archive.
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Repository is one configured, mirrored package source.
type Repository struct {
	Name    string
	Mirrors []string // tried in order; first success wins
	// IndexURL, given a mirror base, returns the index document's URL.
	IndexURL func(mirror string) string
}

// Cache is the persistent package index, backed by a bolt database with one
// bucket per repository name.
type Cache struct {
	db      *bolt.DB
	fetcher Fetcher
}

const bucketPrefix = "repo:"

// Open opens (creating if necessary) the bolt-backed cache at path.
func Open(path string, fetcher Fetcher) (*Cache, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening cache database %q", path)
	}
	return &Cache{db: db, fetcher: fetcher}, nil
}

// Close releases the underlying bolt database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Pull fetches repo's index from its configured mirrors, trying each in
// order, and atomically replaces the cached index for that repository.
// Per spec §4.1: fails the repository only once every mirror has failed;
// a failed pull never corrupts the previously cached index.
func (c *Cache) Pull(ctx context.Context, repo Repository) error {
	if len(repo.Mirrors) == 0 {
		return &MirrorExhaustedError{Repo: repo.Name}
	}

	var lastErr error
	for _, mirror := range repo.Mirrors {
		url := repo.IndexURL(mirror)
		body, err := c.fetcher.Fetch(ctx, url)
		if err != nil {
			lastErr = &NetworkError{Repo: repo.Name, Mirror: mirror, Cause: err}
			continue
		}
		idx, err := decodeIndex(body)
		body.Close()
		if err != nil {
			lastErr = &MalformedIndexError{Repo: repo.Name, Mirror: mirror, Cause: err}
			continue
		}
		return c.replaceIndex(repo.Name, idx)
	}
	return &MirrorExhaustedError{Repo: repo.Name, Cause: lastErr}
}

func decodeIndex(r io.Reader) (*index, error) {
	var idx index
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return nil, err
	}
	for name, versions := range idx.Packages {
		for i := range versions {
			if err := versions[i].resolve(); err != nil {
				return nil, errors.Wrapf(err, "package %s", name)
			}
		}
	}
	return &idx, nil
}

func (m *PackageMeta) resolve() error {
	id, err := pkgid.Parse(m.RawID)
	if err != nil {
		return err
	}
	m.ID = id
	for i := range m.Dependencies {
		req, err := pkgid.NewRequirement(m.Dependencies[i].RawReq)
		if err != nil {
			return err
		}
		m.Dependencies[i].Requirement = req
	}
	return nil
}

// replaceIndex stores idx for repoName inside a single bolt read-write
// transaction: the one "atomic index replace" spec §4.1 requires.
func (c *Cache) replaceIndex(repoName string, idx *index) error {
	raw, err := json.Marshal(idx)
	if err != nil {
		return errors.Wrap(err, "marshalling index")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketPrefix + repoName))
		if err != nil {
			return err
		}
		return b.Put([]byte("index"), raw)
	})
}

func (c *Cache) loadIndex(repoName string) (*index, error) {
	var idx index
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketPrefix + repoName))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte("index"))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &idx)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading cached index for %q", repoName)
	}
	if !found {
		return &index{Packages: map[string][]PackageMeta{}}, nil
	}
	for name, versions := range idx.Packages {
		for i := range versions {
			if err := versions[i].resolve(); err != nil {
				return nil, err
			}
		}
		idx.Packages[name] = versions
	}
	return &idx, nil
}

// Query returns every cached package matching name and req, consulting
// repos in the given order, in descending version order within each
// repository's contribution (spec §4.1).
func (c *Cache) Query(name string, req pkgid.Requirement, reposInOrder []string) ([]pkgid.ID, error) {
	var out []pkgid.ID
	for _, repo := range reposInOrder {
		idx, err := c.loadIndex(repo)
		if err != nil {
			return nil, err
		}
		versions := append([]PackageMeta(nil), idx.Packages[name]...)
		sort.Slice(versions, func(i, j int) bool {
			return versions[i].ID.Version.Compare(versions[j].ID.Version) > 0
		})
		for _, m := range versions {
			if req.Admits(m.ID.Version) {
				out = append(out, m.ID)
			}
		}
	}
	return out, nil
}

// Lookup returns the full cached metadata for one concrete package id.
func (c *Cache) Lookup(id pkgid.ID) (*PackageMeta, bool, error) {
	idx, err := c.loadIndex(id.Repo)
	if err != nil {
		return nil, false, err
	}
	for _, m := range idx.Packages[id.CategoryName()] {
		if m.ID.String() == id.String() {
			cp := m
			return &cp, true, nil
		}
	}
	return nil, false, nil
}
