package cache

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raven-os/nest/pkgid"
)

type fakeFetcher struct {
	bodies map[string]string // url -> content; missing = error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (io.ReadCloser, error) {
	body, ok := f.bodies[url]
	if !ok {
		return nil, &NetworkError{Repo: "stable", Mirror: url}
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

const sampleIndex = `{
  "packages": {
    "sys-lib/glibc": [
      {"id": "stable::sys-lib/glibc#6.0.1", "dependencies": [], "files": ["/lib/libc.so"], "url": "glibc-6.0.1.tar.gz", "hash": "abc", "size": 10},
      {"id": "stable::sys-lib/glibc#7.1.4", "dependencies": [], "files": ["/lib/libc.so"], "url": "glibc-7.1.4.tar.gz", "hash": "def", "size": 11}
    ],
    "shell/dash": [
      {"id": "stable::shell/dash#0.5.9", "dependencies": [{"name": "sys-lib/glibc", "requirement": ">=6 <7"}], "files": ["/bin/dash"], "url": "dash-0.5.9.tar.gz", "hash": "ghi", "size": 5}
    ]
  }
}`

func openTestCache(t *testing.T, fetcher Fetcher) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path, fetcher)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPullThenQueryDescendingVersions(t *testing.T) {
	c := openTestCache(t, &fakeFetcher{bodies: map[string]string{
		"https://mirror.example/stable/index.json": sampleIndex,
	}})

	repo := Repository{
		Name:    "stable",
		Mirrors: []string{"https://mirror.example/stable"},
		IndexURL: func(m string) string {
			return m + "/index.json"
		},
	}
	if err := c.Pull(context.Background(), repo); err != nil {
		t.Fatal(err)
	}

	req, err := pkgid.NewRequirement("*")
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Query("sys-lib/glibc", req, []string{"stable"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Version.String() != "7.1.4" || got[1].Version.String() != "6.0.1" {
		t.Fatalf("expected descending version order, got %v, %v", got[0].Version, got[1].Version)
	}
}

func TestPullFallsBackToNextMirror(t *testing.T) {
	c := openTestCache(t, &fakeFetcher{bodies: map[string]string{
		"https://mirror-b.example/stable/index.json": sampleIndex,
	}})

	repo := Repository{
		Name:    "stable",
		Mirrors: []string{"https://mirror-a.example/stable", "https://mirror-b.example/stable"},
		IndexURL: func(m string) string {
			return m + "/index.json"
		},
	}
	if err := c.Pull(context.Background(), repo); err != nil {
		t.Fatalf("expected fallback to second mirror to succeed, got %v", err)
	}
}

func TestPullAllMirrorsFailedReturnsMirrorExhausted(t *testing.T) {
	c := openTestCache(t, &fakeFetcher{bodies: map[string]string{}})
	repo := Repository{
		Name:    "stable",
		Mirrors: []string{"https://mirror-a.example/stable"},
		IndexURL: func(m string) string {
			return m + "/index.json"
		},
	}
	err := c.Pull(context.Background(), repo)
	if _, ok := err.(*MirrorExhaustedError); !ok {
		t.Fatalf("expected MirrorExhaustedError, got %T: %v", err, err)
	}
}

func TestFailedPullDoesNotCorruptExistingIndex(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{
		"https://mirror.example/stable/index.json": sampleIndex,
	}}
	c := openTestCache(t, fetcher)
	repo := Repository{
		Name:    "stable",
		Mirrors: []string{"https://mirror.example/stable"},
		IndexURL: func(m string) string {
			return m + "/index.json"
		},
	}
	if err := c.Pull(context.Background(), repo); err != nil {
		t.Fatal(err)
	}

	// Now every mirror fails.
	delete(fetcher.bodies, "https://mirror.example/stable/index.json")
	if err := c.Pull(context.Background(), repo); err == nil {
		t.Fatal("expected pull to fail")
	}

	req, _ := pkgid.NewRequirement("*")
	got, err := c.Query("sys-lib/glibc", req, []string{"stable"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected previously-cached index to survive, got %d entries", len(got))
	}
}

func TestLookupReturnsDependencies(t *testing.T) {
	c := openTestCache(t, &fakeFetcher{bodies: map[string]string{
		"https://mirror.example/stable/index.json": sampleIndex,
	}})
	repo := Repository{
		Name:    "stable",
		Mirrors: []string{"https://mirror.example/stable"},
		IndexURL: func(m string) string {
			return m + "/index.json"
		},
	}
	if err := c.Pull(context.Background(), repo); err != nil {
		t.Fatal(err)
	}

	id, err := pkgid.Parse("stable::shell/dash#0.5.9")
	if err != nil {
		t.Fatal(err)
	}
	meta, ok, err := c.Lookup(id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected dash to be found")
	}
	if len(meta.Dependencies) != 1 || meta.Dependencies[0].Name != "sys-lib/glibc" {
		t.Fatalf("unexpected dependencies: %+v", meta.Dependencies)
	}
}
