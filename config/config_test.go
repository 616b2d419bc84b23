package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleTOML = `
repositories_order = ["stable", "testing"]
training_wheels = true

[paths]
root = "/var/lib/nest"
available = "/var/lib/nest/available"
downloaded = "/var/lib/nest/downloaded"
installed = "/var/lib/nest/installed"
depgraph = "/var/lib/nest/depgraph.json"

[repositories.stable]
mirrors = ["https://mirror-a.example/stable", "https://mirror-b.example/stable"]
`

func TestLoadParsesRepositoriesAndPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nest.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.RepositoriesOrder) != 2 || c.RepositoriesOrder[0] != "stable" {
		t.Fatalf("unexpected order: %v", c.RepositoriesOrder)
	}
	if !c.TrainingWheels {
		t.Fatal("expected training_wheels = true")
	}
	if c.Paths.Root != "/var/lib/nest" {
		t.Fatalf("unexpected root: %s", c.Paths.Root)
	}
	mirrors := c.MirrorsFor("stable")
	if len(mirrors) != 2 {
		t.Fatalf("expected 2 mirrors, got %v", mirrors)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nest.toml")
	c := Default("/opt/nest")
	c.RepositoriesOrder = []string{"stable"}
	c.Repositories["stable"] = Repository{Mirrors: []string{"https://example/stable"}}

	if err := Save(path, c); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Paths.Root != "/opt/nest" {
		t.Fatalf("unexpected root after round trip: %s", loaded.Paths.Root)
	}
}
