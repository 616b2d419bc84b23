package txn

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSafeWriterWritesNewFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "graph.json")
	sw := &SafeWriter{Files: map[string][]byte{dest: []byte(`{"a":1}`)}}
	if err := sw.Write(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("unexpected content: %s", got)
	}
}

func TestSafeWriterReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "graph.json")
	if err := os.WriteFile(dest, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	sw := &SafeWriter{Files: map[string][]byte{dest: []byte("new")}}
	if err := sw.Write(); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "new" {
		t.Fatalf("expected replaced content, got %s", got)
	}
}
