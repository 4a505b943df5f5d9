package localscan

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanSkipsIgnoredAndSidecar(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "a.txt"), "hello")
	mustWrite(t, filepath.Join(root, "sub", "b.pdf"), "world")
	mustWrite(t, filepath.Join(root, "Thumbs.db"), "junk")
	mustWrite(t, filepath.Join(root, ".sync", "a.txt.json"), "{}")

	entries, err := Scan(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := entries["a.txt"]; !ok {
		t.Fatalf("expected a.txt in scan results: %v", entries)
	}
	if _, ok := entries["sub/b.pdf"]; !ok {
		t.Fatalf("expected sub/b.pdf in scan results: %v", entries)
	}
	if _, ok := entries["Thumbs.db"]; ok {
		t.Fatalf("Thumbs.db should have been ignored")
	}
	for k := range entries {
		if filepath.Dir(k) == ".sync" {
			t.Fatalf("sidecar directory should never be scanned, got %q", k)
		}
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
