package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".last_sync_state.json")
	store := NewStore()

	want := Manifest{
		"dir/a.txt": {Source: SourceLocal, LastModified: time.Now().UTC().Truncate(time.Second)},
		"dir/b.txt": {Source: SourceS3, LastModified: time.Now().UTC().Truncate(time.Second), RealKey: "prefix/dir/b.txt", RelOriginal: "dir/B.txt"},
	}
	if err := store.Save(path, want); err != nil {
		t.Fatal(err)
	}

	got := store.Load(path)
	if len(got) != len(want) {
		t.Fatalf("Load() returned %d records, want %d", len(got), len(want))
	}
	for k, rec := range want {
		gotRec, ok := got[k]
		if !ok {
			t.Fatalf("missing key %q after round trip", k)
		}
		if gotRec.Source != rec.Source || !gotRec.LastModified.Equal(rec.LastModified) {
			t.Fatalf("record for %q = %+v, want %+v", k, gotRec, rec)
		}
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	store := NewStore()
	got := store.Load(filepath.Join(t.TempDir(), "missing.json"))
	if len(got) != 0 {
		t.Fatalf("Load() of missing file = %v, want empty", got)
	}
}

func TestSaveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".last_sync_state.json")
	store := NewStore()

	m := Manifest{
		"z.txt": {Source: SourceLocal, LastModified: time.Unix(0, 0).UTC()},
		"a.txt": {Source: SourceLocal, LastModified: time.Unix(0, 0).UTC()},
	}
	if err := store.Save(path, m); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(path, m); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("two saves of the same manifest produced different bytes")
	}
}
