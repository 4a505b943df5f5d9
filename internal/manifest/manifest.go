// Package manifest persists the per-project last-observed union state
// used solely to detect deletions between reconciliation passes.
package manifest

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	SourceLocal = "local"
	SourceS3    = "s3"
)

// Record is the last-observed state of one RelKey on one side.
type Record struct {
	Source       string    `json:"source"`
	LastModified time.Time `json:"lastModified"`
	RealKey      string    `json:"realKey,omitempty"`
	RelOriginal  string    `json:"relOriginal,omitempty"`
}

// Manifest maps a case-folded RelKey to its last-observed record.
type Manifest map[string]Record

// Store loads and saves a project's manifest file.
type Store struct{}

// NewStore returns a manifest Store. It carries no state of its own;
// every call is parameterized by the project's manifest path.
func NewStore() *Store { return &Store{} }

// Load reads the manifest at path. A missing or unparsable file is
// treated as an empty manifest, per the parse-error policy: the
// affected store degrades to empty for this pass rather than aborting.
func (s *Store) Load(path string) Manifest {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("manifest: failed to read %s: %v", path, err)
		}
		return Manifest{}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		log.Printf("manifest: failed to parse %s: %v", path, err)
		return Manifest{}
	}
	if m == nil {
		m = Manifest{}
	}
	return m
}

// Save writes the manifest atomically (write-temp-then-rename) with
// keys sorted, so that two passes with identical content produce
// byte-for-byte identical files.
func (s *Store) Save(path string, m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(orderedManifest, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, orderedEntry{Key: k, Record: m[k]})
	}

	data, err := json.MarshalIndent(ordered, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// orderedEntry/orderedManifest give the on-disk JSON a deterministic
// array shape instead of Go's randomized map iteration, which matters
// for the pass-idempotence property (two passes with no external
// changes must produce identical manifest bytes).
type orderedEntry struct {
	Key    string `json:"key"`
	Record Record `json:"record"`
}

type orderedManifest []orderedEntry

func (o orderedManifest) toManifest() Manifest {
	m := make(Manifest, len(o))
	for _, e := range o {
		m[e.Key] = e.Record
	}
	return m
}

// UnmarshalJSON accepts either the ordered array form this package
// writes, or a plain object (for hand-authored fixtures and forward
// compatibility with a simpler encoding).
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var ordered orderedManifest
	if err := json.Unmarshal(data, &ordered); err == nil {
		*m = ordered.toManifest()
		return nil
	}
	var plain map[string]Record
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	*m = plain
	return nil
}
