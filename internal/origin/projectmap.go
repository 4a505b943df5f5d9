package origin

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/lib/pq"
)

// projectMapBackend is the persistence contract for the project
// name→id map, dispatched by DSN scheme the same way
// state_backend_factory.go builds a StateBackend from a DSN.
type projectMapBackend interface {
	Load() (map[string]int, error)
	Save(map[string]int) error
}

// ProjectMap is the shared, mutex-guarded project name→id cache. It is
// the one piece of shared state every worker touches; updates are
// persisted under a write lock and serialized through the backend.
type ProjectMap struct {
	mu      sync.RWMutex
	byName  map[string]int
	backend projectMapBackend
}

// NewProjectMap builds a ProjectMap backed by path (a plain JSON file)
// unless dsn selects a different backend (currently "postgres://").
func NewProjectMap(path, dsn string) (*ProjectMap, error) {
	backend, err := buildProjectMapBackend(path, dsn)
	if err != nil {
		return nil, err
	}
	loaded, err := backend.Load()
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		loaded = map[string]int{}
	}
	return &ProjectMap{byName: loaded, backend: backend}, nil
}

func buildProjectMapBackend(path, dsn string) (projectMapBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return &fileProjectMapBackend{path: path}, nil
	}
	scheme := dsn
	if idx := strings.Index(dsn, "://"); idx >= 0 {
		scheme = dsn[:idx]
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("projectmap: open postgres: %w", err)
		}
		return &postgresProjectMapBackend{db: db}, nil
	case "file", "":
		return &fileProjectMapBackend{path: path}, nil
	default:
		return nil, fmt.Errorf("projectmap: unsupported backend scheme %q", scheme)
	}
}

// Get returns the cached id for a sanitized project name.
func (p *ProjectMap) Get(name string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byName[name]
	return id, ok
}

// Name performs the reverse lookup, used for the auto-seed prefix check.
func (p *ProjectMap) Name(id int) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, candidate := range p.byName {
		if candidate == id {
			return name, true
		}
	}
	return "", false
}

// Set records a resolved id and persists the whole map.
func (p *ProjectMap) Set(name string, id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byName[name] = id
	snapshot := make(map[string]int, len(p.byName))
	for k, v := range p.byName {
		snapshot[k] = v
	}
	return p.backend.Save(snapshot)
}

type fileProjectMapBackend struct {
	path string
}

func (b *fileProjectMapBackend) Load() (map[string]int, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int{}, nil
		}
		return nil, err
	}
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]int{}, nil // parse error: degrade to empty, per error policy
	}
	return m, nil
}

func (b *fileProjectMapBackend) Save(m map[string]int) error {
	dir := filepath.Dir(b.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".projectmap-*")
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
	return os.Rename(tmpName, b.path)
}

// postgresProjectMapBackend stores the project map in a single table,
// used when VAULTSYNC_PROJECTMAP_DSN selects a shared Postgres instance
// instead of a per-host JSON file — useful when multiple orchestrator
// instances share one project namespace.
type postgresProjectMapBackend struct {
	db *sql.DB
}

func (b *postgresProjectMapBackend) ensureTable() error {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS vaultsync_project_map (
		project_name TEXT PRIMARY KEY,
		project_id   INTEGER NOT NULL
	)`)
	return err
}

func (b *postgresProjectMapBackend) Load() (map[string]int, error) {
	if err := b.ensureTable(); err != nil {
		return nil, err
	}
	rows, err := b.db.Query(`SELECT project_name, project_id FROM vaultsync_project_map`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := map[string]int{}
	for rows.Next() {
		var name string
		var id int
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		m[name] = id
	}
	return m, rows.Err()
}

func (b *postgresProjectMapBackend) Save(m map[string]int) error {
	if err := b.ensureTable(); err != nil {
		return err
	}
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM vaultsync_project_map`); err != nil {
		tx.Rollback()
		return err
	}
	for name, id := range m {
		if _, err := tx.Exec(`INSERT INTO vaultsync_project_map (project_name, project_id) VALUES ($1, $2)`, name, id); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
