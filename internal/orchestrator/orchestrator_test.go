package orchestrator

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/objectstore"
	"github.com/vaultsync/vaultsync/internal/reconciler"
	"github.com/vaultsync/vaultsync/internal/watcher"
)

// fakeDiscoverObjStore is a minimal in-memory stand-in for
// *objectstore.Adapter, recording placeholder seeds so DiscoverProjects
// can be tested without a live S3 client.
type fakeDiscoverObjStore struct {
	entries      []objectstore.Entry
	placeholders []string
}

func (f *fakeDiscoverObjStore) ListRecursive(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	return f.entries, nil
}

func (f *fakeDiscoverObjStore) PutPlaceholder(ctx context.Context, key string) error {
	f.placeholders = append(f.placeholders, key)
	return nil
}

func TestDiscoverProjectsSeedsLocalOnlyProjectsAndSkipsOrgMarker(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"case-1", "org"} {
		if err := os.Mkdir(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	cfg := &config.Config{ZDriveRoot: root, S3RootPrefix: "prefix", OrgMarker: "org"}
	obj := &fakeDiscoverObjStore{
		entries: []objectstore.Entry{
			{RelOriginal: "case-2/file.txt"},
			{RelOriginal: "org/shared.txt"},
		},
	}
	o := &Orchestrator{cfg: cfg, obj: obj, logger: log.Default()}

	names, err := o.DiscoverProjects(context.Background())
	if err != nil {
		t.Fatalf("DiscoverProjects error: %v", err)
	}
	want := []string{"case-1", "case-2"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("got %v, want %v", names, want)
	}

	if len(obj.placeholders) != 1 {
		t.Fatalf("expected exactly one placeholder seed for the local-only project, got %v", obj.placeholders)
	}
	wantPlaceholder := reconciler.ProjectPrefix(cfg, "case-1") + "/.placeholder"
	if obj.placeholders[0] != wantPlaceholder {
		t.Fatalf("got placeholder %q, want %q", obj.placeholders[0], wantPlaceholder)
	}
}

// fakeFullPasser is a minimal in-memory stand-in for
// *reconciler.Reconciler, recording each FullPass call and whether a
// watcher had already been registered for the project at the moment it
// ran, so EnsureProject's hydrate-before-watcher ordering can be tested
// without a live object store or Origin adapter.
type fakeFullPasser struct {
	orch                     *Orchestrator
	projectName              string
	calls                    []bool // hydrateOnly value per FullPass call
	watcherSeenBeforeHydrate bool
}

func (f *fakeFullPasser) FullPass(ctx context.Context, p reconciler.Project, hydrateOnly bool) error {
	f.calls = append(f.calls, hydrateOnly)
	f.orch.watchersMu.Lock()
	_, exists := f.orch.watchers[f.projectName]
	f.orch.watchersMu.Unlock()
	if exists {
		f.watcherSeenBeforeHydrate = true
	}
	return nil
}

func (f *fakeFullPasser) FastPath(ctx context.Context, p reconciler.Project, changedPath string, isDir, hydrateOnly bool) error {
	return nil
}

func TestEnsureProjectHydratesBeforeStartingWatcher(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{ZDriveRoot: root}
	fp := &fakeFullPasser{projectName: "case-1"}
	o := &Orchestrator{
		cfg:      cfg,
		rec:      fp,
		locks:    map[string]*sync.Mutex{},
		watchers: map[string]*watcher.Watcher{},
		logger:   log.Default(),
	}
	fp.orch = o

	p, err := o.EnsureProject(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("EnsureProject error: %v", err)
	}
	if len(fp.calls) != 1 || !fp.calls[0] {
		t.Fatalf("expected exactly one hydrate-only FullPass call, got %v", fp.calls)
	}
	if fp.watcherSeenBeforeHydrate {
		t.Fatal("expected no watcher registered yet when FullPass ran")
	}

	o.watchersMu.Lock()
	_, registered := o.watchers["case-1"]
	o.watchersMu.Unlock()
	if !registered {
		t.Fatal("expected watcher registered after hydrate completes")
	}
	if p.LocalRoot != filepath.Join(root, "case-1") {
		t.Fatalf("got LocalRoot %q", p.LocalRoot)
	}

	// A second call is a no-op: known projects are not re-hydrated.
	if _, err := o.EnsureProject(context.Background(), "case-1"); err != nil {
		t.Fatalf("second EnsureProject error: %v", err)
	}
	if len(fp.calls) != 1 {
		t.Fatalf("expected no additional FullPass calls, got %v", fp.calls)
	}
}

func TestProjectForSanitizesNameAndJoinsRoot(t *testing.T) {
	cfg := &config.Config{ZDriveRoot: "/mirror"}
	o := &Orchestrator{cfg: cfg}

	p := o.projectFor("Case: Smith")
	want := filepath.Join("/mirror", "Case Smith")
	if p.LocalRoot != want {
		t.Fatalf("got %q, want %q", p.LocalRoot, want)
	}
	if p.Name != "Case: Smith" {
		t.Fatalf("expected original name preserved, got %q", p.Name)
	}
}

func TestLockForReturnsSameMutexForSameProject(t *testing.T) {
	o := &Orchestrator{locks: map[string]*sync.Mutex{}}
	a := o.lockFor("proj-a")
	b := o.lockFor("proj-a")
	if a != b {
		t.Fatal("expected the same mutex instance for the same project name")
	}
	c := o.lockFor("proj-b")
	if a == c {
		t.Fatal("expected a distinct mutex for a different project")
	}
}
