// Package orchestrator owns the top-level lifecycle: discovering
// projects, seeding new ones, running watchers, and driving the periodic
// full reconciliation pass across every known project.
package orchestrator

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/objectstore"
	"github.com/vaultsync/vaultsync/internal/origin"
	"github.com/vaultsync/vaultsync/internal/pathutil"
	"github.com/vaultsync/vaultsync/internal/reconciler"
	"github.com/vaultsync/vaultsync/internal/watcher"
)

// objStore is the subset of *objectstore.Adapter DiscoverProjects
// drives, narrowed so tests can supply a fake, the same seam the
// reconciler package's objectStore interface gives it.
type objStore interface {
	ListRecursive(ctx context.Context, prefix string) ([]objectstore.Entry, error)
	PutPlaceholder(ctx context.Context, key string) error
}

// projectResolver is the subset of *origin.Adapter the Orchestrator
// drives directly, for project-id resolution ahead of a reconciliation
// pass and the allowlist check.
type projectResolver interface {
	ResolveProjectID(ctx context.Context, name string) (int, error)
}

// fullPasser is the subset of *reconciler.Reconciler the Orchestrator
// drives, narrowed so EnsureProject's hydrate-before-watcher ordering
// can be tested against a fake instead of a live object store and
// Origin adapter.
type fullPasser interface {
	FullPass(ctx context.Context, p reconciler.Project, hydrateOnly bool) error
	FastPath(ctx context.Context, p reconciler.Project, changedPath string, isDir, hydrateOnly bool) error
}

// Orchestrator drives the lifecycle of every project this instance
// mirrors: discovery, first-touch hydration, watching, and periodic full
// passes.
type Orchestrator struct {
	cfg  *config.Config
	obj  objStore
	orig projectResolver
	rec  fullPasser

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	watchersMu sync.Mutex
	watchers   map[string]*watcher.Watcher

	known   sync.Map // project name -> struct{}
	running sync.Map // project name -> struct{}, watcher pump started

	logger *log.Logger
}

// New builds an Orchestrator around already-constructed adapters. orig
// may be nil, in which case project-id resolution and allowlisting are
// skipped everywhere they're guarded by o.orig != nil; a nil
// *origin.Adapter is deliberately not stored through the interface
// field, which would otherwise wrap a nil pointer in a non-nil
// interface value.
func New(cfg *config.Config, obj *objectstore.Adapter, orig *origin.Adapter, sink reconciler.Sink) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		obj:      obj,
		rec:      reconciler.New(cfg, obj, orig, sink),
		locks:    map[string]*sync.Mutex{},
		watchers: map[string]*watcher.Watcher{},
		logger:   log.Default(),
	}
	if orig != nil {
		o.orig = orig
	}
	return o
}

func (o *Orchestrator) lockFor(project string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	m, ok := o.locks[project]
	if !ok {
		m = &sync.Mutex{}
		o.locks[project] = m
	}
	return m
}

// DiscoverProjects lists every project name known from either side, per
// the "created when observed either locally or in the object store"
// project lifetime rule: the top-level segments under the Object
// Store's root prefix, plus any directory directly under the Local
// Mirror root that hasn't shown up in the Object Store yet. A
// local-only project is seeded with a placeholder object at its prefix
// so the next discovery pass (and any other reader of the bucket) sees
// it too. cfg.OrgMarker names a reserved top-level segment that holds
// organization-wide content rather than a project and is skipped on
// both sides.
func (o *Orchestrator) DiscoverProjects(ctx context.Context) ([]string, error) {
	entries, err := o.obj.ListRecursive(ctx, o.cfg.S3RootPrefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		first := strings.SplitN(e.RelOriginal, "/", 2)[0]
		if first == "" || seen[first] || o.isOrgMarker(first) {
			continue
		}
		seen[first] = true
		names = append(names, first)
	}

	local, err := o.localProjectNames()
	if err != nil {
		o.logger.Printf("orchestrator: local project scan failed: %v", err)
	}
	for _, name := range local {
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)

		placeholder := reconciler.ProjectPrefix(o.cfg, name) + "/.placeholder"
		if err := o.obj.PutPlaceholder(ctx, placeholder); err != nil {
			o.logger.Printf("orchestrator[%s]: seed object store from local-only project failed: %v", name, err)
		} else {
			o.logger.Printf("orchestrator[%s]: discovered locally, seeded object store", name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// localProjectNames lists directory names directly under the Local
// Mirror root, the local-side half of project discovery.
func (o *Orchestrator) localProjectNames() ([]string, error) {
	entries, err := os.ReadDir(o.cfg.ZDriveRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || o.isOrgMarker(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (o *Orchestrator) isOrgMarker(name string) bool {
	return o.cfg.OrgMarker != "" && strings.EqualFold(name, o.cfg.OrgMarker)
}

// EnsureProject wires up local state for a project name the first time
// it is seen: creating the local directory, running a hydrate-only full
// pass, then starting its watcher. It is a no-op on subsequent calls.
func (o *Orchestrator) EnsureProject(ctx context.Context, name string) (reconciler.Project, error) {
	if _, loaded := o.known.LoadOrStore(name, struct{}{}); loaded {
		return o.projectFor(name), nil
	}

	p := o.projectFor(name)
	lock := o.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(p.LocalRoot, 0o755); err != nil {
		return p, err
	}

	if err := o.resolveProjectID(ctx, &p); err != nil {
		o.logger.Printf("orchestrator[%s]: project id unresolved, continuing without Origin upload: %v", name, err)
	}

	o.logger.Printf("orchestrator[%s]: hydrating from object store", name)
	if err := o.rec.FullPass(ctx, p, true); err != nil {
		return p, err
	}

	w, err := watcher.New(name, p.LocalRoot)
	if err != nil {
		return p, err
	}
	o.watchersMu.Lock()
	o.watchers[name] = w
	o.watchersMu.Unlock()

	return p, nil
}

func (o *Orchestrator) resolveProjectID(ctx context.Context, p *reconciler.Project) error {
	if o.orig == nil {
		return nil
	}
	id, err := o.orig.ResolveProjectID(ctx, p.Name)
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func (o *Orchestrator) projectFor(name string) reconciler.Project {
	return reconciler.Project{
		Name:      name,
		LocalRoot: filepath.Join(o.cfg.ZDriveRoot, pathutil.Sanitize(name)),
	}
}

// RunWatcher pumps one project's watcher events through the fast path,
// serialized against any full pass on the same project, until ctx ends.
func (o *Orchestrator) RunWatcher(ctx context.Context, p reconciler.Project) {
	o.watchersMu.Lock()
	w := o.watchers[p.Name]
	o.watchersMu.Unlock()
	if w == nil {
		return
	}
	go w.Run(ctx)

	lock := o.lockFor(p.Name)
	for {
		ev, ok := w.Next(ctx)
		if !ok {
			return
		}
		lock.Lock()
		if err := o.rec.FastPath(ctx, p, ev.Path, ev.IsDir, false); err != nil {
			o.logger.Printf("orchestrator[%s]: fast path failed for %s: %v", p.Name, ev.Path, err)
		}
		lock.Unlock()
	}
}

// FullPass runs one full reconciliation pass for a project, serialized
// against any fast-path activity for the same project.
func (o *Orchestrator) FullPass(ctx context.Context, p reconciler.Project) error {
	lock := o.lockFor(p.Name)
	lock.Lock()
	defer lock.Unlock()
	return o.rec.FullPass(ctx, p, false)
}

// Run is the top-level loop: discover projects, ensure each is seeded
// and watched, run a full pass over every known project, then wait for
// the poll interval and repeat until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	if err := o.tick(ctx); err != nil {
		o.logger.Printf("orchestrator: initial discovery pass failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.tick(ctx); err != nil {
				o.logger.Printf("orchestrator: pass failed: %v", err)
			}
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) error {
	names, err := o.DiscoverProjects(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if len(o.cfg.ProjectAllowlist) > 0 && !o.allowlisted(ctx, name) {
			continue
		}
		p, err := o.EnsureProject(ctx, name)
		if err != nil {
			o.logger.Printf("orchestrator[%s]: ensure failed: %v", name, err)
			continue
		}
		if _, alreadyRunning := o.running.LoadOrStore(name, struct{}{}); !alreadyRunning {
			go o.RunWatcher(ctx, p)
		}
		if err := o.FullPass(ctx, p); err != nil {
			o.logger.Printf("orchestrator[%s]: full pass failed: %v", name, err)
		}
	}
	return nil
}

func (o *Orchestrator) allowlisted(ctx context.Context, name string) bool {
	if o.orig == nil {
		return true
	}
	id, err := o.orig.ResolveProjectID(ctx, name)
	if err != nil {
		return true // fail open: unresolved projects are not filtered out
	}
	for _, allowed := range o.cfg.ProjectAllowlist {
		if allowed == id {
			return true
		}
	}
	return false
}

