// Package reconciler implements the three-way merge between the Local
// Mirror, the Object Store, and the previous manifest — the hard core of
// the sync engine. It decides upload/download/delete/noop per key with
// echo suppression and a modification-time skew guard.
package reconciler

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/fingerprint"
	"github.com/vaultsync/vaultsync/internal/localscan"
	"github.com/vaultsync/vaultsync/internal/manifest"
	"github.com/vaultsync/vaultsync/internal/objectstore"
	"github.com/vaultsync/vaultsync/internal/origin"
	"github.com/vaultsync/vaultsync/internal/pathutil"
)

// Project identifies the local root and Object Store prefix a
// reconciliation pass operates over.
type Project struct {
	Name      string
	ID        int // 0 if not yet resolved with Origin
	LocalRoot string
}

func (p Project) manifestPath() string {
	return filepath.Join(p.LocalRoot, ".last_sync_state.json")
}

// folderSubpathFor returns the directory portion of key, in the
// forward-slash form the Origin Adapter's folder resolution expects, or
// "" for a key at the project root.
func folderSubpathFor(key pathutil.RelKey) string {
	dir := filepath.ToSlash(filepath.Dir(string(key)))
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// objectStore is the subset of *objectstore.Adapter the Reconciler
// drives, narrowed to a local interface so tests can supply a fake in
// place of a live S3 client, the same seam projectMapBackend gives the
// origin package's storage backends.
type objectStore interface {
	ListRecursive(ctx context.Context, prefix string) ([]objectstore.Entry, error)
	CopyUp(ctx context.Context, localPath, key string) error
	CopyDown(ctx context.Context, key, localPath string) error
	Remove(ctx context.Context, key string) error
}

// originUploader is the subset of *origin.Adapter the Reconciler drives
// for the Local Mirror → Origin upload path.
type originUploader interface {
	UploadFile(ctx context.Context, projectID int, localPath, folderSubpath string, rootFolderID int, requireResolved bool) (string, error)
	RefreshFromOrigin(ctx context.Context, projectID int) error
}

// Decision describes one action the reconciler took (or skipped) for a
// key, published to the status feed and used by tests.
type Decision struct {
	Project string
	Key     string
	Action  string // "upload", "download", "delete-local", "delete-s3", "skip", "mkdir"
	Reason  string
}

// Sink receives reconciliation decisions as they happen. Implementations
// must not block.
type Sink interface {
	Publish(Decision)
}

type nullSink struct{}

func (nullSink) Publish(Decision) {}

// Reconciler is the sole mutator of local files and object-store objects
// during a sync pass, per the ownership rule in the data model.
type Reconciler struct {
	cfg    *config.Config
	obj    objectStore
	orig   originUploader
	man    *manifest.Store
	logger *log.Logger
	sink   Sink
}

// New builds a Reconciler. sink may be nil, in which case decisions are
// simply not published anywhere. orig may be nil, in which case Origin
// uploads and refreshes are skipped everywhere they're guarded by
// r.orig != nil; a nil *origin.Adapter is deliberately not stored
// through the interface field, which would otherwise wrap a nil pointer
// in a non-nil interface value.
func New(cfg *config.Config, obj *objectstore.Adapter, orig *origin.Adapter, sink Sink) *Reconciler {
	if sink == nil {
		sink = nullSink{}
	}
	r := &Reconciler{
		cfg:    cfg,
		obj:    obj,
		man:    manifest.NewStore(),
		logger: log.Default(),
		sink:   sink,
	}
	if orig != nil {
		r.orig = orig
	}
	return r
}

func (r *Reconciler) publish(project, key, action, reason string) {
	r.sink.Publish(Decision{Project: project, Key: key, Action: action, Reason: reason})
	r.logger.Printf("[%s] %s: %s (%s)", project, key, action, reason)
}

// FastPath handles a single changed local path, triggered by the
// Watcher. It never runs the full three-way merge.
func (r *Reconciler) FastPath(ctx context.Context, p Project, changedPath string, isDir bool, hydrateOnly bool) error {
	if isDir {
		return nil
	}
	base := filepath.Base(changedPath)
	if pathutil.IsIgnored(base) {
		return nil
	}
	if hydrateOnly {
		return nil
	}

	rel, err := filepath.Rel(p.LocalRoot, changedPath)
	if err != nil {
		return err
	}
	relKey := pathutil.NewRelKey(filepath.ToSlash(rel))
	sidecars := fingerprint.NewStore(p.LocalRoot)
	key := ObjectKey(r.cfg, p.Name, relKey)

	if _, err := os.Stat(changedPath); err == nil {
		curr, err := fingerprint.Compute(changedPath)
		if err != nil {
			r.logger.Printf("[%s] %s: fingerprint failed: %v", p.Name, relKey, err)
			return nil
		}
		meta, err := sidecars.Get(string(relKey))
		if err != nil {
			r.logger.Printf("[%s] %s: sidecar read failed: %v", p.Name, relKey, err)
		}
		if meta != nil && meta.Fingerprint == curr {
			r.publish(p.Name, string(relKey), "skip", "echo shield: fingerprint unchanged")
			return nil
		}

		if err := r.obj.CopyUp(ctx, changedPath, key); err != nil {
			r.logger.Printf("[%s] %s: copy up failed: %v", p.Name, relKey, err)
			return nil
		}
		if err := sidecars.Set(string(relKey), fingerprint.Meta{
			Origin:      fingerprint.OriginLocal,
			Fingerprint: curr,
			MarkedAt:    time.Now().UTC(),
		}); err != nil {
			r.logger.Printf("[%s] %s: sidecar write failed: %v", p.Name, relKey, err)
		}
		r.publish(p.Name, string(relKey), "upload", "fast path: local write")

		if r.cfg.EnableOriginUpload && p.ID > 0 && r.orig != nil {
			if _, err := r.orig.UploadFile(ctx, p.ID, changedPath, folderSubpathFor(relKey), r.cfg.RootFolderID, r.cfg.RequireResolved); err != nil {
				r.logger.Printf("[%s] %s: origin upload failed: %v", p.Name, relKey, err)
			}
		}
		return nil
	}

	if err := r.obj.Remove(ctx, key); err != nil {
		r.logger.Printf("[%s] %s: remove failed: %v", p.Name, relKey, err)
		return nil
	}
	r.publish(p.Name, string(relKey), "delete-s3", "fast path: local delete")
	return nil
}

// unionEntry carries the per-key state needed to classify and compare.
type unionEntry struct {
	key     pathutil.RelKey
	inLocal bool
	localMT time.Time
	inS3    bool
	s3MT    time.Time
	s3Key   string
	inPrev  bool
	prevRec manifest.Record
}

// FullPass runs the three-way merge for a project. hydrateOnly disables
// all outbound writes (no uploads, no S3 deletes, no Origin uploads);
// only downloads and placeholder-driven folder creation occur.
func (r *Reconciler) FullPass(ctx context.Context, p Project, hydrateOnly bool) error {
	if !hydrateOnly && p.ID > 0 && r.orig != nil {
		if err := r.orig.RefreshFromOrigin(ctx, p.ID); err != nil {
			r.logger.Printf("[%s] refresh from origin failed (continuing): %v", p.Name, err)
		}
	}

	prev := r.man.Load(p.manifestPath())
	local, err := localscan.Scan(p.LocalRoot)
	if err != nil {
		return fmt.Errorf("reconciler: scan local %s: %w", p.LocalRoot, err)
	}
	prefix := ProjectPrefix(r.cfg, p.Name)
	s3Entries, err := r.obj.ListRecursive(ctx, prefix)
	if err != nil {
		r.logger.Printf("[%s] list object store failed, treating as empty: %v", p.Name, err)
		s3Entries = nil
	}

	union := buildUnion(local, s3Entries, prev)
	ordered := orderUnion(union)

	sidecars := fingerprint.NewStore(p.LocalRoot)
	newManifest := manifest.Manifest{}

	for _, entry := range ordered {
		rec, keep := r.classify(ctx, p, entry, sidecars, hydrateOnly)
		if keep {
			newManifest[entry.key.Fold()] = rec
		} else if entry.inPrev {
			newManifest[entry.key.Fold()] = entry.prevRec // carry forward, per manifest update rule
		}
	}

	if err := r.man.Save(p.manifestPath(), newManifest); err != nil {
		return fmt.Errorf("reconciler: save manifest: %w", err)
	}
	return nil
}

func buildUnion(local map[string]localscan.Entry, s3 []objectstore.Entry, prev manifest.Manifest) map[string]*unionEntry {
	union := map[string]*unionEntry{}

	get := func(fold string, original pathutil.RelKey) *unionEntry {
		if e, ok := union[fold]; ok {
			return e
		}
		e := &unionEntry{key: original}
		union[fold] = e
		return e
	}

	for relStr, entry := range local {
		rk := pathutil.RelKey(relStr)
		e := get(rk.Fold(), rk)
		e.inLocal = true
		e.localMT = entry.LastModified
	}
	for _, entry := range s3 {
		rk := pathutil.NewRelKey(entry.RelOriginal)
		e := get(rk.Fold(), rk)
		e.inS3 = true
		e.s3MT = entry.LastModified
		e.s3Key = entry.RealKey
	}
	for foldedKey, rec := range prev {
		e, ok := union[foldedKey]
		if !ok {
			original := rec.RelOriginal
			if original == "" {
				original = foldedKey
			}
			rk := pathutil.RelKey(original)
			e = get(foldedKey, rk)
		}
		e.inPrev = true
		e.prevRec = rec
	}
	return union
}

// orderUnion sorts keys per the fixed processing order: all placeholder
// keys first, then by path depth ascending, then lexicographically.
func orderUnion(union map[string]*unionEntry) []*unionEntry {
	ordered := make([]*unionEntry, 0, len(union))
	for _, e := range union {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		aPlaceholder, bPlaceholder := a.key.IsPlaceholder(), b.key.IsPlaceholder()
		if aPlaceholder != bPlaceholder {
			return aPlaceholder
		}
		if a.key.Depth() != b.key.Depth() {
			return a.key.Depth() < b.key.Depth()
		}
		return strings.ToLower(string(a.key)) < strings.ToLower(string(b.key))
	})
	return ordered
}

// classify applies the case table from the reconciliation design to a
// single key and returns the manifest record to keep, if any.
func (r *Reconciler) classify(ctx context.Context, p Project, e *unionEntry, sidecars *fingerprint.Store, hydrateOnly bool) (manifest.Record, bool) {
	localPath := filepath.Join(p.LocalRoot, filepath.FromSlash(string(e.key)))
	objKey := e.s3Key
	if objKey == "" {
		objKey = ObjectKey(r.cfg, p.Name, e.key)
	}

	switch {
	case e.key.IsPlaceholder():
		dir := filepath.Join(p.LocalRoot, filepath.FromSlash(filepath.Dir(string(e.key))))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.logger.Printf("[%s] %s: mkdir failed: %v", p.Name, e.key, err)
		} else {
			r.publish(p.Name, string(e.key), "mkdir", "placeholder")
		}
		return manifest.Record{}, false

	case e.inPrev && !e.inS3 && e.prevRec.Source == manifest.SourceS3:
		if e.inLocal {
			if err := os.Remove(localPath); err != nil {
				r.logger.Printf("[%s] %s: delete local failed: %v", p.Name, e.key, err)
			} else {
				sidecars.Remove(string(e.key))
				r.publish(p.Name, string(e.key), "delete-local", "deleted on s3")
			}
		}
		return manifest.Record{}, false

	case e.inPrev && !e.inLocal && e.prevRec.Source == manifest.SourceLocal:
		if !hydrateOnly {
			if err := r.obj.Remove(ctx, objKey); err != nil {
				r.logger.Printf("[%s] %s: delete s3 failed: %v", p.Name, e.key, err)
			} else {
				r.publish(p.Name, string(e.key), "delete-s3", "deleted locally")
			}
		}
		return manifest.Record{}, false

	case e.inLocal && e.inS3:
		return r.compare(ctx, p, e, sidecars, localPath, objKey, hydrateOnly)

	case e.inLocal && !e.inS3:
		return r.uploadNew(ctx, p, e, sidecars, localPath, objKey, hydrateOnly)

	case e.inS3 && !e.inLocal:
		return r.downloadNew(ctx, p, e, sidecars, localPath, objKey)
	}

	return manifest.Record{}, false
}

func (r *Reconciler) compare(ctx context.Context, p Project, e *unionEntry, sidecars *fingerprint.Store, localPath, objKey string, hydrateOnly bool) (manifest.Record, bool) {
	curr, err := fingerprint.Compute(localPath)
	if err != nil {
		r.logger.Printf("[%s] %s: fingerprint failed: %v", p.Name, e.key, err)
		return manifest.Record{}, false
	}
	meta, _ := sidecars.Get(string(e.key))
	stored := ""
	if meta != nil {
		stored = meta.Fingerprint
	}

	if stored != "" && stored == curr {
		r.publish(p.Name, string(e.key), "skip", "bytes unchanged")
		return manifest.Record{Source: manifest.SourceLocal, LastModified: e.localMT, RealKey: objKey, RelOriginal: string(e.key)}, true
	}

	skew := e.localMT.Sub(e.s3MT)
	if skew < 0 {
		skew = -skew
	}
	if skew < r.cfg.SkewGuard {
		r.publish(p.Name, string(e.key), "skip", "skew guard")
		rec := e.prevRec
		if !e.inPrev {
			rec = manifest.Record{Source: manifest.SourceLocal, LastModified: e.localMT}
		}
		return rec, true
	}

	if e.localMT.After(e.s3MT) {
		if hydrateOnly {
			return manifest.Record{Source: manifest.SourceS3, LastModified: e.s3MT, RealKey: objKey, RelOriginal: string(e.key)}, true
		}
		if err := r.obj.CopyUp(ctx, localPath, objKey); err != nil {
			r.logger.Printf("[%s] %s: copy up failed: %v", p.Name, e.key, err)
			return manifest.Record{}, false
		}
		sidecars.Set(string(e.key), fingerprint.Meta{Origin: fingerprint.OriginLocal, Fingerprint: curr, MarkedAt: time.Now().UTC()})
		r.publish(p.Name, string(e.key), "upload", "local newer")
		if r.cfg.EnableOriginUpload && p.ID > 0 && r.orig != nil {
			if _, err := r.orig.UploadFile(ctx, p.ID, localPath, folderSubpathFor(e.key), r.cfg.RootFolderID, r.cfg.RequireResolved); err != nil {
				r.logger.Printf("[%s] %s: origin upload failed: %v", p.Name, e.key, err)
			}
		}
		return manifest.Record{Source: manifest.SourceLocal, LastModified: e.localMT, RealKey: objKey, RelOriginal: string(e.key)}, true
	}

	if err := r.obj.CopyDown(ctx, objKey, localPath); err != nil {
		r.logger.Printf("[%s] %s: copy down failed: %v", p.Name, e.key, err)
		return manifest.Record{}, false
	}
	sidecars.Set(string(e.key), fingerprint.Meta{Origin: fingerprint.OriginFilevine, Fingerprint: mustFingerprint(localPath), MarkedAt: time.Now().UTC()})
	r.publish(p.Name, string(e.key), "download", "s3 newer")
	return manifest.Record{Source: manifest.SourceS3, LastModified: e.s3MT, RealKey: objKey, RelOriginal: string(e.key)}, true
}

func (r *Reconciler) uploadNew(ctx context.Context, p Project, e *unionEntry, sidecars *fingerprint.Store, localPath, objKey string, hydrateOnly bool) (manifest.Record, bool) {
	curr, err := fingerprint.Compute(localPath)
	if err != nil {
		r.logger.Printf("[%s] %s: fingerprint failed: %v", p.Name, e.key, err)
		return manifest.Record{}, false
	}
	meta, _ := sidecars.Get(string(e.key))
	if meta != nil && meta.Origin == fingerprint.OriginFilevine && meta.Fingerprint == curr {
		r.publish(p.Name, string(e.key), "skip", "echo shield: inbound copy not yet listed")
		return manifest.Record{Source: manifest.SourceLocal, LastModified: e.localMT}, true
	}
	if hydrateOnly {
		return manifest.Record{Source: manifest.SourceLocal, LastModified: e.localMT}, true
	}
	if err := r.obj.CopyUp(ctx, localPath, objKey); err != nil {
		r.logger.Printf("[%s] %s: copy up failed: %v", p.Name, e.key, err)
		return manifest.Record{}, false
	}
	sidecars.Set(string(e.key), fingerprint.Meta{Origin: fingerprint.OriginLocal, Fingerprint: curr, MarkedAt: time.Now().UTC()})
	r.publish(p.Name, string(e.key), "upload", "new local file")
	if r.cfg.EnableOriginUpload && p.ID > 0 && r.orig != nil {
		if _, err := r.orig.UploadFile(ctx, p.ID, localPath, folderSubpathFor(e.key), r.cfg.RootFolderID, r.cfg.RequireResolved); err != nil {
			r.logger.Printf("[%s] %s: origin upload failed: %v", p.Name, e.key, err)
		}
	}
	return manifest.Record{Source: manifest.SourceLocal, LastModified: e.localMT, RealKey: objKey, RelOriginal: string(e.key)}, true
}

func (r *Reconciler) downloadNew(ctx context.Context, p Project, e *unionEntry, sidecars *fingerprint.Store, localPath, objKey string) (manifest.Record, bool) {
	if err := r.obj.CopyDown(ctx, objKey, localPath); err != nil {
		r.logger.Printf("[%s] %s: copy down failed: %v", p.Name, e.key, err)
		return manifest.Record{}, false
	}
	sidecars.Set(string(e.key), fingerprint.Meta{Origin: fingerprint.OriginFilevine, Fingerprint: mustFingerprint(localPath), MarkedAt: time.Now().UTC()})
	r.publish(p.Name, string(e.key), "download", "new on s3")
	return manifest.Record{Source: manifest.SourceS3, LastModified: e.s3MT, RealKey: objKey, RelOriginal: string(e.key)}, true
}

func mustFingerprint(path string) string {
	fp, err := fingerprint.Compute(path)
	if err != nil {
		return ""
	}
	return fp
}
