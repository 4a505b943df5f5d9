package reconciler

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/fingerprint"
	"github.com/vaultsync/vaultsync/internal/localscan"
	"github.com/vaultsync/vaultsync/internal/manifest"
	"github.com/vaultsync/vaultsync/internal/objectstore"
	"github.com/vaultsync/vaultsync/internal/pathutil"
)

// fakeObjectStore is a minimal in-memory stand-in for
// *objectstore.Adapter, recording which keys were copied up, copied
// down, or removed so tests can assert on side effects without a live
// S3 client.
type fakeObjectStore struct {
	copyUpCalls   []string
	copyDownCalls []string
	removeCalls   []string
	downloadBody  []byte
}

func (f *fakeObjectStore) ListRecursive(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	return nil, nil
}

func (f *fakeObjectStore) CopyUp(ctx context.Context, localPath, key string) error {
	f.copyUpCalls = append(f.copyUpCalls, key)
	return nil
}

func (f *fakeObjectStore) CopyDown(ctx context.Context, key, localPath string) error {
	f.copyDownCalls = append(f.copyDownCalls, key)
	body := f.downloadBody
	if body == nil {
		body = []byte("s3 content")
	}
	return os.WriteFile(localPath, body, 0o644)
}

func (f *fakeObjectStore) Remove(ctx context.Context, key string) error {
	f.removeCalls = append(f.removeCalls, key)
	return nil
}

func newTestReconciler(obj objectStore) *Reconciler {
	return &Reconciler{
		cfg:    &config.Config{SkewGuard: 2 * time.Second},
		obj:    obj,
		man:    manifest.NewStore(),
		logger: log.Default(),
		sink:   nullSink{},
	}
}

func TestBuildUnionMergesAllThreeSides(t *testing.T) {
	now := time.Now().UTC()
	local := map[string]localscan.Entry{
		"Docs/a.txt": {LastModified: now},
		"Docs/b.txt": {LastModified: now},
	}
	s3 := []objectstore.Entry{
		{RelOriginal: "docs/b.txt", LastModified: now, RealKey: "prefix/docs/b.txt"},
		{RelOriginal: "docs/c.txt", LastModified: now, RealKey: "prefix/docs/c.txt"},
	}
	prev := manifest.Manifest{
		pathutil.NewRelKey("docs/d.txt").Fold(): {
			Source:      manifest.SourceLocal,
			RelOriginal: "Docs/d.txt",
		},
	}

	union := buildUnion(local, s3, prev)
	if len(union) != 4 {
		t.Fatalf("expected 4 union entries, got %d", len(union))
	}

	a := union[pathutil.NewRelKey("Docs/a.txt").Fold()]
	if a == nil || !a.inLocal || a.inS3 || a.inPrev {
		t.Fatalf("a.txt: expected local-only, got %+v", a)
	}

	b := union[pathutil.NewRelKey("Docs/b.txt").Fold()]
	if b == nil || !b.inLocal || !b.inS3 {
		t.Fatalf("b.txt: expected both sides present, got %+v", b)
	}
	if string(b.key) != "Docs/b.txt" {
		t.Fatalf("b.txt: expected local case preserved, got %q", b.key)
	}

	c := union[pathutil.NewRelKey("docs/c.txt").Fold()]
	if c == nil || c.inLocal || !c.inS3 {
		t.Fatalf("c.txt: expected s3-only, got %+v", c)
	}

	d := union[pathutil.NewRelKey("docs/d.txt").Fold()]
	if d == nil || d.inLocal || d.inS3 || !d.inPrev {
		t.Fatalf("d.txt: expected prev-only, got %+v", d)
	}
	if string(d.key) != "Docs/d.txt" {
		t.Fatalf("d.txt: expected manifest-recorded case preserved, got %q", d.key)
	}
}

func TestOrderUnionPlaceholdersFirstThenDepthThenLex(t *testing.T) {
	mk := func(rel string) *unionEntry { return &unionEntry{key: pathutil.RelKey(rel)} }
	union := map[string]*unionEntry{
		"1": mk("zeta/deep/file.txt"),
		"2": mk("alpha.txt"),
		"3": mk("beta/.placeholder"),
		"4": mk("alpha/.placeholder"),
		"5": mk("beta.txt"),
	}

	ordered := orderUnion(union)
	var got []string
	for _, e := range ordered {
		got = append(got, string(e.key))
	}

	want := []string{"alpha/.placeholder", "beta/.placeholder", "alpha.txt", "beta.txt", "zeta/deep/file.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestOrderUnionIsCaseInsensitive(t *testing.T) {
	union := map[string]*unionEntry{
		"1": {key: pathutil.RelKey("Zebra.txt")},
		"2": {key: pathutil.RelKey("apple.txt")},
	}
	ordered := orderUnion(union)
	if string(ordered[0].key) != "apple.txt" {
		t.Fatalf("expected apple.txt first, got %v", ordered)
	}
}

func TestCompareBranches(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("bytes unchanged skip", func(t *testing.T) {
		root := t.TempDir()
		localPath := filepath.Join(root, "file.txt")
		if err := os.WriteFile(localPath, []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
		curr, err := fingerprint.Compute(localPath)
		if err != nil {
			t.Fatal(err)
		}
		sidecars := fingerprint.NewStore(root)
		if err := sidecars.Set("file.txt", fingerprint.Meta{Origin: fingerprint.OriginLocal, Fingerprint: curr, MarkedAt: base}); err != nil {
			t.Fatal(err)
		}

		obj := &fakeObjectStore{}
		r := newTestReconciler(obj)
		e := &unionEntry{key: pathutil.RelKey("file.txt"), localMT: base, s3MT: base.Add(time.Hour)}

		rec, ok := r.compare(context.Background(), Project{LocalRoot: root}, e, sidecars, localPath, "prefix/file.txt", false)
		if !ok || rec.Source != manifest.SourceLocal {
			t.Fatalf("expected kept local record, got rec=%+v ok=%v", rec, ok)
		}
		if len(obj.copyUpCalls) != 0 || len(obj.copyDownCalls) != 0 {
			t.Fatalf("expected no copy calls, got up=%v down=%v", obj.copyUpCalls, obj.copyDownCalls)
		}
	})

	t.Run("skew guard skip", func(t *testing.T) {
		root := t.TempDir()
		localPath := filepath.Join(root, "file.txt")
		if err := os.WriteFile(localPath, []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
		sidecars := fingerprint.NewStore(root)

		obj := &fakeObjectStore{}
		r := newTestReconciler(obj)
		e := &unionEntry{
			key:     pathutil.RelKey("file.txt"),
			localMT: base,
			s3MT:    base.Add(time.Second), // within the 2s skew guard
		}

		rec, ok := r.compare(context.Background(), Project{LocalRoot: root}, e, sidecars, localPath, "prefix/file.txt", false)
		if !ok {
			t.Fatalf("expected skew guard to keep a record, got ok=%v", ok)
		}
		if len(obj.copyUpCalls) != 0 || len(obj.copyDownCalls) != 0 {
			t.Fatalf("expected no copy calls under skew guard, got up=%v down=%v", obj.copyUpCalls, obj.copyDownCalls)
		}
		_ = rec
	})

	t.Run("local newer uploads", func(t *testing.T) {
		root := t.TempDir()
		localPath := filepath.Join(root, "file.txt")
		if err := os.WriteFile(localPath, []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
		sidecars := fingerprint.NewStore(root)

		obj := &fakeObjectStore{}
		r := newTestReconciler(obj)
		e := &unionEntry{
			key:     pathutil.RelKey("file.txt"),
			localMT: base.Add(time.Hour),
			s3MT:    base,
		}

		rec, ok := r.compare(context.Background(), Project{LocalRoot: root}, e, sidecars, localPath, "prefix/file.txt", false)
		if !ok || rec.Source != manifest.SourceLocal {
			t.Fatalf("expected upload to local record, got rec=%+v ok=%v", rec, ok)
		}
		if len(obj.copyUpCalls) != 1 || obj.copyUpCalls[0] != "prefix/file.txt" {
			t.Fatalf("expected one CopyUp of prefix/file.txt, got %v", obj.copyUpCalls)
		}
		if len(obj.copyDownCalls) != 0 {
			t.Fatalf("expected no downloads, got %v", obj.copyDownCalls)
		}
	})

	t.Run("s3 newer downloads", func(t *testing.T) {
		root := t.TempDir()
		localPath := filepath.Join(root, "file.txt")
		if err := os.WriteFile(localPath, []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
		sidecars := fingerprint.NewStore(root)

		obj := &fakeObjectStore{downloadBody: []byte("from s3")}
		r := newTestReconciler(obj)
		e := &unionEntry{
			key:     pathutil.RelKey("file.txt"),
			localMT: base,
			s3MT:    base.Add(time.Hour),
		}

		rec, ok := r.compare(context.Background(), Project{LocalRoot: root}, e, sidecars, localPath, "prefix/file.txt", false)
		if !ok || rec.Source != manifest.SourceS3 {
			t.Fatalf("expected download to s3 record, got rec=%+v ok=%v", rec, ok)
		}
		if len(obj.copyDownCalls) != 1 || obj.copyDownCalls[0] != "prefix/file.txt" {
			t.Fatalf("expected one CopyDown of prefix/file.txt, got %v", obj.copyDownCalls)
		}
		if len(obj.copyUpCalls) != 0 {
			t.Fatalf("expected no uploads, got %v", obj.copyUpCalls)
		}
		got, err := os.ReadFile(localPath)
		if err != nil || string(got) != "from s3" {
			t.Fatalf("expected local file replaced with s3 content, got %q err=%v", got, err)
		}
	})
}

func TestClassifyDeleteBranches(t *testing.T) {
	t.Run("deleted on s3 removes local file", func(t *testing.T) {
		root := t.TempDir()
		localPath := filepath.Join(root, "file.txt")
		if err := os.WriteFile(localPath, []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
		sidecars := fingerprint.NewStore(root)
		if err := sidecars.Set("file.txt", fingerprint.Meta{Origin: fingerprint.OriginFilevine}); err != nil {
			t.Fatal(err)
		}

		obj := &fakeObjectStore{}
		r := newTestReconciler(obj)
		e := &unionEntry{
			key:     pathutil.RelKey("file.txt"),
			inLocal: true,
			inPrev:  true,
			prevRec: manifest.Record{Source: manifest.SourceS3},
		}

		rec, ok := r.classify(context.Background(), Project{LocalRoot: root}, e, sidecars, false)
		if ok || rec != (manifest.Record{}) {
			t.Fatalf("expected no manifest entry kept, got rec=%+v ok=%v", rec, ok)
		}
		if _, err := os.Stat(localPath); !os.IsNotExist(err) {
			t.Fatalf("expected local file removed, stat err=%v", err)
		}
		if got, _ := sidecars.Get("file.txt"); got != nil {
			t.Fatalf("expected sidecar removed, got %+v", got)
		}
	})

	t.Run("deleted locally removes s3 object", func(t *testing.T) {
		root := t.TempDir()
		sidecars := fingerprint.NewStore(root)

		obj := &fakeObjectStore{}
		r := newTestReconciler(obj)
		e := &unionEntry{
			key:     pathutil.RelKey("file.txt"),
			inS3:    true,
			s3Key:   "prefix/file.txt",
			inPrev:  true,
			prevRec: manifest.Record{Source: manifest.SourceLocal},
		}

		rec, ok := r.classify(context.Background(), Project{LocalRoot: root}, e, sidecars, false)
		if ok || rec != (manifest.Record{}) {
			t.Fatalf("expected no manifest entry kept, got rec=%+v ok=%v", rec, ok)
		}
		if len(obj.removeCalls) != 1 || obj.removeCalls[0] != "prefix/file.txt" {
			t.Fatalf("expected Remove(prefix/file.txt), got %v", obj.removeCalls)
		}
	})

	t.Run("deleted locally skipped under hydrateOnly", func(t *testing.T) {
		root := t.TempDir()
		sidecars := fingerprint.NewStore(root)

		obj := &fakeObjectStore{}
		r := newTestReconciler(obj)
		e := &unionEntry{
			key:     pathutil.RelKey("file.txt"),
			inS3:    true,
			s3Key:   "prefix/file.txt",
			inPrev:  true,
			prevRec: manifest.Record{Source: manifest.SourceLocal},
		}

		if _, ok := r.classify(context.Background(), Project{LocalRoot: root}, e, sidecars, true); ok {
			t.Fatal("expected no manifest entry kept under hydrateOnly")
		}
		if len(obj.removeCalls) != 0 {
			t.Fatalf("expected no s3 delete under hydrateOnly, got %v", obj.removeCalls)
		}
	})
}

func TestUploadNewEchoShieldSkipsInboundCopy(t *testing.T) {
	root := t.TempDir()
	localPath := filepath.Join(root, "file.txt")
	if err := os.WriteFile(localPath, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	curr, err := fingerprint.Compute(localPath)
	if err != nil {
		t.Fatal(err)
	}
	sidecars := fingerprint.NewStore(root)
	if err := sidecars.Set("file.txt", fingerprint.Meta{Origin: fingerprint.OriginFilevine, Fingerprint: curr}); err != nil {
		t.Fatal(err)
	}

	obj := &fakeObjectStore{}
	r := newTestReconciler(obj)
	e := &unionEntry{key: pathutil.RelKey("file.txt"), localMT: time.Now().UTC()}

	rec, ok := r.uploadNew(context.Background(), Project{LocalRoot: root}, e, sidecars, localPath, "prefix/file.txt", false)
	if !ok || rec.Source != manifest.SourceLocal {
		t.Fatalf("expected local record kept, got rec=%+v ok=%v", rec, ok)
	}
	if len(obj.copyUpCalls) != 0 {
		t.Fatalf("expected echo shield to suppress upload, got %v", obj.copyUpCalls)
	}
}
