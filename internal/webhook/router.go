package webhook

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/objectstore"
	"github.com/vaultsync/vaultsync/internal/orchestrator"
	"github.com/vaultsync/vaultsync/internal/origin"
	"github.com/vaultsync/vaultsync/internal/pathutil"
	"github.com/vaultsync/vaultsync/internal/reconciler"
)

// Result reports what the router did with one delivery, returned to the
// HTTP layer to shape the response and to the status feed for display.
type Result struct {
	Status  string
	Reason  string
	Skipped bool
}

// originClient is the subset of *origin.Adapter the Router drives,
// narrowed so tests can supply a fake in place of a live Origin HTTP
// client, the same seam the reconciler package's objectStore/
// originUploader interfaces give its adapters.
type originClient interface {
	GetProjectName(ctx context.Context, projectID int) (string, error)
	DocumentExists(ctx context.Context, documentID int) bool
	DownloadDocument(ctx context.Context, documentID int) (io.ReadCloser, string, error)
	RefreshFromOrigin(ctx context.Context, projectID int) error
}

// objectStoreClient is the subset of *objectstore.Adapter the Router
// drives directly (the reconciler owns everything else).
type objectStoreClient interface {
	IsPrefixEmpty(ctx context.Context, prefix string) (bool, error)
	FindKeysByDocumentID(ctx context.Context, prefix, documentID string) ([]string, error)
	Remove(ctx context.Context, key string) error
	CopyUp(ctx context.Context, localPath, key string) error
	StampMetadataAndTags(ctx context.Context, key string, metadata, tags map[string]string) error
}

// Router classifies inbound Origin webhook deliveries and drives the
// Origin-to-Object-Store propagation path: background sync, delete,
// upload, or a probe-then-decide fallback for ambiguous event types,
// plus the first-touch auto-seed check that create/update events, and
// probed documents that still exist, pass through before upload.
type Router struct {
	cfg  *config.Config
	orig originClient
	obj  objectStoreClient
	orch *orchestrator.Orchestrator

	logger *log.Logger
}

// New builds a Router.
func New(cfg *config.Config, orig *origin.Adapter, obj *objectstore.Adapter, orch *orchestrator.Orchestrator) *Router {
	return &Router{cfg: cfg, orig: orig, obj: obj, orch: orch, logger: log.Default()}
}

// Route classifies and dispatches one webhook delivery, mirroring the
// case order of the reference document router: a background-sync
// check evaluated unconditionally before anything else, then the
// allowlist gate, explicit delete/create-update routes when the event
// type is unambiguous, a doc_exists probe when it isn't, and a
// project-wide refresh when no documentId is present at all.
func (r *Router) Route(ctx context.Context, body []byte, headerEventType string) (Result, error) {
	env, err := ParseEnvelope(body, headerEventType)
	if err != nil {
		return Result{}, fmt.Errorf("webhook: parse envelope: %w", err)
	}
	if env.ProjectID == 0 {
		return Result{}, fmt.Errorf("webhook: missing projectId")
	}

	// __background_sync bypasses every other classification, even when
	// the same body also carries a stale documentId/eventType: a
	// background-sync delivery must always trigger a full project sync,
	// never be misrouted into the delete/upload/probe branches below.
	if env.BackgroundSync {
		r.logger.Printf("webhook: background sync requested for projectId=%d", env.ProjectID)
		return r.handleProjectRefresh(ctx, env)
	}

	if len(r.cfg.ProjectAllowlist) > 0 && !inAllowlist(env.ProjectID, r.cfg.ProjectAllowlist) {
		r.logger.Printf("webhook: skipping project %d (not in allowlist)", env.ProjectID)
		return Result{Status: "skipped", Reason: "not_in_allowlist", Skipped: true}, nil
	}

	r.logger.Printf("webhook: router eventType=%q documentId=%d projectId=%d", env.EventType, env.DocumentID, env.ProjectID)

	switch {
	case LooksLikeDelete(env.EventType):
		if !env.HasDocument {
			return Result{}, fmt.Errorf("webhook: delete event missing documentId")
		}
		return r.handleDelete(ctx, env)

	case LooksLikeCreateOrUpdate(env.EventType):
		if !env.HasDocument {
			return Result{}, fmt.Errorf("webhook: create/update event missing documentId")
		}
		if seeded, res := r.ensureSeeded(ctx, env.ProjectID); seeded {
			return res, nil
		}
		return r.handleUpload(ctx, env)

	case env.HasDocument:
		if r.orig.DocumentExists(ctx, env.DocumentID) {
			if seeded, res := r.ensureSeeded(ctx, env.ProjectID); seeded {
				return res, nil
			}
			return r.handleUpload(ctx, env)
		}
		return r.handleDelete(ctx, env)

	default:
		r.logger.Printf("webhook: no documentId for projectId=%d, running project-wide refresh", env.ProjectID)
		return r.handleProjectRefresh(ctx, env)
	}
}

func inAllowlist(projectID int, allowlist []int) bool {
	for _, id := range allowlist {
		if id == projectID {
			return true
		}
	}
	return false
}

// ensureSeeded checks whether this project's Object Store prefix is
// still empty and, if so, kicks off a background hydration and reports
// that the caller should stop here rather than process this single
// event — the coming hydration pass will pick up every document,
// including the one that triggered this webhook.
func (r *Router) ensureSeeded(ctx context.Context, projectID int) (bool, Result) {
	name, err := r.orig.GetProjectName(ctx, projectID)
	if err != nil {
		r.logger.Printf("webhook: could not resolve project name for %d, skipping seed check: %v", projectID, err)
		return false, Result{}
	}
	prefix := reconciler.ProjectPrefix(r.cfg, name)
	empty, err := r.obj.IsPrefixEmpty(ctx, prefix)
	if err != nil {
		r.logger.Printf("webhook: seed check failed for %s, continuing without seeding: %v", name, err)
		return false, Result{}
	}
	if !empty {
		return false, Result{}
	}

	r.logger.Printf("webhook: queueing initial seed for project %d (%s)", projectID, name)
	go func() {
		bgCtx := context.Background()
		if _, err := r.orch.EnsureProject(bgCtx, name); err != nil {
			r.logger.Printf("webhook: background seed failed for %s: %v", name, err)
		}
	}()
	return true, Result{Status: "initial_seed_queued", Reason: "project prefix was empty"}
}

func (r *Router) handleDelete(ctx context.Context, env Envelope) (Result, error) {
	name, err := r.orig.GetProjectName(ctx, env.ProjectID)
	if err != nil {
		return Result{}, fmt.Errorf("webhook: resolve project name: %w", err)
	}
	prefix := reconciler.ProjectPrefix(r.cfg, name)
	keys, err := r.obj.FindKeysByDocumentID(ctx, prefix, fmt.Sprintf("%d", env.DocumentID))
	if err != nil {
		return Result{}, fmt.Errorf("webhook: find keys for document %d: %w", env.DocumentID, err)
	}
	for _, key := range keys {
		if err := r.obj.Remove(ctx, key); err != nil {
			r.logger.Printf("webhook: delete %s failed: %v", key, err)
		}
	}
	return Result{Status: "deleted", Reason: fmt.Sprintf("%d object(s) removed", len(keys))}, nil
}

func (r *Router) handleUpload(ctx context.Context, env Envelope) (Result, error) {
	name, err := r.orig.GetProjectName(ctx, env.ProjectID)
	if err != nil {
		return Result{}, fmt.Errorf("webhook: resolve project name: %w", err)
	}

	content, fileName, err := r.orig.DownloadDocument(ctx, env.DocumentID)
	if err != nil {
		return Result{}, fmt.Errorf("webhook: download document %d: %w", env.DocumentID, err)
	}
	defer content.Close()

	tmp, err := os.CreateTemp("", "vaultsync-webhook-*")
	if err != nil {
		return Result{}, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("webhook: stage document %d: %w", env.DocumentID, err)
	}
	tmp.Close()

	relKey := pathutil.NewRelKey(fileName)
	key := reconciler.ObjectKey(r.cfg, name, relKey)
	if err := r.obj.CopyUp(ctx, tmpPath, key); err != nil {
		return Result{}, fmt.Errorf("webhook: upload document %d: %w", env.DocumentID, err)
	}
	if err := r.obj.StampMetadataAndTags(ctx, key,
		map[string]string{
			"documentId": fmt.Sprintf("%d", env.DocumentID),
			"projectId":  fmt.Sprintf("%d", env.ProjectID),
			"folderId":   fmt.Sprintf("%d", env.FolderID),
			"folderPath": env.FolderPath,
		},
		map[string]string{
			"origin":    "filevine",
			"fv_docid":  fmt.Sprintf("%d", env.DocumentID),
			"projectId": fmt.Sprintf("%d", env.ProjectID),
		},
	); err != nil {
		r.logger.Printf("webhook: stamp metadata for %s failed: %v", key, err)
	}
	return Result{Status: "uploaded", Reason: key}, nil
}

func (r *Router) handleProjectRefresh(ctx context.Context, env Envelope) (Result, error) {
	if err := r.orig.RefreshFromOrigin(ctx, env.ProjectID); err != nil {
		return Result{}, fmt.Errorf("webhook: project-wide refresh failed for %d: %w", env.ProjectID, err)
	}
	return Result{Status: "refreshed", Reason: fmt.Sprintf("projectId=%d", env.ProjectID)}, nil
}
