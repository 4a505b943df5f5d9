// Package origin adapts the remote case-management service (Origin).
// The authentication handshake, the REST surface for folder/document
// listing, and the webhook HTTP framing are external collaborators per
// the system's scope; this package is the narrow contract the
// Reconciler, Orchestrator, and Webhook Router call through.
package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/pathutil"
)

// Adapter is the Origin Adapter described in the design.
type Adapter struct {
	cfg        *config.Config
	httpClient *http.Client
	projects   *ProjectMap

	sessionCache sessionCache
}

// NewAdapter builds an Origin Adapter backed by the given project map.
func NewAdapter(cfg *config.Config, projects *ProjectMap) *Adapter {
	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		projects:   projects,
	}
}

// ResolveProjectID resolves a sanitized project display name to its
// numeric id, consulting the persisted cache first and falling back to
// an Origin project search. A successful resolution is cached and
// persisted; an unresolved name returns ErrProjectUnresolved.
func (a *Adapter) ResolveProjectID(ctx context.Context, name string) (int, error) {
	if id, ok := a.projects.Get(name); ok {
		return id, nil
	}

	var page struct {
		Items []struct {
			ProjectID   int    `json:"projectId"`
			ProjectName string `json:"projectName"`
		} `json:"items"`
	}
	offset := 0
	const limit = 100
	target := strings.ToLower(strings.TrimSpace(name))
	for {
		url := fmt.Sprintf("%s/core/projects?offset=%d&limit=%d", a.cfg.OriginBaseURL, offset, limit)
		if err := a.request(ctx, http.MethodGet, url, nil, &page); err != nil {
			return 0, err
		}
		if len(page.Items) == 0 {
			break
		}
		for _, item := range page.Items {
			if strings.ToLower(strings.TrimSpace(item.ProjectName)) == target {
				if err := a.projects.Set(name, item.ProjectID); err != nil {
					return 0, err
				}
				return item.ProjectID, nil
			}
		}
		offset += limit
	}
	return 0, ErrProjectUnresolved
}

// GetProjectName looks up the display name for a resolved project id,
// used by the webhook router's auto-seed prefix check.
func (a *Adapter) GetProjectName(ctx context.Context, projectID int) (string, error) {
	if name, ok := a.projects.Name(projectID); ok {
		return pathutil.Sanitize(name), nil
	}
	var body struct {
		ProjectName string `json:"projectName"`
	}
	url := fmt.Sprintf("%s/core/projects/%d", a.cfg.OriginBaseURL, projectID)
	if err := a.request(ctx, http.MethodGet, url, nil, &body); err != nil {
		return "", err
	}
	return pathutil.Sanitize(body.ProjectName), nil
}

// RefreshFromOrigin asks Origin's webhook relay to re-notify this
// service of the project's current document state. Best effort: a
// failure is logged by the caller, not treated as fatal. A short settle
// delay follows a successful refresh so the resulting webhook events
// have time to arrive before a full pass reads the object store.
func (a *Adapter) RefreshFromOrigin(ctx context.Context, projectID int) error {
	if a.cfg.WebhookURL == "" {
		return nil // configuration error: refresh degrades to a no-op
	}
	payload := map[string]int{"projectId": projectID}
	if err := a.request(ctx, http.MethodPost, a.cfg.WebhookURL, payload, nil); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.cfg.SettleDelay):
	}
	return nil
}

// DocumentExists probes Origin for a document id. Per the reference
// behavior, a non-200/404 response or a request failure is treated as
// "exists" — a fail-open policy that avoids deleting a document because
// of a transient Origin outage.
func (a *Adapter) DocumentExists(ctx context.Context, documentID int) bool {
	url := fmt.Sprintf("%s/core/documents/%d", a.cfg.OriginBaseURL, documentID)
	hdrs, err := a.headers(ctx)
	if err != nil {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return true
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true
	case http.StatusNotFound:
		return false
	default:
		return true
	}
}

// DownloadDocument fetches a document's metadata and content from
// Origin, the inverse of UploadFile's register/upload sequence, used by
// the webhook router to materialize a create/update event as an object.
// The caller must close the returned reader.
func (a *Adapter) DownloadDocument(ctx context.Context, documentID int) (body io.ReadCloser, fileName string, err error) {
	var meta struct {
		FileName string `json:"fileName"`
	}
	metaURL := fmt.Sprintf("%s/core/documents/%d", a.cfg.OriginBaseURL, documentID)
	if err := a.request(ctx, http.MethodGet, metaURL, nil, &meta); err != nil {
		return nil, "", err
	}

	hdrs, err := a.headers(ctx)
	if err != nil {
		return nil, "", err
	}
	downloadURL := fmt.Sprintf("%s/core/documents/%d/download", a.cfg.OriginBaseURL, documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, "", err
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", &HTTPError{Op: "download document", StatusCode: resp.StatusCode}
	}

	name := meta.FileName
	if name == "" {
		name = fmt.Sprintf("document-%d", documentID)
	}
	return resp.Body, name, nil
}

// UploadFile registers a document with Origin, uploads its bytes to the
// signed URL Origin returns, and finalizes it under the folder resolved
// from folderSubpath beneath rootFolderID. This is the narrow "opaque"
// upload contract from the design — `uploadFile(projectId, localPath,
// folderSubpath, rootFolderId?, requireResolved?)` — implemented against
// the register/upload/resolve-folder/finalize sequence the Origin
// upload helper performs, rather than shelling out to it as a
// subprocess. If folderSubpath cannot be resolved, requireResolved
// decides whether that aborts the upload or falls back to
// rootFolderID, mirroring the reference uploader's --require-resolved
// flag.
func (a *Adapter) UploadFile(ctx context.Context, projectID int, localPath, folderSubpath string, rootFolderID int, requireResolved bool) (string, error) {
	if !a.cfg.EnableOriginUpload || projectID <= 0 {
		return "", nil
	}

	folderID := rootFolderID
	if folderSubpath != "" {
		resolved, err := a.resolveFolder(ctx, projectID, rootFolderID, folderSubpath)
		if err != nil {
			if requireResolved {
				return "", fmt.Errorf("origin: resolve folder %q: %w", folderSubpath, err)
			}
			// fall back to the root folder rather than abort the upload
		} else {
			folderID = resolved
		}
	}

	docID, uploadURL, err := a.registerDocument(ctx, localPath)
	if err != nil {
		return "", err
	}
	if err := a.putToSignedURL(ctx, uploadURL, localPath); err != nil {
		return "", err
	}
	if err := a.finalizeDocument(ctx, projectID, docID, localPath, folderID); err != nil {
		return "", err
	}
	return docID, nil
}
