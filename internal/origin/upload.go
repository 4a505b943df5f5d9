package origin

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// variantDocumentID unmarshals a documentId that may arrive as either a
// bare number/string or a {"native": N} object, the same shape variance
// the webhook payload carries.
type variantDocumentID struct {
	raw string
}

func (v *variantDocumentID) UnmarshalJSON(data []byte) error {
	var native struct {
		Native json.Number `json:"native"`
	}
	if err := json.Unmarshal(data, &native); err == nil && native.Native != "" {
		v.raw = native.Native.String()
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		v.raw = num.String()
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		v.raw = str
		return nil
	}
	return nil
}

func (v variantDocumentID) String() string { return v.raw }

// registerDocument asks Origin to mint a document id and an upload
// target for a local file, mirroring register_document/upload_file in
// the Origin upload helper.
func (a *Adapter) registerDocument(ctx context.Context, localPath string) (docID, uploadURL string, err error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", "", err
	}
	contentType := contentTypeFor(localPath)

	var resp struct {
		DocumentID variantDocumentID `json:"documentId"`
		URL        string            `json:"url"`
	}
	url := a.cfg.OriginBaseURL + "/core/Documents"
	payload := map[string]any{
		"fileName":    filepath.Base(localPath),
		"length":      info.Size(),
		"contentType": contentType,
	}
	if err := a.request(ctx, http.MethodPost, url, payload, &resp); err != nil {
		return "", "", err
	}
	id := resp.DocumentID.String()
	if id == "" || resp.URL == "" {
		return "", "", fmt.Errorf("origin: register document: missing documentId or url in response")
	}
	return id, resp.URL, nil
}

// putToSignedURL uploads the file bytes to a presigned URL, making up
// to three attempts as the reference uploader does.
func (a *Adapter) putToSignedURL(ctx context.Context, uploadURL, localPath string) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := a.putOnce(ctx, uploadURL, localPath); err != nil {
			lastErr = err
			if waitErr := a.wait(ctx, attempt, ""); waitErr != nil {
				return waitErr
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("origin: upload to signed url failed after retries: %w", lastErr)
}

func (a *Adapter) putOnce(ctx context.Context, uploadURL, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeFor(localPath))
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("upload put returned status %d", resp.StatusCode)
	}
	return nil
}

// folderChild is one entry returned by the folder-children listing,
// tolerating the same {native: N} id-variant shape the rest of Origin's
// API uses.
type folderChild struct {
	FolderID struct {
		Native json.Number `json:"native"`
	} `json:"folderId"`
	Name string `json:"name"`
}

// resolveFolder walks folderSubpath's slash-separated segments under
// rootFolderID, matching child folder names case-insensitively at each
// level, mirroring resolve_under_root in the Origin upload helper. An
// empty folderSubpath resolves to rootFolderID directly.
func (a *Adapter) resolveFolder(ctx context.Context, projectID, rootFolderID int, folderSubpath string) (int, error) {
	current := rootFolderID
	segs := strings.Split(strings.Trim(strings.ReplaceAll(folderSubpath, `\`, "/"), "/"), "/")
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		children, err := a.listFolderChildren(ctx, projectID, current)
		if err != nil {
			return 0, err
		}
		target := strings.ToLower(seg)
		next := 0
		for _, ch := range children {
			if strings.ToLower(ch.Name) != target {
				continue
			}
			if id, err := ch.FolderID.Native.Int64(); err == nil && id > 0 {
				next = int(id)
				break
			}
		}
		if next == 0 {
			return 0, ErrFolderUnresolved
		}
		current = next
	}
	return current, nil
}

// listFolderChildren fetches every child of folderID, paginating the
// same way list_children does in the Origin upload helper.
func (a *Adapter) listFolderChildren(ctx context.Context, projectID, folderID int) ([]folderChild, error) {
	var all []folderChild
	offset := 0
	const limit = 500
	for {
		var page struct {
			Items []folderChild `json:"items"`
		}
		url := fmt.Sprintf("%s/core/folders/%d/children?projectId=%d&offset=%d&limit=%d", a.cfg.OriginBaseURL, folderID, projectID, offset, limit)
		if err := a.request(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			break
		}
		all = append(all, page.Items...)
		if len(page.Items) < limit {
			break
		}
		offset += limit
	}
	return all, nil
}

// finalizeDocument associates the uploaded content with the project and
// folder, mirroring finalize_document's ?folderId=<id> query-string
// placement convention.
func (a *Adapter) finalizeDocument(ctx context.Context, projectID int, docID, localPath string, folderID int) error {
	base := fmt.Sprintf("%s/core/projects/%d/Documents/%s", a.cfg.OriginBaseURL, projectID, docID)
	url := base
	if folderID > 0 {
		url = fmt.Sprintf("%s?folderId=%d", base, folderID)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"fileName":    filepath.Base(localPath),
		"contentType": contentTypeFor(localPath),
		"length":      info.Size(),
	}
	return a.request(ctx, http.MethodPost, url, payload, nil)
}

func contentTypeFor(localPath string) string {
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
