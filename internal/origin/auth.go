package origin

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// session holds the bearer credentials minted by the Origin auth
// handshake. Origin's own authentication mechanics are an external
// collaborator (spec §1); this is the narrow request/response shape the
// handshake produces, per spec §6's header recipe.
type session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

type sessionCache struct {
	mu   sync.Mutex
	sess *session
}

// authenticate performs the Origin key-exchange handshake described in
// spec §6: an MD5-hashed timestamped API key/secret pair POSTed to
// SessionURL, returning the bearer session used for every subsequent
// call.
func (a *Adapter) authenticate(ctx context.Context) (*session, error) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000") + "Z"
	hash := md5.Sum([]byte(a.cfg.APIKey + "/" + timestamp + "/" + a.cfg.APISecret))

	payload := map[string]string{
		"mode":         "key",
		"apiKey":       a.cfg.APIKey,
		"apiSecret":    a.cfg.APISecret,
		"apiHash":      hex.EncodeToString(hash[:]),
		"apiTimestamp": timestamp,
		"userId":       a.cfg.UserID,
		"orgId":        a.cfg.OrgID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.SessionURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: "authenticate", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Op: "authenticate", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var sess session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, &AuthError{Op: "authenticate", Err: err}
	}
	return &sess, nil
}

// headers returns the current auth headers, authenticating on first use.
func (a *Adapter) headers(ctx context.Context) (map[string]string, error) {
	a.sessionCache.mu.Lock()
	defer a.sessionCache.mu.Unlock()
	if a.sessionCache.sess == nil {
		sess, err := a.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		a.sessionCache.sess = sess
	}
	return a.headersLocked(), nil
}

func (a *Adapter) headersLocked() map[string]string {
	s := a.sessionCache.sess
	return map[string]string{
		"Authorization":  "Bearer " + s.AccessToken,
		"x-fv-userid":    a.cfg.UserID,
		"x-fv-orgid":     a.cfg.OrgID,
		"x-fv-sessionid": s.RefreshToken,
	}
}

// refreshHeaders forces one re-authentication, used after a 401.
func (a *Adapter) refreshHeaders(ctx context.Context) (map[string]string, error) {
	a.sessionCache.mu.Lock()
	defer a.sessionCache.mu.Unlock()
	sess, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	a.sessionCache.sess = sess
	return a.headersLocked(), nil
}
