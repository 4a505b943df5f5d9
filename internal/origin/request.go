package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// request performs an authenticated call against Origin, retrying on
// 401 (one re-authentication), 429, and 5xx with exponential backoff,
// following the base/cap/attempts recipe from spec §6 and §9. It mirrors
// the retry loop shape of mountsync.HTTPClient.doJSON, generalized to
// this adapter's session-header auth instead of a static bearer token.
func (a *Adapter) request(ctx context.Context, method, url string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	hdrs, err := a.headers(ctx)
	if err != nil {
		return err
	}

	reauthed := false
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range hdrs {
			req.Header.Set(k, v)
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			if attempt < a.cfg.RetryAttempts {
				if waitErr := a.wait(ctx, attempt, ""); waitErr != nil {
					return waitErr
				}
				continue
			}
			return &TransientError{Op: method + " " + url, Err: err}
		}

		payload, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if resp.StatusCode == http.StatusUnauthorized && !reauthed {
			reauthed = true
			hdrs, err = a.refreshHeaders(ctx)
			if err != nil {
				return &AuthError{Op: method + " " + url, Err: err}
			}
			continue
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if retryable && attempt < a.cfg.RetryAttempts {
			if waitErr := a.wait(ctx, attempt, resp.Header.Get("Retry-After")); waitErr != nil {
				return waitErr
			}
			continue
		}

		httpErr := &HTTPError{Op: method + " " + url, StatusCode: resp.StatusCode, Body: string(payload)}
		if retryable {
			return &TransientError{Op: method + " " + url, Err: httpErr}
		}
		return httpErr
	}
}

func (a *Adapter) wait(ctx context.Context, attempt int, retryAfter string) error {
	delay := a.cfg.RetryBase << attempt
	if delay > a.cfg.RetryCap || delay <= 0 {
		delay = a.cfg.RetryCap
	}
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil {
			if d := time.Duration(secs) * time.Second; d > 0 && d < a.cfg.RetryCap {
				delay = d
			}
		}
	}
	delay += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
