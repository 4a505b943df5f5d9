// Package statusapi exposes the webhook receiver and a live status feed
// over HTTP: POST /webhook, GET /status, and GET /status/stream (a
// websocket broadcast of reconciliation decisions).
package statusapi

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/vaultsync/vaultsync/internal/reconciler"
	"github.com/vaultsync/vaultsync/internal/webhook"
)

// ServerConfig mirrors the request-size and correlation-header
// conventions the rest of this codebase's HTTP surface uses.
type ServerConfig struct {
	MaxBodyBytes int64
}

// Server is the webhook receiver plus status feed.
type Server struct {
	router *webhook.Router
	feed   *Feed
	cfg    ServerConfig
}

// NewServer builds a Server. cfg zero-values to sane defaults.
func NewServer(router *webhook.Router, feed *Feed, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{router: router, feed: feed, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/webhook" && r.Method == http.MethodPost:
		s.handleWebhook(w, r)
	case r.URL.Path == "/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case r.URL.Path == "/status/stream" && r.Method == http.MethodGet:
		s.handleStatusStream(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return
	}

	if err := webhook.ValidatePayloadShape(body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error(), correlationID)
		return
	}

	headerEvent := r.Header.Get("x-fv-event")
	if headerEvent == "" {
		headerEvent = r.Header.Get("X-Filevine-Event")
	}

	result, err := s.router.Route(r.Context(), body, headerEvent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "routing_failed", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Snapshot())
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

// Feed fans out reconciliation Decisions to /status/stream subscribers
// and keeps a bounded ring buffer for the plain /status snapshot.
type Feed struct {
	mu          sync.Mutex
	subscribers map[chan reconciler.Decision]struct{}
	recent      []reconciler.Decision
	capacity    int
	logger      *log.Logger
}

// NewFeed builds a Feed retaining up to capacity recent decisions.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 200
	}
	return &Feed{
		subscribers: map[chan reconciler.Decision]struct{}{},
		capacity:    capacity,
		logger:      log.Default(),
	}
}

// Publish implements reconciler.Sink.
func (f *Feed) Publish(d reconciler.Decision) {
	f.mu.Lock()
	f.recent = append(f.recent, d)
	if len(f.recent) > f.capacity {
		f.recent = f.recent[len(f.recent)-f.capacity:]
	}
	for ch := range f.subscribers {
		select {
		case ch <- d:
		default: // slow subscriber: drop rather than block reconciliation
		}
	}
	f.mu.Unlock()
}

// Snapshot returns the most recent decisions, oldest first.
func (f *Feed) Snapshot() []reconciler.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]reconciler.Decision, len(f.recent))
	copy(out, f.recent)
	return out
}

func (f *Feed) subscribe() chan reconciler.Decision {
	ch := make(chan reconciler.Decision, 32)
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *Feed) unsubscribe(ch chan reconciler.Decision) {
	f.mu.Lock()
	delete(f.subscribers, ch)
	f.mu.Unlock()
	close(ch)
}
