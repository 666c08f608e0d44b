// Package webhook is the HTTP ingress: it turns tracker deliveries into bus
// events and serves the issue templates.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/groombot/groom/internal/config"
	"github.com/groombot/groom/internal/eventbus"
	"github.com/groombot/groom/internal/templates"
)

// maxPayloadSize caps webhook bodies. The tracker's own limit is 25MB.
const maxPayloadSize = 25 << 20

// Server handles webhook deliveries and template requests.
type Server struct {
	store      *config.Store
	bus        eventbus.Publisher
	templates  *templates.Set
	log        *slog.Logger
	mux        *http.ServeMux
	httpServer *http.Server
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Store     *config.Store
	Bus       eventbus.Publisher
	Templates *templates.Set // nil disables GET /templates
	Log       *slog.Logger
}

// NewServer creates a new webhook server.
func NewServer(cfg ServerConfig) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		store:     cfg.Store,
		bus:       cfg.Bus,
		templates: cfg.Templates,
		log:       log.With("component", "webhook"),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("/", s.handleDelivery)
	s.mux.HandleFunc("/templates", s.handleTemplates)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handleDelivery handles POST /. The event kind comes from the first
// x-<platform>-event header matching a configured platform; deliveries
// without one are rejected. Recognized payloads are published; unrecognized
// ones are acknowledged and dropped, per the classifier contract.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed: use POST", http.StatusMethodNotAllowed)
		return
	}

	cfg := s.store.Current()
	kind := ""
	for _, platform := range cfg.Platforms {
		if v := r.Header.Get("x-" + platform + "-event"); v != "" {
			kind = v
			break
		}
	}
	if kind == "" {
		http.Error(w, "unrecognized delivery", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.Body.Close() }()

	if cfg.WebhookSecret != "" {
		if !ValidSignature(body, r.Header.Get("X-Hub-Signature-256"), cfg.WebhookSecret) {
			s.log.Warn("rejected delivery with bad signature", "kind", kind)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	if ev, ok := eventbus.Classify(kind, body); ok {
		s.bus.Publish(ev)
	} else {
		s.log.Debug("ignoring unclassified delivery", "kind", kind)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// RenderedTemplate is one entry of the GET /templates response: the rendered
// body plus the query string that prefills the tracker's new-issue form.
type RenderedTemplate struct {
	Body  string `json:"body"`
	Query string `json:"query"`
}

// handleTemplates handles GET /templates. ?t= selects one template by kind;
// absent or unknown kinds return all of them. Remaining query values fill
// $var placeholders, and milestone/assignee/labels values additionally feed
// the computed prefill query.
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed: use GET", http.StatusMethodNotAllowed)
		return
	}
	if s.templates == nil {
		http.Error(w, "no templates configured", http.StatusNotFound)
		return
	}

	vars := r.URL.Query()
	kind := vars.Get("t")
	vars.Del("t")

	query := templates.PrefillQuery(vars.Get("milestone"), vars.Get("assignee"), vars["labels"])
	out := make(map[string]RenderedTemplate)
	for k, tmpl := range s.templates.Select(kind) {
		out[k] = RenderedTemplate{Body: templates.Render(tmpl, vars), Query: query}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
