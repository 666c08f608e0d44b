package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/groombot/groom/internal/config"
	"github.com/groombot/groom/internal/eventbus"
	"github.com/groombot/groom/internal/templates"
)

// capturePublisher records published events.
type capturePublisher struct {
	events []*eventbus.Event
}

func (p *capturePublisher) Publish(ev *eventbus.Event) { p.events = append(p.events, ev) }

func (p *capturePublisher) PublishAfter(ev *eventbus.Event, _ time.Duration) { p.Publish(ev) }

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *capturePublisher) {
	t.Helper()
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = []string{"github"}
	}
	pub := &capturePublisher{}
	s := NewServer(ServerConfig{Store: config.NewStore(cfg), Bus: pub})
	return s, pub
}

const issuesPayload = `{"action":"opened","issue":{"number":1,"title":"t","state":"open"},"repository":{"name":"widget"}}`

func deliver(s *Server, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestDeliveryPublishesClassifiedEvent(t *testing.T) {
	s, pub := newTestServer(t, &config.Config{})

	rec := deliver(s, map[string]string{"x-github-event": "issues"}, issuesPayload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.events))
	}
	if pub.events[0].Type != eventbus.EventIssues {
		t.Errorf("expected issues event, got %s", pub.events[0].Type)
	}
}

func TestDeliveryWithoutEventHeaderRejected(t *testing.T) {
	s, pub := newTestServer(t, &config.Config{})

	rec := deliver(s, nil, issuesPayload)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if len(pub.events) != 0 {
		t.Errorf("expected no published events, got %d", len(pub.events))
	}
}

func TestDeliveryFromUnconfiguredPlatformRejected(t *testing.T) {
	s, _ := newTestServer(t, &config.Config{Platforms: []string{"github"}})

	rec := deliver(s, map[string]string{"x-gitlab-event": "issues"}, issuesPayload)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestDeliveryUnclassifiedPayloadAcknowledged(t *testing.T) {
	s, pub := newTestServer(t, &config.Config{})

	rec := deliver(s, map[string]string{"x-github-event": "issues"}, `{"action":"opened"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for unclassified payload, got %d", rec.Code)
	}
	if len(pub.events) != 0 {
		t.Errorf("expected no published events, got %d", len(pub.events))
	}
}

func TestDeliverySignatureValidation(t *testing.T) {
	s, pub := newTestServer(t, &config.Config{WebhookSecret: "hush"})

	rec := deliver(s, map[string]string{"x-github-event": "issues"}, issuesPayload)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without signature, got %d", rec.Code)
	}

	rec = deliver(s, map[string]string{
		"x-github-event":      "issues",
		"X-Hub-Signature-256": "sha256=deadbeef",
	}, issuesPayload)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 with bad signature, got %d", rec.Code)
	}

	rec = deliver(s, map[string]string{
		"x-github-event":      "issues",
		"X-Hub-Signature-256": Sign([]byte(issuesPayload), "hush"),
	}, issuesPayload)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with valid signature, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(pub.events) != 1 {
		t.Errorf("expected 1 published event, got %d", len(pub.events))
	}
}

func TestDeliveryMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, &config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestTemplatesEndpoint(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bug.md"), []byte("# Bug: $title"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pr.md"), []byte("# PR"), 0o600); err != nil {
		t.Fatal(err)
	}
	set, err := templates.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	pub := &capturePublisher{}
	s := NewServer(ServerConfig{
		Store:     config.NewStore(&config.Config{Platforms: []string{"github"}}),
		Bus:       pub,
		Templates: set,
	})

	req := httptest.NewRequest(http.MethodGet,
		"/templates?t=bug&title=broken&milestone=3&assignee=alice&labels=bug&labels=frontend", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got map[string]RenderedTemplate
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(got) != 1 || got["bug"].Body != "# Bug: broken" {
		t.Errorf("unexpected response: %v", got)
	}

	// The prefill query is computed from the request values.
	prefill, err := url.ParseQuery(got["bug"].Query)
	if err != nil {
		t.Fatalf("invalid prefill query %q: %v", got["bug"].Query, err)
	}
	if prefill.Get("milestone") != "3" || prefill.Get("assignee") != "alice" {
		t.Errorf("unexpected prefill query: %v", prefill)
	}
	if labels := prefill["labels[]"]; len(labels) != 2 || labels[0] != "bug" || labels[1] != "frontend" {
		t.Errorf("unexpected prefill labels: %v", prefill["labels[]"])
	}

	// Unknown kind returns everything.
	req = httptest.NewRequest(http.MethodGet, "/templates?t=nonsense", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	got = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected both templates, got %v", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSignRoundTrip(t *testing.T) {
	payload := []byte("payload bytes")
	header := Sign(payload, "secret")
	if !ValidSignature(payload, header, "secret") {
		t.Error("expected signature to validate")
	}
	if ValidSignature(payload, header, "other") {
		t.Error("expected wrong secret to fail")
	}
	if ValidSignature([]byte("tampered"), header, "secret") {
		t.Error("expected tampered payload to fail")
	}
	if ValidSignature(payload, "not-a-signature", "secret") {
		t.Error("expected malformed header to fail")
	}
}
