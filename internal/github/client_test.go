package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient verifies the constructor creates a properly configured client.
func TestNewClient(t *testing.T) {
	client := NewClient("test-token", "owner", "repo")

	if client.Token != "test-token" {
		t.Errorf("Token = %q, want %q", client.Token, "test-token")
	}
	if client.Owner != "owner" {
		t.Errorf("Owner = %q, want %q", client.Owner, "owner")
	}
	if client.Repo != "repo" {
		t.Errorf("Repo = %q, want %q", client.Repo, "repo")
	}
	if client.BaseURL != DefaultAPIEndpoint {
		t.Errorf("BaseURL = %q, want %q", client.BaseURL, DefaultAPIEndpoint)
	}
	if client.HTTPClient == nil {
		t.Error("HTTPClient is nil, want non-nil default client")
	}
}

// TestClientWithBaseURL verifies custom base URL setting.
func TestClientWithBaseURL(t *testing.T) {
	client := NewClient("token", "owner", "repo").WithBaseURL("https://github.example.com/api/v3")

	if client.BaseURL != "https://github.example.com/api/v3" {
		t.Errorf("BaseURL = %q, want custom URL", client.BaseURL)
	}
	if client.Owner != "owner" {
		t.Errorf("Owner = %q, want %q", client.Owner, "owner")
	}
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("token", "acme", "widget").WithBaseURL(srv.URL)
}

func TestFetchIssue(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widget/issues/42" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(Issue{Number: 42, Title: "An issue", State: StateOpen})
	})

	issue, err := client.FetchIssue(context.Background(), 42)
	if err != nil {
		t.Fatalf("FetchIssue: %v", err)
	}
	if issue.Number != 42 || issue.Title != "An issue" {
		t.Errorf("issue = %+v", issue)
	}
}

func TestFetchPull(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widget/pulls/7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(PullRequest{Number: 7, Merged: true, State: StateClosed})
	})

	pull, err := client.FetchPull(context.Background(), 7)
	if err != nil {
		t.Fatalf("FetchPull: %v", err)
	}
	if !pull.Merged || !pull.Closed() {
		t.Errorf("pull = %+v", pull)
	}
}

func TestUpdateIssueSendsPatch(t *testing.T) {
	var gotMethod, gotBody string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(b)
		gotBody = string(b)
		_ = json.NewEncoder(w).Encode(Issue{Number: 5, State: StateClosed})
	})

	_, err := client.UpdateIssue(context.Background(), 5, map[string]interface{}{"state": "closed"})
	if err != nil {
		t.Fatalf("UpdateIssue: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method = %q, want PATCH", gotMethod)
	}
	if !strings.Contains(gotBody, `"state":"closed"`) {
		t.Errorf("body = %q", gotBody)
	}
}

func TestAddLabelsSkipsEmpty(t *testing.T) {
	called := false
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	if err := client.AddLabels(context.Background(), 1, nil); err != nil {
		t.Fatalf("AddLabels: %v", err)
	}
	if called {
		t.Error("AddLabels with no labels must not hit the API")
	}
}

func TestRemoveLabelEscapesName(t *testing.T) {
	var gotPath string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusOK)
	})

	if err := client.RemoveLabel(context.Background(), 3, "in review"); err != nil {
		t.Fatalf("RemoveLabel: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/issues/3/labels/in%20review") {
		t.Errorf("path = %q", gotPath)
	}
}

func TestListRepoLabelsPagination(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.Header().Set("Link", `<`+r.Host+`?page=2>; rel="next"`)
			_ = json.NewEncoder(w).Encode([]Label{{Name: "bug"}})
			return
		}
		_ = json.NewEncoder(w).Encode([]Label{{Name: "frontend"}})
	}))
	defer srv.Close()
	client := NewClient("token", "acme", "widget").WithBaseURL(srv.URL)

	labels, err := client.ListRepoLabels(context.Background())
	if err != nil {
		t.Fatalf("ListRepoLabels: %v", err)
	}
	if len(labels) != 2 || labels[0].Name != "bug" || labels[1].Name != "frontend" {
		t.Errorf("labels = %+v", labels)
	}
}

func TestRateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(Issue{Number: 1})
	})
	client.HTTPClient.Timeout = 5 * time.Second

	issue, err := client.FetchIssue(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchIssue after rate limit: %v", err)
	}
	if issue.Number != 1 {
		t.Errorf("issue = %+v", issue)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestAPIErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.FetchIssue(context.Background(), 999)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound = false for %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 404)", got)
	}
}
