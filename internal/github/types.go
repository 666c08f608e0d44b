// Package github provides a client and data types for the GitHub REST API.
//
// The client covers the issue-tracking surface the reconcilers need:
// fetching, creating, and updating issues and pull requests, label and
// comment CRUD. Every call is repository-scoped; multi-repository processes
// hold one client per repository (see internal/registry).
package github

import (
	"context"
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for rate-limited requests.
	MaxRetries = 3

	// MaxPageSize is the maximum number of items to fetch per page.
	MaxPageSize = 100

	// MaxPages is the maximum number of pages to fetch before stopping.
	// This prevents infinite loops from malformed Link headers.
	MaxPages = 1000
)

// Issue states as returned by the API.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Client provides methods to interact with the GitHub REST API.
type Client struct {
	Token      string       // Personal access token
	Owner      string       // Repository owner (user or org)
	Repo       string       // Repository name
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // Optional custom HTTP client
}

// Service is the remote tracker surface consumed by event processors.
// *Client implements it; tests substitute fakes.
type Service interface {
	FetchIssue(ctx context.Context, number int) (*Issue, error)
	FetchPull(ctx context.Context, number int) (*PullRequest, error)
	ListOpenIssues(ctx context.Context) ([]Issue, error)
	CreateIssue(ctx context.Context, req NewIssue) (*Issue, error)
	UpdateIssue(ctx context.Context, number int, updates map[string]interface{}) (*Issue, error)
	AddLabels(ctx context.Context, number int, labels []string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	ListRepoLabels(ctx context.Context) ([]Label, error)
	FetchLabel(ctx context.Context, name string) (*Label, error)
	CreateLabel(ctx context.Context, label Label) error
	UpdateLabel(ctx context.Context, name string, label Label) error
	CreateComment(ctx context.Context, number int, body string) (*Comment, error)
	ListComments(ctx context.Context, number int) ([]Comment, error)
}

var _ Service = (*Client)(nil)

// Issue represents an issue from the GitHub API.
type Issue struct {
	ID        int        `json:"id"`     // Global unique ID
	Number    int        `json:"number"` // Repository-scoped issue number
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"` // "open" or "closed"
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	Labels    []Label    `json:"labels"`
	Assignee  *User      `json:"assignee,omitempty"`
	User      *User      `json:"user,omitempty"` // Author
	Milestone *Milestone `json:"milestone,omitempty"`
	HTMLURL   string     `json:"html_url,omitempty"`
}

// HasLabel reports whether the issue carries a label with the given name.
func (i *Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// LabelNames returns the issue's label names in API order.
func (i *Issue) LabelNames() []string {
	names := make([]string, len(i.Labels))
	for j, l := range i.Labels {
		names[j] = l.Name
	}
	return names
}

// Closed reports whether the issue is in the closed state.
func (i *Issue) Closed() bool { return i.State == StateClosed }

// PullRequest represents a pull request from the GitHub API.
// An assignee on a pull request means it is under review.
type PullRequest struct {
	ID       int        `json:"id"`
	Number   int        `json:"number"`
	Title    string     `json:"title"`
	Body     string     `json:"body"`
	State    string     `json:"state"`
	Merged   bool       `json:"merged"`
	MergedAt *time.Time `json:"merged_at,omitempty"`
	Assignee *User      `json:"assignee,omitempty"`
	User     *User      `json:"user,omitempty"`
	Labels   []Label    `json:"labels"`
}

// Closed reports whether the pull request is in the closed state.
func (p *PullRequest) Closed() bool { return p.State == StateClosed }

// User represents a GitHub user.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
}

// Label represents an issue label.
type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// Milestone represents a milestone reference on an issue.
type Milestone struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
}

// Comment represents an issue comment.
type Comment struct {
	ID   int    `json:"id"`
	Body string `json:"body"`
	User *User  `json:"user,omitempty"`
}

// Repository identifies the repository a webhook payload belongs to.
type Repository struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name,omitempty"`
	Owner    *User  `json:"owner,omitempty"`
}

// NewIssue is the request body for issue creation.
type NewIssue struct {
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Assignee  string   `json:"assignee,omitempty"`
	Milestone int      `json:"milestone,omitempty"`
	Labels    []string `json:"labels,omitempty"`
}
