// Package githubtest provides an in-memory github.Service for processor
// tests: state lives in maps, mutations are observable, and reads return
// copies so tests see snapshot semantics like the real API.
package githubtest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/groombot/groom/internal/github"
)

// Fake implements github.Service against in-memory state.
type Fake struct {
	mu sync.Mutex

	Issues     map[int]*github.Issue
	Pulls      map[int]*github.PullRequest
	RepoLabels []github.Label
	Comments   map[int][]github.Comment

	// Created records CreateIssue requests in order.
	Created []github.NewIssue

	// Errs forces an error for an operation name ("FetchIssue", ...).
	Errs map[string]error

	nextNumber int
}

var _ github.Service = (*Fake)(nil)

// NewFake returns an empty fake. Issue numbers assigned by CreateIssue start
// after the highest seeded number.
func NewFake() *Fake {
	return &Fake{
		Issues:   make(map[int]*github.Issue),
		Pulls:    make(map[int]*github.PullRequest),
		Comments: make(map[int][]github.Comment),
		Errs:     make(map[string]error),
	}
}

// Seed adds an issue to the fake and returns it for further mutation.
func (f *Fake) Seed(issue github.Issue) *github.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := issue
	f.Issues[issue.Number] = &stored
	if issue.Number > f.nextNumber {
		f.nextNumber = issue.Number
	}
	return &stored
}

// SeedPull adds a pull request to the fake.
func (f *Fake) SeedPull(pull github.PullRequest) *github.PullRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := pull
	f.Pulls[pull.Number] = &stored
	if pull.Number > f.nextNumber {
		f.nextNumber = pull.Number
	}
	return &stored
}

func (f *Fake) fail(op string) error { return f.Errs[op] }

func copyIssue(i *github.Issue) *github.Issue {
	out := *i
	out.Labels = append([]github.Label(nil), i.Labels...)
	return &out
}

func (f *Fake) FetchIssue(_ context.Context, number int) (*github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FetchIssue"); err != nil {
		return nil, err
	}
	issue, ok := f.Issues[number]
	if !ok {
		return nil, &github.APIError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("no issue #%d", number)}
	}
	return copyIssue(issue), nil
}

func (f *Fake) FetchPull(_ context.Context, number int) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FetchPull"); err != nil {
		return nil, err
	}
	pull, ok := f.Pulls[number]
	if !ok {
		return nil, &github.APIError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("no pull #%d", number)}
	}
	out := *pull
	return &out, nil
}

func (f *Fake) ListOpenIssues(_ context.Context) ([]github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListOpenIssues"); err != nil {
		return nil, err
	}
	var out []github.Issue
	for _, issue := range f.Issues {
		if issue.State == github.StateOpen {
			out = append(out, *copyIssue(issue))
		}
	}
	return out, nil
}

func (f *Fake) CreateIssue(_ context.Context, req github.NewIssue) (*github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateIssue"); err != nil {
		return nil, err
	}
	f.Created = append(f.Created, req)
	f.nextNumber++
	issue := &github.Issue{
		Number: f.nextNumber,
		Title:  req.Title,
		Body:   req.Body,
		State:  github.StateOpen,
	}
	for _, name := range req.Labels {
		issue.Labels = append(issue.Labels, github.Label{Name: name})
	}
	if req.Assignee != "" {
		issue.Assignee = &github.User{Login: req.Assignee}
	}
	if req.Milestone != 0 {
		issue.Milestone = &github.Milestone{Number: req.Milestone}
	}
	f.Issues[issue.Number] = issue
	return copyIssue(issue), nil
}

func (f *Fake) UpdateIssue(_ context.Context, number int, updates map[string]interface{}) (*github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateIssue"); err != nil {
		return nil, err
	}
	issue, ok := f.Issues[number]
	if !ok {
		return nil, &github.APIError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("no issue #%d", number)}
	}
	if v, ok := updates["state"].(string); ok {
		issue.State = v
	}
	if v, ok := updates["body"].(string); ok {
		issue.Body = v
	}
	if v, ok := updates["title"].(string); ok {
		issue.Title = v
	}
	return copyIssue(issue), nil
}

func (f *Fake) AddLabels(_ context.Context, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddLabels"); err != nil {
		return err
	}
	issue, ok := f.Issues[number]
	if !ok {
		return &github.APIError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("no issue #%d", number)}
	}
	for _, name := range labels {
		if !issue.HasLabel(name) {
			issue.Labels = append(issue.Labels, github.Label{Name: name})
		}
	}
	return nil
}

func (f *Fake) RemoveLabel(_ context.Context, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RemoveLabel"); err != nil {
		return err
	}
	issue, ok := f.Issues[number]
	if !ok {
		return &github.APIError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("no issue #%d", number)}
	}
	kept := issue.Labels[:0]
	for _, l := range issue.Labels {
		if l.Name != label {
			kept = append(kept, l)
		}
	}
	issue.Labels = kept
	return nil
}

func (f *Fake) ListRepoLabels(_ context.Context) ([]github.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListRepoLabels"); err != nil {
		return nil, err
	}
	return append([]github.Label(nil), f.RepoLabels...), nil
}

func (f *Fake) FetchLabel(_ context.Context, name string) (*github.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FetchLabel"); err != nil {
		return nil, err
	}
	for _, l := range f.RepoLabels {
		if l.Name == name {
			out := l
			return &out, nil
		}
	}
	return nil, &github.APIError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("no label %q", name)}
}

func (f *Fake) CreateLabel(_ context.Context, label github.Label) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateLabel"); err != nil {
		return err
	}
	f.RepoLabels = append(f.RepoLabels, label)
	return nil
}

func (f *Fake) UpdateLabel(_ context.Context, name string, label github.Label) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateLabel"); err != nil {
		return err
	}
	for i, l := range f.RepoLabels {
		if l.Name == name {
			f.RepoLabels[i] = label
			return nil
		}
	}
	return &github.APIError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("no label %q", name)}
}

func (f *Fake) CreateComment(_ context.Context, number int, body string) (*github.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateComment"); err != nil {
		return nil, err
	}
	comment := github.Comment{ID: len(f.Comments[number]) + 1, Body: body}
	f.Comments[number] = append(f.Comments[number], comment)
	return &comment, nil
}

func (f *Fake) ListComments(_ context.Context, number int) ([]github.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListComments"); err != nil {
		return nil, err
	}
	return append([]github.Comment(nil), f.Comments[number]...), nil
}

// Issue returns the stored issue for assertions.
func (f *Fake) Issue(number int) *github.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Issues[number]
}
