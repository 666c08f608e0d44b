// Package eventbus classifies raw webhook deliveries into typed events and
// fans them out to independent subscribers.
//
// Every subscriber sees the events it handles in publication order, but
// subscribers run concurrently and never block one another: each one owns an
// unbounded mailbox drained by its own goroutine. Processors may re-inject
// synthetic events (reminders, extension triggers, re-announcements of bodies
// they just rewrote) so sibling processors can react without waiting for the
// remote tracker to deliver a fresh webhook.
package eventbus

import (
	"encoding/json"

	"github.com/groombot/groom/internal/github"
)

// EventType identifies an event flowing through the bus. Real webhook kinds
// come from the transport header; the reminder-* and extension-* kinds are
// synthetic and never cross the process boundary.
type EventType string

const (
	// Webhook events.
	EventIssues      EventType = "issues"
	EventPullRequest EventType = "pull_request"

	// Synthetic reminder events (see internal/remind).
	EventReminderTopicLabel EventType = "reminder-topic-label"
	EventReminderTestPlan   EventType = "reminder-test-plan"

	// Extension events, triggered out of band.
	EventSplitMacroIssue EventType = "extension-split-macro-issue"
	EventBranchPreview   EventType = "extension-branch-preview"
)

// Event is one typed event. Exactly one payload field is set, matching Type.
// Events are immutable once published; handlers must not modify them.
type Event struct {
	Type EventType
	Raw  json.RawMessage // original payload for webhook events, nil for synthetic ones

	Issues  *IssuesPayload
	Pull    *PullRequestPayload
	Topic   *TopicReminderPayload
	Plan    *TestPlanReminderPayload
	Split   *SplitPayload
	Preview *PreviewPayload
}

// IssuesPayload carries an "issues" webhook delivery. Issue and Repository
// are guaranteed non-nil after classification.
type IssuesPayload struct {
	Action     string             `json:"action"`
	Issue      *github.Issue      `json:"issue"`
	Repository *github.Repository `json:"repository"`
}

// PullRequestPayload carries a "pull_request" webhook delivery. PullRequest
// and Repository are guaranteed non-nil after classification.
type PullRequestPayload struct {
	Action      string              `json:"action"`
	PullRequest *github.PullRequest `json:"pull_request"`
	Repository  *github.Repository  `json:"repository"`
}

// TopicReminderPayload carries a delayed missing-topic-label reminder.
type TopicReminderPayload struct {
	Issue      *github.Issue      `json:"issue"`
	Repository *github.Repository `json:"repository"`
}

// TestPlanReminderPayload carries a missing-test-plan reminder.
type TestPlanReminderPayload struct {
	PullRequest *github.PullRequest `json:"pull_request"`
	Repository  *github.Repository  `json:"repository"`
}

// SplitPayload triggers the macro-issue split workflow.
type SplitPayload struct {
	RepoName         string `json:"repo_name"`
	MacroIssueNumber int    `json:"macro_issue_number"`
}

// PreviewPayload triggers a branch-preview comment on a pull request.
type PreviewPayload struct {
	RepoName   string `json:"repo_name"`
	PullNumber int    `json:"pull_number"`
	PreviewURL string `json:"preview_url"`
}

// NewIssuesEvent builds a synthetic "issues" event, used by processors to
// re-announce an issue they just rewrote.
func NewIssuesEvent(action string, issue *github.Issue, repo *github.Repository) *Event {
	return &Event{
		Type:   EventIssues,
		Issues: &IssuesPayload{Action: action, Issue: issue, Repository: repo},
	}
}

// NewTopicReminderEvent builds a synthetic missing-topic-label reminder.
func NewTopicReminderEvent(issue *github.Issue, repo *github.Repository) *Event {
	return &Event{
		Type:  EventReminderTopicLabel,
		Topic: &TopicReminderPayload{Issue: issue, Repository: repo},
	}
}

// NewTestPlanReminderEvent builds a synthetic missing-test-plan reminder.
func NewTestPlanReminderEvent(pull *github.PullRequest, repo *github.Repository) *Event {
	return &Event{
		Type: EventReminderTestPlan,
		Plan: &TestPlanReminderPayload{PullRequest: pull, Repository: repo},
	}
}

// NewSplitEvent builds a macro-issue split trigger.
func NewSplitEvent(repoName string, macroIssueNumber int) *Event {
	return &Event{
		Type:  EventSplitMacroIssue,
		Split: &SplitPayload{RepoName: repoName, MacroIssueNumber: macroIssueNumber},
	}
}
