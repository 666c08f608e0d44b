// Package remind nudges authors about missing issue metadata. Reminders are
// synthetic events: a trigger condition observed on a real webhook schedules
// one, and the condition is re-checked against fresh state on delivery, so a
// reminder that became moot in the meantime stays silent.
package remind

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/groombot/groom/internal/config"
	"github.com/groombot/groom/internal/eventbus"
	"github.com/groombot/groom/internal/github"
	"github.com/groombot/groom/internal/registry"
)

// testPlanPlaceholder is the test-plan block the pull request template ships
// with. Its verbatim presence in a pull request body means the author has not
// written a test plan yet.
const testPlanPlaceholder = "## test plan\n\n_describe how you verified this change_"

// TopicLabelHandler reminds issue authors to pick a topic label. The
// reminder is delayed so freshly opened issues get a grace period, and
// re-validated on delivery because delayed publishes cannot be cancelled.
type TopicLabelHandler struct {
	store *config.Store
	reg   *registry.Registry
	bus   eventbus.Publisher
	log   *slog.Logger
}

// NewTopicLabelHandler creates the topic-label reminder.
func NewTopicLabelHandler(store *config.Store, reg *registry.Registry, bus eventbus.Publisher, log *slog.Logger) *TopicLabelHandler {
	return &TopicLabelHandler{store: store, reg: reg, bus: bus, log: log.With("component", "remind.topiclabel")}
}

func (h *TopicLabelHandler) ID() string { return "remind-topic-label" }

func (h *TopicLabelHandler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventIssues, eventbus.EventReminderTopicLabel}
}

func (h *TopicLabelHandler) Handle(ctx context.Context, ev *eventbus.Event) error {
	switch ev.Type {
	case eventbus.EventIssues:
		return h.schedule(ctx, ev.Issues)
	case eventbus.EventReminderTopicLabel:
		return h.deliver(ctx, ev.Topic)
	}
	return nil
}

// definedTopicLabels narrows the configured topic labels to those the
// repository actually defines; repositories without any opt out entirely.
func definedTopicLabels(ctx context.Context, svc github.Service, configured []string) ([]string, error) {
	repoLabels, err := svc.ListRepoLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repo labels: %w", err)
	}
	names := make(map[string]bool, len(repoLabels))
	for _, l := range repoLabels {
		names[l.Name] = true
	}
	var defined []string
	for _, name := range configured {
		if names[name] {
			defined = append(defined, name)
		}
	}
	return defined, nil
}

func hasAny(issue *github.Issue, labels []string) bool {
	for _, name := range labels {
		if issue.HasLabel(name) {
			return true
		}
	}
	return false
}

func (h *TopicLabelHandler) schedule(ctx context.Context, p *eventbus.IssuesPayload) error {
	if p.Action != "opened" {
		return nil
	}
	cfg := h.store.Current().Reminders.MissingTopicLabels
	if len(cfg.TopicLabels) == 0 {
		return nil
	}

	repo := h.reg.For(p.Repository.Name)
	defined, err := definedTopicLabels(ctx, repo.Client, cfg.TopicLabels)
	if err != nil {
		return err
	}
	if len(defined) == 0 || hasAny(p.Issue, defined) {
		return nil
	}

	h.bus.PublishAfter(eventbus.NewTopicReminderEvent(p.Issue, p.Repository), cfg.Delay)
	h.log.Info("scheduled topic label reminder",
		"repo", repo.Name, "issue", p.Issue.Number, "delay", cfg.Delay)
	return nil
}

func (h *TopicLabelHandler) deliver(ctx context.Context, p *eventbus.TopicReminderPayload) error {
	repo := h.reg.For(p.Repository.Name)

	issue, err := repo.Client.FetchIssue(ctx, p.Issue.Number)
	if err != nil {
		return fmt.Errorf("failed to re-fetch issue #%d: %w", p.Issue.Number, err)
	}
	if issue.Closed() {
		return nil
	}
	cfg := h.store.Current().Reminders.MissingTopicLabels
	defined, err := definedTopicLabels(ctx, repo.Client, cfg.TopicLabels)
	if err != nil {
		return err
	}
	if len(defined) == 0 || hasAny(issue, defined) {
		return nil
	}

	quoted := make([]string, len(defined))
	for i, name := range defined {
		quoted[i] = "`" + name + "`"
	}
	body := fmt.Sprintf("%sdon't forget to add a topic label (%s)",
		mention(issue.User), strings.Join(quoted, ", "))
	if _, err := repo.Client.CreateComment(ctx, issue.Number, body); err != nil {
		return fmt.Errorf("failed to comment on #%d: %w", issue.Number, err)
	}
	h.log.Info("posted topic label reminder", "repo", repo.Name, "issue", issue.Number)
	return nil
}

func mention(u *github.User) string {
	if u == nil || u.Login == "" {
		return ""
	}
	return "@" + u.Login + " "
}

// TestPlanHandler reminds pull request authors to replace the template's
// test-plan block. The check fires when a reviewer is assigned, the point
// where the work is declared ready.
type TestPlanHandler struct {
	reg *registry.Registry
	bus eventbus.Publisher
	log *slog.Logger
}

// NewTestPlanHandler creates the test-plan reminder.
func NewTestPlanHandler(reg *registry.Registry, bus eventbus.Publisher, log *slog.Logger) *TestPlanHandler {
	return &TestPlanHandler{reg: reg, bus: bus, log: log.With("component", "remind.testplan")}
}

func (h *TestPlanHandler) ID() string { return "remind-test-plan" }

func (h *TestPlanHandler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventPullRequest, eventbus.EventReminderTestPlan}
}

func (h *TestPlanHandler) Handle(ctx context.Context, ev *eventbus.Event) error {
	switch ev.Type {
	case eventbus.EventPullRequest:
		p := ev.Pull
		if p.Action != "assigned" {
			return nil
		}
		if !strings.Contains(p.PullRequest.Body, testPlanPlaceholder) {
			return nil
		}
		h.bus.Publish(eventbus.NewTestPlanReminderEvent(p.PullRequest, p.Repository))
		return nil

	case eventbus.EventReminderTestPlan:
		return h.deliver(ctx, ev.Plan)
	}
	return nil
}

func (h *TestPlanHandler) deliver(ctx context.Context, p *eventbus.TestPlanReminderPayload) error {
	repo := h.reg.For(p.Repository.Name)

	pull, err := repo.Client.FetchPull(ctx, p.PullRequest.Number)
	if err != nil {
		return fmt.Errorf("failed to re-fetch pull #%d: %w", p.PullRequest.Number, err)
	}
	if !strings.Contains(pull.Body, testPlanPlaceholder) {
		return nil
	}

	body := mention(pull.User) + "don't forget to add a test plan"
	if _, err := repo.Client.CreateComment(ctx, pull.Number, body); err != nil {
		return fmt.Errorf("failed to comment on #%d: %w", pull.Number, err)
	}
	h.log.Info("posted test plan reminder", "repo", repo.Name, "pull", pull.Number)
	return nil
}
