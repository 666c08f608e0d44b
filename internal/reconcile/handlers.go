package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/groombot/groom/internal/eventbus"
	"github.com/groombot/groom/internal/github"
	"github.com/groombot/groom/internal/registry"
	"github.com/groombot/groom/internal/subissues"
)

// relevantAction filters issue webhook actions that can change the facts the
// reconcilers derive labels and state from.
func relevantAction(action string) bool {
	switch action {
	case "opened", "edited", "closed", "reopened":
		return true
	}
	return false
}

// LabelHandler reconciles the macro label on issues and the review-phase
// labels driven by pull requests.
type LabelHandler struct {
	reg *registry.Registry
	log *slog.Logger
}

// NewLabelHandler creates the label reconciler.
func NewLabelHandler(reg *registry.Registry, log *slog.Logger) *LabelHandler {
	return &LabelHandler{reg: reg, log: log.With("component", "reconcile.labels")}
}

func (h *LabelHandler) ID() string { return "reconcile-labels" }

func (h *LabelHandler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventIssues, eventbus.EventPullRequest}
}

func (h *LabelHandler) Handle(ctx context.Context, ev *eventbus.Event) error {
	switch ev.Type {
	case eventbus.EventIssues:
		return h.handleIssue(ctx, ev.Issues)
	case eventbus.EventPullRequest:
		return h.handlePull(ctx, ev.Pull)
	}
	return nil
}

func (h *LabelHandler) handleIssue(ctx context.Context, p *eventbus.IssuesPayload) error {
	if !relevantAction(p.Action) {
		return nil
	}
	repo := h.reg.For(p.Repository.Name)
	applier := NewApplier(repo.Client)

	switch DecideMacroLabel(p.Issue) {
	case MacroAdd:
		if err := applier.EnsureLabel(ctx, p.Issue, LabelMacro); err != nil {
			return err
		}
		h.log.Info("added macro label", "repo", repo.Name, "issue", p.Issue.Number)
	case MacroRemove:
		if err := applier.ClearLabel(ctx, p.Issue, LabelMacro); err != nil {
			return err
		}
		h.log.Info("removed macro label", "repo", repo.Name, "issue", p.Issue.Number)
	}
	return nil
}

func (h *LabelHandler) handlePull(ctx context.Context, p *eventbus.PullRequestPayload) error {
	pull := p.PullRequest
	// A closed, unmerged pull request is abandoned work; its labels are left
	// for a replacement pull request to manage.
	if pull.Closed() && !pull.Merged {
		return nil
	}

	repo := h.reg.For(p.Repository.Name)
	applier := NewApplier(repo.Client)
	underReview := pull.Assignee != nil

	// The twin is the issue view of the pull request itself; the tracker
	// shares one number space between the two.
	twin, err := repo.Client.FetchIssue(ctx, pull.Number)
	if err != nil {
		return fmt.Errorf("failed to fetch twin of pull #%d: %w", pull.Number, err)
	}

	var errs []error
	errs = append(errs, applier.ApplyReview(ctx, twin, DecideReviewLabels(twin, underReview)))

	if number, ok := LinkedIssue(pull.Title); ok && number != pull.Number {
		linked, err := repo.Client.FetchIssue(ctx, number)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to fetch linked issue #%d: %w", number, err))
		} else {
			errs = append(errs, applier.ApplyReview(ctx, linked, DecideReviewLabels(linked, underReview)))

			add, remove := SyncTwinLabels(twin, linked)
			if len(add) > 0 {
				errs = append(errs, repo.Client.AddLabels(ctx, twin.Number, add))
			}
			for _, name := range remove {
				errs = append(errs, repo.Client.RemoveLabel(ctx, twin.Number, name))
			}
			if len(add)+len(remove) > 0 {
				h.log.Info("synced twin labels",
					"repo", repo.Name, "pull", pull.Number, "issue", number,
					"added", add, "removed", remove)
			}
		}
	}
	return errors.Join(errs...)
}

// ChecklistHandler mirrors a sub-issue's title and state into its macro
// issue's checklist, then re-announces the rewritten macro issue so sibling
// reconcilers see the fresh body without waiting for another webhook.
type ChecklistHandler struct {
	reg *registry.Registry
	bus eventbus.Publisher
	log *slog.Logger
}

// NewChecklistHandler creates the checklist reconciler.
func NewChecklistHandler(reg *registry.Registry, bus eventbus.Publisher, log *slog.Logger) *ChecklistHandler {
	return &ChecklistHandler{reg: reg, bus: bus, log: log.With("component", "reconcile.checklist")}
}

func (h *ChecklistHandler) ID() string { return "reconcile-checklist" }

func (h *ChecklistHandler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventIssues}
}

func (h *ChecklistHandler) Handle(ctx context.Context, ev *eventbus.Event) error {
	p := ev.Issues
	if !relevantAction(p.Action) {
		return nil
	}
	parentNumber, ok := subissues.ParentRef(p.Issue.Body)
	if !ok || parentNumber == p.Issue.Number {
		return nil
	}

	repo := h.reg.For(p.Repository.Name)
	parent, err := repo.Client.FetchIssue(ctx, parentNumber)
	if err != nil {
		return fmt.Errorf("failed to fetch macro issue #%d: %w", parentNumber, err)
	}

	next := subissues.UpsertChild(parent.Body, subissues.Child{
		Number: p.Issue.Number,
		Title:  p.Issue.Title,
		Open:   !p.Issue.Closed(),
	})
	if next == parent.Body {
		return nil
	}

	updated, err := repo.Client.UpdateIssue(ctx, parent.Number, map[string]interface{}{"body": next})
	if err != nil {
		return fmt.Errorf("failed to update macro issue #%d: %w", parent.Number, err)
	}
	h.log.Info("synced checklist entry",
		"repo", repo.Name, "macro", parent.Number, "child", p.Issue.Number)

	h.bus.Publish(eventbus.NewIssuesEvent("edited", updated, p.Repository))
	return nil
}

// StateHandler closes a macro issue when every checklist entry is checked and
// reopens it when one comes back unchecked.
type StateHandler struct {
	reg *registry.Registry
	log *slog.Logger
}

// NewStateHandler creates the state reconciler.
func NewStateHandler(reg *registry.Registry, log *slog.Logger) *StateHandler {
	return &StateHandler{reg: reg, log: log.With("component", "reconcile.state")}
}

func (h *StateHandler) ID() string { return "reconcile-state" }

func (h *StateHandler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventIssues}
}

func (h *StateHandler) Handle(ctx context.Context, ev *eventbus.Event) error {
	p := ev.Issues
	if !relevantAction(p.Action) {
		return nil
	}
	children := subissues.Children(p.Issue.Body)

	repo := h.reg.For(p.Repository.Name)
	switch DecideMacroState(p.Issue, children) {
	case StateClose:
		if _, err := repo.Client.UpdateIssue(ctx, p.Issue.Number, map[string]interface{}{"state": github.StateClosed}); err != nil {
			return fmt.Errorf("failed to close macro issue #%d: %w", p.Issue.Number, err)
		}
		h.log.Info("closed completed macro issue", "repo", repo.Name, "issue", p.Issue.Number)
	case StateReopen:
		if _, err := repo.Client.UpdateIssue(ctx, p.Issue.Number, map[string]interface{}{"state": github.StateOpen}); err != nil {
			return fmt.Errorf("failed to reopen macro issue #%d: %w", p.Issue.Number, err)
		}
		h.log.Info("reopened macro issue", "repo", repo.Name, "issue", p.Issue.Number)
	}
	return nil
}
