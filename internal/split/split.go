// Package split implements the macro-issue split workflow: one macro issue
// becomes two, holding the open and the closed partition of its sub-issues.
//
// The workflow is a sequential pipeline over the remote tracker. Steps are
// not rolled back on failure; a failed run logs the step it died in so the
// partial state can be inspected and finished by hand.
package split

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/groombot/groom/internal/eventbus"
	"github.com/groombot/groom/internal/github"
	"github.com/groombot/groom/internal/registry"
	"github.com/groombot/groom/internal/subissues"
)

// bookkeepingLabel is used for customer tracking on the original and is
// never copied onto the clones.
const bookkeepingLabel = "customers"

// Orchestrator runs split workflows triggered on the bus.
type Orchestrator struct {
	reg *registry.Registry
	log *slog.Logger
}

// NewOrchestrator creates the split orchestrator.
func NewOrchestrator(reg *registry.Registry, log *slog.Logger) *Orchestrator {
	return &Orchestrator{reg: reg, log: log.With("component", "split")}
}

func (o *Orchestrator) ID() string { return "split-macro-issue" }

func (o *Orchestrator) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventSplitMacroIssue}
}

func (o *Orchestrator) Handle(ctx context.Context, ev *eventbus.Event) error {
	return o.Run(ctx, ev.Split.RepoName, ev.Split.MacroIssueNumber)
}

// partition holds one half of the split: the children a clone inherits and
// whether that clone stays open.
type partition struct {
	children []*github.Issue
	open     bool
}

// Run splits the macro issue into an open-children and a closed-children
// clone. Steps run in order; a failure stops the run where it is.
func (o *Orchestrator) Run(ctx context.Context, repoName string, number int) error {
	repo := o.reg.For(repoName)
	log := o.log.With("repo", repoName, "macro", number)

	fail := func(step int, err error) error {
		log.Error("split failed", "step", step, "err", err)
		return fmt.Errorf("split of #%d failed at step %d: %w", number, step, err)
	}

	// Step 1: fetch the macro issue and its children, partitioned by state.
	macro, err := repo.Client.FetchIssue(ctx, number)
	if err != nil {
		return fail(1, err)
	}
	children, err := fetchChildren(ctx, repo.Client, subissues.Children(macro.Body))
	if err != nil {
		return fail(1, err)
	}
	var open, closed []*github.Issue
	for _, c := range children {
		if c.Closed() {
			closed = append(closed, c)
		} else {
			open = append(open, c)
		}
	}
	log.Info("split step", "step", 1, "open", len(open), "closed", len(closed))

	// Step 2: strip the checklist from the original so reparented children
	// are not referenced twice.
	stripped := subissues.StripSection(macro.Body)
	if _, err := repo.Client.UpdateIssue(ctx, number, map[string]interface{}{"body": stripped}); err != nil {
		return fail(2, err)
	}
	log.Info("split step", "step", 2)

	// Step 3: create the two clones and close the second.
	openClone, err := o.clone(ctx, repo.Client, macro, stripped)
	if err != nil {
		return fail(3, err)
	}
	closedClone, err := o.clone(ctx, repo.Client, macro, stripped)
	if err != nil {
		return fail(3, err)
	}
	if closedClone, err = repo.Client.UpdateIssue(ctx, closedClone.Number, map[string]interface{}{"state": github.StateClosed}); err != nil {
		return fail(3, err)
	}
	log.Info("split step", "step", 3, "open_clone", openClone.Number, "closed_clone", closedClone.Number)

	// Step 4: populate each clone with its partition of children.
	for _, p := range []struct {
		clone *github.Issue
		part  partition
	}{
		{openClone, partition{children: open, open: true}},
		{closedClone, partition{children: closed, open: false}},
	} {
		if err := o.populate(ctx, repo.Client, number, p.clone, p.part); err != nil {
			return fail(4, err)
		}
	}
	log.Info("split step", "step", 4)
	log.Info("split complete", "open_clone", openClone.Number, "closed_clone", closedClone.Number)
	return nil
}

// fetchChildren resolves checklist references to issue snapshots, fetching
// concurrently. A dangling reference fails the fetch.
func fetchChildren(ctx context.Context, svc github.Service, refs []subissues.ChildRef) ([]*github.Issue, error) {
	children := make([]*github.Issue, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			issue, err := svc.FetchIssue(gctx, ref.Number)
			if err != nil {
				return fmt.Errorf("failed to fetch child #%d: %w", ref.Number, err)
			}
			children[i] = issue
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return children, nil
}

// clone creates a copy of the macro issue with the stripped body. The
// bookkeeping label stays on the original.
func (o *Orchestrator) clone(ctx context.Context, svc github.Service, macro *github.Issue, body string) (*github.Issue, error) {
	req := github.NewIssue{Title: macro.Title, Body: body}
	for _, name := range macro.LabelNames() {
		if name != bookkeepingLabel {
			req.Labels = append(req.Labels, name)
		}
	}
	if macro.Assignee != nil {
		req.Assignee = macro.Assignee.Login
	}
	if macro.Milestone != nil {
		req.Milestone = macro.Milestone.Number
	}
	return svc.CreateIssue(ctx, req)
}

// populate links one clone under the original, rebuilds its checklist from
// its partition, and reparents each child. Child back-reference rewrites run
// concurrently; everything touching a single body is serialized.
func (o *Orchestrator) populate(ctx context.Context, svc github.Service, original int, clone *github.Issue, p partition) error {
	// Point the clone at the original.
	linked := subissues.SetParentRef(clone.Body, original)
	if _, err := svc.UpdateIssue(ctx, clone.Number, map[string]interface{}{"body": linked}); err != nil {
		return fmt.Errorf("failed to link clone #%d: %w", clone.Number, err)
	}

	// Record the clone in the original's recreated checklist.
	origFresh, err := svc.FetchIssue(ctx, original)
	if err != nil {
		return fmt.Errorf("failed to re-fetch original #%d: %w", original, err)
	}
	entry := subissues.Child{Number: clone.Number, Title: clone.Title, Open: p.open}
	if _, err := svc.UpdateIssue(ctx, original, map[string]interface{}{"body": subissues.UpsertChild(origFresh.Body, entry)}); err != nil {
		return fmt.Errorf("failed to record clone #%d on original: %w", clone.Number, err)
	}

	// Re-fetch the clone to build on its linked body, then write its full
	// checklist in one update.
	fresh, err := svc.FetchIssue(ctx, clone.Number)
	if err != nil {
		return fmt.Errorf("failed to re-fetch clone #%d: %w", clone.Number, err)
	}
	body := fresh.Body
	for _, child := range p.children {
		body = subissues.UpsertChild(body, subissues.Child{
			Number: child.Number,
			Title:  child.Title,
			Open:   !child.Closed(),
		})
	}
	if _, err := svc.UpdateIssue(ctx, clone.Number, map[string]interface{}{"body": body}); err != nil {
		return fmt.Errorf("failed to write checklist of clone #%d: %w", clone.Number, err)
	}

	// Reparent the children.
	g, gctx := errgroup.WithContext(ctx)
	for _, child := range p.children {
		child := child
		g.Go(func() error {
			rewritten := subissues.SetParentRef(child.Body, clone.Number)
			if rewritten == child.Body {
				return nil
			}
			if _, err := svc.UpdateIssue(gctx, child.Number, map[string]interface{}{"body": rewritten}); err != nil {
				return fmt.Errorf("failed to reparent child #%d: %w", child.Number, err)
			}
			return nil
		})
	}
	return g.Wait()
}
