package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/groombot/groom/internal/github"
)

// Applier executes label decisions against one repository, skipping calls
// that would not change anything.
type Applier struct {
	svc github.Service
}

// NewApplier wraps a repository client.
func NewApplier(svc github.Service) *Applier {
	return &Applier{svc: svc}
}

// EnsureLabel adds the label unless the issue already carries it.
func (a *Applier) EnsureLabel(ctx context.Context, issue *github.Issue, name string) error {
	if issue.HasLabel(name) {
		return nil
	}
	if err := a.svc.AddLabels(ctx, issue.Number, []string{name}); err != nil {
		return fmt.Errorf("failed to add label %q to #%d: %w", name, issue.Number, err)
	}
	return nil
}

// ClearLabel removes the label if the issue carries it.
func (a *Applier) ClearLabel(ctx context.Context, issue *github.Issue, name string) error {
	if !issue.HasLabel(name) {
		return nil
	}
	if err := a.svc.RemoveLabel(ctx, issue.Number, name); err != nil {
		return fmt.Errorf("failed to remove label %q from #%d: %w", name, issue.Number, err)
	}
	return nil
}

// ApplyReview applies a review-phase delta. Each operation is attempted even
// when an earlier one fails; failures are joined into the returned error.
func (a *Applier) ApplyReview(ctx context.Context, issue *github.Issue, d ReviewDelta) error {
	var errs []error
	for _, name := range d.Ensure {
		errs = append(errs, a.EnsureLabel(ctx, issue, name))
	}
	for _, name := range d.Clear {
		errs = append(errs, a.ClearLabel(ctx, issue, name))
	}
	return errors.Join(errs...)
}
