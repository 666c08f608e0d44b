// Package reconcile keeps labels and open/closed state aligned with the
// textual structure of issues and pull requests: a sub-issues checklist makes
// an issue a macro issue, a pull request's assignee marks it as under review,
// and "(closes #N)" in a pull request title ties it to the issue it resolves.
//
// Decisions are pure functions over fetched state; the handlers in this
// package apply them through the tracker client and are idempotent, so a
// replayed webhook converges instead of flapping.
package reconcile

import (
	"regexp"

	"github.com/groombot/groom/internal/github"
	"github.com/groombot/groom/internal/subissues"
)

// Labels managed by the reconcilers.
const (
	// LabelMacro marks issues that carry a sub-issues checklist.
	LabelMacro = "macro"

	// LabelInReview and LabelWIP track the review phase of the work behind
	// a pull request. They are mutually exclusive.
	LabelInReview = "in review"
	LabelWIP      = "WIP"
)

var closesPattern = regexp.MustCompile(`\(closes #(\d+)\)`)

// LinkedIssue extracts the issue number a pull request title declares it
// closes, via the "(closes #N)" convention.
func LinkedIssue(title string) (int, bool) {
	m := closesPattern.FindStringSubmatch(title)
	if m == nil {
		return 0, false
	}
	n := 0
	for _, r := range m[1] {
		n = n*10 + int(r-'0')
	}
	return n, true
}

// MacroLabelAction says how the macro label must change on an issue.
type MacroLabelAction int

const (
	MacroKeep MacroLabelAction = iota
	MacroAdd
	MacroRemove
)

// DecideMacroLabel compares an issue's body structure with its labels: the
// macro label follows the presence of a sub-issues section.
func DecideMacroLabel(issue *github.Issue) MacroLabelAction {
	isMacro := subissues.HasSection(issue.Body)
	switch {
	case isMacro && !issue.HasLabel(LabelMacro):
		return MacroAdd
	case !isMacro && issue.HasLabel(LabelMacro):
		return MacroRemove
	default:
		return MacroKeep
	}
}

// ReviewDelta is the label change that brings an issue in line with the
// review phase of its pull request.
type ReviewDelta struct {
	Ensure []string
	Clear  []string
}

// DecideReviewLabels computes the review-phase labels for a target issue.
// Closed targets lose both labels; otherwise an assigned pull request means
// "in review" and an unassigned one means WIP.
func DecideReviewLabels(target *github.Issue, underReview bool) ReviewDelta {
	if target.Closed() {
		return ReviewDelta{Clear: []string{LabelInReview, LabelWIP}}
	}
	if underReview {
		return ReviewDelta{Ensure: []string{LabelInReview}, Clear: []string{LabelWIP}}
	}
	return ReviewDelta{Ensure: []string{LabelWIP}, Clear: []string{LabelInReview}}
}

// reviewManaged reports whether a label is owned by the review-phase
// reconciler and therefore excluded from twin synchronization.
func reviewManaged(name string) bool {
	return name == LabelInReview || name == LabelWIP
}

// SyncTwinLabels computes the additions and removals that make the pull
// request's twin issue carry the same labels as the issue it closes. The
// review-phase labels are managed per issue and left out of the sync.
func SyncTwinLabels(twin, linked *github.Issue) (add, remove []string) {
	for _, name := range linked.LabelNames() {
		if !reviewManaged(name) && !twin.HasLabel(name) {
			add = append(add, name)
		}
	}
	for _, name := range twin.LabelNames() {
		if !reviewManaged(name) && !linked.HasLabel(name) {
			remove = append(remove, name)
		}
	}
	return add, remove
}

// StateAction says how a macro issue's open/closed state must change.
type StateAction int

const (
	StateKeep StateAction = iota
	StateClose
	StateReopen
)

// DecideMacroState derives a macro issue's state from its checklist: closed
// exactly when every entry is checked. An issue without checklist entries is
// left alone.
func DecideMacroState(issue *github.Issue, children []subissues.ChildRef) StateAction {
	if len(children) == 0 {
		return StateKeep
	}
	allChecked := true
	for _, c := range children {
		if !c.Checked {
			allChecked = false
			break
		}
	}
	switch {
	case allChecked && !issue.Closed():
		return StateClose
	case !allChecked && issue.Closed():
		return StateReopen
	default:
		return StateKeep
	}
}
