package reconcile

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groombot/groom/internal/config"
	"github.com/groombot/groom/internal/eventbus"
	"github.com/groombot/groom/internal/github"
	"github.com/groombot/groom/internal/github/githubtest"
	"github.com/groombot/groom/internal/registry"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func fakeRegistry(fake *githubtest.Fake) *registry.Registry {
	store := config.NewStore(&config.Config{Org: "acme", Token: "t"})
	return registry.New(store).WithFactory(func(token, org, name, apiURL string) github.Service {
		return fake
	})
}

// capturePublisher records events instead of delivering them.
type capturePublisher struct {
	events []*eventbus.Event
}

func (p *capturePublisher) Publish(ev *eventbus.Event) { p.events = append(p.events, ev) }

func (p *capturePublisher) PublishAfter(ev *eventbus.Event, _ time.Duration) { p.Publish(ev) }

func repo() *github.Repository { return &github.Repository{Name: "widget"} }

func TestLabelHandlerAddsMacroLabel(t *testing.T) {
	fake := githubtest.NewFake()
	issue := fake.Seed(github.Issue{
		Number: 5,
		Body:   "Plan\n\n## sub-issues\n\n- [ ] First #6",
		State:  github.StateOpen,
	})

	h := NewLabelHandler(fakeRegistry(fake), discard)
	ev := eventbus.NewIssuesEvent("edited", issue, repo())
	require.NoError(t, h.Handle(context.Background(), ev))

	assert.True(t, fake.Issue(5).HasLabel(LabelMacro))
}

func TestLabelHandlerRemovesStaleMacroLabel(t *testing.T) {
	fake := githubtest.NewFake()
	issue := fake.Seed(github.Issue{
		Number: 5,
		Body:   "No checklist anymore",
		State:  github.StateOpen,
		Labels: []github.Label{{Name: LabelMacro}},
	})

	h := NewLabelHandler(fakeRegistry(fake), discard)
	require.NoError(t, h.Handle(context.Background(), eventbus.NewIssuesEvent("edited", issue, repo())))

	assert.False(t, fake.Issue(5).HasLabel(LabelMacro))
}

func TestLabelHandlerIgnoresIrrelevantActions(t *testing.T) {
	fake := githubtest.NewFake()
	issue := fake.Seed(github.Issue{
		Number: 5,
		Body:   "Plan\n\n## sub-issues\n\n- [ ] First #6",
		State:  github.StateOpen,
	})

	h := NewLabelHandler(fakeRegistry(fake), discard)
	require.NoError(t, h.Handle(context.Background(), eventbus.NewIssuesEvent("labeled", issue, repo())))

	assert.False(t, fake.Issue(5).HasLabel(LabelMacro))
}

func TestLabelHandlerMarksPullUnderReview(t *testing.T) {
	fake := githubtest.NewFake()
	fake.Seed(github.Issue{Number: 9, State: github.StateOpen, Labels: []github.Label{{Name: LabelWIP}}})
	pull := fake.SeedPull(github.PullRequest{
		Number:   9,
		Title:    "Add widgets",
		State:    github.StateOpen,
		Assignee: &github.User{Login: "reviewer"},
	})

	h := NewLabelHandler(fakeRegistry(fake), discard)
	ev := &eventbus.Event{
		Type: eventbus.EventPullRequest,
		Pull: &eventbus.PullRequestPayload{Action: "assigned", PullRequest: pull, Repository: repo()},
	}
	require.NoError(t, h.Handle(context.Background(), ev))

	twin := fake.Issue(9)
	assert.True(t, twin.HasLabel(LabelInReview))
	assert.False(t, twin.HasLabel(LabelWIP))
}

func TestLabelHandlerSyncsLinkedIssue(t *testing.T) {
	fake := githubtest.NewFake()
	fake.Seed(github.Issue{Number: 9, State: github.StateOpen})
	fake.Seed(github.Issue{
		Number: 4,
		State:  github.StateOpen,
		Labels: []github.Label{{Name: "bug"}, {Name: "frontend"}},
	})
	pull := fake.SeedPull(github.PullRequest{
		Number: 9,
		Title:  "Fix panic (closes #4)",
		State:  github.StateOpen,
	})

	h := NewLabelHandler(fakeRegistry(fake), discard)
	ev := &eventbus.Event{
		Type: eventbus.EventPullRequest,
		Pull: &eventbus.PullRequestPayload{Action: "opened", PullRequest: pull, Repository: repo()},
	}
	require.NoError(t, h.Handle(context.Background(), ev))

	twin := fake.Issue(9)
	assert.True(t, twin.HasLabel("bug"))
	assert.True(t, twin.HasLabel("frontend"))
	assert.True(t, twin.HasLabel(LabelWIP), "no assignee means work in progress")
	assert.True(t, fake.Issue(4).HasLabel(LabelWIP))
}

func TestLabelHandlerClearsLabelsOnClosedLinkedIssue(t *testing.T) {
	fake := githubtest.NewFake()
	fake.Seed(github.Issue{Number: 9, State: github.StateOpen})
	fake.Seed(github.Issue{
		Number: 4,
		State:  github.StateClosed,
		Labels: []github.Label{{Name: LabelInReview}, {Name: LabelWIP}},
	})
	pull := fake.SeedPull(github.PullRequest{
		Number:   9,
		Title:    "Fix panic (closes #4)",
		State:    github.StateClosed,
		Merged:   true,
		Assignee: &github.User{Login: "reviewer"},
	})

	h := NewLabelHandler(fakeRegistry(fake), discard)
	ev := &eventbus.Event{
		Type: eventbus.EventPullRequest,
		Pull: &eventbus.PullRequestPayload{Action: "closed", PullRequest: pull, Repository: repo()},
	}
	require.NoError(t, h.Handle(context.Background(), ev))

	linked := fake.Issue(4)
	assert.False(t, linked.HasLabel(LabelInReview))
	assert.False(t, linked.HasLabel(LabelWIP))
}

func TestLabelHandlerSkipsAbandonedPull(t *testing.T) {
	fake := githubtest.NewFake()
	pull := fake.SeedPull(github.PullRequest{
		Number: 9,
		Title:  "Never mind (closes #4)",
		State:  github.StateClosed,
		Merged: false,
	})

	h := NewLabelHandler(fakeRegistry(fake), discard)
	ev := &eventbus.Event{
		Type: eventbus.EventPullRequest,
		Pull: &eventbus.PullRequestPayload{Action: "closed", PullRequest: pull, Repository: repo()},
	}
	// No issues are seeded; a fetch would fail, so success means it skipped.
	require.NoError(t, h.Handle(context.Background(), ev))
}

func TestChecklistHandlerUpsertsAndRepublishes(t *testing.T) {
	fake := githubtest.NewFake()
	fake.Seed(github.Issue{
		Number: 1,
		Body:   "Plan\n\n## sub-issues\n\n- [ ] Old title #2",
		State:  github.StateOpen,
	})
	child := fake.Seed(github.Issue{
		Number: 2,
		Title:  "New title",
		Body:   "← #1\n\nDetails",
		State:  github.StateClosed,
	})

	pub := &capturePublisher{}
	h := NewChecklistHandler(fakeRegistry(fake), pub, discard)
	require.NoError(t, h.Handle(context.Background(), eventbus.NewIssuesEvent("closed", child, repo())))

	parent := fake.Issue(1)
	assert.Contains(t, parent.Body, "- [x] New title #2")
	assert.NotContains(t, parent.Body, "Old title")

	require.Len(t, pub.events, 1)
	assert.Equal(t, eventbus.EventIssues, pub.events[0].Type)
	assert.Equal(t, "edited", pub.events[0].Issues.Action)
	assert.Equal(t, parent.Body, pub.events[0].Issues.Issue.Body)
}

func TestChecklistHandlerNoChangeNoUpdate(t *testing.T) {
	fake := githubtest.NewFake()
	fake.Seed(github.Issue{
		Number: 1,
		Body:   "Plan\n\n## sub-issues\n\n- [ ] Same title #2",
		State:  github.StateOpen,
	})
	child := fake.Seed(github.Issue{
		Number: 2,
		Title:  "Same title",
		Body:   "← #1",
		State:  github.StateOpen,
	})

	pub := &capturePublisher{}
	h := NewChecklistHandler(fakeRegistry(fake), pub, discard)
	require.NoError(t, h.Handle(context.Background(), eventbus.NewIssuesEvent("edited", child, repo())))

	assert.Empty(t, pub.events, "an unchanged checklist is not re-announced")
}

func TestChecklistHandlerIgnoresNonSubIssues(t *testing.T) {
	fake := githubtest.NewFake()
	issue := fake.Seed(github.Issue{Number: 3, Body: "no back-reference here", State: github.StateOpen})

	pub := &capturePublisher{}
	h := NewChecklistHandler(fakeRegistry(fake), pub, discard)
	require.NoError(t, h.Handle(context.Background(), eventbus.NewIssuesEvent("edited", issue, repo())))
	assert.Empty(t, pub.events)
}

func TestStateHandlerClosesCompletedMacro(t *testing.T) {
	fake := githubtest.NewFake()
	issue := fake.Seed(github.Issue{
		Number: 1,
		Body:   "Plan\n\n## sub-issues\n\n- [x] First #2\n- [x] Second #3",
		State:  github.StateOpen,
	})

	h := NewStateHandler(fakeRegistry(fake), discard)
	require.NoError(t, h.Handle(context.Background(), eventbus.NewIssuesEvent("edited", issue, repo())))

	assert.Equal(t, github.StateClosed, fake.Issue(1).State)
}

func TestStateHandlerReopensMacroWithOpenChild(t *testing.T) {
	fake := githubtest.NewFake()
	issue := fake.Seed(github.Issue{
		Number: 1,
		Body:   "Plan\n\n## sub-issues\n\n- [x] First #2\n- [ ] Second #3",
		State:  github.StateClosed,
	})

	h := NewStateHandler(fakeRegistry(fake), discard)
	require.NoError(t, h.Handle(context.Background(), eventbus.NewIssuesEvent("reopened", issue, repo())))

	assert.Equal(t, github.StateOpen, fake.Issue(1).State)
}

// Closing the last open child must, through the re-announced parent body,
// check its entry and close the macro issue. This exercises the checklist and
// state handlers wired to a live bus, the way the daemon runs them.
func TestClosingLastChildClosesMacroIssue(t *testing.T) {
	fake := githubtest.NewFake()
	fake.Seed(github.Issue{
		Number: 10,
		Body:   "Plan\n\n## sub-issues\n\n- [x] First #12\n- [ ] Second #11",
		State:  github.StateOpen,
	})
	child := fake.Seed(github.Issue{
		Number: 11,
		Title:  "Second",
		Body:   "← #10",
		State:  github.StateClosed,
	})

	reg := fakeRegistry(fake)
	bus := eventbus.New(discard)
	defer bus.Close()
	bus.Subscribe(NewChecklistHandler(reg, bus, discard))
	bus.Subscribe(NewStateHandler(reg, discard))

	bus.Publish(eventbus.NewIssuesEvent("closed", child, repo()))

	assert.Eventually(t, func() bool {
		parent, err := fake.FetchIssue(context.Background(), 10)
		return err == nil &&
			parent.State == github.StateClosed &&
			strings.Contains(parent.Body, "- [x] Second #11")
	}, 2*time.Second, 10*time.Millisecond,
		"closing the last child must check its entry and close the macro issue")
}

func TestStateHandlerLeavesPlainIssuesAlone(t *testing.T) {
	fake := githubtest.NewFake()
	issue := fake.Seed(github.Issue{Number: 1, Body: "nothing structured", State: github.StateOpen})

	h := NewStateHandler(fakeRegistry(fake), discard)
	require.NoError(t, h.Handle(context.Background(), eventbus.NewIssuesEvent("edited", issue, repo())))

	assert.Equal(t, github.StateOpen, fake.Issue(1).State)
}
