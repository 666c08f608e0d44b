package eventbus

import "encoding/json"

// Classify validates a raw (kind, payload) pair against the closed set of
// recognized event shapes. It returns the typed event and true when the pair
// matches a known shape, or nil and false otherwise. A payload missing a
// required field is "not this type", never an error: webhook sources deliver
// many shapes this process does not care about.
func Classify(kind string, payload []byte) (*Event, bool) {
	switch EventType(kind) {
	case EventIssues:
		var p IssuesPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.Issue == nil || p.Repository == nil {
			return nil, false
		}
		return &Event{Type: EventIssues, Raw: payload, Issues: &p}, true

	case EventPullRequest:
		var p PullRequestPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.PullRequest == nil || p.Repository == nil {
			return nil, false
		}
		return &Event{Type: EventPullRequest, Raw: payload, Pull: &p}, true

	case EventReminderTopicLabel:
		var p TopicReminderPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.Issue == nil || p.Repository == nil {
			return nil, false
		}
		return &Event{Type: EventReminderTopicLabel, Raw: payload, Topic: &p}, true

	case EventReminderTestPlan:
		var p TestPlanReminderPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.PullRequest == nil || p.Repository == nil {
			return nil, false
		}
		return &Event{Type: EventReminderTestPlan, Raw: payload, Plan: &p}, true

	case EventSplitMacroIssue:
		var p SplitPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.RepoName == "" || p.MacroIssueNumber <= 0 {
			return nil, false
		}
		return &Event{Type: EventSplitMacroIssue, Raw: payload, Split: &p}, true

	case EventBranchPreview:
		var p PreviewPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.RepoName == "" || p.PullNumber <= 0 || p.PreviewURL == "" {
			return nil, false
		}
		return &Event{Type: EventBranchPreview, Raw: payload, Preview: &p}, true
	}

	return nil, false
}
