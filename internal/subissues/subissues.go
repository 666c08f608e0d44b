// Package subissues implements the textual conventions that tie issues
// together: a sub-issue's body starts with a back-reference arrow pointing at
// its macro issue, and a macro issue's body carries a "sub-issues" heading
// followed by a checklist mirroring each child's state.
package subissues

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/groombot/groom/internal/outline"
)

// SectionTitle is the heading text of the checklist section.
const SectionTitle = "sub-issues"

// Arrows is the closed whitelist of accepted back-reference arrow spellings.
// The first entry is the canonical spelling used when writing a new
// reference. The list is a compatibility contract with bodies written by
// other markdown renderers; do not extend it casually.
var Arrows = []string{"←", "&larr;", "&#8592;", "&#x2190;"}

var (
	refNumberPattern = regexp.MustCompile(`#(\d+)`)
	titleBracket     = regexp.MustCompile(`\[[^\]]+\]`)
)

// IsSectionHeading reports whether a heading introduces the checklist
// section: level 2 with "sub-issues" in its text.
func IsSectionHeading(h outline.Heading) bool {
	return h.Level == 2 && strings.Contains(h.Text, SectionTitle)
}

// HasSection reports whether body contains a sub-issues section heading,
// which is what makes an issue a macro issue.
func HasSection(body string) bool {
	for _, n := range outline.Parse(body).Nodes {
		if h, ok := n.(outline.Heading); ok && IsSectionHeading(h) {
			return true
		}
	}
	return false
}

// ParentRef extracts the macro issue number a sub-issue points at. The body
// must begin with a whitelisted arrow immediately followed by ` #N`.
func ParentRef(body string) (int, bool) {
	for _, arrow := range Arrows {
		if !strings.HasPrefix(body, arrow+" #") {
			continue
		}
		rest := strings.TrimPrefix(body, arrow+" #")
		n := 0
		seen := false
		for _, r := range rest {
			if r < '0' || r > '9' {
				break
			}
			n = n*10 + int(r-'0')
			seen = true
		}
		if seen {
			return n, true
		}
	}
	return 0, false
}

// SetParentRef rewrites a sub-issue body to point at parent. An existing
// reference keeps its arrow spelling; otherwise a canonical reference is
// prepended. Only the leading reference is rewritten; an arrow mentioned
// again in prose stays as it is.
func SetParentRef(body string, parent int) string {
	for _, arrow := range Arrows {
		if !strings.HasPrefix(body, arrow+" #") {
			continue
		}
		pattern := regexp.MustCompile(regexp.QuoteMeta(arrow) + ` #\d+`)
		loc := pattern.FindStringIndex(body)
		if loc == nil {
			continue
		}
		return body[:loc[0]] + fmt.Sprintf("%s #%d", arrow, parent) + body[loc[1]:]
	}
	return fmt.Sprintf("%s #%d\n\n%s", Arrows[0], parent, body)
}

// Child is the slice of an issue the checklist cares about.
type Child struct {
	Number int
	Title  string
	Open   bool
}

// ChildRef is one parsed checklist entry.
type ChildRef struct {
	Number  int
	Checked bool
}

// FormatItem renders a checklist entry for a child. The checkbox mirrors the
// child's state (checked = closed); a bracketed prefix already in the title
// is stripped so repeated upserts do not stack brackets. Only the first
// bracket group is removed; brackets later in the title belong to the title.
func FormatItem(c Child) string {
	box := "x"
	if c.Open {
		box = " "
	}
	title := c.Title
	if loc := titleBracket.FindStringIndex(title); loc != nil {
		title = title[:loc[0]] + title[loc[1]:]
	}
	return fmt.Sprintf("[%s] %s #%d", box, strings.TrimSpace(title), c.Number)
}

// itemNumber extracts the referenced issue number from a checklist entry.
// The reference is the last #N token, so titles containing their own #N
// tokens do not confuse it.
func itemNumber(text string) (int, bool) {
	ms := refNumberPattern.FindAllStringSubmatch(text, -1)
	if len(ms) == 0 {
		return 0, false
	}
	n := 0
	for _, r := range ms[len(ms)-1][1] {
		n = n*10 + int(r-'0')
	}
	return n, true
}

// refersTo reports whether a checklist entry references the given number.
func refersTo(text string, number int) bool {
	n, ok := itemNumber(text)
	return ok && n == number
}

// Children parses the checklist entries of a macro issue body. Entries
// without an issue reference are skipped.
func Children(body string) []ChildRef {
	list, ok := outline.Parse(body).Section(IsSectionHeading)
	if !ok {
		return nil
	}
	var out []ChildRef
	for _, it := range list.Items {
		n, ok := itemNumber(it.Text)
		if !ok {
			continue
		}
		out = append(out, ChildRef{Number: n, Checked: strings.HasPrefix(it.Text, "[x]")})
	}
	return out
}

// UpsertChild returns body with the child's checklist entry added or updated
// in place. A missing, empty, or malformed section falls back to appending a
// fresh heading and list at the end of the body. The result is rendered with
// normalized blank lines.
func UpsertChild(body string, c Child) string {
	o := outline.Parse(body)
	item := outline.Item{Text: FormatItem(c)}
	if list, ok := o.Section(IsSectionHeading); ok {
		outline.UpsertItem(list, item, func(it outline.Item) bool {
			return refersTo(it.Text, c.Number)
		})
	} else {
		o.RemoveSection(IsSectionHeading)
		o.AppendSection(outline.Heading{Level: 2, Text: SectionTitle}, []outline.Item{item})
	}
	return o.Render()
}

// StripSection returns body with the sub-issues heading and checklist
// removed. Used before reparenting children so the original macro issue does
// not keep stale references.
func StripSection(body string) string {
	o := outline.Parse(body)
	o.RemoveSection(IsSectionHeading)
	return o.Render()
}
