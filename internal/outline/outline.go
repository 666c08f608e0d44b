// Package outline provides a block-level markdown model for issue bodies.
//
// Bodies are parsed into an ordered sequence of nodes (headings, lists, and
// verbatim "other" blocks) and rendered back to text. Rendering normalizes
// whitespace: consecutive blank lines collapse to exactly one, and the result
// is trimmed. Parsing the rendered output yields the same outline, which is
// what makes incremental rewrites of the same body safe.
package outline

import (
	"regexp"
	"strings"
)

// Node is a block-level element of a document. Exactly one of the concrete
// types below implements it.
type Node interface {
	node()
}

// Heading is an ATX heading (`## text`).
type Heading struct {
	Level int
	Text  string
}

// List is a flat bullet list.
type List struct {
	Items []Item
}

// Item is a single list entry. Text holds everything after the bullet marker.
type Item struct {
	Text string
}

// Other is any block the model does not interpret, kept verbatim line by line.
type Other struct {
	Lines []string
}

func (Heading) node() {}
func (*List) node()   {}
func (Other) node()   {}

// Outline is an ordered sequence of block nodes.
type Outline struct {
	Nodes []Node
}

var (
	headingPattern  = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	listItemPattern = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)
)

// Parse splits text into block nodes. Blank lines separate blocks and are not
// retained; Render reinserts exactly one blank line between blocks.
func Parse(text string) *Outline {
	o := &Outline{}
	var items []Item
	var raw []string

	flushList := func() {
		if len(items) > 0 {
			o.Nodes = append(o.Nodes, &List{Items: items})
			items = nil
		}
	}
	flushRaw := func() {
		if len(raw) > 0 {
			o.Nodes = append(o.Nodes, Other{Lines: raw})
			raw = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.TrimSpace(line) == "":
			flushList()
			flushRaw()
		case headingPattern.MatchString(line):
			flushList()
			flushRaw()
			m := headingPattern.FindStringSubmatch(line)
			o.Nodes = append(o.Nodes, Heading{Level: len(m[1]), Text: strings.TrimSpace(m[2])})
		case listItemPattern.MatchString(line):
			flushRaw()
			m := listItemPattern.FindStringSubmatch(line)
			items = append(items, Item{Text: strings.TrimSpace(m[1])})
		default:
			flushList()
			raw = append(raw, strings.TrimRight(line, " \t"))
		}
	}
	flushList()
	flushRaw()
	return o
}

// Render writes the outline back to text. Blocks are separated by one blank
// line; the result carries no leading or trailing whitespace.
func (o *Outline) Render() string {
	blocks := make([]string, 0, len(o.Nodes))
	for _, n := range o.Nodes {
		switch b := n.(type) {
		case Heading:
			blocks = append(blocks, strings.Repeat("#", b.Level)+" "+b.Text)
		case *List:
			if len(b.Items) == 0 {
				continue
			}
			lines := make([]string, len(b.Items))
			for i, it := range b.Items {
				lines[i] = "- " + it.Text
			}
			blocks = append(blocks, strings.Join(lines, "\n"))
		case Other:
			blocks = append(blocks, strings.Join(b.Lines, "\n"))
		}
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n"))
}

// section pairs a heading node index with the index of the first list that
// follows it before any other heading. list is -1 when the section has no
// list (empty or malformed sections are treated as having none).
type section struct {
	heading int
	list    int
}

// sections builds the heading→list index in a single pass. Section lookup
// then works off this index instead of a stateful scan.
func (o *Outline) sections() []section {
	var out []section
	for i, n := range o.Nodes {
		switch n.(type) {
		case Heading:
			out = append(out, section{heading: i, list: -1})
		case *List:
			if len(out) > 0 && out[len(out)-1].list == -1 {
				out[len(out)-1].list = i
			}
		}
	}
	return out
}

// Section returns the first list inside the first section whose heading
// matches. A list is inside a section when no other heading appears between
// the heading and the list. Returns false when no matching heading exists or
// the matching section has no list.
func (o *Outline) Section(match func(Heading) bool) (*List, bool) {
	for _, s := range o.sections() {
		h := o.Nodes[s.heading].(Heading)
		if !match(h) {
			continue
		}
		if s.list == -1 {
			return nil, false
		}
		return o.Nodes[s.list].(*List), true
	}
	return nil, false
}

// RemoveSection deletes the first matching heading and its list (when
// present) from the outline. Reports whether anything was removed.
func (o *Outline) RemoveSection(match func(Heading) bool) bool {
	for _, s := range o.sections() {
		h := o.Nodes[s.heading].(Heading)
		if !match(h) {
			continue
		}
		drop := map[int]bool{s.heading: true}
		if s.list != -1 {
			drop[s.list] = true
		}
		kept := o.Nodes[:0]
		for i, n := range o.Nodes {
			if !drop[i] {
				kept = append(kept, n)
			}
		}
		o.Nodes = kept
		return true
	}
	return false
}

// UpsertItem replaces the first item matching match in place, or appends the
// item when no match exists. Applying it twice with the same item yields the
// same list.
func UpsertItem(list *List, item Item, match func(Item) bool) {
	for i, it := range list.Items {
		if match(it) {
			list.Items[i] = item
			return
		}
	}
	list.Items = append(list.Items, item)
}

// AppendSection adds a heading followed by a list at the end of the document.
func (o *Outline) AppendSection(h Heading, items []Item) {
	o.Nodes = append(o.Nodes, h, &List{Items: items})
}
