// Package templates serves the markdown templates used to open well-formed
// issues and pull requests. Templates are plain .md files with $var
// placeholders filled from query values.
package templates

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var varPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// Set holds loaded templates keyed by kind (the file name without extension).
type Set struct {
	templates map[string]string
}

// Load reads every .md file in dir into a set.
func Load(dir string) (*Set, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, err
	}
	s := &Set{templates: make(map[string]string, len(paths))}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", path, err)
		}
		kind := strings.TrimSuffix(filepath.Base(path), ".md")
		s.templates[kind] = string(data)
	}
	return s, nil
}

// Kinds lists the loaded template kinds, sorted.
func (s *Set) Kinds() []string {
	kinds := make([]string, 0, len(s.templates))
	for k := range s.templates {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Get returns one template by kind.
func (s *Set) Get(kind string) (string, bool) {
	t, ok := s.templates[kind]
	return t, ok
}

// Select returns the template for a known kind, or every template when kind
// is empty or unknown.
func (s *Set) Select(kind string) map[string]string {
	if t, ok := s.templates[kind]; ok {
		return map[string]string{kind: t}
	}
	out := make(map[string]string, len(s.templates))
	for k, t := range s.templates {
		out[k] = t
	}
	return out
}

// Render substitutes $var placeholders from vars. Placeholders without a
// value stay as they are, so a half-filled template is visibly half-filled.
func Render(tmpl string, vars url.Values) string {
	return varPattern.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := token[1:]
		if !vars.Has(name) {
			return token
		}
		return vars.Get(name)
	})
}

// PrefillQuery builds the query string that prefills the tracker's new-issue
// form: milestone and assignee once, labels as repeated labels[] pairs.
func PrefillQuery(milestone, assignee string, labels []string) string {
	q := url.Values{}
	if milestone != "" {
		q.Set("milestone", milestone)
	}
	if assignee != "" {
		q.Set("assignee", assignee)
	}
	for _, label := range labels {
		q.Add("labels[]", label)
	}
	return q.Encode()
}
