// Package labelsync pushes a shared set of label definitions to every
// configured repository, so label names and colors stay consistent across
// the organization. Triggered from the CLI, not from webhooks.
package labelsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/groombot/groom/internal/github"
	"github.com/groombot/groom/internal/registry"
)

// Definition is one entry of the shared labels JSON. An empty whitelist
// means the label applies to every repository.
type Definition struct {
	Name      string   `json:"name"`
	Color     string   `json:"color"`
	Whitelist []string `json:"whitelist,omitempty"`
}

// appliesTo reports whether a definition targets the repository.
func (d Definition) appliesTo(repo string) bool {
	if len(d.Whitelist) == 0 {
		return true
	}
	for _, name := range d.Whitelist {
		if name == repo {
			return true
		}
	}
	return false
}

// Syncer fetches label definitions and upserts them per repository.
type Syncer struct {
	reg  *registry.Registry
	http *http.Client
	log  *slog.Logger
}

// NewSyncer creates a syncer over the configured repositories.
func NewSyncer(reg *registry.Registry, log *slog.Logger) *Syncer {
	return &Syncer{reg: reg, http: &http.Client{}, log: log.With("component", "labelsync")}
}

// Fetch downloads and decodes the label definitions from url.
func (s *Syncer) Fetch(ctx context.Context, url string) ([]Definition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch label definitions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("label template returned %d: %s", resp.StatusCode, body)
	}

	var defs []Definition
	if err := json.NewDecoder(resp.Body).Decode(&defs); err != nil {
		return nil, fmt.Errorf("failed to decode label definitions: %w", err)
	}
	return defs, nil
}

// Sync applies the definitions at url to every configured repository. A
// failure on one label does not stop the others; failures are joined.
func (s *Syncer) Sync(ctx context.Context, url string) error {
	defs, err := s.Fetch(ctx, url)
	if err != nil {
		return err
	}

	var errs []error
	for _, handle := range s.reg.Configured() {
		for _, def := range defs {
			if !def.appliesTo(handle.Name) {
				continue
			}
			if err := s.upsert(ctx, handle, def); err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", handle.Name, def.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Syncer) upsert(ctx context.Context, handle registry.Handle, def Definition) error {
	label := github.Label{Name: def.Name, Color: def.Color}

	existing, err := handle.Client.FetchLabel(ctx, def.Name)
	switch {
	case err == nil:
		if existing.Color == def.Color {
			return nil
		}
		if err := handle.Client.UpdateLabel(ctx, def.Name, label); err != nil {
			return err
		}
		s.log.Info("updated label", "repo", handle.Name, "label", def.Name)
	case github.IsNotFound(err):
		if err := handle.Client.CreateLabel(ctx, label); err != nil {
			return err
		}
		s.log.Info("created label", "repo", handle.Name, "label", def.Name)
	default:
		return err
	}
	return nil
}
