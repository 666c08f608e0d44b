// Package preview posts branch-preview links on pull requests. A hidden
// marker in the comment makes the post idempotent across repeated triggers.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/groombot/groom/internal/eventbus"
	"github.com/groombot/groom/internal/registry"
)

// marker identifies a preview comment. Invisible in rendered markdown.
const marker = "<!-- groom:branch-preview -->"

// Handler posts preview comments.
type Handler struct {
	reg *registry.Registry
	log *slog.Logger
}

// NewHandler creates the preview handler.
func NewHandler(reg *registry.Registry, log *slog.Logger) *Handler {
	return &Handler{reg: reg, log: log.With("component", "preview")}
}

func (h *Handler) ID() string { return "branch-preview" }

func (h *Handler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventBranchPreview}
}

func (h *Handler) Handle(ctx context.Context, ev *eventbus.Event) error {
	p := ev.Preview
	repo := h.reg.For(p.RepoName)

	comments, err := repo.Client.ListComments(ctx, p.PullNumber)
	if err != nil {
		return fmt.Errorf("failed to list comments on #%d: %w", p.PullNumber, err)
	}
	for _, c := range comments {
		if strings.Contains(c.Body, marker) {
			return nil
		}
	}

	body := fmt.Sprintf("%s\nPreview this branch at %s", marker, p.PreviewURL)
	if _, err := repo.Client.CreateComment(ctx, p.PullNumber, body); err != nil {
		return fmt.Errorf("failed to post preview on #%d: %w", p.PullNumber, err)
	}
	h.log.Info("posted branch preview", "repo", repo.Name, "pull", p.PullNumber)
	return nil
}
