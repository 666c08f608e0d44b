// Package celebrate posts a random success GIF when a pull request merges.
// Purely cosmetic, and disabled unless a Giphy API key is configured.
package celebrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/groombot/groom/internal/config"
	"github.com/groombot/groom/internal/eventbus"
	"github.com/groombot/groom/internal/registry"
)

const (
	defaultGiphyURL = "https://api.giphy.com/v1/gifs/random"
	gifTag          = "success"
)

// Handler celebrates merged pull requests.
type Handler struct {
	store    *config.Store
	reg      *registry.Registry
	http     *http.Client
	giphyURL string
	log      *slog.Logger
}

// NewHandler creates the celebration handler.
func NewHandler(store *config.Store, reg *registry.Registry, log *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		reg:      reg,
		http:     &http.Client{},
		giphyURL: defaultGiphyURL,
		log:      log.With("component", "celebrate"),
	}
}

// WithGiphyURL overrides the Giphy endpoint. For tests.
func (h *Handler) WithGiphyURL(u string) *Handler {
	h.giphyURL = u
	return h
}

func (h *Handler) ID() string { return "celebrate-merge" }

func (h *Handler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventPullRequest}
}

func (h *Handler) Handle(ctx context.Context, ev *eventbus.Event) error {
	p := ev.Pull
	if p.Action != "closed" || !p.PullRequest.Merged {
		return nil
	}
	key := h.store.Current().GiphyAPIKey
	if key == "" {
		return nil
	}

	gif, err := h.randomGIF(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to fetch celebration gif: %w", err)
	}

	repo := h.reg.For(p.Repository.Name)
	body := fmt.Sprintf("![%s](%s)", gifTag, gif)
	if _, err := repo.Client.CreateComment(ctx, p.PullRequest.Number, body); err != nil {
		return fmt.Errorf("failed to post celebration on #%d: %w", p.PullRequest.Number, err)
	}
	h.log.Info("celebrated merge", "repo", repo.Name, "pull", p.PullRequest.Number)
	return nil
}

// randomGIF asks Giphy for one random GIF tagged "success".
func (h *Handler) randomGIF(ctx context.Context, key string) (string, error) {
	q := url.Values{}
	q.Set("api_key", key)
	q.Set("tag", gifTag)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.giphyURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("giphy returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Data struct {
			Images struct {
				Original struct {
					URL string `json:"url"`
				} `json:"original"`
			} `json:"images"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode giphy response: %w", err)
	}
	if payload.Data.Images.Original.URL == "" {
		return "", fmt.Errorf("giphy response had no gif")
	}
	return payload.Data.Images.Original.URL, nil
}
