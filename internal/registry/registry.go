// Package registry resolves repository names to configured API clients.
//
// Repositories named in the configuration get their own token/org/API root;
// anything else falls back to the process defaults. Handles are cached so a
// repository keeps one HTTP client across events.
package registry

import (
	"sync"

	"github.com/groombot/groom/internal/config"
	"github.com/groombot/groom/internal/github"
)

// Handle is a resolved repository: its coordinates plus a ready client.
type Handle struct {
	Org    string
	Name   string
	Client github.Service
}

// ClientFactory builds a client for one repository. Swapped out in tests.
type ClientFactory func(token, org, name, apiURL string) github.Service

func defaultFactory(token, org, name, apiURL string) github.Service {
	return github.NewClient(token, org, name).WithBaseURL(apiURL)
}

// Registry caches per-repository handles.
type Registry struct {
	store   *config.Store
	factory ClientFactory

	mu      sync.RWMutex
	handles map[string]Handle
}

// New creates a registry over the given configuration store.
func New(store *config.Store) *Registry {
	return &Registry{
		store:   store,
		factory: defaultFactory,
		handles: make(map[string]Handle),
	}
}

// WithFactory replaces the client factory. For tests.
func (r *Registry) WithFactory(f ClientFactory) *Registry {
	r.factory = f
	return r
}

// For resolves a repository name to its handle, creating and caching the
// client on first use.
func (r *Registry) For(name string) Handle {
	r.mu.RLock()
	h, ok := r.handles[name]
	r.mu.RUnlock()
	if ok {
		return h
	}

	rc := r.store.Current().Repo(name)
	h = Handle{
		Org:    rc.Org,
		Name:   name,
		Client: r.factory(rc.Token, rc.Org, name, rc.APIURL),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.handles[name]; ok {
		return cached
	}
	r.handles[name] = h
	return h
}

// Configured returns handles for every repository named in the
// configuration, in configuration order.
func (r *Registry) Configured() []Handle {
	repos := r.store.Current().Repos
	out := make([]Handle, 0, len(repos))
	for _, rc := range repos {
		out = append(out, r.For(rc.Name))
	}
	return out
}
