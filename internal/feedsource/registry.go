package feedsource

import (
	"fmt"

	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

// Registry keeps a mapping from feed-source names to their providers.
// Owners select a provider by name ("api", "scraper") in their profile.
type Registry struct {
	providers map[string]ports.FeedProvider
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]ports.FeedProvider{}}
}

// Register adds or replaces a provider implementation.
func (r *Registry) Register(p ports.FeedProvider) {
	if r.providers == nil {
		r.providers = map[string]ports.FeedProvider{}
	}
	r.providers[p.Name()] = p
}

// Resolve returns a provider by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.FeedProvider, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("feed source %s is not registered", name)
}
