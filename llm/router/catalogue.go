package router

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jakeyflow/core/llm"
)

// catalogueTTL bounds how long a provider's model list is trusted before a
// fresh fetch is required.
const catalogueTTL = 5 * time.Minute

type catalogueEntry struct {
	models    []llm.Model
	fetchedAt time.Time
}

// ModelCatalogue caches each provider's ListModels result and collapses
// concurrent callers asking for the same provider into a single upstream
// fetch — several requests resolving a per-request model at once must not
// turn into a thundering herd against a provider's catalogue endpoint.
type ModelCatalogue struct {
	bindings map[llm.ProviderName]*Binding

	group singleflight.Group

	mu      sync.Mutex
	entries map[llm.ProviderName]catalogueEntry
}

// NewModelCatalogue builds a catalogue over the router's bindings. Call
// Models(ctx, provider) to fetch, with caching, a provider's model list.
func NewModelCatalogue(r *Router) *ModelCatalogue {
	return &ModelCatalogue{
		bindings: r.bindings,
		entries:  make(map[llm.ProviderName]catalogueEntry),
	}
}

// Models returns provider's model catalogue, serving a cached copy when one
// younger than catalogueTTL exists and deduplicating concurrent misses for
// the same provider into one upstream call.
func (c *ModelCatalogue) Models(ctx context.Context, provider llm.ProviderName) ([]llm.Model, error) {
	c.mu.Lock()
	entry, ok := c.entries[provider]
	c.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < catalogueTTL {
		return entry.models, nil
	}

	v, err, _ := c.group.Do(string(provider), func() (interface{}, error) {
		binding, ok := c.bindings[provider]
		if !ok || binding.Client == nil {
			return nil, llm.NewError(llm.ErrBadRequest, "unknown provider").WithProvider(string(provider))
		}
		models, err := binding.Client.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[provider] = catalogueEntry{models: models, fetchedAt: time.Now()}
		c.mu.Unlock()
		return models, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]llm.Model), nil
}
