package providers

import (
	"net/http"
	"sort"
	"time"

	"go-insights/internal/config"
)

// Registry holds one adapter per provider, keyed on the provider enum.
// Route handlers and services select adapters here instead of branching
// on provider names.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds every adapter from config. All adapters share one
// HTTP client with a per-call timeout so a slow provider cannot stall a job.
func NewRegistry(cfg *config.Config) *Registry {
	client := &http.Client{Timeout: 30 * time.Second}

	return NewRegistryOf(
		NewGoogleSheetsAdapter(cfg.Provider(ProviderGoogleSheets), client),
		NewQuickBooksAdapter(cfg.Provider(ProviderQuickBooks), client),
		NewLightspeedAdapter(cfg.Provider(ProviderLightspeed), client),
		NewStripeAdapter(cfg.Provider(ProviderStripe), client),
		NewSquareAdapter(cfg.Provider(ProviderSquare), client),
		NewPayPalAdapter(cfg.Provider(ProviderPayPal), client),
		NewShopifyAdapter(cfg.Provider(ProviderShopify), client),
	)
}

// NewRegistryOf builds a registry from explicit adapters
func NewRegistryOf(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for a provider name
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return a, nil
}

// Names returns the registered provider names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
