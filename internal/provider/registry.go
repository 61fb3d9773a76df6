package provider

import (
	"context"
	"fmt"
	"sync"
)

// instanceSet holds one or more adapter handles configured for the same
// provider_id — e.g. two API keys against Gemini for extra throughput.
// Picking among them is the router's job (rendezvous hashing); the
// registry just holds the set.
type instanceSet struct {
	providerID string
	instances  []Adapter
}

// Registry is the immutable provider_id → adapter-set and model_id →
// provider_id mapping described in §3. It's built once at startup from
// configuration and replaced wholesale on reload — readers always see a
// consistent snapshot, and in-flight requests keep the snapshot they
// started with even if a reload swaps in a new one afterward.
type Registry struct {
	providers map[string]*instanceSet
	models    map[string]string // model_id -> provider_id
}

// NewRegistry builds an empty Registry. Use RegisterProvider and
// RegisterModel to populate it, then treat the result as read-only.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*instanceSet),
		models:    make(map[string]string),
	}
}

// RegisterProvider adds one or more instances under a provider_id. Calling
// this twice for the same id appends instances rather than replacing the
// set, so callers can register multiple API keys incrementally.
func (r *Registry) RegisterProvider(providerID string, instances ...Adapter) {
	set, ok := r.providers[providerID]
	if !ok {
		set = &instanceSet{providerID: providerID}
		r.providers[providerID] = set
	}
	set.instances = append(set.instances, instances...)
}

// RegisterModel maps a model id to a provider id. The provider must already
// be (or later be) registered — every provider_id referenced here must
// exist in the adapter map, per §3's invariant.
func (r *Registry) RegisterModel(modelID, providerID string) {
	r.models[modelID] = providerID
}

// ProviderForModel returns the provider_id mapped to modelID, or false if
// no explicit mapping exists. The router consults this before falling
// back to prefix dispatch.
func (r *Registry) ProviderForModel(modelID string) (string, bool) {
	id, ok := r.models[modelID]
	return id, ok
}

// Instances returns every adapter instance registered under providerID.
// Returns nil if the provider id is unknown.
func (r *Registry) Instances(providerID string) []Adapter {
	set, ok := r.providers[providerID]
	if !ok {
		return nil
	}
	return set.instances
}

// Adapter returns the single instance registered under providerID. It is a
// convenience for the common single-instance case; callers that need
// multi-instance splitting should use Instances directly with the router's
// rendezvous selection.
func (r *Registry) Adapter(providerID string) (Adapter, error) {
	instances := r.Instances(providerID)
	if len(instances) == 0 {
		return nil, fmt.Errorf("provider %q not registered", providerID)
	}
	return instances[0], nil
}

// ProviderIDs returns every registered provider id, in no particular order.
func (r *Registry) ProviderIDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}

// AggregatedModels calls ListModels on every registered provider's first
// instance concurrently and merges the results into one coherent snapshot,
// as required by GET /v1/models.
func (r *Registry) AggregatedModels(ctx context.Context) ([]ModelInfo, error) {
	type result struct {
		models []ModelInfo
		err    error
	}

	results := make(chan result, len(r.providers))
	var wg sync.WaitGroup

	for _, set := range r.providers {
		set := set
		if len(set.instances) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			models, err := set.instances[0].ListModels(ctx)
			results <- result{models: models, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var all []ModelInfo
	for res := range results {
		if res.err != nil {
			continue // one provider's catalog failing shouldn't break the aggregate
		}
		all = append(all, res.models...)
	}
	return all, nil
}

// AggregatedHealth invokes Health on every registered provider's first
// instance concurrently, bounded by ctx, and returns provider_id →
// HealthStatus for GET /health/providers.
func (r *Registry) AggregatedHealth(ctx context.Context) map[string]HealthStatus {
	type result struct {
		id     string
		status HealthStatus
	}

	results := make(chan result, len(r.providers))
	var wg sync.WaitGroup

	for id, set := range r.providers {
		id, set := id, set
		if len(set.instances) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- result{id: id, status: set.instances[0].Health(ctx)}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]HealthStatus, len(r.providers))
	for res := range results {
		out[res.id] = res.status
	}
	return out
}

// RefreshCounts rebuilds each adapter's catalog (by calling ListModels
// again) and returns provider_id → count, for POST /v1/models/refresh.
func (r *Registry) RefreshCounts(ctx context.Context) map[string]int {
	out := make(map[string]int, len(r.providers))
	for id, set := range r.providers {
		if len(set.instances) == 0 {
			continue
		}
		models, err := set.instances[0].ListModels(ctx)
		if err != nil {
			out[id] = 0
			continue
		}
		out[id] = len(models)
	}
	return out
}
