// Package router resolves a canonical.Request's model id to a provider
// adapter instance. Dispatch runs through four stages, most to least
// specific: an explicit model map, an optional Lua rule engine, a static
// prefix table, and — only for model == "auto" — semantic embedding
// selection. Once a provider_id is chosen, rendezvous hashing picks among
// that provider's configured instances.
package router

import (
	"context"
	"strings"

	"github.com/relaygw/aigateway/internal/canonical"
	"github.com/relaygw/aigateway/internal/provider"
)

// prefixTable is the static fallback used when neither the explicit map nor
// the rule engine names a provider for this model. Checked in order; the
// first matching prefix wins.
var prefixTable = []struct {
	prefix     string
	providerID string
}{
	{"gemini-", "gemini"},
	{"gpt-", "openai"},
	{"o1-", "openai"},
	{"claude-", "anthropic"},
}

// Router ties a Registry snapshot to the optional rule engine and semantic
// selector. It holds no mutable state of its own — Route is a pure function
// of its inputs, per the "router is a function" invariant — so the same
// Router value is safe to share across concurrent requests.
type Router struct {
	registry *provider.Registry
	rules    *RuleEngine
	semantic *SemanticSelector
}

// New builds a Router. rules and semantic may both be nil — a Router with
// neither reduces to the two-stage (map, then prefix) dispatch.
func New(registry *provider.Registry, rules *RuleEngine, semantic *SemanticSelector) *Router {
	return &Router{registry: registry, rules: rules, semantic: semantic}
}

// RequestFeatures are the signals the rule engine and instance-selection key
// derive from a request, computed once per Route call.
type RequestFeatures struct {
	Model        string
	MessageCount int
	TotalBytes   int
	HasSystem    bool
	AffinityKey  string
}

func extractFeatures(req *canonical.Request) RequestFeatures {
	f := RequestFeatures{Model: req.Model, MessageCount: len(req.Messages)}
	for _, msg := range req.Messages {
		f.TotalBytes += len(msg.Content)
		if msg.Role == canonical.RoleSystem {
			f.HasSystem = true
		}
		if f.AffinityKey == "" && msg.Role == canonical.RoleUser {
			f.AffinityKey = msg.Content
		}
	}
	if f.AffinityKey == "" {
		f.AffinityKey = req.Model
	}
	return f
}

// Route resolves req.Model to a provider adapter instance. It never mutates
// the Router or the registry snapshot it was built from.
func (r *Router) Route(ctx context.Context, req *canonical.Request) (provider.Adapter, error) {
	features := extractFeatures(req)

	providerID, ok := r.resolveProviderID(ctx, features)
	if !ok {
		return nil, provider.NewProviderNotFound(req.Model)
	}

	instances := r.registry.Instances(providerID)
	if len(instances) == 0 {
		return nil, provider.NewProviderNotFound(req.Model)
	}
	if len(instances) == 1 {
		return instances[0], nil
	}

	return selectInstance(instances, features.AffinityKey), nil
}

// resolveProviderID runs the four dispatch stages in order and returns the
// first provider_id that resolves, preferring the explicit map over
// everything else.
func (r *Router) resolveProviderID(ctx context.Context, f RequestFeatures) (string, bool) {
	if id, ok := r.registry.ProviderForModel(f.Model); ok {
		return id, true
	}

	if r.rules != nil {
		if id, ok := r.rules.Evaluate(ctx, f, r.registry); ok {
			return id, true
		}
	}

	for _, entry := range prefixTable {
		if strings.HasPrefix(f.Model, entry.prefix) {
			if len(r.registry.Instances(entry.providerID)) > 0 {
				return entry.providerID, true
			}
		}
	}

	if f.Model == "auto" && r.semantic != nil {
		if id, ok := r.semantic.Select(ctx, f, r.registry); ok {
			return id, true
		}
	}

	return "", false
}
