// Package provider defines the provider-adapter contract and its concrete
// adapters (Gemini, OpenAI, Anthropic), plus the registry that maps model
// and provider identifiers to adapter handles.
//
// Every upstream backend implements Adapter. The rest of the gateway —
// router, handler — works only against this interface, so it never needs
// to know which upstream is actually serving a request. Go interfaces are
// implicit: a struct satisfies Adapter just by having the right methods,
// no "implements" declaration required.
package provider

import (
	"context"

	"github.com/relaygw/aigateway/internal/canonical"
)

// Adapter is the capability set every upstream AI provider must implement.
// Adapters are stateless beyond their immutable Config and a shared
// *http.Client; they are safe to call from many goroutines concurrently.
type Adapter interface {
	// Name returns the provider identifier, e.g. "gemini", "openai",
	// "anthropic". Used in log fields and as the OwnedBy of listed models;
	// the registry keys adapters by the id they are registered under.
	Name() string

	// Chat performs a one-shot, non-streaming completion. It fails with a
	// *GatewayError on transport failure, non-2xx upstream response, or
	// decode failure.
	Chat(ctx context.Context, req *canonical.Request) (*canonical.Response, error)

	// ChatStream begins a streaming completion and returns a finite,
	// single-consumer, non-restartable sequence of canonical events,
	// realized here as a receive-only channel. On upstream transport
	// failure mid-stream, the last value sent is a terminal EventError;
	// the channel is then closed. Dropping the channel (ceasing to read,
	// or cancelling ctx) must cause the adapter to stop reading upstream
	// and close the underlying HTTP body.
	ChatStream(ctx context.Context, req *canonical.Request) (<-chan canonical.Event, error)

	// ListModels returns a coherent snapshot of the models this adapter
	// can serve. May be static (from config) or fetched from upstream.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Health performs a cheap liveness probe. Implementations should use a
	// short timeout and turn a failure into HealthUnhealthy rather than
	// propagating an error — a failed probe is data, not a fault.
	Health(ctx context.Context) HealthStatus
}

// ModelInfo describes one model a provider can serve.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by"`
	Created int64  `json:"created"`
}

// HealthState is the coarse liveness classification for a provider.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthStatus is the result of one adapter's Health probe.
type HealthStatus struct {
	State     HealthState `json:"state"`
	LatencyMS *int64      `json:"latency_ms,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

// Config holds the immutable, per-provider settings an adapter is
// constructed with. Shared read-only across every concurrent request the
// adapter serves.
type Config struct {
	APIKey     string
	APIBase    string
	Models     []string
	Timeout    int // seconds; 0 means "use the shared client's default"
	MaxRetries int
	Enabled    bool

	// AnthropicVersion is only consulted by the Anthropic adapter, which
	// must send it as the anthropic-version header on every request.
	AnthropicVersion string
}
