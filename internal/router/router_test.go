package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaygw/aigateway/internal/canonical"
	"github.com/relaygw/aigateway/internal/provider"
)

type stubAdapter struct{ name string }

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) Chat(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	return nil, nil
}
func (s *stubAdapter) ChatStream(ctx context.Context, req *canonical.Request) (<-chan canonical.Event, error) {
	return nil, nil
}
func (s *stubAdapter) ListModels(ctx context.Context) ([]provider.ModelInfo, error) { return nil, nil }
func (s *stubAdapter) Health(ctx context.Context) provider.HealthStatus             { return provider.HealthStatus{} }

func buildRegistry() *provider.Registry {
	r := provider.NewRegistry()
	r.RegisterProvider("openai", &stubAdapter{name: "openai"})
	r.RegisterProvider("gemini", &stubAdapter{name: "gemini"})
	r.RegisterProvider("anthropic", &stubAdapter{name: "anthropic"})
	r.RegisterModel("my-fine-tuned-model", "openai")
	return r
}

// TestRouter_RoutingFallback is literal end-to-end scenario 4: no explicit
// mapping for "gpt-4o", resolved via prefix fallback to OpenAI.
func TestRouter_RoutingFallback(t *testing.T) {
	registry := buildRegistry()
	rt := New(registry, nil, nil)

	adapter, err := rt.Route(context.Background(), &canonical.Request{
		Model:    "gpt-4o",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "openai", adapter.Name())
}

func TestRouter_ExplicitMapWinsOverPrefix(t *testing.T) {
	registry := buildRegistry()
	// The "gemini-" prefix would pick gemini; the explicit mapping must win.
	registry.RegisterModel("gemini-via-openai", "openai")
	rt := New(registry, nil, nil)

	adapter, err := rt.Route(context.Background(), &canonical.Request{
		Model:    "gemini-via-openai",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "openai", adapter.Name())
}

func TestRouter_UnknownModel_ProviderNotFound(t *testing.T) {
	registry := buildRegistry()
	rt := New(registry, nil, nil)

	_, err := rt.Route(context.Background(), &canonical.Request{
		Model:    "totally-unknown-model",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	ge := provider.AsGatewayError(err)
	require.Equal(t, provider.KindProviderNotFound, ge.Kind)
}

// TestRouter_IsAFunction is property 4: identical (registry snapshot, model)
// pairs always route to the same adapter.
func TestRouter_IsAFunction(t *testing.T) {
	registry := buildRegistry()
	rt := New(registry, nil, nil)

	req := &canonical.Request{Model: "claude-3-haiku-20240307", Messages: []canonical.Message{{Role: canonical.RoleUser, Content: "hi"}}}

	first, err := rt.Route(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := rt.Route(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, first.Name(), again.Name())
	}
}

func TestRouter_RuleEngineConsultedBeforePrefix(t *testing.T) {
	registry := buildRegistry()
	rules := NewRuleEngine([]Rule{
		{ID: "big-context", Script: `return total_bytes > 100`, Provider: "anthropic"},
	})
	rt := New(registry, rules, nil)

	longContent := make([]byte, 200)
	for i := range longContent {
		longContent[i] = 'a'
	}

	adapter, err := rt.Route(context.Background(), &canonical.Request{
		Model:    "gpt-4o",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: string(longContent)}},
	})
	require.NoError(t, err)
	require.Equal(t, "anthropic", adapter.Name())
}

func TestRouter_RuleEngineSkipsOnScriptError(t *testing.T) {
	registry := buildRegistry()
	rules := NewRuleEngine([]Rule{
		{ID: "broken", Script: `this is not valid lua (((`, Provider: "anthropic"},
	})
	rt := New(registry, rules, nil)

	adapter, err := rt.Route(context.Background(), &canonical.Request{
		Model:    "gpt-4o",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "openai", adapter.Name())
}

func TestRouter_SemanticAutoFallsBackToDefault(t *testing.T) {
	registry := buildRegistry()
	registry.RegisterModel("gpt-4o", "openai")

	selector, err := NewSemanticSelector(SemanticConfig{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	rt := New(registry, nil, selector)

	adapter, err := rt.Route(context.Background(), &canonical.Request{
		Model:    "auto",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "openai", adapter.Name())
}

func TestRouter_MultiInstance_StableSelection(t *testing.T) {
	registry := provider.NewRegistry()
	registry.RegisterProvider("gemini", &stubAdapter{name: "gemini-a"}, &stubAdapter{name: "gemini-b"})
	rt := New(registry, nil, nil)

	req := &canonical.Request{Model: "gemini-1.5-flash", Messages: []canonical.Message{{Role: canonical.RoleUser, Content: "same conversation"}}}

	first, err := rt.Route(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := rt.Route(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, first.Name(), again.Name())
	}
}
