package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaygw/aigateway/internal/canonical"
	"github.com/relaygw/aigateway/internal/provider"
	"github.com/relaygw/aigateway/internal/router"
	"github.com/relaygw/aigateway/internal/telemetry"
)

type scriptedAdapter struct {
	name   string
	resp   *canonical.Response
	events []canonical.Event
	err    error
	// delay, if set, makes Chat block until either delay elapses or ctx is
	// canceled — used to exercise the server's request-timeout wiring.
	delay time.Duration
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) Chat(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, provider.NewTimeout("request deadline exceeded")
		}
	}
	return a.resp, nil
}

func (a *scriptedAdapter) ChatStream(ctx context.Context, req *canonical.Request) (<-chan canonical.Event, error) {
	if a.err != nil {
		return nil, a.err
	}
	ch := make(chan canonical.Event, len(a.events))
	for _, e := range a.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (a *scriptedAdapter) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (a *scriptedAdapter) Health(ctx context.Context) provider.HealthStatus {
	return provider.HealthStatus{State: provider.HealthHealthy}
}

func newTestServer(adapter provider.Adapter, maxTokensCeiling int) *Server {
	return newTestServerWithTimeout(adapter, maxTokensCeiling, 0)
}

func newTestServerWithTimeout(adapter provider.Adapter, maxTokensCeiling int, requestTimeout time.Duration) *Server {
	reg := provider.NewRegistry()
	reg.RegisterProvider("openai", adapter)
	reg.RegisterModel("gpt-3.5-turbo", "openai")

	rt := router.New(reg, nil, nil)

	return New(Deps{
		Registry:         reg,
		Router:           rt,
		Sink:             telemetry.NewMemorySink(),
		MaxTokensCeiling: maxTokensCeiling,
		MaxRequestBytes:  1 << 20,
		RequestTimeout:   requestTimeout,
	})
}

// TestHandleMessages_OpenAIHello is literal end-to-end scenario 1.
func TestHandleMessages_OpenAIHello(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "openai",
		resp: &canonical.Response{
			Content:    []canonical.ContentBlock{{Type: "text", Text: "Hello"}},
			StopReason: canonical.StopEndTurn,
			Usage:      canonical.Usage{InputTokens: 1, OutputTokens: 1},
		},
	}
	srv := newTestServer(adapter, 0)

	body := []byte(`{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"Hi"}],"max_tokens":5}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp canonical.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "Hello", resp.Content[0].Text)
	require.Equal(t, canonical.StopEndTurn, resp.StopReason)
	require.Equal(t, 1, resp.Usage.InputTokens)
	require.Equal(t, 1, resp.Usage.OutputTokens)
}

// TestHandleMessages_MaxTokensRejection is literal end-to-end scenario 5.
func TestHandleMessages_MaxTokensRejection(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "openai"}, 1024)

	body := []byte(`{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"Hi"}],"max_tokens":4096}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var body2 errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body2))
	require.Equal(t, "validation_error", body2.Error.Type)
}

func TestHandleMessages_EmptyMessages(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "openai"}, 0)

	body := []byte(`{"model":"gpt-3.5-turbo","messages":[],"max_tokens":5}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleMessages_UnknownModel(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "openai"}, 0)

	body := []byte(`{"model":"totally-unknown","messages":[{"role":"user","content":"Hi"}],"max_tokens":5}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleMessages_Streaming(t *testing.T) {
	idx := 0
	adapter := &scriptedAdapter{
		name: "openai",
		events: []canonical.Event{
			{Type: canonical.EventMessageStart, Message: &canonical.Response{Model: "gpt-3.5-turbo"}},
			{Type: canonical.EventContentBlockStart, Index: &idx},
			{Type: canonical.EventContentBlockDelta, Index: &idx, TextDelta: "Hi"},
			{Type: canonical.EventContentBlockStop, Index: &idx},
			{Type: canonical.EventMessageStop},
		},
	}
	srv := newTestServer(adapter, 0)

	body := []byte(`{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"Hi"}],"max_tokens":5,"stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Contains(t, w.Body.String(), "event: message_start")
	require.Contains(t, w.Body.String(), "event: message_stop")
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "openai"}, 0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body healthBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "healthy", body.Status)
	require.NotEmpty(t, body.Version)
	require.GreaterOrEqual(t, body.UptimeSeconds, int64(0))
}

func TestHandleHealthProviders(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "openai"}, 0)

	req := httptest.NewRequest(http.MethodGet, "/health/providers", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body providersHealthBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "healthy", body.Status)
	require.Contains(t, body.Providers, "openai")
}

func TestHandleListModels_Envelope(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "openai"}, 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body modelsListBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "list", body.Object)
}

func TestHandleRefreshModels_Envelope(t *testing.T) {
	srv := newTestServer(&scriptedAdapter{name: "openai"}, 0)

	req := httptest.NewRequest(http.MethodPost, "/v1/models/refresh", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body refreshBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Contains(t, body.ProviderStats, "openai")
	require.False(t, body.Timestamp.IsZero())
}

// TestHandleMessages_RequestTimeout verifies server.request_timeout actually
// bounds the request: an adapter that outlasts the configured deadline
// surfaces as a 504, not a hang.
func TestHandleMessages_RequestTimeout(t *testing.T) {
	adapter := &scriptedAdapter{name: "openai", delay: 200 * time.Millisecond}
	srv := newTestServerWithTimeout(adapter, 0, 10*time.Millisecond)

	body := []byte(`{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"Hi"}],"max_tokens":5}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusGatewayTimeout, w.Code)
}
