package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaygw/aigateway/internal/canonical"
)

func TestAnthropicAdapter_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.Equal(t, defaultAnthropicVersion, r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_1",
			"model": "claude-3-opus",
			"content": [{"type": "text", "text": "Hi there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 4, "output_tokens": 3}
		}`)
	}))
	defer srv.Close()

	adapter := NewAnthropicAdapter(Config{APIKey: "test-key", APIBase: srv.URL + "/", Enabled: true}, srv.Client())

	resp, err := adapter.Chat(context.Background(), &canonical.Request{
		Model:    "claude-3-opus",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: "Hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "Hi there", resp.Content[0].Text)
	require.Equal(t, canonical.StopEndTurn, resp.StopReason)
	require.Equal(t, 4, resp.Usage.InputTokens)
	require.Equal(t, 3, resp.Usage.OutputTokens)
}

// TestAnthropicAdapter_ChatStream_PassThrough exercises the adapter's
// closest-to-pass-through path: named upstream SSE events decoded and
// re-emitted under the canonical vocabulary without reshaping content.
func TestAnthropicAdapter_ChatStream_PassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		events := []string{
			`{"type":"message_start","message":{"id":"msg_1","model":"claude-3-opus","usage":{"input_tokens":5}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"text":"Hel"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"text":"lo"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	adapter := NewAnthropicAdapter(Config{APIKey: "k", APIBase: srv.URL + "/", Enabled: true}, srv.Client())

	events, err := adapter.ChatStream(context.Background(), &canonical.Request{
		Model:    "claude-3-opus",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: "Hi"}},
		Stream:   true,
	})
	require.NoError(t, err)

	var collected []canonical.Event
	for ev := range events {
		collected = append(collected, ev)
	}

	require.Equal(t, canonical.EventMessageStart, collected[0].Type)
	require.Equal(t, canonical.EventMessageStop, collected[len(collected)-1].Type)

	var deltas []string
	for _, ev := range collected {
		if ev.Type == canonical.EventContentBlockDelta {
			deltas = append(deltas, ev.TextDelta)
		}
	}
	require.Equal(t, []string{"Hel", "lo"}, deltas)
}

// TestAnthropicAdapter_ChatStream_MidStreamFailure checks that a connection
// cut partway through a stream surfaces as an error event rather than a
// silently truncated one — the upstream body closes after one well-formed
// frame, with no message_stop.
func TestAnthropicAdapter_ChatStream_MidStreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"message_start","message":{"id":"msg_1","model":"claude-3-opus"}}`)
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":")
		flusher.Flush()
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	adapter := NewAnthropicAdapter(Config{APIKey: "k", APIBase: srv.URL + "/", Enabled: true}, srv.Client())

	events, err := adapter.ChatStream(context.Background(), &canonical.Request{
		Model:    "claude-3-opus",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: "Hi"}},
		Stream:   true,
	})
	require.NoError(t, err)

	var collected []canonical.Event
	for ev := range events {
		collected = append(collected, ev)
	}

	last := collected[len(collected)-1]
	require.Equal(t, canonical.EventError, last.Type)
}
