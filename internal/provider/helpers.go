package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/relaygw/aigateway/internal/canonical"
)

// classifyTransportErr turns a failed client.Do call into the right
// GatewayError kind: a Timeout if the request's own deadline is what fired,
// UpstreamTransport otherwise (DNS, connect refused, TLS, etc).
func classifyTransportErr(ctx context.Context, err error) *GatewayError {
	if ctx.Err() == context.DeadlineExceeded {
		return NewTimeout(Redact(err.Error()))
	}
	return NewUpstreamTransport(err)
}

// providerErrorFromBody reads an upstream non-2xx response body (best
// effort — malformed bodies still produce a usable message) and returns a
// ProviderError carrying the upstream status, redacted before it can reach
// a client or a log line.
func providerErrorFromBody(status int, body io.Reader) *GatewayError {
	var errBody map[string]any
	_ = json.NewDecoder(body).Decode(&errBody)
	return NewProviderError(status, fmt.Sprintf("upstream returned status %d: %v", status, errBody))
}

// errorEvent wraps a GatewayError as the terminal canonical.Event a
// streaming adapter emits when it cannot continue.
func errorEvent(err *GatewayError) canonical.Event {
	return canonical.Event{
		Type:         canonical.EventError,
		ErrorKind:    string(err.Kind),
		ErrorMessage: err.Message,
	}
}
