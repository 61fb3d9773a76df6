package provider

import (
	"fmt"
	"net/http"
	"regexp"
)

// Kind is the error taxonomy from the gateway's error handling design.
// Every error that crosses the core's boundary is classified into one of
// these so the handler can map it to an HTTP status (or a terminal SSE
// error event) without inspecting provider-specific error types.
type Kind string

const (
	KindBadRequest        Kind = "invalid_request"
	KindValidationError   Kind = "validation_error"
	KindProviderNotFound  Kind = "provider_not_found"
	KindProviderError     Kind = "provider_error"
	KindUpstreamTransport Kind = "upstream_transport"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal"
)

// GatewayError is the normalized error type adapters and the router return.
// Status carries the upstream status for KindProviderError (clamped to the
// 4xx/5xx range); it's ignored for every other Kind, which maps to a fixed
// status instead.
type GatewayError struct {
	Kind    Kind
	Message string
	Status  int
	cause   error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.cause }

// HTTPStatus maps a Kind to the status code the handler writes for a
// request that fails before any bytes have been sent to the client.
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest, KindValidationError:
		return http.StatusBadRequest
	case KindProviderNotFound:
		return http.StatusNotFound
	case KindProviderError:
		if e.Status >= 400 && e.Status < 600 {
			return e.Status
		}
		return http.StatusBadGateway
	case KindUpstreamTransport:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func NewBadRequest(msg string) *GatewayError {
	return &GatewayError{Kind: KindBadRequest, Message: msg}
}

func NewValidationError(msg string) *GatewayError {
	return &GatewayError{Kind: KindValidationError, Message: msg}
}

func NewProviderNotFound(model string) *GatewayError {
	return &GatewayError{Kind: KindProviderNotFound, Message: fmt.Sprintf("no provider registered for model %q", model)}
}

func NewProviderError(status int, msg string) *GatewayError {
	return &GatewayError{Kind: KindProviderError, Status: status, Message: Redact(msg)}
}

func NewUpstreamTransport(err error) *GatewayError {
	return &GatewayError{Kind: KindUpstreamTransport, Message: Redact(err.Error()), cause: err}
}

func NewTimeout(msg string) *GatewayError {
	return &GatewayError{Kind: KindTimeout, Message: msg}
}

func NewInternal(err error) *GatewayError {
	return &GatewayError{Kind: KindInternal, Message: "internal error", cause: err}
}

// AsGatewayError classifies an arbitrary error into a GatewayError,
// defaulting to KindInternal when the error carries no classification of
// its own. Adapters should prefer returning a *GatewayError directly;
// this exists so the handler has one call that always succeeds.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	return NewInternal(err)
}

var (
	reAPIKeyQuery = regexp.MustCompile(`([?&]key=)[^&\s]+`)
	reBearer      = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._\-]+`)
	reXAPIKey     = regexp.MustCompile(`(?i)(x-api-key:\s*)\S+`)
	reURL         = regexp.MustCompile(`https?://\S+`)
)

// Redact strips API keys and full upstream URLs from a message before it
// reaches an external error body or a log line. Adapters must run upstream
// error text through this before surfacing it anywhere outside the process.
func Redact(msg string) string {
	msg = reAPIKeyQuery.ReplaceAllString(msg, "${1}[redacted]")
	msg = reBearer.ReplaceAllString(msg, "${1}[redacted]")
	msg = reXAPIKey.ReplaceAllString(msg, "${1}[redacted]")
	msg = reURL.ReplaceAllString(msg, "[redacted-url]")
	return msg
}
