package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaygw/aigateway/internal/canonical"
	"github.com/relaygw/aigateway/internal/provider"
	"github.com/relaygw/aigateway/internal/sse"
)

// errorBody is the JSON shape written for any request that fails before
// streaming starts.
type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, ge *provider.GatewayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.HTTPStatus())
	var body errorBody
	body.Error.Type = string(ge.Kind)
	body.Error.Message = ge.Message
	json.NewEncoder(w).Encode(body)
}

// healthBody is the process-liveness shape for GET /health.
type healthBody struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealth responds with process-level liveness, independent of any
// provider: it reports healthy as long as the handler is servicing at all.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthBody{
		Status:        "healthy",
		Version:       version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// providersHealthBody is the aggregate shape for GET /health/providers.
type providersHealthBody struct {
	Status    string                           `json:"status"`
	Providers map[string]provider.HealthStatus `json:"providers"`
}

// aggregateHealthStatus summarizes per-provider states into one overall
// status: healthy only if every provider is healthy, unhealthy only if
// every provider is unhealthy, degraded for any other mix (including no
// providers registered at all).
func aggregateHealthStatus(statuses map[string]provider.HealthStatus) string {
	if len(statuses) == 0 {
		return string(provider.HealthDegraded)
	}
	allHealthy, allUnhealthy := true, true
	for _, st := range statuses {
		if st.State != provider.HealthHealthy {
			allHealthy = false
		}
		if st.State != provider.HealthUnhealthy {
			allUnhealthy = false
		}
	}
	switch {
	case allHealthy:
		return string(provider.HealthHealthy)
	case allUnhealthy:
		return string(provider.HealthUnhealthy)
	default:
		return string(provider.HealthDegraded)
	}
}

// handleHealthProviders fans out Health() to every registered provider and
// returns the aggregate snapshot.
func (s *Server) handleHealthProviders(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.AggregatedHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(providersHealthBody{
		Status:    aggregateHealthStatus(statuses),
		Providers: statuses,
	})
}

// modelsListBody is the OpenAI-style envelope for GET /v1/models.
type modelsListBody struct {
	Object string               `json:"object"`
	Data   []provider.ModelInfo `json:"data"`
}

// handleListModels returns the merged catalog across every provider.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.registry.AggregatedModels(r.Context())
	if err != nil {
		writeError(w, provider.AsGatewayError(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(modelsListBody{Object: "list", Data: models})
}

// refreshBody is the result shape for POST /v1/models/refresh.
type refreshBody struct {
	Status        string         `json:"status"`
	ProviderStats map[string]int `json:"provider_stats"`
	Timestamp     time.Time      `json:"timestamp"`
}

// handleRefreshModels re-fetches each provider's catalog and returns the
// per-provider count.
func (s *Server) handleRefreshModels(w http.ResponseWriter, r *http.Request) {
	counts := s.registry.RefreshCounts(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(refreshBody{
		Status:        "ok",
		ProviderStats: counts,
		Timestamp:     time.Now().UTC(),
	})
}

// handleMessages implements POST /v1/messages: decode, validate, route,
// dispatch (one-shot or streaming), respond. The configured request timeout
// bounds everything from routing through the adapter call, including the
// full duration of a streamed response, not just the time to first byte.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	body := http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	defer body.Close()

	var req canonical.Request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, provider.NewBadRequest("invalid request body: "+err.Error()))
		return
	}

	if err := req.Validate(s.maxTokensCeiling); err != nil {
		writeError(w, provider.NewValidationError(err.Error()))
		return
	}

	adapter, err := s.rt.Route(ctx, &req)
	if err != nil {
		writeError(w, provider.AsGatewayError(err))
		return
	}

	s.sink.Info("routed request", "model", req.Model, "provider", adapter.Name(), "stream", req.Stream)

	if req.Stream {
		s.handleStream(w, r, adapter, &req)
		return
	}

	resp, err := adapter.Chat(r.Context(), &req)
	if err != nil {
		ge := provider.AsGatewayError(err)
		s.sink.Error("chat failed", "provider", adapter.Name(), "kind", string(ge.Kind))
		writeError(w, ge)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, adapter provider.Adapter, req *canonical.Request) {
	events, err := adapter.ChatStream(r.Context(), req)
	if err != nil {
		ge := provider.AsGatewayError(err)
		s.sink.Error("stream start failed", "provider", adapter.Name(), "kind", string(ge.Kind))
		writeError(w, ge)
		return
	}

	if err := sse.Encode(w, events); err != nil {
		s.sink.Warn("sse encode error", "provider", adapter.Name(), "error", err.Error())
	}
}
