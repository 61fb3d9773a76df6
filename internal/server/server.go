// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relaygw/aigateway/internal/provider"
	"github.com/relaygw/aigateway/internal/router"
	"github.com/relaygw/aigateway/internal/telemetry"
)

// version is reported on GET /health. It has no relation to the module's
// go.mod version; it's a gateway build identifier.
const version = "0.1.0"

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router           chi.Router
	registry         *provider.Registry
	rt               *router.Router
	sink             telemetry.Sink
	maxTokensCeiling int
	maxRequestBytes  int64
	requestTimeout   time.Duration
	startTime        time.Time
}

// Deps bundles the Server's constructor dependencies so New's signature
// stays stable as the gateway grows additional cross-cutting concerns.
type Deps struct {
	Registry         *provider.Registry
	Router           *router.Router
	Sink             telemetry.Sink
	MaxTokensCeiling int
	MaxRequestBytes  int64

	// RequestTimeout bounds the total lifetime of a request, including the
	// time spent waiting on the upstream provider. Zero means no deadline
	// is applied beyond whatever the underlying HTTP client enforces.
	RequestTimeout time.Duration
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(deps Deps) *Server {
	s := &Server{
		registry:         deps.Registry,
		rt:               deps.Router,
		sink:             deps.Sink,
		maxTokensCeiling: deps.MaxTokensCeiling,
		maxRequestBytes:  deps.MaxRequestBytes,
		requestTimeout:   deps.RequestTimeout,
		startTime:        time.Now(),
	}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/v1/messages", s.handleMessages)
	r.Get("/v1/models", s.handleListModels)
	r.Post("/v1/models/refresh", s.handleRefreshModels)
	r.Get("/health", s.handleHealth)
	r.Get("/health/providers", s.handleHealthProviders)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
