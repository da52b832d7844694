// Package api exposes the HTTP surface: authentication, workspace
// management, SSO configuration, and the federation login endpoints.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/atriumhq/atrium/pkg/audit"
	"github.com/atriumhq/atrium/pkg/identity"
	"github.com/atriumhq/atrium/pkg/middleware"
	"github.com/atriumhq/atrium/pkg/observability"
	"github.com/atriumhq/atrium/pkg/sso"
	"github.com/atriumhq/atrium/pkg/tokens"
	"github.com/atriumhq/atrium/pkg/workspaces"
)

// Deps carries everything the server needs wired in
type Deps struct {
	Identity   *identity.Service
	Tokens     *tokens.Service
	Workspaces *workspaces.Service
	SSOEngine  *sso.Engine
	SSOStorage *sso.Storage
	Audit      audit.Logger
	Metrics    *observability.Metrics
	Redis      *redis.Client

	// TracingEnabled wraps the router in otelhttp when set
	TracingEnabled bool
	// LoginRateLimit guards credential endpoints when set
	LoginRateLimit bool
}

// Server is the HTTP API server
type Server struct {
	router  *mux.Router
	deps    Deps
	auth    *middleware.Authenticator
	handler http.Handler
}

// NewServer creates the server and registers all routes
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		auth:   middleware.NewAuthenticator(deps.Tokens, deps.Audit),
	}
	// mux middleware runs after route matching, so the metrics middleware
	// can label by path template instead of raw URL
	s.router.Use(s.metricsMiddleware)
	s.setupRoutes()

	var handler http.Handler = s.router
	if deps.Redis != nil {
		handler = middleware.NewRateLimitMiddleware(deps.Redis).Handler(handler)
	}
	handler = middleware.RequestID(handler)
	if deps.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "atrium.api")
	}
	s.handler = handler
	return s
}

// Handler returns the fully wrapped handler for http.Server
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) setupRoutes() {
	authHandlers := NewAuthHandlers(s.deps.Identity, s.deps.Tokens, s.deps.Workspaces, s.deps.Audit)
	workspaceHandlers := NewWorkspaceHandlers(s.deps.Workspaces)
	ssoHandlers := NewSSOHandlers(s.deps.SSOEngine, s.deps.SSOStorage, s.deps.Tokens, s.deps.Workspaces)

	var loginLimiter func(http.Handler) http.Handler
	if s.deps.LoginRateLimit && s.deps.Redis != nil {
		loginLimiter = middleware.AuthEndpointLimiter(s.deps.Redis)
	}
	authHandlers.RegisterRoutes(s.router, s.auth, loginLimiter)
	workspaceHandlers.RegisterRoutes(s.router, s.auth)
	ssoHandlers.RegisterRoutes(s.router, s.auth)
}

// metricsMiddleware records request counts and latency per route template
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		s.deps.Metrics.HTTPRequestsTotal.
			WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		s.deps.Metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
