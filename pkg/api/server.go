package api

import (
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/roomdesk/pkg/audit"
	"github.com/platinummonkey/roomdesk/pkg/auth"
	"github.com/platinummonkey/roomdesk/pkg/httputil"
	"github.com/platinummonkey/roomdesk/pkg/middleware"
	"github.com/platinummonkey/roomdesk/pkg/observability"
	"github.com/platinummonkey/roomdesk/pkg/rbac"
)

// DefaultMaxBodyBytes caps request bodies when Options.MaxBodyBytes is unset
const DefaultMaxBodyBytes = 1 << 20

// Options holds the dependencies of the API server. Service and Store are
// required; everything else may be left zero.
type Options struct {
	DB      *sql.DB
	Redis   *redis.Client
	Service *auth.Service
	Store   *rbac.Store

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Audit   audit.Logger

	// LoginLimiter throttles /auth/login and /auth/register. Nil disables it.
	LoginLimiter middleware.Limiter

	// TrustedProxies may set the client address through forwarding headers
	TrustedProxies []netip.Prefix

	// Upstream serves the resource routes once the gate allows them
	Upstream *ResourceProxy

	MaxBodyBytes int64
	Version      string
	Tracing      bool
}

// Server is the HTTP API: identity, role and permission administration, and
// the gated resource surface.
type Server struct {
	router  *mux.Router
	handler http.Handler
	checker *rbac.PermissionChecker
	gate    *rbac.PermissionMiddleware
	logger  *observability.Logger
}

// NewServer assembles the router and its middleware stack
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	checker := rbac.NewPermissionChecker(opts.Store, opts.Metrics)
	s := &Server{
		router:  mux.NewRouter(),
		checker: checker,
		gate:    rbac.NewPermissionMiddleware(checker),
		logger:  opts.Logger,
	}

	s.setupRoutes(opts)

	root := http.NewServeMux()
	observability.RegisterHealthRoutes(root, observability.NewHealthChecker(opts.DB, opts.Redis).WithVersion(opts.Version))
	root.Handle("/", httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(opts.Logger),
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	)(s.router))

	s.handler = root
	if opts.Tracing {
		s.handler = otelhttp.NewHandler(root, "roomdesk",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}

	return s
}

func (s *Server) setupRoutes(opts Options) {
	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	s.router.Use(audit.NewMiddleware(opts.Audit).Handler)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "Not Found.")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteFailure(w, http.StatusMethodNotAllowed, "Method Not Allowed.")
	})

	requireAuth := middleware.NewAuthMiddleware(opts.Service, false).Handler

	// /auth is shared by the identity routes and the user role administration
	authRouter := s.router.PathPrefix("/auth").Subrouter()
	if opts.LoginLimiter != nil {
		limited := middleware.NewRateLimitMiddleware(opts.LoginLimiter, "login", opts.Metrics).
			WithTrustedProxies(opts.TrustedProxies).
			Handler
		authRouter.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost && (r.URL.Path == "/auth/login" || r.URL.Path == "/auth/register") {
					limited(next).ServeHTTP(w, r)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
	}
	admin := rbac.NewHandlers(opts.Store, s.gate)

	// /auth/info and /auth/logout share the "users" gate with /auth/all
	manageUsers := httputil.Chain(requireAuth, s.gate.RequirePermission(rbac.ResourceUsers))
	auth.NewHandlers(opts.Service, opts.Store, opts.Audit).RegisterRoutes(authRouter, manageUsers)

	admin.RegisterUserRoutes(authRouter, requireAuth)
	admin.RegisterRoutes(s.router, requireAuth)

	s.registerResources(opts.Upstream, requireAuth)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Checker returns the authorization gate used by the routes
func (s *Server) Checker() *rbac.PermissionChecker {
	return s.checker
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// HTTPServer wraps the API in an http.Server with the given timeouts
func (s *Server) HTTPServer(addr string, read, write, idle time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}
}
