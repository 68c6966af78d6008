// Package api is the HTTP surface of the gateway: the public ingest endpoint
// providers POST webhooks to, and the bearer-authenticated management API for
// agents, registrations, the event log, and live event streams.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nookplot/hookgate/internal/auth"
	"github.com/nookplot/hookgate/internal/events"
)

// WebhookPipeline runs one inbound webhook through verification and
// delivery.
type WebhookPipeline interface {
	HandleIncoming(ctx context.Context, agentAddress, source string, headers http.Header, rawBody []byte) error
	InvalidateSecret(agentID, source string)
}

// EventStream is the subscriber side of the per-agent event hub.
type EventStream interface {
	Subscribe(agentID string) (<-chan events.Event, func())
	SnapshotSince(agentID string, lastID int64) []events.Event
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	agents    AgentStore
	regs      RegistrationStore
	auditLog  AuditReader
	pipeline  WebhookPipeline
	stream    EventStream
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, agents AgentStore, regs RegistrationStore, auditLog AuditReader, pipeline WebhookPipeline, stream EventStream, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		agents:    agents,
		regs:      regs,
		auditLog:  auditLog,
		pipeline:  pipeline,
		stream:    stream,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /agents/{address}/events holds SSE streams open.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Public ingest endpoint. Providers authenticate with HMAC signatures,
	// never bearer tokens.
	r.Post("/webhooks/{agentAddress}/{source}", s.handleIngest)

	// Protected management API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes("agents:rw", "*")).Post("/agents", s.handleCreateAgent)
		r.With(s.requireScopes("agents:ro", "agents:rw", "*")).Get("/agents/{address}", s.handleGetAgent)
		r.With(s.requireScopes("webhooks:rw", "*")).Put("/agents/{address}/webhooks/{source}", s.handleRegisterWebhook)
		r.With(s.requireScopes("webhooks:ro", "webhooks:rw", "*")).Get("/agents/{address}/webhooks", s.handleListWebhooks)
		r.With(s.requireScopes("webhooks:ro", "webhooks:rw", "*")).Get("/agents/{address}/webhooks/{source}", s.handleGetWebhook)
		r.With(s.requireScopes("webhooks:rw", "*")).Delete("/agents/{address}/webhooks/{source}", s.handleRemoveWebhook)
		r.With(s.requireScopes("webhooks:ro", "webhooks:rw", "*")).Get("/agents/{address}/log", s.handleEventLog)
		r.With(s.requireScopes("events:ro", "events:rw", "*")).Get("/agents/{address}/events", s.handleEvents)
		r.With(s.requireScopes("webhooks:ro", "webhooks:rw", "*")).Get("/openapi.json", s.handleOpenAPI)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware validates the bearer token and attaches the resulting
// principal to the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requireScopes gates a route on the principal holding at least one of the
// listed scopes.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
