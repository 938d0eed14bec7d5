// Package api provides the HTTP REST API server for GameCock.
//
// It exposes entity resolution, single-party and consolidated risk
// profiles, the agent tool surface, Prometheus metrics and health checks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/gamecock/internal/agent"
	"github.com/seenimoa/gamecock/internal/config"
	"github.com/seenimoa/gamecock/internal/crossfiling"
	"github.com/seenimoa/gamecock/internal/infra"
	"github.com/seenimoa/gamecock/internal/logging"
	"github.com/seenimoa/gamecock/internal/profile"
	"github.com/seenimoa/gamecock/internal/resolver"
	"github.com/seenimoa/gamecock/pkg/models"
	"github.com/seenimoa/gamecock/pkg/utils"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the operations the server exposes. Nil services answer 503.
type Services struct {
	Resolver     agent.EntityResolver
	Profiles     agent.ProfileBuilder
	Consolidated agent.ConsolidatedBuilder
	Store        Pinger
}

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	svc     Services
	tools   *agent.ToolRegistry
	metrics *infra.Metrics
	log     *slog.Logger
	version string
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = logging.OrDiscard(l) }
}

// WithMetrics serves the registry at /metrics.
func WithMetrics(m *infra.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithRequestTimeout bounds each request (default: 120s).
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, svc Services, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		log:     logging.Discard(),
		version: "dev",
		timeout: 120 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.tools = agent.NewRiskRegistry(agent.Services{
		Resolver:     svc.Resolver,
		Profiles:     svc.Profiles,
		Consolidated: svc.Consolidated,
	})
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	// CORS
	origins := []string{"*"}
	if s.cfg != nil && len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Entities
		r.Get("/resolve", s.handleResolve)
		r.Get("/search", s.handleSearch)

		// Profiles
		r.Get("/profile/{identifier}", s.handleProfile)
		r.Get("/consolidated/{identifier}", s.handleConsolidated)

		// Agent tools
		r.Get("/agent/tools", s.handleListTools)
		r.Post("/agent/execute", s.handleExecuteTools)

		// Configuration
		r.Get("/config", s.handleGetConfig)
	})

	return r
}

// requestLogger logs one line per request through the server logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// --- Types ---

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AmbiguousResponse is the data of a 409 answer: the caller has to pick.
type AmbiguousResponse struct {
	Identifier string               `json:"identifier"`
	Candidates []resolver.Candidate `json:"candidates"`
}

// ExecuteRequest is the body for POST /api/v1/agent/execute.
type ExecuteRequest struct {
	Calls []agent.ToolCall `json:"calls"`
}

// ExecuteResult is one tool outcome.
type ExecuteResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Content    json.RawMessage `json:"content,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ToolsResponse is the data of GET /api/v1/agent/tools.
type ToolsResponse struct {
	SystemPrompt string       `json:"system_prompt"`
	Tools        []agent.Tool `json:"tools"`
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	store := "not configured"
	if s.svc.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.svc.Store.Ping(ctx); err != nil {
			status, code, store = "degraded", http.StatusServiceUnavailable, err.Error()
		} else {
			store = "ok"
		}
	}
	writeJSON(w, code, APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]any{
			"status":  status,
			"version": s.version,
			"store":   store,
			"time":    time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.svc.Resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "resolver not configured")
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("identifier"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}
	entity, err := s.svc.Resolver.Resolve(r.Context(), id, models.ParseIdentifierType(r.URL.Query().Get("hint")))
	if err != nil {
		s.writeBuildError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: entity})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.svc.Resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "resolver not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	cands, err := s.svc.Resolver.Search(r.Context(), q, limit)
	if err != nil {
		s.writeBuildError(w, q, err)
		return
	}
	if cands == nil {
		cands = []resolver.Candidate{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: cands})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.svc.Profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "profile builder not configured")
		return
	}
	id, hint, asOf, ok := entityParams(w, r)
	if !ok {
		return
	}
	p, err := s.svc.Profiles.BuildRequest(r.Context(), profile.Request{Identifier: id, Hint: hint, AsOf: asOf})
	if err != nil {
		s.writeBuildError(w, id, err)
		return
	}
	if r.URL.Query().Get("view") == "summary" {
		writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: agent.Summarize(p)})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: p})
}

func (s *Server) handleConsolidated(w http.ResponseWriter, r *http.Request) {
	if s.svc.Consolidated == nil {
		writeError(w, http.StatusServiceUnavailable, "consolidation not configured")
		return
	}
	id, hint, asOf, ok := entityParams(w, r)
	if !ok {
		return
	}
	p, err := s.svc.Consolidated.BuildConsolidatedRequest(r.Context(), crossfiling.Request{Identifier: id, Hint: hint, AsOf: asOf})
	if err != nil {
		s.writeBuildError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: p})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    ToolsResponse{SystemPrompt: agent.SystemPrompt, Tools: s.tools.List()},
	})
}

func (s *Server) handleExecuteTools(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Calls) == 0 {
		writeError(w, http.StatusBadRequest, "calls is required")
		return
	}
	if len(req.Calls) > 16 {
		writeError(w, http.StatusBadRequest, "at most 16 calls per request")
		return
	}

	results := s.tools.ExecuteAll(r.Context(), req.Calls)
	out := make([]ExecuteResult, len(results))
	for i, res := range results {
		out[i] = ExecuteResult{ToolCallID: res.ToolCallID, Name: res.Name}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			continue
		}
		out[i].Content = json.RawMessage(res.Content)
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: out})
}

// --- Helpers ---

// entityParams reads {identifier}, ?hint= and ?as_of=. It writes the 400
// itself and reports false when the request is malformed.
func entityParams(w http.ResponseWriter, r *http.Request) (string, models.IdentifierType, time.Time, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "identifier"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return "", "", time.Time{}, false
	}
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(utils.DateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD")
			return "", "", time.Time{}, false
		}
		asOf = t
	}
	return id, models.ParseIdentifierType(r.URL.Query().Get("hint")), asOf, true
}

// writeBuildError maps resolution and build failures to HTTP statuses.
func (s *Server) writeBuildError(w http.ResponseWriter, id string, err error) {
	if cands, ok := resolver.Ambiguous(err); ok {
		writeJSON(w, http.StatusConflict, APIResponse{
			Success: false,
			Error:   err.Error(),
			Data:    AmbiguousResponse{Identifier: id, Candidates: cands},
		})
		return
	}
	writeError(w, statusFor(err), err.Error())
	if statusFor(err) >= http.StatusInternalServerError {
		s.log.Error("request failed", "identifier", id, "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, resolver.ErrEmptyIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, resolver.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{Success: false, Error: msg})
}
