// Package api provides the HTTP store server. It exposes keyed JSON
// documents with optimistic commits, plus a read-only ledger summary.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/docstore"
	"github.com/salah-ledger/salah/internal/infra/observability"
)

// Version is reported by /api/version.
const Version = "0.1.0"

// AuditLog lists ledger audit entries. Implemented by the SQLite store.
type AuditLog interface {
	LedgerEntries(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the store HTTP server.
type Server struct {
	store          docstore.Versioned
	audit          AuditLog
	auth           *Authenticator
	logger         *slog.Logger
	metricsEnabled bool
	requestTimeout time.Duration
}

// NewServer creates a server over a versioned store.
func NewServer(store docstore.Versioned, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:          store,
		logger:         logger.With("component", "api"),
		requestTimeout: 30 * time.Second,
	}
	if a, ok := store.(AuditLog); ok {
		s.audit = a
	}
	return s
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetAuth requires bearer tokens on /v1 routes.
func (s *Server) SetAuth(a *Authenticator) { s.auth = a }

// SetAudit sets the ledger audit source for the summary endpoint.
func (s *Server) SetAudit(a AuditLog) { s.audit = a }

// SetRequestTimeout bounds each request.
func (s *Server) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		s.requestTimeout = d
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": Version,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Get("/documents", s.handleGetDocument)
		r.Patch("/documents", s.handlePatchDocument)
		r.Post("/commit", s.handleCommit)
		r.Get("/users/{uid}/summary", s.handleSummary)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

var validate = validator.New()

// decodeBody decodes and validates a JSON request body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// statusFor maps a store error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidDocument), errors.Is(err, domain.ErrInvalidTransaction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "err", err)
	}
	writeError(w, status, err.Error())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    http.StatusText(status),
		},
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware counts requests by route pattern and status.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		observability.APILatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
