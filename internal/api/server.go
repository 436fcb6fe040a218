// Package api exposes the HTTP interface for the review service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/vendor-review-pipeline/internal/checklist"
	"github.com/JakeFAU/vendor-review-pipeline/internal/config"
	"github.com/JakeFAU/vendor-review-pipeline/internal/metrics"
	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// TriggerQueue accepts workflow triggers for asynchronous handling.
type TriggerQueue interface {
	Enqueue(ctx context.Context, trigger review.Trigger) error
}

// Server wires HTTP handlers to the trigger queue and the read-side stores.
type Server struct {
	router   chi.Router
	queue    TriggerQueue
	sessions review.SessionStore
	events   review.EventLog
	registry review.Registry
	idGen    review.IDGenerator
	clock    review.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	queue TriggerQueue,
	sessions review.SessionStore,
	events review.EventLog,
	registry review.Registry,
	idGen review.IDGenerator,
	clock review.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		queue:    queue,
		sessions: sessions,
		events:   events,
		registry: registry,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/reviews", func(r chi.Router) {
			r.Post("/", s.openReview)
			r.Get("/", s.listReviews)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getReview)
				r.Get("/events", s.listEvents)
				r.Post("/events", s.postComment)
				r.Post("/confirm", s.confirmReview)
				r.Post("/approve", s.approveReview)
				r.Post("/refresh", s.refreshReview)
				r.Post("/abort", s.abortReview)
			})
		})
		r.Route("/registry", func(r chi.Router) {
			r.Get("/", s.listRegistry)
			r.Get("/{vendor_key}", s.getRegistryEntry)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The session store is the cheapest downstream to poke.
	if _, err := s.sessions.List(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type openReviewRequest struct {
	VendorName string             `json:"vendor_name"`
	Seeds      []review.Seed      `json:"seeds"`
	Profile    review.RiskProfile `json:"profile"`
}

func (s *Server) openReview(w http.ResponseWriter, r *http.Request) {
	var req openReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.VendorName) == "" {
		writeError(w, http.StatusBadRequest, "vendor_name required")
		return
	}
	if len(req.Seeds) == 0 {
		writeError(w, http.StatusBadRequest, "at least one seed URL required")
		return
	}
	sessionID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate session id")
		return
	}
	trigger := review.Trigger{
		Kind:      review.TriggerRequestOpened,
		SessionID: sessionID,
		Request: &review.OpenRequest{
			VendorName: req.VendorName,
			Seeds:      req.Seeds,
			Profile:    req.Profile,
		},
		DeliveredAt: s.clock.Now(),
	}
	if err := s.enqueue(r.Context(), trigger); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

type confirmReviewRequest struct {
	// Checklist is the human-edited markdown checklist body. Overrides may be
	// supplied directly instead; both are merged.
	Checklist string                     `json:"checklist"`
	Overrides []review.ChecklistOverride `json:"overrides"`
}

func (s *Server) confirmReview(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	var req confirmReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	overrides := req.Overrides
	if req.Checklist != "" {
		overrides = append(overrides, checklist.Parse(req.Checklist)...)
	}
	if len(overrides) == 0 {
		writeError(w, http.StatusBadRequest, "no checklist state supplied")
		return
	}
	s.enqueueForSession(w, r, review.Trigger{
		Kind:      review.TriggerReviewConfirmed,
		SessionID: sessionID,
		Overrides: overrides,
	})
}

func (s *Server) approveReview(w http.ResponseWriter, r *http.Request) {
	s.enqueueForSession(w, r, review.Trigger{
		Kind:      review.TriggerDecisionApproved,
		SessionID: chi.URLParam(r, "session_id"),
	})
}

func (s *Server) refreshReview(w http.ResponseWriter, r *http.Request) {
	s.enqueueForSession(w, r, review.Trigger{
		Kind:      review.TriggerRefreshRequested,
		SessionID: chi.URLParam(r, "session_id"),
	})
}

type abortReviewRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) abortReview(w http.ResponseWriter, r *http.Request) {
	var req abortReviewRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	s.enqueueForSession(w, r, review.Trigger{
		Kind:      review.TriggerReviewAborted,
		SessionID: chi.URLParam(r, "session_id"),
		Reason:    req.Reason,
	})
}

// enqueueForSession validates the session exists before accepting the
// trigger, so typos fail fast instead of dying silently in the worker.
func (s *Server) enqueueForSession(w http.ResponseWriter, r *http.Request, trigger review.Trigger) {
	if _, err := s.sessions.Get(r.Context(), trigger.SessionID); err != nil {
		if errors.Is(err, review.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	trigger.DeliveredAt = s.clock.Now()
	if err := s.enqueue(r.Context(), trigger); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": trigger.SessionID,
		"kind":       string(trigger.Kind),
	})
}

func (s *Server) enqueue(ctx context.Context, trigger review.Trigger) error {
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, trigger); err != nil {
		s.logger.Error("enqueue trigger failed",
			zap.String("kind", string(trigger.Kind)),
			zap.Error(err),
		)
		return errors.New("failed to enqueue trigger")
	}
	return nil
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	session, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, review.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": toSessionSummaries(sessions)})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, review.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	events, err := s.events.List(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type postCommentRequest struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// postComment appends a human comment to the session log. Reviewers edit the
// decision draft by posting an updated fenced JSON block here.
func (s *Server) postComment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	var req postCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "body required")
		return
	}
	if req.Author == "" {
		req.Author = "reviewer"
	}
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, review.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	eventID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate event id")
		return
	}
	event := review.SessionEvent{
		ID:        eventID,
		SessionID: sessionID,
		Author:    req.Author,
		Kind:      review.EventComment,
		Body:      req.Body,
		CreatedAt: s.clock.Now(),
	}
	if err := s.events.Append(r.Context(), event); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to append event")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"event_id": eventID})
}

func (s *Server) getRegistryEntry(w http.ResponseWriter, r *http.Request) {
	vendorKey := chi.URLParam(r, "vendor_key")
	entry, err := s.registry.Get(r.Context(), vendorKey)
	if err != nil {
		if errors.Is(err, review.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "vendor not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load registry entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

func (s *Server) listRegistry(w http.ResponseWriter, r *http.Request) {
	entries, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list registry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type sessionSummary struct {
	ID         string       `json:"id"`
	VendorName string       `json:"vendor_name"`
	Stage      review.Stage `json:"stage"`
	Documents  int          `json:"documents"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func toSessionSummaries(in []review.Session) []sessionSummary {
	out := make([]sessionSummary, 0, len(in))
	for _, session := range in {
		out = append(out, sessionSummary{
			ID:         session.ID,
			VendorName: session.VendorName,
			Stage:      session.Stage,
			Documents:  len(session.Manifest.Documents),
			CreatedAt:  session.CreatedAt,
			UpdatedAt:  session.UpdatedAt,
		})
	}
	return out
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
