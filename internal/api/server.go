// Package api serves the read-only status surface: dog load, task
// state and archived history. Mutations happen in chat; this is for
// dashboards and curl.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/bryanowens-dev/walker/internal/adapters/state"
	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// History is the archive slice the API reads.
type History interface {
	Recent(ctx context.Context, n int) ([]state.TaskRecord, error)
	Get(ctx context.Context, taskID string) (*state.TaskRecord, error)
}

// Server exposes the status endpoints over chi.
type Server struct {
	router  chi.Router
	roster  core.Roster
	store   core.CoordinationStore
	history History
	logger  *logging.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates the status API over the roster, the coordination
// store and the task archive. History may be nil when no archive is
// configured; its endpoints then return 404.
func NewServer(roster core.Roster, store core.CoordinationStore, history History, opts ...Option) *Server {
	s := &Server{
		roster:  roster,
		store:   store,
		history: history,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/dogs", s.handleDogs)
		r.Get("/tasks/{taskID}", s.handleTask)
		r.Get("/history", s.handleHistory)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// handleHealth is liveness only; walker doctor is the deep check.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type dogStatus struct {
	Name        string `json:"name"`
	ActiveTasks int64  `json:"active_tasks"`
}

func (s *Server) handleDogs(w http.ResponseWriter, r *http.Request) {
	out := make([]dogStatus, 0, len(s.roster))
	for _, dog := range s.roster {
		n, err := s.store.ActiveTaskCount(r.Context(), dog.Name)
		if err != nil {
			s.logger.Warn("load read failed", "dog", dog.Name, "error", err)
			respondError(w, http.StatusServiceUnavailable, "coordination store unreachable")
			return
		}
		out = append(out, dogStatus{Name: dog.Name, ActiveTasks: n})
	}
	respondJSON(w, http.StatusOK, map[string]any{"dogs": out})
}

type taskStatus struct {
	TaskID          string      `json:"task_id"`
	Active          bool        `json:"active"`
	CancelRequested bool        `json:"cancel_requested"`
	CancelledBy     string      `json:"cancelled_by,omitempty"`
	Result          *taskRecord `json:"result,omitempty"`
}

type taskRecord struct {
	TaskID        string             `json:"task_id"`
	Dog           string             `json:"dog"`
	Status        string             `json:"status"`
	PRURL         string             `json:"pr_url,omitempty"`
	CostTotal     float64            `json:"cost_total"`
	CostBreakdown map[string]float64 `json:"cost_breakdown,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	DurationSecs  float64            `json:"duration_secs"`
}

func toTaskRecord(rec *state.TaskRecord) *taskRecord {
	if rec == nil {
		return nil
	}
	out := &taskRecord{
		TaskID:       rec.TaskID,
		Dog:          rec.Dog,
		Status:       rec.Status,
		PRURL:        rec.PRURL,
		CostTotal:    rec.CostTotal,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		DurationSecs: rec.DurationSecs,
	}
	if rec.CostJSON != "" {
		// Best effort: an undecodable breakdown still leaves the total.
		_ = json.Unmarshal([]byte(rec.CostJSON), &out.CostBreakdown)
	}
	return out
}

// handleTask reports one task: whether its thread is still bound (the
// task is running), whether a cancel is pending, and the archived
// result once it is terminal.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	_, threadTS, err := core.SplitTaskID(taskID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed task id")
		return
	}

	bound, err := s.store.ThreadTask(r.Context(), threadTS)
	if err != nil {
		s.logger.Warn("thread binding read failed", "task_id", taskID, "error", err)
		respondError(w, http.StatusServiceUnavailable, "coordination store unreachable")
		return
	}

	status := taskStatus{
		TaskID: taskID,
		Active: bound == taskID,
	}
	if c, err := s.store.Cancellation(r.Context(), taskID); err == nil && c != nil {
		status.CancelRequested = true
		status.CancelledBy = c.CancelledBy
	}
	if s.history != nil {
		rec, err := s.history.Get(r.Context(), taskID)
		if err != nil && !core.IsCategory(err, core.ErrCatNotFound) {
			s.logger.Warn("archive read failed", "task_id", taskID, "error", err)
		}
		status.Result = toTaskRecord(rec)
	}

	if !status.Active && status.Result == nil {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "no task archive configured")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Warn("history read failed", "error", err)
		respondError(w, http.StatusInternalServerError, "reading task history")
		return
	}
	out := make([]*taskRecord, 0, len(records))
	for i := range records {
		out = append(out, toTaskRecord(&records[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

// ListenAndServe starts the HTTP server and shuts it down when ctx
// ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status API listening", "addr", addr)
	err := srv.ListenAndServe()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
