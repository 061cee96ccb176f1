package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Status is the live view of the run in progress, served as JSON.
type Status struct {
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase"`
	Batch     int       `json:"batch"`
	Batches   int       `json:"batches"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Rate      float64   `json:"rate"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run phases as reported on the status endpoint.
const (
	PhaseIdle     = "idle"
	PhaseWarmup   = "warmup"
	PhaseRunning  = "running"
	PhaseComplete = "complete"
)

// Server exposes /metrics, /healthz and /status while a run executes. It is
// read-only: scrapers and dashboards observe the run, they cannot steer it.
type Server struct {
	logger     *zap.Logger
	metrics    *Metrics
	httpServer *http.Server
	startTime  time.Time
	status     atomic.Value
}

// NewServer wires the routes and binds addr. Serving starts with Start.
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:    logger,
		metrics:   m,
		startTime: time.Now(),
	}
	s.status.Store(Status{Phase: PhaseIdle, UpdatedAt: time.Now()})

	r := chi.NewRouter()
	r.Handle("/metrics", m.Handler())
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// SetStatus replaces the live status. Safe to call from the run's callbacks.
func (s *Server) SetStatus(st Status) {
	st.UpdatedAt = time.Now()
	s.status.Store(st)
}

// Handler returns the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.status.Load().(Status))
}

// Start serves until Shutdown. A closed server returns nil.
func (s *Server) Start() error {
	s.logger.Info("metrics server starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight scrapes up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
