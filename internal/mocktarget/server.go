// Package mocktarget runs a stand-in transformation service with adjustable
// latency, failures and degradation, so runs can be exercised without a real
// deployment. Degradation is deliberate here: slow it down after N requests
// and the analyzer should notice.
package mocktarget

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/perflab/crucible/internal/target"
)

// Options tune the simulated service behavior.
type Options struct {
	BaseLatency    time.Duration // service time per transform
	Jitter         time.Duration // uniform random addition, 0..Jitter
	FailureRate    float64       // fraction of transforms answered with 500
	SlowdownAfter  int64         // transforms before degradation kicks in, 0 disables
	SlowdownFactor float64       // latency multiplier once degraded
	Seed           int64         // 0 seeds from the clock
}

// Server is the simulated transformation service.
type Server struct {
	opts       Options
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	served     atomic.Int64

	mu  sync.Mutex
	rng *rand.Rand
}

// New wires the routes and binds addr. Serving starts with Start.
func New(addr string, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SlowdownFactor <= 0 {
		opts.SlowdownFactor = 1
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Server{
		opts:   opts,
		logger: logger,
		router: mux.NewRouter(),
		rng:    rand.New(rand.NewSource(seed)),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/transform/mt-to-mx", s.handleTransform).Methods("POST")
	s.router.HandleFunc("/generate/sample", s.handleSample).Methods("POST")
}

// Handler returns the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Served reports how many transform requests have been answered.
func (s *Server) Served() int64 {
	return s.served.Load()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"served": s.served.Load(),
	})
}

type transformRequest struct {
	Message string `json:"message"`
	Options struct {
		Validation bool `json:"validation"`
	} `json:"options"`
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "message is required"})
		return
	}

	n := s.served.Add(1)
	start := time.Now()
	time.Sleep(s.serviceTime(n))

	if s.shouldFail() {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "transformation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":      mxDocument,
		"duration_ms": float64(time.Since(start)) / float64(time.Millisecond),
	})
}

type sampleRequest struct {
	MessageType string `json:"message_type"`
	Config      struct {
		Scenario string `json:"scenario"`
	} `json:"config"`
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}
	if req.MessageType != "" && req.MessageType != "MT103" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error": fmt.Sprintf("unsupported message type %q", req.MessageType),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": target.FallbackMT103,
	})
}

// serviceTime computes the simulated processing delay for the nth request.
func (s *Server) serviceTime(n int64) time.Duration {
	d := s.opts.BaseLatency
	if s.opts.Jitter > 0 {
		s.mu.Lock()
		d += time.Duration(s.rng.Int63n(int64(s.opts.Jitter)))
		s.mu.Unlock()
	}
	if s.opts.SlowdownAfter > 0 && n > s.opts.SlowdownAfter {
		d = time.Duration(float64(d) * s.opts.SlowdownFactor)
	}
	return d
}

func (s *Server) shouldFail() bool {
	if s.opts.FailureRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.opts.FailureRate
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Start serves until Shutdown. A closed server returns nil.
func (s *Server) Start() error {
	s.logger.Info("mock target starting",
		zap.String("addr", s.httpServer.Addr),
		zap.Duration("base_latency", s.opts.BaseLatency),
		zap.Float64("failure_rate", s.opts.FailureRate))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// mxDocument is the canned transformation output, a minimal pacs.008.
const mxDocument = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.008.001.08">
  <FIToFICstmrCdtTrf>
    <GrpHdr>
      <MsgId>REF12345678901234</MsgId>
      <NbOfTxs>1</NbOfTxs>
    </GrpHdr>
    <CdtTrfTxInf>
      <IntrBkSttlmAmt Ccy="EUR">1000.00</IntrBkSttlmAmt>
      <Dbtr><Nm>JOHN DOE</Nm></Dbtr>
      <Cdtr><Nm>JANE SMITH</Nm></Cdtr>
    </CdtTrfTxInf>
  </FIToFICstmrCdtTrf>
</Document>`
