package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mrarejimmyz/zkvanguard/internal/guard"
	"github.com/mrarejimmyz/zkvanguard/internal/intent"
	"github.com/mrarejimmyz/zkvanguard/pkg/ledger"
)

// AdminServer exposes the administrative surface over HTTP: health, guard
// status, filtered audit logs, emergency stop, and limits replacement.
type AdminServer struct {
	guard  *guard.Guard
	ledger *ledger.Client // optional, drives the health check when present
	engine *Engine        // optional, enables POST /execute when present
	server *http.Server
	addr   string
}

// NewAdminServer creates an admin server for the given guard. The ledger
// client may be nil when no durable ledger is configured.
func NewAdminServer(g *guard.Guard, led *ledger.Client, addr string) *AdminServer {
	return &AdminServer{
		guard:  g,
		ledger: led,
		addr:   addr,
	}
}

// SetEngine wires an execution engine so intents can be submitted over
// POST /execute. Call before Start.
func (s *AdminServer) SetEngine(e *Engine) {
	s.engine = e
}

// Handler returns the admin route mux. Exposed for tests.
func (s *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/audit", s.auditHandler)
	mux.HandleFunc("/halt", s.haltHandler)
	mux.HandleFunc("/resume", s.resumeHandler)
	mux.HandleFunc("/execute", s.executeHandler)
	mux.HandleFunc("/limits", s.limitsHandler)
	return mux
}

// Start starts the HTTP server in the background.
func (s *AdminServer) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Admin server error: %v\n", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the admin server.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Ledger string `json:"ledger,omitempty"`
	Error  string `json:"error,omitempty"`
}

// healthHandler handles GET /healthz. Returns 503 when the durable ledger is
// configured but unreachable.
func (s *AdminServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{Status: "healthy"}

	if s.ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.ledger.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Ledger = "disconnected"
			response.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		response.Ledger = "connected"
	}

	writeJSON(w, http.StatusOK, response)
}

// statusHandler handles GET /status with the guard's current snapshot.
func (s *AdminServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.guard.GetStatus())
}

// auditHandler handles GET /audit with optional filter query parameters:
// execution_id, agent_id, action, result, since_ms, until_ms.
func (s *AdminServer) auditHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := &ledger.Filter{
		ExecutionID: q.Get("execution_id"),
		AgentID:     q.Get("agent_id"),
		Action:      q.Get("action"),
		Result:      ledger.Result(q.Get("result")),
	}
	if raw := q.Get("since_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "since_ms must be an integer", http.StatusBadRequest)
			return
		}
		filter.SinceMs = ms
	}
	if raw := q.Get("until_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "until_ms must be an integer", http.StatusBadRequest)
			return
		}
		filter.UntilMs = ms
	}

	writeJSON(w, http.StatusOK, s.guard.GetAuditLogs(filter))
}

type haltRequest struct {
	Reason string `json:"reason"`
}

// haltHandler handles POST /halt, triggering an emergency stop.
func (s *AdminServer) haltHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req haltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid halt request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	s.guard.EmergencyStop(r.Context(), req.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "halted", "reason": req.Reason})
}

// resumeHandler handles POST /resume, clearing a halt and closing the
// circuit breaker.
func (s *AdminServer) resumeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.guard.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// executeHandler handles POST /execute, running a structured intent through
// the pipeline and returning the execution report. The report carries the
// outcome either way: a denied or failed execution still returns 200.
func (s *AdminServer) executeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "no execution engine configured", http.StatusServiceUnavailable)
		return
	}

	var in intent.Intent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid intent body", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, s.engine.Execute(r.Context(), in))
}

// limitsHandler handles GET /limits (current limits) and POST /limits
// (wholesale replacement - limits are never merged field-by-field).
func (s *AdminServer) limitsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.guard.Limits())
	case http.MethodPost:
		var limits guard.Limits
		if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
			http.Error(w, "invalid limits body", http.StatusBadRequest)
			return
		}
		if err := s.guard.UpdateLimits(limits); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, limits)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}