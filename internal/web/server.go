// Package web provides the HTTP diagnostic surface for the keypad-monitor
// daemon.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"github.com/sweeney/keypad-monitor/internal/keypad"
	"github.com/sweeney/keypad-monitor/internal/status"
)

// maxGoroutines fails the liveness check when exceeded.
const maxGoroutines = 1000

// Diagnostics is the keypad's read/write attribute surface.
type Diagnostics interface {
	Enabled(ctx context.Context) (bool, error)
	SetEnabled(ctx context.Context, on bool) error
	DownKeys(ctx context.Context) ([]keypad.Key, error)
	Status(ctx context.Context) (bool, error)
	ResetCount() int
	ConsumeCounters(ctx context.Context) (keypad.CounterReport, error)
	EventLog(ctx context.Context) (string, error)
	SelectName(ctx context.Context, variant int) error
}

// Server serves the status page and the diagnostic attributes over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	diag       Diagnostics
	health     healthcheck.Handler
	logger     *zap.SugaredLogger
}

// New creates a Server that reads state from the given tracker and forwards
// attribute requests to diag.
func New(addr string, tracker *status.Tracker, diag Diagnostics, logger *zap.SugaredLogger) *Server {
	s := &Server{
		tracker: tracker,
		diag:    diag,
		health:  healthcheck.NewHandler(),
		logger:  logger,
	}
	s.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	s.health.AddReadinessCheck("controller", s.controllerReady)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("GET /live", s.health.LiveEndpoint)
	mux.HandleFunc("GET /ready", s.health.ReadyEndpoint)

	mux.HandleFunc("GET /enabled", s.handleGetEnabled)
	mux.HandleFunc("POST /enabled", s.handleSetEnabled)
	mux.HandleFunc("GET /keys", s.handleKeys)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /reset_count", s.handleResetCount)
	mux.HandleFunc("GET /keypad_counters", s.handleCounters)
	mux.HandleFunc("GET /event_log", s.handleEventLog)
	mux.HandleFunc("POST /kl", s.handleLayout)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// controllerReady fails while the keypad is enabled but recovering from a
// controller reset.
func (s *Server) controllerReady() error {
	snap := s.tracker.Snapshot()
	if snap.Enabled && !snap.Healthy() {
		return fmt.Errorf("controller %s", snap.HealthState)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, body)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), code)
}

func boolDigit(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Server) handleGetEnabled(w http.ResponseWriter, r *http.Request) {
	on, err := s.diag.Enabled(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeText(w, fmt.Sprintf("%d\n", boolDigit(on)))
}

// readUint parses the leading unsigned integer of a request body.
func readUint(r *http.Request) (uint64, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(body))
	if len(fields) == 0 {
		return 0, errors.New("empty value")
	}
	return strconv.ParseUint(fields[0], 10, 32)
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	v, err := readUint(r)
	if err != nil {
		http.Error(w, "invalid value", http.StatusBadRequest)
		return
	}
	if err := s.diag.SetEnabled(r.Context(), v != 0); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.diag.DownKeys(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "0x%X\n", k)
	}
	writeText(w, b.String())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ok, err := s.diag.Status(r.Context())
	if err != nil {
		s.logger.Warnf("Status read failed: %v", err)
	}
	writeText(w, fmt.Sprintf("%d\n", boolDigit(ok)))
}

func (s *Server) handleResetCount(w http.ResponseWriter, r *http.Request) {
	writeText(w, fmt.Sprintf("%d\n", s.diag.ResetCount()))
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	rep, err := s.diag.ConsumeCounters(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeText(w, rep.String())
}

func (s *Server) handleEventLog(w http.ResponseWriter, r *http.Request) {
	log, err := s.diag.EventLog(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeText(w, log)
}

// handleLayout accepts malformed values, as the attribute always has.
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	v, err := readUint(r)
	if err != nil {
		s.logger.Errorf("Invalid keyboard layout value: %v", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.diag.SelectName(r.Context(), int(v)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
