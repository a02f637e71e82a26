// Package upstream is a demo JSON-RPC backend for trying the relay locally.
// It answers every call with the method and params it received.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/observability"
)

var (
	requestsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "httprpcrelay",
			Subsystem: "demo_upstream",
			Name:      "requests_total",
			Help:      "Requests served by the demo upstream, by JSON-RPC method",
		},
		[]string{"method"},
	)

	requestDuration = observability.RelayFactory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "httprpcrelay",
			Subsystem: "demo_upstream",
			Name:      "request_duration_seconds",
			Help:      "Demo upstream request duration",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Config controls the demo upstream.
type Config struct {
	Addr string

	// ErrorRate is the fraction (0.0-1.0) of requests answered with ErrorCode.
	ErrorRate float64
	ErrorCode int

	Delay time.Duration
}

// DefaultConfig listens on 127.0.0.1:8545 without delay or injected errors.
func DefaultConfig() Config {
	return Config{
		Addr:      "127.0.0.1:8545",
		ErrorCode: http.StatusInternalServerError,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		return fmt.Errorf("error rate must be between 0 and 1")
	}
	if c.ErrorRate > 0 && (c.ErrorCode < 400 || c.ErrorCode > 599) {
		return fmt.Errorf("error code must be a 4xx or 5xx status")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	return nil
}

// Server is the demo upstream HTTP server.
type Server struct {
	logger logging.Logger
	config Config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a demo upstream.
func NewServer(logger logging.Logger, config Config) *Server {
	return &Server{
		logger: logging.ForComponent(logger, logging.ComponentDemoUpstream),
		config: config,
	}
}

// Handler returns the JSON-RPC handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleJSONRPC)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start binds the address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("demo upstream stopped")
		}
	}()

	s.logger.Info().Str(logging.FieldListenAddr, ln.Addr().String()).Msg("demo upstream listening")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down, waiting up to five seconds for open requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if s.config.Delay > 0 {
		select {
		case <-time.After(s.config.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if s.config.ErrorRate > 0 && rand.Float64() < s.config.ErrorRate {
		requestsTotal.WithLabelValues("error").Inc()
		http.Error(w, fmt.Sprintf("injected error (code: %d)", s.config.ErrorCode), s.config.ErrorCode)
		return
	}

	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	method, _ := req["method"].(string)
	requestsTotal.WithLabelValues(method).Inc()
	s.logger.Debug().Str(logging.FieldMethod, method).Str(logging.FieldRemoteAddr, r.RemoteAddr).Msg("request served")

	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"result": map[string]any{
			"method": method,
			"params": req["params"],
			"status": "ok",
		},
	}
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to marshal response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
