package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
)

// ServerConfig contains configuration for the observability server.
type ServerConfig struct {
	// MetricsEnabled enables the metrics server.
	MetricsEnabled bool

	// MetricsAddr is the address for the metrics server (e.g., ":9090").
	MetricsAddr string

	// PprofEnabled enables the pprof server.
	PprofEnabled bool

	// PprofAddr is the address for the pprof server (e.g., "localhost:6060").
	PprofAddr string

	// Registry is the gatherer to serve metrics from.
	// If nil, the relay registry plus the default registry are served and
	// the runtime metrics collector is started.
	Registry prometheus.Gatherer
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MetricsEnabled: true,
		MetricsAddr:    ":9090",
		PprofEnabled:   false,
		PprofAddr:      "localhost:6060",
	}
}

// ReadinessCheck is a function that returns nil if the service is ready,
// or an error describing why it is not ready.
type ReadinessCheck func(ctx context.Context) error

var (
	sharedRuntimeCollectorOnce sync.Once
	sharedRuntimeCollector     *RuntimeMetricsCollector
)

// relayRuntimeCollector returns the collector bound to RelayFactory. Its
// gauges can only be registered once per process.
func relayRuntimeCollector(logger logging.Logger) *RuntimeMetricsCollector {
	sharedRuntimeCollectorOnce.Do(func() {
		sharedRuntimeCollector = NewRuntimeMetricsCollector(
			logger,
			DefaultRuntimeMetricsCollectorConfig(),
			RelayFactory,
		)
	})
	return sharedRuntimeCollector
}

// Server provides observability endpoints (metrics, health, readiness and pprof).
type Server struct {
	logger         logging.Logger
	config         ServerConfig
	metricsServer  *http.Server
	metricsAddr    net.Addr
	pprofServer    *http.Server
	mu             sync.Mutex
	rm             *RuntimeMetricsCollector
	running        bool
	readinessCheck ReadinessCheck
}

// NewServer creates a new observability server.
func NewServer(logger logging.Logger, config ServerConfig) *Server {
	if config.PprofAddr == "" {
		config.PprofAddr = "localhost:6060"
	}

	return &Server{
		logger: logging.ForComponent(logger, logging.ComponentObservability),
		config: config,
	}
}

// Start begins serving the enabled endpoints. The servers stop when ctx is
// cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	timer := NewTimer()

	if s.config.MetricsEnabled {
		if err := s.startMetricsServer(ctx); err != nil {
			return err
		}
	}

	if s.config.PprofEnabled {
		if err := s.startPprofServer(ctx); err != nil {
			return err
		}
	}

	s.running = true
	RecordStartupDuration("observability_server", timer.Duration())

	return nil
}

func (s *Server) startMetricsServer(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.MetricsAddr)
	if err != nil {
		s.logger.Error().Err(err).Str(logging.FieldAddr, s.config.MetricsAddr).Msg("failed to listen for metrics server")
		return err
	}

	gatherer := s.config.Registry
	if gatherer == nil {
		gatherer = Gatherers()
		s.rm = relayRuntimeCollector(s.logger)
		if err := s.rm.Start(ctx); err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to start runtime metrics collector: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		check := s.readinessCheck
		s.mu.Unlock()

		if check != nil {
			if err := check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, "Not Ready: %s", err.Error())
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.metricsServer = server
	s.metricsAddr = ln.Addr()

	go func() {
		s.logger.Info().Str(logging.FieldAddr, ln.Addr().String()).Msg("serving metrics")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	rm := s.rm
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		if rm != nil {
			rm.Stop()
		}
	}()

	return nil
}

func (s *Server) startPprofServer(ctx context.Context) error {
	pprofMux := http.NewServeMux()
	pprofMux.HandleFunc("/debug/pprof/", pprof.Index)
	pprofMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	pprofMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	pprofMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	pprofMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", s.config.PprofAddr)
	if err != nil {
		s.logger.Error().Err(err).Str(logging.FieldAddr, s.config.PprofAddr).Msg("failed to listen for pprof server")
		return err
	}

	server := &http.Server{
		Handler:           pprofMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.pprofServer = server

	go func() {
		s.logger.Info().Str(logging.FieldAddr, ln.Addr().String()).Msg("serving pprof")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("pprof server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}

// Stop gracefully shuts down the observability servers.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("failed to shutdown metrics server")
			errs = append(errs, err)
		}
	}

	if s.rm != nil {
		s.rm.Stop()
	}

	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("failed to shutdown pprof server")
			errs = append(errs, err)
		}
	}

	s.running = false
	s.logger.Info().Msg("observability servers stopped")

	return errors.Join(errs...)
}

// SetReadinessCheck sets the function the /ready endpoint calls. It may be
// called after Start, once the component it checks exists.
func (s *Server) SetReadinessCheck(check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readinessCheck = check
}

// MetricsAddr returns the bound metrics address, or nil before Start.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
