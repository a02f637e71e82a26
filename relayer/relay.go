// Package relayer wires the inbound listener, the request filter and the
// outbound client into the relay process.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/client"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/filter"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/observability"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/reactor"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

const (
	rejectedReason      = "Failed to validate request\n"
	upstreamErrorFormat = "Failed to reach upstream: %s\n"

	drainPollInterval = 10 * time.Millisecond
	flushTimeout      = time.Second
)

// Relay accepts HTTP requests, forwards those passing the filter to the
// target and relays the target's response back.
type Relay struct {
	logger logging.Logger
	config Config

	filter   filter.Filter
	loader   *filter.AllowListLoader
	resolver client.Resolver

	inbound  *reactor.Pool
	outbound *reactor.Pool
	metrics  *reactor.Pool
	recorder *MetricRecorder

	listener *Listener

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewRelay builds a relay with the filter selected by config.Filter.
func NewRelay(logger logging.Logger, config Config) (*Relay, error) {
	f, err := filter.New(logger, config.Filter)
	if err != nil {
		return nil, err
	}
	return NewRelayWithFilter(logger, config, f)
}

// NewRelayWithFilter builds a relay around an existing filter. When
// config.Filter.File is set the filter must be a *filter.JSONRPCFilter.
func NewRelayWithFilter(logger logging.Logger, config Config, f filter.Filter) (*Relay, error) {
	if f == nil {
		return nil, fmt.Errorf("filter is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &Relay{
		logger:   logging.ForComponent(logger, logging.ComponentRelay),
		config:   config,
		filter:   f,
		resolver: client.SystemResolver(),
	}

	if config.Filter.File != "" {
		jf, ok := f.(*filter.JSONRPCFilter)
		if !ok {
			return nil, fmt.Errorf("filter.file requires a %s filter", filter.KindJSONRPC)
		}
		r.loader = filter.NewAllowListLoader(logger, jf, config.Filter.File, config.Filter.Options)
	}

	if len(config.DNSServers) > 0 {
		resolver, err := client.NewDNSResolver(logger, config.DNSServers, config.Timeouts.OutboundConnect)
		if err != nil {
			return nil, err
		}
		r.resolver = resolver
	}

	r.inbound = reactor.NewPool(logger, "inbound", config.Threads)
	r.outbound = reactor.NewPool(logger, "outbound", config.GetOutboundThreads())
	r.metrics = reactor.NewPool(logger, "metrics", 1)
	r.recorder = NewMetricRecorder(r.logger, r.metrics)

	r.listener = NewListener(logger, r.inbound, ListenerConfig{
		Addr:           config.ListenAddr(),
		MaxConnections: config.Limits.MaxConnections,
		Session: SessionConfig{
			ReadTimeout: config.Timeouts.InboundRead,
			Limits:      config.Limits.Limits,
		},
	})
	return r, nil
}

// Filter returns the relay's filter.
func (r *Relay) Filter() filter.Filter {
	return r.filter
}

// Start loads the allow-list file, installs the relay handler and starts
// listening.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("relay is closed")
	}
	if r.started {
		return fmt.Errorf("relay already started")
	}

	startedAt := time.Now()

	if r.loader != nil {
		if err := r.loader.Start(ctx); err != nil {
			return fmt.Errorf("failed to load allow-list file: %w", err)
		}
	}

	r.listener.SetHandler(r.Handle)
	if err := r.listener.Start(ctx); err != nil {
		if r.loader != nil {
			_ = r.loader.Close()
		}
		return err
	}
	r.started = true

	observability.RecordStartupDuration(logging.ComponentRelay, time.Since(startedAt))
	r.logger.Info().
		Str(logging.FieldListenAddr, r.listener.Addr().String()).
		Str(logging.FieldTarget, r.config.TargetAddr()).
		Int("inbound_threads", r.inbound.Size()).
		Int("outbound_threads", r.outbound.Size()).
		Msg("relay started")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (r *Relay) Addr() net.Addr {
	return r.listener.Addr()
}

// Ready reports an error until the relay is accepting connections.
func (r *Relay) Ready(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return errors.New("relay is closed")
	case !r.started || !r.listener.Listening():
		return errors.New("relay is not listening")
	default:
		return nil
	}
}

// Handle filters req and forwards it upstream. It never returns nil.
func (r *Relay) Handle(ctx context.Context, req *transport.Request) *transport.Response {
	timer := observability.NewTimer()

	outcome := outcomeAllowed
	defer func() {
		requestsTotal.WithLabelValues(outcome).Inc()
		r.recorder.RecordDuration(requestLatency, []string{outcome}, timer.Duration())
	}()

	if !r.filter.Test(req) {
		outcome = outcomeRejected
		logging.WithRequestContext(r.logger.Debug(), requestContext(req)).Msg("request rejected")
		return transport.BadRequest(req, rejectedReason)
	}

	session := client.NewSession(r.logger, r.outbound, client.Config{
		ConnectTimeout: r.config.Timeouts.OutboundConnect,
		IOTimeout:      r.config.Timeouts.OutboundIO,
		Limits:         r.config.Limits.Limits,
		Resolver:       r.resolver,
	})
	res, err := session.Run(r.config.TargetAddress, r.config.TargetPort, req).Wait(ctx)
	if err != nil {
		outcome = outcomeUpstreamError
		kind := client.KindOf(err)
		if kind == 0 {
			kind = client.KindClosed
		}
		observability.RecordError(logging.ComponentRelay, kind.String())
		logging.WithRequestContext(r.logger.Warn(), requestContext(req)).
			Err(err).
			Str(logging.FieldErrorKind, kind.String()).
			Str(logging.FieldTarget, r.config.TargetAddr()).
			Msg("failed to forward request")
		return transport.ServiceUnavailable(req, fmt.Sprintf(upstreamErrorFormat, kind))
	}
	return res
}

func requestContext(req *transport.Request) *logging.RequestContext {
	return &logging.RequestContext{
		HTTPMethod: req.Method,
		Path:       req.Target,
		Version:    req.Version.String(),
	}
}

// InFlight returns the number of requests read but not yet answered.
func (r *Relay) InFlight() int64 {
	return r.listener.InFlight()
}

// Close stops accepting, waits up to timeouts.shutdown_grace for requests in
// flight, then aborts open sessions and releases the pools. It is safe to
// call more than once.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.listener.Close()
	r.drain(r.config.Timeouts.ShutdownGrace)
	// Outbound first: requests still waiting upstream complete with 503
	// while their inbound connections can still write it.
	r.outbound.Close()
	r.drain(flushTimeout)
	r.inbound.Close()
	r.metrics.Close()
	if r.loader != nil {
		err = errors.Join(err, r.loader.Close())
	}

	r.logger.Info().Msg("relay stopped")
	return err
}

// drain waits until no request is in flight or grace has passed. Idle
// connections stay open meanwhile and may still send requests.
func (r *Relay) drain(grace time.Duration) {
	if grace <= 0 || r.InFlight() == 0 {
		return
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	r.logger.Info().Int64("in_flight", r.InFlight()).Dur(logging.FieldTimeout, grace).Msg("waiting for requests in flight")
	for {
		select {
		case <-deadline.C:
			r.logger.Warn().
				Int64("in_flight", r.InFlight()).
				Dur(logging.FieldTimeout, grace).
				Msg("requests still in flight, cancelling them")
			return
		case <-ticker.C:
			if r.InFlight() == 0 {
				return
			}
		}
	}
}
