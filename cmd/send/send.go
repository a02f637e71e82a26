// Package send implements the send command: it drives outbound sessions
// against a relay or an upstream, either once or as a load test.
package send

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	pond "github.com/alitto/pond/v2"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/client"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/reactor"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

// Options configures a send run.
type Options struct {
	Host   string
	Port   uint16
	Target string

	// Method is the JSON-RPC method of the default payload.
	Method string

	// Payload replaces the default JSON-RPC body when set.
	Payload string

	Count       int
	Concurrency int

	// RPS paces request launches. 0 means unlimited.
	RPS int

	Timeout time.Duration
}

// DefaultOptions returns a single eth_blockNumber request to 127.0.0.1.
func DefaultOptions() Options {
	return Options{
		Host:        "127.0.0.1",
		Target:      "/",
		Method:      "eth_blockNumber",
		Count:       1,
		Concurrency: 1,
		Timeout:     30 * time.Second,
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("host is required")
	}
	if o.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if o.Payload == "" && o.Method == "" {
		return fmt.Errorf("either method or payload is required")
	}
	if o.Payload != "" && !json.Valid([]byte(o.Payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}
	if o.Count < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	if o.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if o.RPS < 0 {
		return fmt.Errorf("rps must not be negative")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// BuildPayload returns the request body: the custom payload, or a JSON-RPC
// 2.0 call of Method without params.
func BuildPayload(o Options) ([]byte, error) {
	if o.Payload != "" {
		return []byte(o.Payload), nil
	}

	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  o.Method,
		"params":  []any{},
		"id":      1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
	}
	return body, nil
}

// Sender runs outbound sessions on its own pool.
type Sender struct {
	logger logging.Logger
	opts   Options
	body   []byte
	pool   *reactor.Pool
}

// NewSender validates opts and creates a sender with one outbound worker per
// concurrent request.
func NewSender(logger logging.Logger, opts Options) (*Sender, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	body, err := BuildPayload(opts)
	if err != nil {
		return nil, err
	}

	return &Sender{
		logger: logging.ForComponent(logger, logging.ComponentSendTool),
		opts:   opts,
		body:   body,
		pool:   reactor.NewPool(logger, "send", opts.Concurrency),
	}, nil
}

// Close releases the outbound pool.
func (s *Sender) Close() {
	s.pool.Close()
}

// SendOnce sends one request and waits for its response.
func (s *Sender) SendOnce(ctx context.Context) (*transport.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	session := client.NewSession(s.logger, s.pool, client.Config{
		ConnectTimeout: s.opts.Timeout,
		IOTimeout:      s.opts.Timeout,
	})
	return session.RunRequest(
		"POST",
		s.opts.Host,
		s.opts.Port,
		s.opts.Target,
		s.body,
		transport.HTTP11,
		nil,
	).Wait(ctx)
}

// LoadTest sends Count requests with at most Concurrency in flight.
func (s *Sender) LoadTest(ctx context.Context) *Metrics {
	metrics := NewMetrics()

	rateLimiter := newRateLimiter(s.opts.RPS)
	if rateLimiter != nil {
		defer rateLimiter.Stop()
	}

	workers := pond.NewPool(s.opts.Concurrency, pond.WithContext(ctx))

	s.logger.Info().
		Int(logging.FieldCount, s.opts.Count).
		Int("concurrency", s.opts.Concurrency).
		Int("rps", s.opts.RPS).
		Msg("starting load test")

	metrics.Start()
	for i := 0; i < s.opts.Count; i++ {
		if !waitForRateLimit(ctx, rateLimiter) {
			break
		}

		reqNum := i
		workers.Submit(func() {
			start := time.Now()
			res, err := s.SendOnce(ctx)
			latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

			if err != nil {
				metrics.RecordError(err)
				s.logger.Debug().Err(err).Int("request_num", reqNum).Msg("request failed")
				return
			}
			metrics.RecordSuccess(res.StatusCode, latencyMs)
			s.logger.Debug().
				Int("request_num", reqNum).
				Int(logging.FieldStatus, res.StatusCode).
				Float64("latency_ms", latencyMs).
				Msg("request succeeded")
		})
	}
	workers.StopAndWait()
	metrics.End()

	return metrics
}

// WriteResponse prints the status line, header fields and body.
func WriteResponse(w io.Writer, res *transport.Response) error {
	if _, err := fmt.Fprintf(w, "%s %d %s\n", res.Version, res.StatusCode, res.Reason); err != nil {
		return err
	}
	for _, f := range res.Header.Fields() {
		if _, err := fmt.Fprintf(w, "%s: %s\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "\n%s\n", res.Body); err != nil {
		return err
	}
	return nil
}

func newRateLimiter(rps int) *time.Ticker {
	if rps <= 0 {
		return nil
	}
	return time.NewTicker(time.Second / time.Duration(rps))
}

// waitForRateLimit blocks until the next tick. It reports false when ctx is
// done first.
func waitForRateLimit(ctx context.Context, rateLimiter *time.Ticker) bool {
	if rateLimiter == nil {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-rateLimiter.C:
		return true
	}
}
