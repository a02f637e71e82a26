package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
)

// Resolver turns a host name into a list of addresses to try in order.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// SystemResolver returns the resolver used when no DNS servers are configured.
func SystemResolver() Resolver {
	return net.DefaultResolver
}

const (
	defaultDNSTimeout = 5 * time.Second
	minCacheTTL       = time.Second
	maxCacheTTL       = 5 * time.Minute
)

type cachedRecord struct {
	addrs     []string
	expiresAt time.Time
}

// DNSResolver queries A and AAAA records from explicit DNS servers and
// caches answers for their TTL.
type DNSResolver struct {
	logger  logging.Logger
	servers []string
	client  *dns.Client
	cache   *xsync.Map[string, cachedRecord]
	now     func() time.Time
}

// NewDNSResolver creates a resolver querying servers (host:port) in order.
func NewDNSResolver(logger logging.Logger, servers []string, timeout time.Duration) (*DNSResolver, error) {
	if len(servers) == 0 {
		return nil, errors.New("at least one DNS server is required")
	}
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return nil, fmt.Errorf("invalid DNS server %q: %w", s, err)
		}
	}

	return &DNSResolver{
		logger:  logging.ForComponent(logger, logging.ComponentDNSResolver),
		servers: servers,
		client: &dns.Client{
			Net:     "udp",
			Timeout: timeout,
		},
		cache: xsync.NewMap[string, cachedRecord](),
		now:   time.Now,
	}, nil
}

// LookupHost implements Resolver.
func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}

	if rec, ok := r.cache.Load(host); ok && r.now().Before(rec.expiresAt) {
		return rec.addrs, nil
	}

	var lastErr error
	for _, server := range r.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addrs, ttl, err := r.queryServer(ctx, host, server)
		if err != nil {
			lastErr = err
			r.logger.Debug().Err(err).Str(logging.FieldAddr, server).Str(logging.FieldTarget, host).Msg("DNS server failed")
			continue
		}
		r.cache.Store(host, cachedRecord{addrs: addrs, expiresAt: r.now().Add(ttl)})
		return addrs, nil
	}
	return nil, fmt.Errorf("all DNS servers failed for %s: %w", host, lastErr)
}

// Flush drops every cached answer.
func (r *DNSResolver) Flush() {
	r.cache.Clear()
}

func (r *DNSResolver) queryServer(ctx context.Context, host, server string) ([]string, time.Duration, error) {
	var (
		addrs []string
		ttl   = maxCacheTTL
	)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, 0, fmt.Errorf("DNS query to %s failed: %w", server, err)
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, 0, fmt.Errorf("DNS query to %s returned %s", server, dns.RcodeToString[resp.Rcode])
		}

		for _, answer := range resp.Answer {
			switch rr := answer.(type) {
			case *dns.A:
				addrs = append(addrs, rr.A.String())
			case *dns.AAAA:
				addrs = append(addrs, rr.AAAA.String())
			default:
				continue
			}
			if d := time.Duration(answer.Header().Ttl) * time.Second; d < ttl {
				ttl = d
			}
		}
	}

	if len(addrs) == 0 {
		return nil, 0, fmt.Errorf("%w for %s", ErrNoAddresses, host)
	}
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}
	return addrs, ttl, nil
}
