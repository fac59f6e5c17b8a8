package mint

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// Config controls how a request-scoped mint handle dials its mint.
//
// §9's design note forbids the "ambient fetch-patching" pattern the source
// material used (installing a process-wide HTTP client override); instead
// every Handle is built explicitly, per operation, and passed downward.
type Config struct {
	// MintURL is the base URL of the mint this handle talks to.
	MintURL string

	// SocketTimeout bounds how long a single socket may sit idle before
	// it is torn down (§6.4 socket_timeout=30s).
	SocketTimeout time.Duration

	// KeepAlive enables TCP keep-alive probes on the dialed connection
	// (§6.4 keep_alive=true).
	KeepAlive bool

	// MaxSockets bounds the number of concurrent connections opened to
	// the mint host (§6.4 max_sockets=10).
	MaxSockets int

	// Resolver, if set, overrides IPv4 address resolution. Defaults to
	// newIPv4Resolver(), which pins lookups to A records only.
	Resolver Resolver
}

// DefaultConfig returns the §6.4 HTTP defaults for a given mint URL.
func DefaultConfig(mintURL string) Config {
	return Config{
		MintURL:       mintURL,
		SocketTimeout: 30 * time.Second,
		KeepAlive:     true,
		MaxSockets:    10,
	}
}

// Resolver resolves a hostname to IPv4 addresses only, per §4.1's
// "enforces IPv4 address resolution" requirement.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) ([]net.IP, error)
}

// Handle is a request-scoped mint HTTP client. The coordinator constructs
// exactly one Handle per operation (§4.1: "no process-wide mint singleton
// -- eliminates cross-request state bleed") and discards it once the
// operation completes.
type Handle struct {
	cfg     Config
	client  *http.Client
	sockets *rate.Limiter
	oracle  *OracleClient
}

// NewHandle builds a Handle for cfg and performs a GetInfo probe so that an
// unreachable mint fails fast at construction time rather than on the
// first real operation (§4.1).
func NewHandle(ctx context.Context, cfg Config) (*Handle, error) {
	if cfg.MintURL == "" {
		return nil, fmt.Errorf("mint: empty mint URL")
	}
	if cfg.SocketTimeout == 0 {
		cfg.SocketTimeout = 30 * time.Second
	}
	if cfg.MaxSockets == 0 {
		cfg.MaxSockets = 10
	}
	if cfg.Resolver == nil {
		cfg.Resolver = newIPv4Resolver()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.SocketTimeout,
		KeepAlive: keepAliveInterval(cfg.KeepAlive),
		Control:   keepAliveControl(cfg.KeepAlive),
		Resolver: &net.Resolver{
			PreferGo: true,
			Dial:     ipv4DialFunc(cfg.Resolver),
		},
	}

	transport := &http.Transport{
		DialContext:           ipv4DialContext(dialer, cfg.Resolver),
		MaxConnsPerHost:       cfg.MaxSockets,
		MaxIdleConnsPerHost:   cfg.MaxSockets,
		IdleConnTimeout:       cfg.SocketTimeout,
		ResponseHeaderTimeout: cfg.SocketTimeout,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		// HTTP/2 is an optimization, not a requirement; fall back to
		// HTTP/1.1 over the same IPv4/keep-alive transport.
		log.Warnf("mint: failed to configure http2 for %s: %v",
			cfg.MintURL, err)
	}

	h := &Handle{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.SocketTimeout,
		},
		// sockets rate-limits this handle's mint requests to
		// MaxSockets per second, with a burst of MaxSockets. It does
		// not bound requests in flight; the concurrent connection
		// bound is the transport's MaxConnsPerHost (§6.4 max_sockets=10).
		sockets: rate.NewLimiter(rate.Limit(cfg.MaxSockets), cfg.MaxSockets),
	}
	h.oracle = &OracleClient{handle: h}

	if _, err := h.oracle.GetInfo(ctx); err != nil {
		return nil, fmt.Errorf("mint: unreachable at construction: %w", err)
	}

	return h, nil
}

// Oracle returns the typed Oracle Client bound to this handle. The same
// instance is returned on every call so its keyset cache (populated by the
// GetInfo probe in NewHandle) stays available to later operations such as
// MeltProofs.
func (h *Handle) Oracle() *OracleClient {
	return h.oracle
}

// Close tears down the handle's idle connections. Since a Handle is
// request-scoped (§4.1), callers should close it once their operation
// completes rather than retaining it.
func (h *Handle) Close() {
	h.client.CloseIdleConnections()
}

// doJSON performs a JSON request/response round trip against path, relative
// to the handle's mint URL.
func (h *Handle) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	if err := h.sockets.Wait(ctx); err != nil {
		return err
	}
	return doJSON(ctx, h.client, h.cfg.MintURL, method, path, body, out)
}

// ipv4DialContext wraps dialer so that the resulting connection is always
// established over tcp4, using resolver for address lookup.
func ipv4DialContext(dialer *net.Dialer, resolver Resolver) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupIPv4(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("mint: no IPv4 address found for %s", host)
		}
		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, "tcp4",
				net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

// ipv4DialFunc returns a net.Resolver.Dial function that reaches the DNS
// server over udp4, so that even the Go resolver's own bookkeeping requests
// stay on IPv4. The resolver argument is not used.
func ipv4DialFunc(resolver Resolver) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		d := net.Dialer{}
		return d.DialContext(ctx, "udp4", address)
	}
}
