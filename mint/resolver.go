package mint

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/miekg/dns"
)

// dnsResolver looks up A records directly via miekg/dns instead of relying
// on the OS resolver, which on some platforms will happily return AAAA
// results and defeat the IPv4 pin (§4.1).
type dnsResolver struct {
	client *dns.Client
	server string
}

// newIPv4Resolver builds the default Resolver used by Handle when the
// caller doesn't supply one. It reads /etc/resolv.conf for an upstream
// nameserver and falls back to a public resolver if that fails, matching
// the "enforces IPv4 address resolution" requirement of §4.1.
func newIPv4Resolver() Resolver {
	server := "8.8.8.8:53"
	if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
		server = net.JoinHostPort(cfg.Servers[0], cfg.Port)
	}
	return &dnsResolver{client: &dns.Client{Net: "udp"}, server: server}
}

// LookupIPv4 implements Resolver.
func (r *dnsResolver) LookupIPv4(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return []net.IP{ip4}, nil
		}
		return nil, fmt.Errorf("mint: %s is not an IPv4 address", host)
	}

	// /etc/hosts is consulted first so local overrides (and test
	// environments) keep working without a real DNS round trip.
	if ips := lookupHostsFile(host); len(ips) > 0 {
		return ips, nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("mint: dns lookup of %s failed: %w", host, err)
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("mint: no A records found for %s", host)
	}
	return ips, nil
}

// lookupHostsFile does a best-effort scan of /etc/hosts for an IPv4 entry.
func lookupHostsFile(host string) []net.IP {
	data, err := os.ReadFile("/etc/hosts")
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip := net.ParseIP(fields[0])
		if ip == nil || ip.To4() == nil {
			continue
		}
		for _, name := range fields[1:] {
			if name == host {
				ips = append(ips, ip.To4())
			}
		}
	}
	return ips
}
