package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig holds the proxies whose forwarding headers are trusted
type IPConfig struct {
	TrustedProxies []netip.Prefix
}

// ParseTrustedProxies parses CIDR strings, skipping invalid entries
func ParseTrustedProxies(cidrs []string) *IPConfig {
	cfg := &IPConfig{}
	for _, c := range cidrs {
		if prefix, err := netip.ParsePrefix(strings.TrimSpace(c)); err == nil {
			cfg.TrustedProxies = append(cfg.TrustedProxies, prefix)
		}
	}
	return cfg
}

// ClientIP returns the caller's address. X-Forwarded-For and X-Real-IP are
// only honoured when the direct peer is a trusted proxy. X-Forwarded-For is
// read from the right: the first hop that is not a trusted proxy is the client.
func ClientIP(r *http.Request, cfg *IPConfig) string {
	remote := remoteAddr(r)

	if cfg == nil || !cfg.trusts(remote) {
		return remote
	}

	if hop := forwardedClient(r.Header.Get("X-Forwarded-For"), cfg); hop != "" {
		return hop
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.String()
	}

	return remote
}

// forwardedClient walks the hops right to left and stops at the first
// untrusted one. A malformed hop ends the walk at the last trusted hop seen.
func forwardedClient(header string, cfg *IPConfig) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}

	hops := strings.Split(header, ",")
	last := ""
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		last = addr.String()
		if !cfg.trusts(last) {
			return last
		}
	}
	return last
}

func (c *IPConfig) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range c.TrustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
