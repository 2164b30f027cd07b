package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// maxUserAgentLength bounds the user agent stored with each attempt
const maxUserAgentLength = 512

// IPConfig holds configuration for IP extraction
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies

	prefixes []netip.Prefix
}

// NewIPConfig parses the trusted proxy ranges. Invalid ranges are returned
// so the caller can refuse to start.
func NewIPConfig(trustedProxies []string) (*IPConfig, []string) {
	cfg := &IPConfig{TrustedProxies: trustedProxies}
	var invalid []string
	for _, cidr := range trustedProxies {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			invalid = append(invalid, cidr)
			continue
		}
		cfg.prefixes = append(cfg.prefixes, p.Masked())
	}
	return cfg, invalid
}

func (c *IPConfig) trusted(addr netip.Addr) bool {
	if c == nil || !addr.IsValid() {
		return false
	}
	prefixes := c.prefixes
	if prefixes == nil {
		// built as a literal; parse lazily and skip bad entries
		for _, cidr := range c.TrustedProxies {
			if p, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err == nil {
				prefixes = append(prefixes, p.Masked())
			}
		}
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the client address for the request. Forwarding
// headers are only read when the peer is a trusted proxy. X-Forwarded-For is
// walked from the right, skipping trusted hops, so a client cannot pick its
// own address by prepending entries.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteAddr(r)
	peer, err := netip.ParseAddr(remote)
	if err != nil || !config.trusted(peer) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !config.trusted(addr) {
				return addr.Unmap().String()
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.Unmap().String()
		}
	}

	return remote
}

// remoteAddr strips the port from RemoteAddr
func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// UserAgent returns the trimmed, length-bounded User-Agent header
func UserAgent(r *http.Request) string {
	ua := strings.TrimSpace(r.UserAgent())
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return ua
}
