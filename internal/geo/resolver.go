// Package geo resolves client IP addresses to coarse location snapshots.
package geo

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
)

// DefaultTimeout bounds a single lookup
const DefaultTimeout = 3 * time.Second

// Backend performs the actual lookup. It may fail in any way.
type Backend interface {
	Lookup(ctx context.Context, ip netip.Addr) (*models.Location, error)
}

// Resolver wraps a Backend so that every failure degrades to "no location"
type Resolver struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

// NewResolver creates a Resolver. A nil backend always resolves to nil.
func NewResolver(backend Backend, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = DefaultTimeout
	}
	return &Resolver{backend: backend, timeout: timeout, logger: logger}
}

// Resolve returns the location for ip, or nil when the address is not public,
// the backend fails, the result has no country, or the timeout elapses
func (r *Resolver) Resolve(ctx context.Context, ip string) *models.Location {
	if r == nil || r.backend == nil {
		return nil
	}

	addr, ok := publicAddr(ip)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		loc *models.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := r.backend.Lookup(ctx, addr)
		done <- result{loc, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			r.logger.Warn("geolocation lookup failed", slog.String("ip", addr.String()), slog.Any("error", res.err))
			return nil
		}
		if !res.loc.HasCountry() {
			return nil
		}
		return res.loc
	case <-ctx.Done():
		r.logger.Warn("geolocation lookup timed out", slog.String("ip", addr.String()), slog.Duration("timeout", r.timeout))
		return nil
	}
}

// publicAddr parses ip and rejects loopback, private, link-local and unspecified addresses
func publicAddr(ip string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return netip.Addr{}, false
	}
	addr = addr.Unmap()
	if !addr.IsGlobalUnicast() || addr.IsPrivate() || addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
		return netip.Addr{}, false
	}
	return addr, true
}
