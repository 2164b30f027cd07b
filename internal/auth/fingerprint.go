package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/BradenHooton/loginguard/internal/models"
)

// FingerprintInput is the raw material for a device fingerprint
type FingerprintInput struct {
	UserAgent   string
	IPAddress   string
	Environment models.ClientEnvironment
}

// Fingerprinter derives device fingerprints. The zero value excludes the IP address.
type Fingerprinter struct {
	IncludeIP bool
}

// NewFingerprinter returns a Fingerprinter; includeIP folds the client IP into the digest
func NewFingerprinter(includeIP bool) *Fingerprinter {
	return &Fingerprinter{IncludeIP: includeIP}
}

// Fingerprint returns the SHA-256 hex digest of the canonical attribute set.
// Empty attributes are dropped and the remainder is serialised in key order,
// so the result depends only on which non-empty values were supplied.
func (f *Fingerprinter) Fingerprint(in FingerprintInput) string {
	attrs := map[string]string{
		"user_agent":        in.UserAgent,
		"screen_resolution": in.Environment.ScreenResolution,
		"timezone":          in.Environment.Timezone,
		"language":          in.Environment.Language,
		"platform":          in.Environment.Platform,
		"canvas":            in.Environment.Canvas,
		"webgl":             in.Environment.WebGL,
	}
	if f.IncludeIP {
		attrs["ip"] = in.IPAddress
	}
	if in.Environment.CookiesEnabled != nil {
		attrs["cookies_enabled"] = strconv.FormatBool(*in.Environment.CookiesEnabled)
	}

	return canonicalDigest(attrs)
}

func canonicalDigest(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(strings.TrimSpace(attrs[k])))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
