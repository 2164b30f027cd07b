package models

import "strings"

// Location is a coarse geolocation snapshot for an IP address
type Location struct {
	CountryCode string `json:"country_code"`
	Country     string `json:"country,omitempty"`
	Region      string `json:"region,omitempty"`
	City        string `json:"city,omitempty"`
	ISP         string `json:"isp,omitempty"`
	Org         string `json:"org,omitempty"`
	ASN         uint   `json:"asn,omitempty"`
	Mobile      bool   `json:"mobile"`
	Proxy       bool   `json:"proxy"`
	Hosting     bool   `json:"hosting"`
}

// HasCountry reports whether the snapshot carries a usable country code
func (l *Location) HasCountry() bool {
	return l != nil && strings.TrimSpace(l.CountryCode) != ""
}

// SameCountry compares two snapshots at country granularity
func (l *Location) SameCountry(other *Location) bool {
	return strings.EqualFold(strings.TrimSpace(l.CountryCode), strings.TrimSpace(other.CountryCode))
}

// Summary renders a short human-readable description, e.g. "Lyon, Auvergne-Rhône-Alpes, FR"
func (l *Location) Summary() string {
	if l == nil {
		return "Unknown location"
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.Region} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	switch {
	case l.Country != "":
		parts = append(parts, l.Country)
	case l.CountryCode != "":
		parts = append(parts, l.CountryCode)
	}
	if len(parts) == 0 {
		return "Unknown location"
	}
	return strings.Join(parts, ", ")
}
