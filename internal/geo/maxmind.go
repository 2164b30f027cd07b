package geo

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/oschwald/geoip2-golang"
)

// hostingASNs are autonomous systems of well known cloud and hosting providers
var hostingASNs = map[uint]string{
	16509:  "Amazon.com (AWS)",
	14618:  "Amazon.com (AWS)",
	15169:  "Google Cloud",
	396982: "Google Cloud",
	8075:   "Microsoft Azure",
	14061:  "DigitalOcean",
	24940:  "Hetzner Online GmbH",
	16276:  "OVH SAS",
	12876:  "Online S.A.S. (Scaleway)",
	20473:  "Choopa, LLC (Vultr)",
	63949:  "Linode",
	36352:  "ColoCrossing",
}

// proxyASNs host large commercial VPN exits
var proxyASNs = map[uint]string{
	9009:  "M247 Europe",
	60068: "Datacamp Limited (CDN77)",
}

// MaxMindBackend reads GeoIP2/GeoLite2 databases from disk
type MaxMindBackend struct {
	cityReader *geoip2.Reader
	asnReader  *geoip2.Reader
	anonReader *geoip2.Reader
}

// OpenMaxMind opens the City database and, when the paths are set, the ASN
// and Anonymous-IP databases
func OpenMaxMind(cityDBPath, asnDBPath, anonDBPath string) (*MaxMindBackend, error) {
	cityReader, err := geoip2.Open(cityDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open city database: %w", err)
	}
	b := &MaxMindBackend{cityReader: cityReader}

	if asnDBPath != "" {
		if b.asnReader, err = geoip2.Open(asnDBPath); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open asn database: %w", err)
		}
	}

	if anonDBPath != "" {
		if b.anonReader, err = geoip2.Open(anonDBPath); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open anonymous-ip database: %w", err)
		}
	}

	return b, nil
}

// Close releases the database handles
func (b *MaxMindBackend) Close() {
	for _, r := range []*geoip2.Reader{b.cityReader, b.asnReader, b.anonReader} {
		if r != nil {
			_ = r.Close()
		}
	}
}

// Lookup implements Backend
func (b *MaxMindBackend) Lookup(_ context.Context, addr netip.Addr) (*models.Location, error) {
	ip := net.IP(addr.AsSlice())

	city, err := b.cityReader.City(ip)
	if err != nil {
		return nil, fmt.Errorf("city lookup: %w", err)
	}

	loc := &models.Location{
		CountryCode: city.Country.IsoCode,
		Country:     city.Country.Names["en"],
		City:        city.City.Names["en"],
	}
	if len(city.Subdivisions) > 0 {
		loc.Region = city.Subdivisions[0].Names["en"]
	}
	loc.Proxy = city.Traits.IsAnonymousProxy

	if b.asnReader != nil {
		if asn, err := b.asnReader.ASN(ip); err == nil {
			loc.ASN = asn.AutonomousSystemNumber
			loc.Org = asn.AutonomousSystemOrganization
			loc.ISP = asn.AutonomousSystemOrganization
			_, loc.Hosting = hostingASNs[loc.ASN]
			if _, vpn := proxyASNs[loc.ASN]; vpn {
				loc.Proxy = true
			}
		}
	}

	if b.anonReader != nil {
		if anon, err := b.anonReader.AnonymousIP(ip); err == nil {
			loc.Hosting = loc.Hosting || anon.IsHostingProvider
			loc.Proxy = loc.Proxy || anon.IsAnonymousVPN || anon.IsPublicProxy ||
				anon.IsTorExitNode || anon.IsResidentialProxy
		}
	}

	return loc, nil
}
