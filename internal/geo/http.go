package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/hashicorp/go-retryablehttp"
)

const ipAPIFields = "status,message,countryCode,country,regionName,city,isp,org,as,mobile,proxy,hosting"

// HTTPBackend queries an ip-api compatible JSON endpoint
type HTTPBackend struct {
	client  *http.Client
	baseURL string
}

// NewHTTPBackend builds a backend against baseURL (e.g. http://ip-api.com/json)
func NewHTTPBackend(baseURL string, retryMax int, timeout time.Duration, logger *slog.Logger) *HTTPBackend {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 500 * time.Millisecond
	retryClient.HTTPClient.Timeout = timeout
	retryClient.Logger = nil
	if logger != nil {
		retryClient.Logger = logger
	}

	return &HTTPBackend{
		client:  retryClient.StandardClient(),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type ipAPIResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CountryCode string `json:"countryCode"`
	Country     string `json:"country"`
	RegionName  string `json:"regionName"`
	City        string `json:"city"`
	ISP         string `json:"isp"`
	Org         string `json:"org"`
	AS          string `json:"as"`
	Mobile      bool   `json:"mobile"`
	Proxy       bool   `json:"proxy"`
	Hosting     bool   `json:"hosting"`
}

// Lookup implements Backend
func (b *HTTPBackend) Lookup(ctx context.Context, addr netip.Addr) (*models.Location, error) {
	url := fmt.Sprintf("%s/%s?fields=%s", b.baseURL, addr.String(), ipAPIFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("lookup rejected: %s", body.Message)
	}

	return &models.Location{
		CountryCode: body.CountryCode,
		Country:     body.Country,
		Region:      body.RegionName,
		City:        body.City,
		ISP:         body.ISP,
		Org:         body.Org,
		ASN:         parseASN(body.AS),
		Mobile:      body.Mobile,
		Proxy:       body.Proxy,
		Hosting:     body.Hosting,
	}, nil
}

// parseASN extracts 15169 from "AS15169 Google LLC"
func parseASN(as string) uint {
	as = strings.TrimPrefix(strings.TrimSpace(as), "AS")
	var n uint
	for _, c := range as {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + uint(c-'0')
	}
	return n
}
