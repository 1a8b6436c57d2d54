// internal/geo/lookup.go
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"sensor-pipeline/internal/models"
)

const defaultLookupTimeout = 2 * time.Second

// HTTPLookup resolves country metadata via the ip-api.com JSON endpoint
// (free tier, no key, rate limited).
type HTTPLookup struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

// NewHTTPLookup builds a lookup with a short timeout so a slow upstream
// cannot stall the ingestion path.
func NewHTTPLookup() *HTTPLookup {
	return &HTTPLookup{
		client:    &http.Client{Timeout: defaultLookupTimeout},
		baseURL:   "http://ip-api.com/json",
		userAgent: "sensor-pipeline/1.0",
	}
}

type lookupResponse struct {
	Status      string `json:"status"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
}

// Country implements Lookup.
func (l *HTTPLookup) Country(ctx context.Context, ip string) (models.GeoResult, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=status,country,countryCode", l.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.GeoResult{}, fmt.Errorf("failed to build geo request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return models.GeoResult{}, fmt.Errorf("geo lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.GeoResult{}, fmt.Errorf("geo lookup returned status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.GeoResult{}, fmt.Errorf("failed to decode geo response: %w", err)
	}
	if body.Status != "success" {
		return models.GeoResult{}, fmt.Errorf("geo lookup status %q for %s", body.Status, ip)
	}

	name := body.Country
	if name == "" {
		name = "Unknown"
	}
	return models.GeoResult{
		CountryName: name,
		CountryCode: body.CountryCode,
		Flag:        Flag(body.CountryCode),
	}, nil
}
