package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const ipapiBaseURL = "https://ipapi.co"

// IPAPIClient implements GeoLookup against the ipapi.co JSON endpoint.
type IPAPIClient struct {
	client  *http.Client
	baseURL string
}

// NewIPAPIClient creates a geolocation client.
func NewIPAPIClient() *IPAPIClient {
	return &IPAPIClient{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: ipapiBaseURL,
	}
}

// Lookup resolves an IP to a coarse location.
func (c *IPAPIClient) Lookup(ctx context.Context, ip string) (Geo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+ip+"/json/", nil)
	if err != nil {
		return Geo{}, fmt.Errorf("build geo request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Geo{}, fmt.Errorf("geo request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close geo response body", "error", closeErr)
		}
	}()

	var body struct {
		CountryName string   `json:"country_name"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		Proxy       bool     `json:"proxy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Geo{}, fmt.Errorf("decode geo response: %w", err)
	}

	geo := Geo{
		Country:   body.CountryName,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
		Proxy:     body.Proxy,
	}
	if geo.Country == "" {
		geo.Country = "Unknown"
	}

	return geo, nil
}
