/*
	Timelinize
	Copyright (c) 2013 Matthew Holt

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultNominatimURL is the public OpenStreetMap Nominatim service.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimOptions configures a Nominatim client.
type NominatimOptions struct {
	// Base URL of the service, without the /reverse path.
	BaseURL string `json:"base_url,omitempty"`

	// Required by the public service's usage policy.
	UserAgent string `json:"user_agent,omitempty"`

	// Language for place names, like "en".
	Language string `json:"language,omitempty"`

	// Detail level, 3 (country) through 18 (building). Default 10 (city).
	Zoom int `json:"zoom,omitempty"`

	RateLimit RateLimit `json:"rate_limit,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`

	// Optional; if nil, http.DefaultTransport is used.
	Transport http.RoundTripper `json:"-"`
}

// Nominatim is a reverse geocoder for Nominatim-compatible services.
type Nominatim struct {
	opts    NominatimOptions
	client  *http.Client
	limiter *rateLimiter
	logger  *zap.Logger
}

// NewNominatim returns a new client. Close it when done to stop its rate limiter.
func NewNominatim(opts NominatimOptions, logger *zap.Logger) *Nominatim {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultNominatimURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "photocatalog"
	}
	if opts.Zoom == 0 {
		opts.Zoom = 10
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	lim := newRateLimiter(opts.RateLimit)
	return &Nominatim{
		opts:    opts,
		limiter: lim,
		logger:  logger,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: rateLimitedRoundTripper{
				RoundTripper: transport,
				limiter:      lim,
			},
		},
	}
}

// Close stops the client's rate limiter.
func (n *Nominatim) Close() error {
	n.limiter.stop()
	return nil
}

type nominatimResponse struct {
	Error       string `json:"error"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Address     struct {
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		Hamlet      string `json:"hamlet"`
		County      string `json:"county"`
		State       string `json:"state"`
		Region      string `json:"region"`
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

// ReverseGeocode implements Geocoder. Transport failures and server errors
// wrap ErrUnreachable; rejected or unresolvable coordinates do not.
func (n *Nominatim) ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return Place{}, err
	}

	qs := url.Values{
		"format":         {"jsonv2"},
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', -1, 64)},
		"zoom":           {strconv.Itoa(n.opts.Zoom)},
		"addressdetails": {"1"},
	}
	if n.opts.Language != "" {
		qs.Set("accept-language", n.opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.opts.BaseURL+"/reverse?"+qs.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", n.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Place{}, err
		}
		return Place{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Place{}, fmt.Errorf("%w: HTTP %d", ErrUnreachable, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Place{}, fmt.Errorf("geocoding (%v, %v): HTTP %d: %s", lat, lon, resp.StatusCode, body)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Place{}, fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != "" {
		return Place{}, fmt.Errorf("%w at (%v, %v): %s", ErrNoResult, lat, lon, result.Error)
	}

	place := Place{
		Name:        result.Name,
		DisplayName: result.DisplayName,
		City:        firstNonEmpty(result.Address.City, result.Address.Town, result.Address.Village, result.Address.Hamlet),
		County:      result.Address.County,
		State:       firstNonEmpty(result.Address.State, result.Address.Region),
		Country:     result.Address.Country,
		CountryCode: result.Address.CountryCode,
		Latitude:    lat,
		Longitude:   lon,
	}
	if plat, err := strconv.ParseFloat(result.Lat, 64); err == nil {
		place.Latitude = plat
	}
	if plon, err := strconv.ParseFloat(result.Lon, 64); err == nil {
		place.Longitude = plon
	}

	n.logger.Debug("resolved place",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.String("place", place.Key()))

	return place, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Geocoder = (*Nominatim)(nil)
