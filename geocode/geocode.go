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

// Package geocode resolves coordinates to a place hierarchy.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Geocoder performs reverse geocoding. Implementations must be safe for
// concurrent use and should honor ctx.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error)
}

// GeocoderFunc adapts a function to the Geocoder interface.
type GeocoderFunc func(ctx context.Context, lat, lon float64) (Place, error)

func (f GeocoderFunc) ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error) {
	return f(ctx, lat, lon)
}

var (
	// ErrUnreachable means the geocoding service could not be
	// used at all; retrying other coordinates won't help.
	ErrUnreachable = errors.New("geocoder unreachable")

	// ErrBadCoordinate means the coordinates are not valid.
	ErrBadCoordinate = errors.New("malformed coordinate")

	// ErrNoResult means the service had no place for the coordinates.
	ErrNoResult = errors.New("no place found")
)

// Place is a resolved location hierarchy.
type Place struct {
	Name        string  `json:"name,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	City        string  `json:"city,omitempty"`
	County      string  `json:"county,omitempty"`
	State       string  `json:"state,omitempty"`
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
}

// Key returns the identity of the place used to aggregate photos by
// location: the city/state/country hierarchy, or the display name if
// the hierarchy is empty.
func (p Place) Key() string {
	var parts []string
	for _, part := range []string{p.City, p.State, p.Country} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		if p.DisplayName != "" {
			return p.DisplayName
		}
		return p.Name
	}
	return strings.Join(parts, ", ")
}

// ValidateCoordinates returns an error wrapping ErrBadCoordinate if
// lat and lon are not a usable coordinate pair.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: not a number (%v, %v)", ErrBadCoordinate, lat, lon)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude out of range: %v", ErrBadCoordinate, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude out of range: %v", ErrBadCoordinate, lon)
	}
	return nil
}
