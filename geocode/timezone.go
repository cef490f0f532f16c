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
	"fmt"

	"github.com/ringsaturn/tzf"
)

// TimezoneFinder looks up the IANA time zone name at a coordinate.
type TimezoneFinder interface {
	GetTimezoneName(lng, lat float64) string
}

// NewTimezoneFinder loads the default offline time zone boundaries.
func NewTimezoneFinder() (TimezoneFinder, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("loading time zone data: %w", err)
	}
	return finder, nil
}

// WithTimezones wraps g so that resolved places also carry the time zone
// at the queried coordinate, if g did not provide one.
func WithTimezones(g Geocoder, finder TimezoneFinder) Geocoder {
	return GeocoderFunc(func(ctx context.Context, lat, lon float64) (Place, error) {
		place, err := g.ReverseGeocode(ctx, lat, lon)
		if err != nil {
			return place, err
		}
		if place.Timezone == "" {
			place.Timezone = finder.GetTimezoneName(lon, lat)
		}
		return place, nil
	})
}
