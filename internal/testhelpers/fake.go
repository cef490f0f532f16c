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

// Package testhelpers generates plausible fake data for tests.
package testhelpers

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/timelinize/photocatalog/geocode"
)

// Faker generates reproducible fake photo attributes.
type Faker struct {
	f *gofakeit.Faker
}

// NewFaker returns a faker whose output is determined by seed.
func NewFaker(seed uint64) *Faker {
	return &Faker{f: gofakeit.New(seed)}
}

// ID returns a random photo identifier.
func (fk *Faker) ID() string { return fk.f.UUID() }

// Fingerprint returns a random hex content fingerprint.
func (fk *Faker) Fingerprint() string { return fk.f.HexUint(256) }

// Filename returns a camera-style file name like IMG_1234.JPG.
func (fk *Faker) Filename() string { return fk.f.Numerify("IMG_####.JPG") }

// Coordinate returns a valid latitude and longitude.
func (fk *Faker) Coordinate() (float64, float64) {
	return fk.f.Latitude(), fk.f.Longitude()
}

// Taken returns a capture time within the last ten years of 2025, in UTC,
// truncated to millisecond precision so it survives storage unchanged.
func (fk *Faker) Taken() time.Time {
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return fk.f.DateRange(end.AddDate(-10, 0, 0), end).UTC().Truncate(time.Millisecond)
}

// Tags returns between 1 and n distinct words.
func (fk *Faker) Tags(n int) []string {
	count := fk.f.Number(1, max(1, n))
	seen := make(map[string]bool)
	var tags []string
	for len(tags) < count {
		w := fk.f.Word()
		if !seen[w] {
			seen[w] = true
			tags = append(tags, w)
		}
	}
	return tags
}

// Place returns a place with a full city/state/country hierarchy.
func (fk *Faker) Place() geocode.Place {
	lat, lon := fk.Coordinate()
	return geocode.Place{
		City:        fk.f.City(),
		State:       fk.f.State(),
		Country:     fk.f.Country(),
		CountryCode: fk.f.CountryAbr(),
		Latitude:    lat,
		Longitude:   lon,
	}
}

// Geocoder is a fake geocoder that resolves coordinates from a fixed table.
// Unknown coordinates yield geocode.ErrNoResult. It is safe for concurrent use.
type Geocoder struct {
	mu     sync.Mutex
	places map[[2]float64]geocode.Place
	calls  int

	// If set, every lookup fails with an error wrapping geocode.ErrUnreachable.
	Unreachable bool

	// Lookups with these call numbers (counting from 1) fail
	// with an error wrapping geocode.ErrUnreachable.
	UnreachableCalls []int
}

// NewGeocoder returns an empty fake geocoder.
func NewGeocoder() *Geocoder {
	return &Geocoder{places: make(map[[2]float64]geocode.Place)}
}

// Set makes lat, lon resolve to place.
func (g *Geocoder) Set(lat, lon float64, place geocode.Place) {
	g.mu.Lock()
	g.places[[2]float64{lat, lon}] = place
	g.mu.Unlock()
}

// Calls returns the number of lookups performed.
func (g *Geocoder) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *Geocoder) ReverseGeocode(_ context.Context, lat, lon float64) (geocode.Place, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.Unreachable || slices.Contains(g.UnreachableCalls, g.calls) {
		return geocode.Place{}, fmt.Errorf("%w: connection refused", geocode.ErrUnreachable)
	}
	if err := geocode.ValidateCoordinates(lat, lon); err != nil {
		return geocode.Place{}, err
	}
	place, ok := g.places[[2]float64{lat, lon}]
	if !ok {
		return geocode.Place{}, fmt.Errorf("%w at (%v, %v)", geocode.ErrNoResult, lat, lon)
	}
	return place, nil
}

var _ geocode.Geocoder = (*Geocoder)(nil)
