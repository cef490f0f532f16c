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
	"net/http"
	"time"
)

// RateLimit describes a rate limit.
type RateLimit struct {
	RequestsPerHour int `json:"requests_per_hour,omitempty"`
	BurstSize       int `json:"burst_size,omitempty"`
}

// rateLimiter hands out tokens at a fixed interval.
type rateLimiter struct {
	ticker *time.Ticker
	token  chan struct{}
	done   chan struct{}
}

// newRateLimiter starts a limiter for rl, or returns nil if rl is unlimited.
func newRateLimiter(rl RateLimit) *rateLimiter {
	if rl.RequestsPerHour <= 0 {
		return nil
	}

	secondsBetweenReqs := 60.0 / (float64(rl.RequestsPerHour) / 60.0)
	millisBetweenReqs := secondsBetweenReqs * 1000.0
	reqInterval := time.Duration(millisBetweenReqs) * time.Millisecond
	if reqInterval < minInterval {
		reqInterval = minInterval
	}

	burst := rl.BurstSize
	if burst < 1 {
		burst = 1
	}

	lim := &rateLimiter{
		ticker: time.NewTicker(reqInterval),
		token:  make(chan struct{}, burst),
		done:   make(chan struct{}),
	}
	for range cap(lim.token) {
		lim.token <- struct{}{}
	}
	go func() {
		for {
			select {
			case <-lim.done:
				return
			case <-lim.ticker.C:
				select {
				case lim.token <- struct{}{}:
				default: // bucket is full
				}
			}
		}
	}()

	return lim
}

func (lim *rateLimiter) stop() {
	if lim == nil {
		return
	}
	lim.ticker.Stop()
	close(lim.done)
}

type rateLimitedRoundTripper struct {
	http.RoundTripper
	limiter *rateLimiter
}

func (rt rateLimitedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.limiter != nil {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-rt.limiter.token:
		}
	}
	return rt.RoundTripper.RoundTrip(req)
}

const minInterval = 100 * time.Millisecond
