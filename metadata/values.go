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

package metadata

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseRational reduces a rational like "1/250" to a float. Plain
// decimal strings are also accepted. A zero denominator is not a value.
func ParseRational(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	num, den, isRat := strings.Cut(s, "/")
	if !isRat {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, false
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
	if err != nil || d == 0 {
		return 0, false
	}
	return n / d, true
}

// rationalFrom reduces a numerator/denominator pair.
func rationalFrom(num, den any) (float64, bool) {
	n, ok := toFloat(num)
	if !ok {
		return 0, false
	}
	d, ok := toFloat(den)
	if !ok || d == 0 {
		return 0, false
	}
	return n / d, true
}

// toFloat coerces the many shapes a number can arrive in. Rationals
// may be strings ("1/250"), objects ({"numerator": 1, "denominator": 250}
// or {"num": 1, "den": 250}) or two-element arrays.
func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint64:
		f = float64(val)
	case json.Number:
		return ParseRational(val.String())
	case string:
		return ParseRational(val)
	case []any:
		if len(val) != 2 {
			return 0, false
		}
		return rationalFrom(val[0], val[1])
	case map[string]any:
		for _, pair := range [][2]string{{"numerator", "denominator"}, {"num", "den"}, {"n", "d"}} {
			if n, ok := val[pair[0]]; ok {
				return rationalFrom(n, val[pair[1]])
			}
		}
		return 0, false
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		val = strings.TrimSpace(val)
		return val, val != ""
	case json.Number:
		return val.String(), true
	}
	return "", false
}

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "yes", "y":
				return true, true
			case "no", "n":
				return false, true
			}
			return false, false
		}
		return b, true
	}
	if f, ok := toFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

// timeLayouts are tried in order when a timestamp arrives as a string.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006:01:02 15:04:05-07:00",
	"2006:01:02 15:04:05", // EXIF
	"2006-01-02",
}

// toTime coerces a timestamp. Numbers are Unix epoch seconds, or
// milliseconds if they are too large to be seconds.
func toTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, !val.IsZero()
	case string:
		val = strings.TrimSpace(val)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, val); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	}
	f, ok := toFloat(v)
	if !ok || f == 0 {
		return time.Time{}, false
	}
	const maxEpochSeconds = 1e11 // sometime in the year 5138
	if math.Abs(f) > maxEpochSeconds {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Unix(int64(f), 0).UTC(), true
}

func toStrings(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, elem := range val {
			if s, ok := toString(elem); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		// some exports flatten lists into a comma-separated string
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
}

// offsetString formats a UTC offset in seconds like "-07:00".
func offsetString(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return string(sign) + leftPad(seconds/3600) + ":" + leftPad((seconds%3600)/60)
}

func leftPad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func ptr[T any](v T) *T { return &v }

// object returns doc[key] if it is a nested object.
func object(doc map[string]any, key string) (map[string]any, bool) {
	m, ok := doc[key].(map[string]any)
	return m, ok
}

func stringPtr(v any) *string {
	if s, ok := toString(v); ok {
		return &s
	}
	return nil
}

func floatPtr(v any) *float64 {
	if f, ok := toFloat(v); ok {
		return &f
	}
	return nil
}

func intPtr(v any) *int {
	if i, ok := toInt(v); ok {
		return &i
	}
	return nil
}

func boolPtr(v any) *bool {
	if b, ok := toBool(v); ok {
		return &b
	}
	return nil
}

func timePtr(v any) *time.Time {
	if ts, ok := toTime(v); ok {
		return &ts
	}
	return nil
}

// coordinate returns a valid latitude or longitude, treating out-of-range
// values as unset.
func coordinate(v any, limit float64) *float64 {
	f, ok := toFloat(v)
	if !ok || f < -limit || f > limit {
		return nil
	}
	return &f
}

// noLocation is what Apple exports for both coordinates of a photo
// without a location.
const noLocation = -180

// coordinates returns a latitude and longitude only as a valid pair.
func coordinates(lat, lon any) (*float64, *float64) {
	la, lo := coordinate(lat, 90), coordinate(lon, 180)
	if la == nil || lo == nil || *la == noLocation && *lo == noLocation {
		return nil, nil
	}
	return la, lo
}
