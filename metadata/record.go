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

// Package metadata normalizes photo metadata from the various places it
// comes from (photo library exports, cloud exports, sidecar files, and
// the bytes of the media itself) into one canonical record, and merges
// multiple such sources under a fixed precedence.
package metadata

import (
	"math"
	"strconv"
	"time"
)

// Record is the canonical, source-independent shape of photo metadata.
// All fields are pointers: nil means the source did not supply a value,
// which is distinct from a zero value (an exposure bias of 0 is real).
type Record struct {
	// The source family the record was parsed from, if known.
	Format Format `json:"format,omitempty"`

	Camera   Camera   `json:"camera"`
	Exposure Exposure `json:"exposure"`
	Location Location `json:"location"`
	DateTime DateTime `json:"datetime"`
	Image    Image    `json:"image"`
	Video    Video    `json:"video"`

	// The raw source document, kept for debugging and for
	// fields that are not (yet) part of the canonical model.
	Raw map[string]any `json:"raw,omitempty"`
}

type Camera struct {
	Make      *string `json:"make,omitempty"`
	Model     *string `json:"model,omitempty"`
	LensMake  *string `json:"lens_make,omitempty"`
	LensModel *string `json:"lens_model,omitempty"`
	Software  *string `json:"software,omitempty"`
}

type Exposure struct {
	ExposureTime    *float64 `json:"exposure_time,omitempty"` // seconds
	FNumber         *float64 `json:"f_number,omitempty"`
	ISO             *int     `json:"iso,omitempty"`
	ExposureBias    *float64 `json:"exposure_bias,omitempty"`
	FocalLength     *float64 `json:"focal_length,omitempty"` // mm
	FocalLength35mm *int     `json:"focal_length_35mm,omitempty"`
	Flash           *bool    `json:"flash,omitempty"`
	MeteringMode    *int     `json:"metering_mode,omitempty"`
	WhiteBalance    *int     `json:"white_balance,omitempty"`
}

type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

type DateTime struct {
	Taken    *time.Time `json:"taken,omitempty"`
	Modified *time.Time `json:"modified,omitempty"`
	Offset   *string    `json:"offset,omitempty"` // like "-07:00"
}

type Image struct {
	Width       *int    `json:"width,omitempty"`
	Height      *int    `json:"height,omitempty"`
	Orientation *int    `json:"orientation,omitempty"`
	ColorSpace  *string `json:"color_space,omitempty"`
}

type Video struct {
	Duration  *float64 `json:"duration,omitempty"` // seconds
	FrameRate *float64 `json:"frame_rate,omitempty"`
	Codec     *string  `json:"codec,omitempty"`
	BitRate   *int64   `json:"bit_rate,omitempty"`
}

// Category is a group of related canonical fields.
type Category string

const (
	CategoryCamera   Category = "camera"
	CategoryExposure Category = "exposure"
	CategoryLocation Category = "location"
	CategoryDateTime Category = "datetime"
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
)

// Categories lists all categories in display order.
var Categories = []Category{
	CategoryCamera,
	CategoryExposure,
	CategoryLocation,
	CategoryDateTime,
	CategoryImage,
	CategoryVideo,
}

// fieldDef binds a canonical field to its category and a getter/setter pair.
// The getter returns nil if the field is unset; otherwise the dereferenced value.
type fieldDef struct {
	category Category
	name     string
	get      func(*Record) any
	set      func(*Record, any) bool
}

func (fd fieldDef) key() string { return string(fd.category) + "." + fd.name }

func def[T any](cat Category, name string, field func(*Record) **T) fieldDef {
	return fieldDef{
		category: cat,
		name:     name,
		get: func(r *Record) any {
			if p := *field(r); p != nil {
				return *p
			}
			return nil
		},
		set: func(r *Record, v any) bool {
			val, ok := v.(T)
			if ok {
				*field(r) = &val
			}
			return ok
		},
	}
}

// fields is the ordered table of every canonical field.
var fields = []fieldDef{
	def(CategoryCamera, "make", func(r *Record) **string { return &r.Camera.Make }),
	def(CategoryCamera, "model", func(r *Record) **string { return &r.Camera.Model }),
	def(CategoryCamera, "lens_make", func(r *Record) **string { return &r.Camera.LensMake }),
	def(CategoryCamera, "lens_model", func(r *Record) **string { return &r.Camera.LensModel }),
	def(CategoryCamera, "software", func(r *Record) **string { return &r.Camera.Software }),

	def(CategoryExposure, "exposure_time", func(r *Record) **float64 { return &r.Exposure.ExposureTime }),
	def(CategoryExposure, "f_number", func(r *Record) **float64 { return &r.Exposure.FNumber }),
	def(CategoryExposure, "iso", func(r *Record) **int { return &r.Exposure.ISO }),
	def(CategoryExposure, "exposure_bias", func(r *Record) **float64 { return &r.Exposure.ExposureBias }),
	def(CategoryExposure, "focal_length", func(r *Record) **float64 { return &r.Exposure.FocalLength }),
	def(CategoryExposure, "focal_length_35mm", func(r *Record) **int { return &r.Exposure.FocalLength35mm }),
	def(CategoryExposure, "flash", func(r *Record) **bool { return &r.Exposure.Flash }),
	def(CategoryExposure, "metering_mode", func(r *Record) **int { return &r.Exposure.MeteringMode }),
	def(CategoryExposure, "white_balance", func(r *Record) **int { return &r.Exposure.WhiteBalance }),

	def(CategoryLocation, "latitude", func(r *Record) **float64 { return &r.Location.Latitude }),
	def(CategoryLocation, "longitude", func(r *Record) **float64 { return &r.Location.Longitude }),
	def(CategoryLocation, "altitude", func(r *Record) **float64 { return &r.Location.Altitude }),

	def(CategoryDateTime, "taken", func(r *Record) **time.Time { return &r.DateTime.Taken }),
	def(CategoryDateTime, "modified", func(r *Record) **time.Time { return &r.DateTime.Modified }),
	def(CategoryDateTime, "offset", func(r *Record) **string { return &r.DateTime.Offset }),

	def(CategoryImage, "width", func(r *Record) **int { return &r.Image.Width }),
	def(CategoryImage, "height", func(r *Record) **int { return &r.Image.Height }),
	def(CategoryImage, "orientation", func(r *Record) **int { return &r.Image.Orientation }),
	def(CategoryImage, "color_space", func(r *Record) **string { return &r.Image.ColorSpace }),

	def(CategoryVideo, "duration", func(r *Record) **float64 { return &r.Video.Duration }),
	def(CategoryVideo, "frame_rate", func(r *Record) **float64 { return &r.Video.FrameRate }),
	def(CategoryVideo, "codec", func(r *Record) **string { return &r.Video.Codec }),
	def(CategoryVideo, "bit_rate", func(r *Record) **int64 { return &r.Video.BitRate }),
}

// Field is one populated canonical field.
type Field struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Group is the set of populated fields in one category.
type Group struct {
	Category Category `json:"category"`
	Fields   []Field  `json:"fields"`
}

// Group partitions the populated fields of r by category. Categories
// without any populated field are omitted. Order is stable.
func (r Record) Group() []Group {
	var groups []Group
	for _, cat := range Categories {
		var fs []Field
		for _, fd := range fields {
			if fd.category != cat {
				continue
			}
			if v := fd.get(&r); v != nil {
				fs = append(fs, Field{Name: fd.name, Value: v})
			}
		}
		if len(fs) > 0 {
			groups = append(groups, Group{Category: cat, Fields: fs})
		}
	}
	return groups
}

// FromGroups reconstructs a record from grouped fields. Unrecognized
// fields, or fields whose value has the wrong type, are ignored.
func FromGroups(groups []Group) Record {
	var r Record
	for _, g := range groups {
		for _, f := range g.Fields {
			for _, fd := range fields {
				if fd.category == g.Category && fd.name == f.Name {
					fd.set(&r, f.Value)
					break
				}
			}
		}
	}
	return r
}

// Empty returns true if no canonical field is populated.
func (r Record) Empty() bool {
	for _, fd := range fields {
		if fd.get(&r) != nil {
			return false
		}
	}
	return true
}

// FieldDiff is the comparison of one canonical field between two records.
type FieldDiff struct {
	Category Category `json:"category"`
	Name     string   `json:"name"`
	Equal    bool     `json:"equal"`

	// Value is set when both sides are equal.
	Value any `json:"value,omitempty"`

	// Left and Right are set when the sides differ;
	// a nil side means that record did not have the field.
	Left  any `json:"left,omitempty"`
	Right any `json:"right,omitempty"`
}

// Compare compares a and b field-by-field. Every field populated in
// at least one of the records is reported.
func Compare(a, b Record) []FieldDiff {
	var diffs []FieldDiff
	for _, fd := range fields {
		left, right := fd.get(&a), fd.get(&b)
		if left == nil && right == nil {
			continue
		}
		diff := FieldDiff{Category: fd.category, Name: fd.name}
		if valuesEqual(left, right) {
			diff.Equal = true
			diff.Value = left
		} else {
			diff.Left, diff.Right = left, right
		}
		diffs = append(diffs, diff)
	}
	return diffs
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return false
		}
		// sources disagree in the last few bits when one of them
		// stores a rational and the other a decimal
		return math.Abs(av-bv) <= 1e-9*math.Max(1, math.Max(math.Abs(av), math.Abs(bv)))
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return a == b
}

// Facts flattens the populated fields of r into facts attributed to source.
// Keys are "category.field", like "exposure.iso".
func (r Record) Facts(source Source) []Fact {
	var facts []Fact
	for _, fd := range fields {
		if v := fd.get(&r); v != nil {
			facts = append(facts, Fact{Key: fd.key(), Value: formatValue(v), Source: source})
		}
	}
	return facts
}

// formatValue string-encodes a canonical value.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	}
	return ""
}
