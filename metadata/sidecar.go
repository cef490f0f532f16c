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
	"fmt"
	"sort"
	"strconv"
)

// Sidecar is a per-asset override document stored next to the media file.
type Sidecar struct {
	ID          string   `json:"id,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Filename    string   `json:"filename,omitempty"`
	Timestamp   any      `json:"timestamp,omitempty"`
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Persons     []string `json:"persons,omitempty"`
	Albums      []string `json:"albums,omitempty"`

	Favorite   *bool `json:"favorite,omitempty"`
	Hidden     *bool `json:"hidden,omitempty"`
	Screenshot *bool `json:"screenshot,omitempty"`
	Panorama   *bool `json:"panorama,omitempty"`

	Width     *int     `json:"width,omitempty"`
	Height    *int     `json:"height,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`

	EXIF *SidecarEXIF `json:"exif,omitempty"`
}

// SidecarEXIF is the nested camera and exposure object of a sidecar.
// Numeric fields may be numbers, decimal strings, or rationals.
type SidecarEXIF struct {
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	LensMake     string `json:"lens_make,omitempty"`
	LensModel    string `json:"lens_model,omitempty"`
	ISO          any    `json:"iso,omitempty"`
	Aperture     any    `json:"aperture,omitempty"`
	ExposureTime any    `json:"exposure_time,omitempty"`
	ExposureBias any    `json:"exposure_bias,omitempty"`
	FocalLength  any    `json:"focal_length,omitempty"`
	Flash        any    `json:"flash,omitempty"`
}

// ParseSidecar decodes a sidecar document.
func ParseSidecar(data []byte) (Sidecar, error) {
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return Sidecar{}, fmt.Errorf("decoding sidecar: %w", err)
	}
	return sc, nil
}

// Asset returns the catalog-level attributes in the sidecar.
func (sc Sidecar) Asset() Asset {
	return Asset{
		ID:          stringPtr(sc.ID),
		Fingerprint: stringPtr(sc.Fingerprint),
		Filename:    stringPtr(sc.Filename),
		Title:       sc.Title,
		Description: sc.Description,
		Tags:        sc.Tags,
		Labels:      sc.Labels,
		Persons:     sc.Persons,
		Albums:      sc.Albums,
		Favorite:    sc.Favorite,
		Hidden:      sc.Hidden,
		Screenshot:  sc.Screenshot,
		Panorama:    sc.Panorama,
	}
}

// Record returns the canonical metadata in the sidecar.
func (sc Sidecar) Record() Record {
	rec := Record{Format: FormatSidecar}
	rec.DateTime.Taken = timePtr(sc.Timestamp)
	rec.Image.Width = sc.Width
	rec.Image.Height = sc.Height
	if sc.Latitude != nil && sc.Longitude != nil {
		rec.Location.Latitude, rec.Location.Longitude = coordinates(*sc.Latitude, *sc.Longitude)
	}
	rec.Location.Altitude = sc.Altitude
	if sc.EXIF != nil {
		rec.Camera.Make = stringPtr(sc.EXIF.Make)
		rec.Camera.Model = stringPtr(sc.EXIF.Model)
		rec.Camera.LensMake = stringPtr(sc.EXIF.LensMake)
		rec.Camera.LensModel = stringPtr(sc.EXIF.LensModel)
		rec.Exposure.ISO = intPtr(sc.EXIF.ISO)
		rec.Exposure.FNumber = floatPtr(sc.EXIF.Aperture)
		rec.Exposure.ExposureTime = floatPtr(sc.EXIF.ExposureTime)
		rec.Exposure.ExposureBias = floatPtr(sc.EXIF.ExposureBias)
		rec.Exposure.FocalLength = floatPtr(sc.EXIF.FocalLength)
		rec.Exposure.Flash = boolPtr(sc.EXIF.Flash)
	}
	return rec
}

// Facts returns all facts in the sidecar, attributed to SourceSidecar.
func (sc Sidecar) Facts() []Fact {
	return append(sc.Asset().Facts(SourceSidecar), sc.Record().Facts(SourceSidecar)...)
}

// DirectoryDefaults is a flat document of key/value pairs that apply to
// every asset in a directory unless an asset overrides them.
type DirectoryDefaults map[string]any

// ParseDirectoryDefaults decodes a directory-wide default document.
func ParseDirectoryDefaults(data []byte) (DirectoryDefaults, error) {
	var dd DirectoryDefaults
	if err := json.Unmarshal(data, &dd); err != nil {
		return nil, fmt.Errorf("decoding directory defaults: %w", err)
	}
	return dd, nil
}

// Facts returns the defaults as facts attributed to SourceDirectory.
// Well-known aliases are mapped to canonical keys so they line up
// with facts from other sources; nested values are JSON-encoded.
// Identity keys are skipped since one value cannot identify every
// asset in a directory.
func (dd DirectoryDefaults) Facts() []Fact {
	keys := make([]string, 0, len(dd))
	for k := range dd {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	facts := make([]Fact, 0, len(dd))
	for _, k := range keys {
		key := CanonicalKey(k)
		if key == KeyID || key == KeyFingerprint || key == KeyFilename {
			continue
		}
		val, ok := encodeDefault(dd[k])
		if !ok {
			continue
		}
		facts = append(facts, Fact{Key: key, Value: val, Source: SourceDirectory})
	}
	return facts
}

func encodeDefault(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, val != ""
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	}
	enc, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(enc), true
}
