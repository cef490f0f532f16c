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
	"sort"
	"strconv"
	"time"
)

// Source names the producer of a metadata fact.
type Source string

const (
	SourceSidecar   Source = "sidecar"   // per-asset override document
	SourceDirectory Source = "directory" // directory-wide defaults
	SourceMacOS     Source = "macos"     // sync origin: macOS photo library
	SourceICloud    Source = "icloud"    // sync origin: cloud photo service
	SourceEXIF      Source = "exif"      // extracted from the media bytes
	SourceLegacy    Source = "legacy"    // bulk metadata without attribution
)

// Precedence is the fixed order in which sources win when they define
// the same key: earlier beats later. Sources not in this list rank
// after all named sources except SourceLegacy, which is always last.
var Precedence = []Source{
	SourceSidecar,
	SourceDirectory,
	SourceMacOS,
	SourceICloud,
	SourceEXIF,
	SourceLegacy,
}

// Rank returns the precedence rank of src; lower wins.
func Rank(src Source) int {
	for i, s := range Precedence {
		if s == src {
			return i * 2
		}
	}
	// unknown sources go between the last named source and legacy
	return (len(Precedence)-1)*2 - 1
}

// Fact is one piece of metadata about a photo, attributed to its source.
type Fact struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Source Source `json:"source"`
}

// Merged is the result of merging facts from multiple sources.
type Merged struct {
	// Facts has one entry per (key, source), ordered by
	// source precedence and then by key. These are all
	// the rows that should persist in the store.
	Facts []Fact `json:"facts"`

	// View is the highest-priority fact for each key.
	View map[string]Fact `json:"view"`
}

// Merge combines facts from any number of sources. If the same source
// supplies the same key more than once, the last one wins; across
// sources, Precedence decides what appears in the view.
func Merge(sets ...[]Fact) Merged {
	type keySource struct {
		key    string
		source Source
	}
	index := make(map[keySource]int)
	var all []Fact
	for _, set := range sets {
		for _, f := range set {
			if f.Key == "" {
				continue
			}
			ks := keySource{f.Key, f.Source}
			if i, ok := index[ks]; ok {
				all[i] = f
				continue
			}
			index[ks] = len(all)
			all = append(all, f)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		ri, rj := Rank(all[i].Source), Rank(all[j].Source)
		if ri != rj {
			return ri < rj
		}
		if all[i].Source != all[j].Source {
			return all[i].Source < all[j].Source
		}
		return all[i].Key < all[j].Key
	})

	view := make(map[string]Fact, len(all))
	for _, f := range all {
		if _, ok := view[f.Key]; !ok {
			view[f.Key] = f
		}
	}

	return Merged{Facts: all, View: view}
}

// String returns the merged value for key.
func (m Merged) String(key string) (string, bool) {
	f, ok := m.View[key]
	if !ok || f.Value == "" {
		return "", false
	}
	return f.Value, true
}

func (m Merged) StringPtr(key string) *string {
	if s, ok := m.String(key); ok {
		return &s
	}
	return nil
}

func (m Merged) FloatPtr(key string) *float64 {
	if s, ok := m.String(key); ok {
		if f, ok := ParseRational(s); ok {
			return &f
		}
	}
	return nil
}

func (m Merged) IntPtr(key string) *int {
	if s, ok := m.String(key); ok {
		return intPtr(s)
	}
	return nil
}

func (m Merged) BoolPtr(key string) *bool {
	if s, ok := m.String(key); ok {
		if b, err := strconv.ParseBool(s); err == nil {
			return &b
		}
	}
	return nil
}

func (m Merged) TimePtr(key string) *time.Time {
	if s, ok := m.String(key); ok {
		return timePtr(s)
	}
	return nil
}

// List decodes a list value, which is either a JSON array
// or a comma-separated string.
func (m Merged) List(key string) []string {
	s, ok := m.String(key)
	if !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return list
	}
	return toStrings(s)
}

// Record reconstructs the canonical record from the merged view.
func (m Merged) Record() Record {
	var r Record
	for _, fd := range fields {
		s, ok := m.String(fd.key())
		if !ok {
			continue
		}
		if v := parseLike(fd, s); v != nil {
			fd.set(&r, v)
		}
	}
	return r
}

// parseLike parses s into the Go type of the canonical field fd.
func parseLike(fd fieldDef, s string) any {
	// probe the field's type by setting a value of each kind
	var probe Record
	switch {
	case fd.set(&probe, ""):
		return s
	case fd.set(&probe, float64(0)):
		if f, ok := ParseRational(s); ok {
			return f
		}
	case fd.set(&probe, 0):
		if i, ok := toInt(s); ok {
			return i
		}
	case fd.set(&probe, int64(0)):
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	case fd.set(&probe, false):
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case fd.set(&probe, time.Time{}):
		if ts, ok := toTime(s); ok {
			return ts
		}
	}
	return nil
}

// keyAliases maps the plain names people tend to use in hand-written
// documents to canonical fact keys.
var keyAliases = map[string]string{
	"make":          "camera.make",
	"camera_make":   "camera.make",
	"model":         "camera.model",
	"camera_model":  "camera.model",
	"lens":          "camera.lens_model",
	"lens_model":    "camera.lens_model",
	"iso":           "exposure.iso",
	"aperture":      "exposure.f_number",
	"f_number":      "exposure.f_number",
	"exposure_time": "exposure.exposure_time",
	"shutter_speed": "exposure.exposure_time",
	"exposure_bias": "exposure.exposure_bias",
	"focal_length":  "exposure.focal_length",
	"flash":         "exposure.flash",
	"latitude":      "location.latitude",
	"longitude":     "location.longitude",
	"altitude":      "location.altitude",
	"timestamp":     "datetime.taken",
	"date":          "datetime.taken",
	"width":         "image.width",
	"height":        "image.height",
	"orientation":   "image.orientation",
	"duration":      "video.duration",
	"keywords":      KeyTags,
}

// CanonicalKey maps well-known aliases to canonical fact keys;
// other keys are returned unchanged.
func CanonicalKey(key string) string {
	if canon, ok := keyAliases[key]; ok {
		return canon
	}
	return key
}
