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
	"encoding/base64"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"howett.net/plist"
)

// cloudRecord is one CloudKit-style record: an asset record holds the
// user-facing attributes, and a master record describes the original file.
// Exports nest fields under "<name>_record".fields, or flatten them
// into "<name>_fields".
type cloudRecord struct {
	name   string
	fields map[string]any
}

func loadCloudRecord(doc map[string]any, name string) cloudRecord {
	cr := cloudRecord{fields: map[string]any{}}
	if rec, ok := object(doc, name+"_record"); ok {
		cr.name, _ = toString(rec["recordName"])
		if flds, ok := object(rec, "fields"); ok {
			cr.fields = flds
		}
	} else if flds, ok := object(doc, name+"_fields"); ok {
		cr.fields = flds
	}
	return cr
}

// value returns the field's value. Fields are usually wrapped like
// {"value": ..., "type": "..."} but some exports store bare values.
func (cr cloudRecord) value(field string) any {
	v := cr.fields[field]
	if wrapped, ok := v.(map[string]any); ok {
		if inner, ok := wrapped["value"]; ok {
			return inner
		}
	}
	return v
}

// encodedString decodes a base64-encoded string field; if the field is
// not base64 of valid UTF-8 text, it is returned as-is.
func (cr cloudRecord) encodedString(field string) *string {
	s, ok := toString(cr.value(field))
	if !ok {
		return nil
	}
	if dec, err := base64.StdEncoding.DecodeString(s); err == nil && len(dec) > 0 && utf8.Valid(dec) {
		s = string(dec)
	}
	return &s
}

func parseICloud(doc map[string]any) ParseResult {
	asset := loadCloudRecord(doc, "asset")
	master := loadCloudRecord(doc, "master")

	var rec Record

	if ts, ok := toTime(asset.value("assetDate")); ok {
		if offset, ok := toInt(asset.value("timeZoneOffset")); ok {
			ts = ts.In(time.FixedZone("", offset))
			rec.DateTime.Offset = ptr(offsetString(offset))
		}
		rec.DateTime.Taken = &ts
	}
	rec.DateTime.Modified = timePtr(asset.value("modifiedDate"))

	rec.Image.Width = intPtr(master.value("resOriginalWidth"))
	rec.Image.Height = intPtr(master.value("resOriginalHeight"))
	rec.Image.Orientation = intPtr(asset.value("orientation"))
	if rec.Image.Orientation == nil {
		rec.Image.Orientation = intPtr(master.value("originalOrientation"))
	}

	rec.Video.Duration = floatPtr(asset.value("duration"))
	if rec.Video.Duration == nil {
		rec.Video.Duration = floatPtr(master.value("duration"))
	}

	if loc, err := decodeCloudLocation(asset.value("locationEnc")); err == nil {
		rec.Location = loc
	}

	result := Asset{
		Filename:  master.encodedString("filenameEnc"),
		Title:     asset.encodedString("captionEnc"),
		Favorite:  boolPtr(asset.value("isFavorite")),
		Hidden:    boolPtr(asset.value("isHidden")),
		Albums:    toStrings(doc["albums"]),
		Tags:      toStrings(doc["keywords"]),
		Persons:   toStrings(doc["persons"]),
	}
	if asset.name != "" {
		result.ID = &asset.name
	} else {
		result.ID = stringPtr(doc["id"])
	}

	// the checksum of the original resource identifies the content
	if res, ok := master.value("resOriginalRes").(map[string]any); ok {
		result.Fingerprint = stringPtr(res["fileChecksum"])
		file := AssetFile{
			Path:   stringValue(res["downloadURL"]),
			Type:   stringValue(master.value("resOriginalFileType")),
			Width:  rec.Image.Width,
			Height: rec.Image.Height,
		}
		if file.Type == "" {
			file.Type = stringValue(master.value("itemType"))
		}
		if size, ok := toFloat(res["size"]); ok {
			file.Size = ptr(int64(size))
		}
		if result.Filename != nil {
			file.Filename = *result.Filename
		}
		result.Files = map[string]AssetFile{"original": file}
	}
	if _, ok := master.value("resOriginalVidComplRes").(map[string]any); ok {
		result.LivePhoto = ptr(true)
	}

	return ParseResult{Record: rec, Asset: result}
}

// decodeCloudLocation decodes the location field, which is a base64-encoded
// property list (usually binary) with keys like "lat", "lon" and "alt".
func decodeCloudLocation(v any) (Location, error) {
	enc, ok := toString(v)
	if !ok {
		return Location{}, errors.New("no location")
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return Location{}, fmt.Errorf("decoding base64 location: %w", err)
	}
	var locFields map[string]any
	if _, err := plist.Unmarshal(raw, &locFields); err != nil {
		return Location{}, fmt.Errorf("decoding location property list: %w", err)
	}
	loc := Location{Altitude: floatPtr(locFields["alt"])}
	loc.Latitude, loc.Longitude = coordinates(locFields["lat"], locFields["lon"])
	if loc.Latitude == nil || loc.Longitude == nil {
		return Location{}, errors.New("incomplete coordinates in location")
	}
	return loc, nil
}
