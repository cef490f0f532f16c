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

import "path"

// parseMacOS reads a document exported from the macOS Photos library.
// The camera and exposure fields live in a nested "exif_info" object;
// everything else is at the top level.
func parseMacOS(doc map[string]any) ParseResult {
	exifInfo, _ := object(doc, "exif_info")
	if exifInfo == nil {
		exifInfo = map[string]any{}
	}

	var rec Record

	rec.Camera.Make = stringPtr(exifInfo["camera_make"])
	rec.Camera.Model = stringPtr(exifInfo["camera_model"])
	rec.Camera.LensModel = stringPtr(exifInfo["lens_model"])
	rec.Camera.Software = stringPtr(exifInfo["software"])

	rec.Exposure.ExposureTime = floatPtr(exifInfo["shutter_speed"])
	rec.Exposure.FNumber = floatPtr(exifInfo["aperture"])
	rec.Exposure.ISO = intPtr(exifInfo["iso"])
	rec.Exposure.ExposureBias = floatPtr(exifInfo["exposure_bias"])
	rec.Exposure.FocalLength = floatPtr(exifInfo["focal_length"])
	rec.Exposure.FocalLength35mm = intPtr(exifInfo["focal_length_35mm"])
	rec.Exposure.Flash = boolPtr(exifInfo["flash_fired"])
	rec.Exposure.MeteringMode = intPtr(exifInfo["metering_mode"])
	rec.Exposure.WhiteBalance = intPtr(exifInfo["white_balance"])

	// the library's own location may have been edited by the
	// user, so it is preferred over what the camera recorded
	rec.Location.Latitude, rec.Location.Longitude = coordinates(doc["latitude"], doc["longitude"])
	if rec.Location.Latitude == nil {
		rec.Location.Latitude, rec.Location.Longitude = coordinates(exifInfo["latitude"], exifInfo["longitude"])
	}
	rec.Location.Altitude = floatPtr(exifInfo["altitude"])

	rec.DateTime.Taken = timePtr(doc["date"])
	rec.DateTime.Modified = timePtr(doc["date_modified"])
	if offset, ok := toInt(doc["tzoffset"]); ok {
		rec.DateTime.Offset = ptr(offsetString(offset))
	}

	rec.Image.Width = intPtr(doc["width"])
	rec.Image.Height = intPtr(doc["height"])
	rec.Image.Orientation = intPtr(doc["orientation"])

	rec.Video.Duration = floatPtr(exifInfo["duration"])
	rec.Video.FrameRate = floatPtr(exifInfo["fps"])
	rec.Video.Codec = stringPtr(exifInfo["codec"])
	if br, ok := toFloat(exifInfo["bit_rate"]); ok {
		rec.Video.BitRate = ptr(int64(br))
	}

	asset := Asset{
		ID:          stringPtr(doc["uuid"]),
		Fingerprint: stringPtr(doc["fingerprint"]),
		Filename:    stringPtr(doc["original_filename"]),
		Title:       stringPtr(doc["title"]),
		Description: stringPtr(doc["description"]),
		Tags:        toStrings(doc["keywords"]),
		Labels:      toStrings(doc["labels"]),
		Persons:     toStrings(doc["persons"]),
		Albums:      toStrings(doc["albums"]),
		Favorite:    boolPtr(doc["favorite"]),
		Hidden:      boolPtr(doc["hidden"]),
		Screenshot:  boolPtr(doc["screenshot"]),
		Panorama:    boolPtr(doc["panorama"]),
		LivePhoto:   boolPtr(doc["live_photo"]),
		Burst:       boolPtr(doc["burst"]),
	}
	if asset.Filename == nil {
		asset.Filename = stringPtr(doc["filename"])
	}

	for label, key := range map[string]string{
		"original": "path",
		"edited":   "path_edited",
		"live":     "path_live_photo",
	} {
		p, ok := toString(doc[key])
		if !ok {
			continue
		}
		if asset.Files == nil {
			asset.Files = make(map[string]AssetFile)
		}
		file := AssetFile{Path: p, Filename: path.Base(p), Type: stringValue(doc["uti"])}
		if label == "original" {
			if size, ok := toFloat(doc["original_filesize"]); ok {
				file.Size = ptr(int64(size))
			}
			file.Width, file.Height = rec.Image.Width, rec.Image.Height
			if asset.Filename != nil {
				file.Filename = *asset.Filename
			}
		} else {
			file.Type = ""
		}
		asset.Files[label] = file
	}

	return ParseResult{Record: rec, Asset: asset}
}

func stringValue(v any) string {
	s, _ := toString(v)
	return s
}
