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
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/abema/go-mp4"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	"go.uber.org/zap"
)

// ErrNoMetadata is returned when a file has no metadata we can read.
var ErrNoMetadata = errors.New("no embedded metadata")

// Extract reads embedded metadata from the bytes of a media file,
// choosing the reader by file extension.
func Extract(logger *zap.Logger, filename string, data []byte) (Record, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".mp4", ".m4v", ".mov", ".3gp":
		return ExtractMP4(bytes.NewReader(data))
	case ".jpg", ".jpeg", ".jpe", ".heic", ".heif", ".tif", ".tiff", ".dng", ".png":
		return ExtractEXIF(logger, bytes.NewReader(data))
	}
	return Record{}, ErrNoMetadata
}

type exifWalkerFunc func(exif.FieldName, *tiff.Tag) error

func (w exifWalkerFunc) Walk(name exif.FieldName, tag *tiff.Tag) error {
	return w(name, tag)
}

// ExtractEXIF decodes EXIF data from r into a canonical record.
// All tags are also kept in the record's raw document.
func ExtractEXIF(logger *zap.Logger, r io.Reader) (Record, error) {
	ex, err := exif.Decode(r)
	if err != nil && (ex == nil || exif.IsCriticalError(err)) {
		return Record{}, fmt.Errorf("%w: decoding exif: %w", ErrNoMetadata, err)
	}

	rec := Record{Format: FormatEXIF}

	rec.Camera.Make = exifString(ex, exif.Make)
	rec.Camera.Model = exifString(ex, exif.Model)
	rec.Camera.LensMake = exifString(ex, exif.LensMake)
	rec.Camera.LensModel = exifString(ex, exif.LensModel)
	rec.Camera.Software = exifString(ex, exif.Software)

	rec.Exposure.ExposureTime = exifRational(ex, exif.ExposureTime)
	rec.Exposure.FNumber = exifRational(ex, exif.FNumber)
	rec.Exposure.ISO = exifInt(ex, exif.ISOSpeedRatings)
	rec.Exposure.ExposureBias = exifRational(ex, exif.ExposureBiasValue)
	rec.Exposure.FocalLength = exifRational(ex, exif.FocalLength)
	rec.Exposure.FocalLength35mm = exifInt(ex, exif.FocalLengthIn35mmFilm)
	if flash := exifInt(ex, exif.Flash); flash != nil {
		// lowest bit is "flash fired"
		rec.Exposure.Flash = ptr(*flash&1 == 1)
	}
	rec.Exposure.MeteringMode = exifInt(ex, exif.MeteringMode)
	rec.Exposure.WhiteBalance = exifInt(ex, exif.WhiteBalance)

	if lat, lon, err := ex.LatLong(); err == nil {
		rec.Location.Latitude, rec.Location.Longitude = coordinates(lat, lon)
	}
	if alt := exifRational(ex, exif.GPSAltitude); alt != nil {
		if ref := exifInt(ex, exif.GPSAltitudeRef); ref != nil && *ref == 1 {
			*alt = -*alt // below sea level
		}
		rec.Location.Altitude = alt
	}

	if ts, err := ex.DateTime(); err == nil {
		rec.DateTime.Taken = &ts
	}

	rec.Image.Width = exifInt(ex, exif.PixelXDimension)
	rec.Image.Height = exifInt(ex, exif.PixelYDimension)
	rec.Image.Orientation = exifInt(ex, exif.Orientation)
	if cs := exifInt(ex, exif.ColorSpace); cs != nil {
		switch *cs {
		case 1:
			rec.Image.ColorSpace = ptr("sRGB")
		case 0xFFFF:
			rec.Image.ColorSpace = ptr("Uncalibrated")
		}
	}

	raw := make(map[string]any)
	err = ex.Walk(exifWalkerFunc(func(name exif.FieldName, tag *tiff.Tag) error {
		switch tag.Format() {
		case tiff.IntVal, tiff.FloatVal, tiff.RatVal, tiff.StringVal:
			raw[string(name)] = strings.Trim(tag.String(), `"`)
		default:
			logger.Debug("skipping opaque EXIF field",
				zap.String("name", string(name)),
				zap.Int("length", len(tag.Val)))
		}
		return nil
	}))
	if err != nil {
		logger.Warn("walking EXIF fields", zap.Error(err))
	}
	rec.Raw = raw

	return rec, nil
}

func exifString(ex *exif.Exif, name exif.FieldName) *string {
	tag, err := ex.Get(name)
	if err != nil {
		return nil
	}
	s, err := tag.StringVal()
	if err != nil {
		return nil
	}
	return stringPtr(strings.TrimRight(s, "\x00"))
}

func exifInt(ex *exif.Exif, name exif.FieldName) *int {
	tag, err := ex.Get(name)
	if err != nil {
		return nil
	}
	i, err := tag.Int(0)
	if err != nil {
		return nil
	}
	return &i
}

// exifRational reduces a (signed) rational tag; a zero denominator
// leaves the field unset.
func exifRational(ex *exif.Exif, name exif.FieldName) *float64 {
	tag, err := ex.Get(name)
	if err != nil {
		return nil
	}
	num, den, err := tag.Rat2(0)
	if err != nil {
		return nil
	}
	f, ok := rationalFrom(num, den)
	if !ok {
		return nil
	}
	return &f
}

// ExtractMP4 reads the movie and track headers of an ISO BMFF container.
func ExtractMP4(rs io.ReadSeeker) (Record, error) {
	rec := Record{Format: FormatMP4}
	raw := make(map[string]any)

	_, err := mp4.ReadBoxStructure(rs, func(h *mp4.ReadHandle) (any, error) {
		if !h.BoxInfo.IsSupportedType() || h.BoxInfo.Type.String() == "mdat" {
			return nil, nil
		}
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, fmt.Errorf("reading payload from handle: %w", err)
		}

		switch b := box.(type) {
		case *mp4.Ftyp:
			raw["major_brand"] = string(b.MajorBrand[:])

		case *mp4.Mvhd:
			if creationTime := b.GetCreationTime(); creationTime != 0 {
				if ts := isoIEC14496Timestamp(creationTime); !ts.IsZero() {
					rec.DateTime.Taken = &ts
				}
			}
			if modifTime := b.GetModificationTime(); modifTime != 0 {
				if ts := isoIEC14496Timestamp(modifTime); !ts.IsZero() {
					rec.DateTime.Modified = &ts
				}
			}
			if b.Timescale > 0 {
				rec.Video.Duration = ptr(float64(b.GetDuration()) / float64(b.Timescale))
			}
			raw["rate"] = b.GetRate()

		case *mp4.Tkhd:
			// audio tracks have no dimensions
			if width, height := b.GetWidthInt(), b.GetHeightInt(); width > 0 && height > 0 && rec.Image.Width == nil {
				w, h := int(width), int(height)
				rec.Image.Width, rec.Image.Height = &w, &h
			}
		}

		return h.Expand()
	})
	if err != nil {
		return Record{}, fmt.Errorf("%w: reading mp4 boxes: %w", ErrNoMetadata, err)
	}

	rec.Raw = raw
	return rec, nil
}

// seconds between 1904-01-01 and 1970-01-01
const isoIEC14496EpochToUnixEpochSeconds = 2082844800

// isoIEC14496Timestamp converts the number of seconds since January 1, 1904
// (ISO/IEC 14496-12) to a time.Time.
func isoIEC14496Timestamp(ts uint64) time.Time {
	if ts <= isoIEC14496EpochToUnixEpochSeconds {
		return time.Time{}
	}
	return time.Unix(int64(ts-isoIEC14496EpochToUnixEpochSeconds), 0).UTC() //nolint:gosec
}
