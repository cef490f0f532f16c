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

package catalog

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/timelinize/photocatalog/metadata"
)

// PhotoInput is an incoming photo record to reconcile with the catalog.
// Nil fields are "not supplied" and leave stored values unchanged; a
// nil list is not supplied, whereas an empty non-nil list is.
type PhotoInput struct {
	ID        string `json:"id"`
	LibraryID string `json:"library_id,omitempty"`
	OwnerID   string `json:"owner_id,omitempty"`

	Fingerprint *string    `json:"fingerprint,omitempty"`
	Filename    *string    `json:"filename,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Timezone    *string    `json:"timezone,omitempty"`
	Width       *int       `json:"width,omitempty"`
	Height      *int       `json:"height,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Altitude    *float64   `json:"altitude,omitempty"`

	Favorite   *bool `json:"favorite,omitempty"`
	Hidden     *bool `json:"hidden,omitempty"`
	Screenshot *bool `json:"screenshot,omitempty"`
	Panorama   *bool `json:"panorama,omitempty"`
	LivePhoto  *bool `json:"live_photo,omitempty"`
	Burst      *bool `json:"burst,omitempty"`

	Tags    []string `json:"tags,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Persons []string `json:"persons,omitempty"`

	// Names of albums in the photo's library to add the photo to.
	Albums []string `json:"albums,omitempty"`

	Versions []VersionInput `json:"versions,omitempty"`

	// Top-level keys are merged into the stored EXIF document.
	EXIF map[string]any `json:"exif,omitempty"`

	// Attributed facts to write to the metadata store.
	Facts []metadata.Fact `json:"facts,omitempty"`

	// A bulk JSON object, stored key by key under the legacy source.
	LegacyMetadata json.RawMessage `json:"legacy_metadata,omitempty"`
}

// VersionInput is one rendition supplied with a PhotoInput.
type VersionInput struct {
	Label      string  `json:"label"`
	StorageRef *string `json:"storage_ref,omitempty"`
	Filename   *string `json:"filename,omitempty"`
	Type       *string `json:"type,omitempty"`
	Width      *int    `json:"width,omitempty"`
	Height     *int    `json:"height,omitempty"`
	Size       *int64  `json:"size,omitempty"`
}

// ApplyMerged fills the input's unset fields from the merged view
// of metadata facts. Fields already set on the input are kept.
func (in *PhotoInput) ApplyMerged(m metadata.Merged) {
	if in.ID == "" {
		if id, ok := m.String(metadata.KeyID); ok {
			in.ID = id
		}
	}
	setIfNil(&in.Fingerprint, m.StringPtr(metadata.KeyFingerprint))
	setIfNil(&in.Filename, m.StringPtr(metadata.KeyFilename))
	setIfNil(&in.Title, m.StringPtr(metadata.KeyTitle))
	setIfNil(&in.Description, m.StringPtr(metadata.KeyDescription))
	setIfNil(&in.Favorite, m.BoolPtr(metadata.KeyFavorite))
	setIfNil(&in.Hidden, m.BoolPtr(metadata.KeyHidden))
	setIfNil(&in.Screenshot, m.BoolPtr(metadata.KeyScreenshot))
	setIfNil(&in.Panorama, m.BoolPtr(metadata.KeyPanorama))
	setIfNil(&in.LivePhoto, m.BoolPtr(metadata.KeyLivePhoto))
	setIfNil(&in.Burst, m.BoolPtr(metadata.KeyBurst))
	if in.Tags == nil {
		in.Tags = m.List(metadata.KeyTags)
	}
	if in.Labels == nil {
		in.Labels = m.List(metadata.KeyLabels)
	}
	if in.Persons == nil {
		in.Persons = m.List(metadata.KeyPersons)
	}
	if in.Albums == nil {
		in.Albums = m.List(metadata.KeyAlbums)
	}
	in.ApplyRecord(m.Record())
}

// ApplyRecord fills the input's unset scalar fields from a canonical record.
// Coordinates are only taken as a pair.
func (in *PhotoInput) ApplyRecord(rec metadata.Record) {
	setIfNil(&in.Timestamp, rec.DateTime.Taken)
	setIfNil(&in.Timezone, rec.DateTime.Offset)
	setIfNil(&in.Width, rec.Image.Width)
	setIfNil(&in.Height, rec.Image.Height)
	if in.Latitude == nil && in.Longitude == nil &&
		rec.Location.Latitude != nil && rec.Location.Longitude != nil {
		in.Latitude, in.Longitude = rec.Location.Latitude, rec.Location.Longitude
	}
	setIfNil(&in.Altitude, rec.Location.Altitude)
}

// ApplyAsset fills the input's unset fields from asset attributes, and
// adds a version for each file the asset references.
func (in *PhotoInput) ApplyAsset(a metadata.Asset) {
	if in.ID == "" && a.ID != nil {
		in.ID = strings.TrimSpace(*a.ID)
	}
	setIfNil(&in.Fingerprint, a.Fingerprint)
	setIfNil(&in.Filename, a.Filename)
	setIfNil(&in.Title, a.Title)
	setIfNil(&in.Description, a.Description)
	setIfNil(&in.Favorite, a.Favorite)
	setIfNil(&in.Hidden, a.Hidden)
	setIfNil(&in.Screenshot, a.Screenshot)
	setIfNil(&in.Panorama, a.Panorama)
	setIfNil(&in.LivePhoto, a.LivePhoto)
	setIfNil(&in.Burst, a.Burst)
	if in.Tags == nil {
		in.Tags = a.Tags
	}
	if in.Labels == nil {
		in.Labels = a.Labels
	}
	if in.Persons == nil {
		in.Persons = a.Persons
	}
	if in.Albums == nil {
		in.Albums = a.Albums
	}
	for _, label := range sortedKeys(a.Files) {
		f := a.Files[label]
		in.Versions = append(in.Versions, VersionInput{
			Label:      label,
			StorageRef: nonEmpty(f.Path),
			Filename:   nonEmpty(f.Filename),
			Type:       nonEmpty(f.Type),
			Width:      f.Width,
			Height:     f.Height,
			Size:       f.Size,
		})
	}
}

// InputFromParseResult builds an input from a parsed export document.
// All of the document's facts are attributed to its source, and the
// camera section of a photo library document becomes the EXIF data.
func InputFromParseResult(pr metadata.ParseResult) PhotoInput {
	in := PhotoInput{Facts: pr.Facts()}
	in.ApplyAsset(pr.Asset)
	in.ApplyRecord(pr.Record)
	if exif, ok := pr.Record.Raw["exif_info"].(map[string]any); ok && len(exif) > 0 {
		in.EXIF = exif
	}
	return in
}

func setIfNil[T any](dst **T, v *T) {
	if *dst == nil && v != nil {
		*dst = v
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
