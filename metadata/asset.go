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
	"strconv"
)

// Asset holds the catalog-level attributes of a photo as described by
// a source document: identity, captions, membership lists and flags.
// These are not camera metadata, so they are kept apart from Record.
type Asset struct {
	ID          *string `json:"id,omitempty"`
	Fingerprint *string `json:"fingerprint,omitempty"`
	Filename    *string `json:"filename,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`

	Tags    []string `json:"tags,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Persons []string `json:"persons,omitempty"`
	Albums  []string `json:"albums,omitempty"`

	Favorite   *bool `json:"favorite,omitempty"`
	Hidden     *bool `json:"hidden,omitempty"`
	Screenshot *bool `json:"screenshot,omitempty"`
	Panorama   *bool `json:"panorama,omitempty"`
	LivePhoto  *bool `json:"live_photo,omitempty"`
	Burst      *bool `json:"burst,omitempty"`

	// Files is keyed by version label ("original", "edited", "live").
	Files map[string]AssetFile `json:"files,omitempty"`
}

// AssetFile is a rendition of an asset referenced by a source document.
type AssetFile struct {
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
	Type     string `json:"type,omitempty"`
	Size     *int64 `json:"size,omitempty"`
	Width    *int   `json:"width,omitempty"`
	Height   *int   `json:"height,omitempty"`
}

// Asset-level fact keys.
const (
	KeyID          = "id"
	KeyFingerprint = "fingerprint"
	KeyFilename    = "filename"
	KeyTitle       = "title"
	KeyDescription = "description"
	KeyTags        = "tags"
	KeyLabels      = "labels"
	KeyPersons     = "persons"
	KeyAlbums      = "albums"
	KeyFavorite    = "favorite"
	KeyHidden      = "hidden"
	KeyScreenshot  = "screenshot"
	KeyPanorama    = "panorama"
	KeyLivePhoto   = "live_photo"
	KeyBurst       = "burst"
)

// Facts flattens the asset attributes into facts attributed to source.
// Lists are JSON-encoded.
func (a Asset) Facts(source Source) []Fact {
	var facts []Fact
	str := func(key string, v *string) {
		if v != nil {
			facts = append(facts, Fact{Key: key, Value: *v, Source: source})
		}
	}
	list := func(key string, v []string) {
		if len(v) > 0 {
			enc, _ := json.Marshal(v)
			facts = append(facts, Fact{Key: key, Value: string(enc), Source: source})
		}
	}
	flag := func(key string, v *bool) {
		if v != nil {
			facts = append(facts, Fact{Key: key, Value: strconv.FormatBool(*v), Source: source})
		}
	}

	str(KeyID, a.ID)
	str(KeyFingerprint, a.Fingerprint)
	str(KeyFilename, a.Filename)
	str(KeyTitle, a.Title)
	str(KeyDescription, a.Description)
	list(KeyTags, a.Tags)
	list(KeyLabels, a.Labels)
	list(KeyPersons, a.Persons)
	list(KeyAlbums, a.Albums)
	flag(KeyFavorite, a.Favorite)
	flag(KeyHidden, a.Hidden)
	flag(KeyScreenshot, a.Screenshot)
	flag(KeyPanorama, a.Panorama)
	flag(KeyLivePhoto, a.LivePhoto)
	flag(KeyBurst, a.Burst)

	return facts
}
