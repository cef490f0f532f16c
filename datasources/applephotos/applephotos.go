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

// Package applephotos implements a data source for metadata exported
// from a macOS photo library (osxphotos-style JSON or property lists).
package applephotos

import (
	"path/filepath"
	"strings"

	"github.com/timelinize/photocatalog/catalog"
	"github.com/timelinize/photocatalog/datasources/exportdoc"
	"github.com/timelinize/photocatalog/metadata"
	"go.uber.org/zap"
)

func init() {
	err := catalog.RegisterDataSource(catalog.DataSource{
		Name:        "apple_photos",
		Title:       "Apple Photos",
		Description: "Metadata exported from a Photos library on a Mac.",
		NewImporter: func() catalog.Importer {
			return exportdoc.Importer{Format: metadata.FormatMacOS, Prepare: prepare}
		},
	})
	if err != nil {
		catalog.Log.Fatal("registering data source", zap.Error(err))
	}
}

// prepare turns file paths of the library's renditions into storage
// references. Relative paths are relative to the document's folder.
func prepare(in *catalog.PhotoInput, _ metadata.ParseResult, docPath string) {
	for i, v := range in.Versions {
		if v.StorageRef == nil {
			continue
		}
		ref := StorageRef(*v.StorageRef, docPath)
		in.Versions[i].StorageRef = &ref
	}
}

// StorageRef returns the storage reference for a rendition path from a
// document at docPath.
func StorageRef(p, docPath string) string {
	if strings.Contains(p, "://") {
		return p
	}
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(filepath.FromSlash(docPath)), p)
	}
	return "file://" + filepath.ToSlash(p)
}
