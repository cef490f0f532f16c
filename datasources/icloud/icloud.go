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

// Package icloud implements a data source for photo records exported from
// the cloud photo service, as a folder or archive of record documents.
package icloud

import (
	"github.com/timelinize/photocatalog/catalog"
	"github.com/timelinize/photocatalog/datasources/exportdoc"
	"github.com/timelinize/photocatalog/metadata"
	"go.uber.org/zap"
)

func init() {
	err := catalog.RegisterDataSource(catalog.DataSource{
		Name:        "icloud",
		Title:       "iCloud Photos",
		Description: "Asset and master records downloaded from iCloud Photos.",
		NewImporter: func() catalog.Importer {
			return exportdoc.Importer{Format: metadata.FormatICloud, Prepare: prepare}
		},
	})
	if err != nil {
		catalog.Log.Fatal("registering data source", zap.Error(err))
	}
}

// prepare drops download URLs, which expire, as storage references.
func prepare(in *catalog.PhotoInput, _ metadata.ParseResult, _ string) {
	for i := range in.Versions {
		in.Versions[i].StorageRef = nil
	}
}
