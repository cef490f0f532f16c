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
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/timelinize/photocatalog/metadata"
	"github.com/timelinize/photocatalog/objstore"
	"go.uber.org/zap"
)

// DataSource has information about a source of photos that can be registered.
type DataSource struct {
	// A snake_cased name of the source that uniquely
	// identifies it from all others.
	Name string `json:"name"`

	// The human-readable name of the source.
	Title string `json:"title"`

	// Information that will help the user when choosing a data source.
	Description string `json:"description,omitempty"`

	NewImporter func() Importer `json:"-"`
}

// Importer reads photos from an export or folder and emits one
// PhotoInput per asset. Import should return the first error returned
// by emit; any other error aborts the import.
type Importer interface {
	Import(ctx context.Context, params ImportParams, emit func(PhotoInput) error) error
}

// ImportParams describes what to import and where bytes go.
type ImportParams struct {
	// The file or folder to import from.
	Path string

	// Document format hint; empty means detect.
	Format metadata.Format

	// Where to store media bytes, if the importer copies any.
	Store objstore.Store

	// Reports the number of assets to import, once known. Never nil.
	SetTotal func(int)

	Logger *zap.Logger
}

var (
	dataSources   = make(map[string]DataSource)
	dataSourcesMu sync.RWMutex
)

// RegisterDataSource registers ds as a data source.
func RegisterDataSource(ds DataSource) error {
	if ds.Name == "" {
		return errors.New("missing name")
	}
	if ds.Title == "" {
		return errors.New("missing title")
	}
	if ds.NewImporter == nil {
		return fmt.Errorf("data source %s has no importer", ds.Name)
	}

	dataSourcesMu.Lock()
	defer dataSourcesMu.Unlock()

	if _, ok := dataSources[ds.Name]; ok {
		return fmt.Errorf("data source already registered: %s", ds.Name)
	}
	dataSources[ds.Name] = ds

	return nil
}

// GetDataSource gets the data source with the given name.
func GetDataSource(name string) (DataSource, error) {
	dataSourcesMu.RLock()
	defer dataSourcesMu.RUnlock()
	if ds, ok := dataSources[name]; ok {
		return ds, nil
	}
	return DataSource{}, fmt.Errorf("data source %s: %w", name, ErrNotFound)
}

// AllDataSources returns all registered data sources sorted by name.
func AllDataSources() []DataSource {
	dataSourcesMu.RLock()
	sources := make([]DataSource, 0, len(dataSources))
	for _, ds := range dataSources {
		sources = append(sources, ds)
	}
	dataSourcesMu.RUnlock()
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Name < sources[j].Name
	})
	return sources
}
