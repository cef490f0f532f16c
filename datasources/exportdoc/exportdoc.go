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

// Package exportdoc imports photos described by metadata documents from a
// photo library export: a single document, a folder of documents, or an
// archive of them. Each document may hold one record or an array of them.
package exportdoc

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/maruel/natural"
	"github.com/mholt/archives"
	"github.com/timelinize/photocatalog/catalog"
	"github.com/timelinize/photocatalog/metadata"
	"go.uber.org/zap"
)

// Importer reads export documents and emits one input per recognized record.
type Importer struct {
	// The document format to assume when the import doesn't name one.
	// FormatUnknown detects the format of each document.
	Format metadata.Format

	// Optional hook to adjust each input before it is emitted. The
	// document path is the import path joined with the path of the
	// document within it.
	Prepare func(in *catalog.PhotoInput, pr metadata.ParseResult, docPath string)
}

// document is one record and the file it came from.
type document struct {
	path string
	doc  map[string]any
}

// Import implements catalog.Importer.
func (imp Importer) Import(ctx context.Context, params catalog.ImportParams, emit func(catalog.PhotoInput) error) error {
	format := params.Format
	if format == metadata.FormatUnknown {
		format = imp.Format
	}

	fsys, err := archives.FileSystem(ctx, params.Path, nil)
	if err != nil {
		return fmt.Errorf("opening %s: %w", params.Path, err)
	}

	docPaths, err := FindDocuments(fsys)
	if err != nil {
		return err
	}

	// parse everything first so the total is known before emitting
	type parsed struct {
		document
		result metadata.ParseResult
	}
	var records []parsed
	for _, p := range docPaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		name := params.Path
		if p != "." {
			name = path.Join(filepath.ToSlash(params.Path), p)
		}
		docs, err := metadata.LoadDocuments(data)
		if err != nil {
			params.Logger.Warn("skipping unreadable document", zap.String("file", name), zap.Error(err))
			continue
		}
		for i, doc := range docs {
			pr, err := metadata.Parse(doc, format)
			if err != nil {
				return err
			}
			if !pr.Known() {
				params.Logger.Warn("skipping unrecognized record",
					zap.String("file", name),
					zap.Int("index", i),
					zap.String("reason", pr.Reason))
				continue
			}
			records = append(records, parsed{document{name, doc}, pr})
		}
	}

	params.SetTotal(len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		in := catalog.InputFromParseResult(rec.result)
		if imp.Prepare != nil {
			imp.Prepare(&in, rec.result, rec.path)
		}
		if err := emit(in); err != nil {
			return err
		}
	}

	return nil
}

// FindDocuments returns the paths of all metadata documents in fsys in
// natural order. Hidden files and folders are skipped.
func FindDocuments(fsys fs.FS) ([]string, error) {
	var paths []string
	err := fs.WalkDir(fsys, ".", func(fpath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if fpath == "." && !d.IsDir() {
			// the import is a single file
			paths = append(paths, fpath)
			return nil
		}
		if fpath != "." && strings.HasPrefix(path.Base(fpath), ".") {
			// skip hidden files; they are cruft
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if IsDocument(fpath) {
			paths = append(paths, fpath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking export: %w", err)
	}
	slices.SortFunc(paths, func(a, b string) int {
		switch {
		case natural.Less(a, b):
			return -1
		case natural.Less(b, a):
			return 1
		}
		return 0
	})
	return paths, nil
}

// IsDocument reports whether the file name looks like a metadata document.
func IsDocument(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".plist":
		return true
	}
	return false
}
