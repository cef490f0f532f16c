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

// Package media implements a data source for folders of photo and video
// files, optionally accompanied by per-file sidecar documents and a
// folder-wide metadata.json of defaults.
package media

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mholt/archives"
	"github.com/timelinize/photocatalog/catalog"
	"github.com/timelinize/photocatalog/metadata"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

func init() {
	err := catalog.RegisterDataSource(catalog.DataSource{
		Name:        "media",
		Title:       "Media",
		Description: "A folder or archive of photos and videos, such as a camera roll.",
		NewImporter: func() catalog.Importer { return new(FileImporter) },
	})
	if err != nil {
		catalog.Log.Fatal("registering data source", zap.Error(err))
	}
}

// DefaultsFilename is the name of the document of folder-wide defaults.
const DefaultsFilename = "metadata.json"

// FileImporter imports media files from a folder or archive.
type FileImporter struct{}

// Import implements catalog.Importer.
func (imp *FileImporter) Import(ctx context.Context, params catalog.ImportParams, emit func(catalog.PhotoInput) error) error {
	fsys, err := archives.FileSystem(ctx, params.Path, nil)
	if err != nil {
		return fmt.Errorf("opening %s: %w", params.Path, err)
	}

	files, err := FindMedia(fsys)
	if err != nil {
		return err
	}
	if len(files) == 1 && files[0].Path == "." {
		files[0].Name = filepath.Base(params.Path)
		if !IsMedia(files[0].Name) {
			files = nil
		}
	}
	params.SetTotal(len(files))

	// originals can be referenced in place if they are plain files on disk
	var localRoot string
	if info, err := os.Stat(params.Path); err == nil {
		if info.IsDir() || len(files) == 1 && files[0].Path == "." {
			localRoot = params.Path
		}
	}

	defaults := make(map[string][]metadata.Fact)

	for _, mf := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		dirFacts, ok := defaults[mf.Dir]
		if !ok {
			dirFacts = loadDefaults(fsys, mf.Dir, params.Logger)
			defaults[mf.Dir] = dirFacts
		}

		in, err := imp.buildInput(ctx, fsys, params, mf, dirFacts, localRoot)
		if err != nil {
			return err
		}
		if err := emit(in); err != nil {
			return err
		}
	}

	return nil
}

func (imp *FileImporter) buildInput(ctx context.Context, fsys fs.FS, params catalog.ImportParams, mf File, dirFacts []metadata.Fact, localRoot string) (catalog.PhotoInput, error) {
	logger := params.Logger.With(zap.String("file", mf.Name))

	data, err := fs.ReadFile(fsys, mf.Path)
	if err != nil {
		return catalog.PhotoInput{}, fmt.Errorf("reading %s: %w", mf.Name, err)
	}

	rec, err := metadata.Extract(logger, mf.Name, data)
	if err != nil {
		if !errors.Is(err, metadata.ErrNoMetadata) {
			logger.Warn("extracting embedded metadata", zap.Error(err))
		} else {
			logger.Debug("no embedded metadata", zap.Error(err))
		}
	}

	var sidecarFacts []metadata.Fact
	if mf.Sidecar != "" {
		scData, err := fs.ReadFile(fsys, mf.Sidecar)
		if err != nil {
			return catalog.PhotoInput{}, fmt.Errorf("reading sidecar %s: %w", mf.Sidecar, err)
		}
		sc, err := metadata.ParseSidecar(scData)
		if err != nil {
			logger.Warn("ignoring malformed sidecar", zap.String("sidecar", mf.Sidecar), zap.Error(err))
		} else {
			sidecarFacts = sc.Facts()
		}
	}

	merged := metadata.Merge(sidecarFacts, dirFacts, rec.Facts(metadata.SourceEXIF))

	in := catalog.PhotoInput{Facts: merged.Facts}
	in.ApplyMerged(merged)
	if in.ID == "" {
		in.ID = PhotoID(mf.Name)
	}
	if in.Fingerprint == nil {
		fp := Fingerprint(data)
		in.Fingerprint = &fp
	}
	if in.Filename == nil {
		name := path.Base(mf.Name)
		in.Filename = &name
	}
	if rec.Format == metadata.FormatEXIF && len(rec.Raw) > 0 {
		in.EXIF = rec.Raw
	}

	original, err := imp.version(ctx, params, catalog.VersionOriginal, in.ID, mf, data, localRoot)
	if err != nil {
		return catalog.PhotoInput{}, err
	}
	original.Width, original.Height = in.Width, in.Height
	in.Versions = append(in.Versions, original)

	if mf.Live != "" {
		liveData, err := fs.ReadFile(fsys, mf.Live)
		if err != nil {
			return catalog.PhotoInput{}, fmt.Errorf("reading live video %s: %w", mf.Live, err)
		}
		liveFile := File{Path: mf.Live, Name: joinName(mf.Name, mf.Live)}
		live, err := imp.version(ctx, params, catalog.VersionLive, in.ID, liveFile, liveData, localRoot)
		if err != nil {
			return catalog.PhotoInput{}, err
		}
		in.Versions = append(in.Versions, live)
		if in.LivePhoto == nil {
			yes := true
			in.LivePhoto = &yes
		}
	}

	return in, nil
}

// version describes one stored rendition. If the import has an object
// store, the bytes are copied into it; otherwise local files are
// referenced where they are.
func (*FileImporter) version(ctx context.Context, params catalog.ImportParams, label, photoID string, mf File, data []byte, localRoot string) (catalog.VersionInput, error) {
	ext := strings.ToLower(path.Ext(mf.Name))
	v := catalog.VersionInput{Label: label}
	filename := path.Base(mf.Name)
	v.Filename = &filename
	size := int64(len(data))
	v.Size = &size
	if t := mime.TypeByExtension(ext); t != "" {
		v.Type = &t
	}

	switch {
	case params.Store != nil:
		ref, err := params.Store.Store(ctx, label+"/"+photoID+ext, data)
		if err != nil {
			return v, fmt.Errorf("storing %s of %s: %w", label, photoID, err)
		}
		v.StorageRef = &ref
	case localRoot != "":
		p := localRoot
		if mf.Path != "." {
			p = filepath.Join(localRoot, filepath.FromSlash(mf.Path))
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		ref := "file://" + filepath.ToSlash(p)
		v.StorageRef = &ref
	}

	return v, nil
}

// idNamespace scopes the deterministic identifiers of imported files.
var idNamespace = uuid.MustParse("5b0c3a5e-8f4d-4c1e-9a57-0d6f2e9b7c31")

// PhotoID returns the identifier of the file at the given path within an
// import. Importing the same folder again yields the same identifiers.
func PhotoID(relPath string) string {
	return uuid.NewSHA1(idNamespace, []byte(relPath)).String()
}

// Fingerprint returns the hex-encoded BLAKE3 hash of the file contents.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func loadDefaults(fsys fs.FS, dir string, logger *zap.Logger) []metadata.Fact {
	data, err := fs.ReadFile(fsys, path.Join(dir, DefaultsFilename))
	if err != nil {
		return nil
	}
	dd, err := metadata.ParseDirectoryDefaults(data)
	if err != nil {
		logger.Warn("ignoring malformed folder defaults", zap.String("dir", dir), zap.Error(err))
		return nil
	}
	return dd.Facts()
}

// joinName returns the display name of a file next to the one named ref.
func joinName(ref, fpath string) string {
	return path.Join(path.Dir(ref), path.Base(fpath))
}
