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

package media

import (
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/maruel/natural"
)

// File is one media item found in an import, along with its companions.
type File struct {
	// Path within the import's file system.
	Path string

	// Display name relative to the import; used for IDs.
	Name string

	// Path of the sidecar document, if any.
	Sidecar string

	// Path of the paired motion video, if this is a live photo.
	Live string

	// Directory whose defaults apply.
	Dir string
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".jpe": true,
	".heic": true, ".heif": true,
	".png": true, ".gif": true, ".webp": true,
	".tif": true, ".tiff": true, ".dng": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true, ".3gp": true,
}

// IsMedia reports whether the file name has a recognized photo or video extension.
func IsMedia(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return imageExtensions[ext] || videoExtensions[ext]
}

// IsLiveVideo reports whether fpath is the motion part of a live photo,
// given the set of sibling files. IMG_1234.MOV is the motion part of
// IMG_1234.HEIC (or .JPG), and PXL_1234.MP is the motion part of
// PXL_1234.MP.jpg. It returns the still image it belongs to.
func IsLiveVideo(fpath string, exists func(string) bool) (string, bool) {
	ext := path.Ext(fpath)
	lower := strings.ToLower(ext)
	stem := strings.TrimSuffix(fpath, ext)

	switch lower {
	case ".mov", ".mp4":
		for _, stillExt := range []string{".HEIC", ".heic", ".JPG", ".jpg", ".JPEG", ".jpeg", ".HEIF", ".heif"} {
			if still := stem + stillExt; exists(still) {
				return still, true
			}
		}
	case ".mp":
		for _, stillExt := range []string{".jpg", ".JPG"} {
			if still := fpath + stillExt; exists(still) {
				return still, true
			}
		}
	}
	return "", false
}

// FindMedia lists the media files in fsys in natural order, pairing each
// with its sidecar and live video. Hidden files and directories are
// skipped. If fsys is a single file, its path is ".".
func FindMedia(fsys fs.FS) ([]File, error) {
	all := make(map[string]bool)
	var paths []string

	err := fs.WalkDir(fsys, ".", func(fpath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if fpath != "." && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		all[fpath] = true
		paths = append(paths, fpath)
		return nil
	})
	if err != nil {
		return nil, err
	}

	exists := func(p string) bool { return all[p] }

	// find the motion parts of live photos first; they are not standalone items
	liveOf := make(map[string]string)
	for _, p := range paths {
		if still, ok := IsLiveVideo(p, exists); ok {
			liveOf[still] = p
		}
	}

	var files []File
	for _, p := range paths {
		if _, ok := IsLiveVideo(p, exists); ok {
			continue
		}
		if p != "." && !IsMedia(p) {
			continue
		}
		f := File{
			Path: p,
			Name: p,
			Live: liveOf[p],
			Dir:  path.Dir(p),
		}
		for _, sc := range []string{p + ".json", strings.TrimSuffix(p, path.Ext(p)) + ".json"} {
			if path.Base(sc) != DefaultsFilename && exists(sc) {
				f.Sidecar = sc
				break
			}
		}
		files = append(files, f)
	}

	slices.SortFunc(files, func(a, b File) int {
		if natural.Less(a.Path, b.Path) {
			return -1
		}
		if natural.Less(b.Path, a.Path) {
			return 1
		}
		return 0
	})

	return files, nil
}
