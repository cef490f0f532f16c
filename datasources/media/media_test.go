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
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/timelinize/photocatalog/catalog"
	"github.com/timelinize/photocatalog/objstore"
	"go.uber.org/zap"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
}

func importAll(t *testing.T, params catalog.ImportParams) ([]catalog.PhotoInput, int) {
	t.Helper()
	total := -1
	params.SetTotal = func(n int) { total = n }
	params.Logger = zap.NewNop()
	var got []catalog.PhotoInput
	err := new(FileImporter).Import(context.Background(), params, func(in catalog.PhotoInput) error {
		got = append(got, in)
		return nil
	})
	if err != nil {
		t.Fatalf("importing: %v", err)
	}
	return got, total
}

func TestImportFolder(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"trip/IMG_2.JPG":      "bytes of two",
		"trip/IMG_2.JPG.json": `{"title": "Sidecar", "tags": ["a"], "favorite": true}`,
		"trip/IMG_10.JPG":     "bytes of ten",
		"trip/IMG_10.MOV":     "motion of ten",
		"trip/metadata.json":  `{"title": "Default", "albums": ["Trip"], "keywords": ["b"]}`,
		"trip/notes.txt":      "not media",
		"trip/.IMG_3.JPG":     "hidden",
		".cache/IMG_4.JPG":    "hidden dir",
		"clip.mp4":            "a plain video",
	})

	storeDir := t.TempDir()
	got, total := importAll(t, catalog.ImportParams{Path: dir, Store: objstore.Local{Root: storeDir}})

	if total != 3 || len(got) != 3 {
		t.Fatalf("Expected 3 items (total 3), got %d (total %d)", len(got), total)
	}

	// natural order: clip.mp4, trip/IMG_2.JPG, trip/IMG_10.JPG
	clip, two, ten := got[0], got[1], got[2]

	if two.ID != PhotoID("trip/IMG_2.JPG") {
		t.Errorf("Expected deterministic ID for IMG_2, got %s", two.ID)
	}
	if two.Title == nil || *two.Title != "Sidecar" {
		t.Errorf("Expected sidecar title to win, got %v", two.Title)
	}
	if !slices.Equal(two.Tags, []string{"a"}) {
		t.Errorf("Expected sidecar tags [a] but got %v", two.Tags)
	}
	if two.Favorite == nil || !*two.Favorite {
		t.Errorf("Expected favorite from sidecar")
	}
	if !slices.Equal(two.Albums, []string{"Trip"}) {
		t.Errorf("Expected folder album [Trip] but got %v", two.Albums)
	}
	if two.Fingerprint == nil || *two.Fingerprint != Fingerprint([]byte("bytes of two")) {
		t.Errorf("Expected content fingerprint, got %v", two.Fingerprint)
	}
	if two.Filename == nil || *two.Filename != "IMG_2.JPG" {
		t.Errorf("Expected filename IMG_2.JPG but got %v", two.Filename)
	}

	if ten.Title == nil || *ten.Title != "Default" {
		t.Errorf("Expected folder title for IMG_10, got %v", ten.Title)
	}
	if !slices.Equal(ten.Tags, []string{"b"}) {
		t.Errorf("Expected folder keywords [b] but got %v", ten.Tags)
	}
	if ten.LivePhoto == nil || !*ten.LivePhoto {
		t.Errorf("Expected IMG_10 to be a live photo")
	}
	if len(ten.Versions) != 2 || ten.Versions[1].Label != catalog.VersionLive {
		t.Fatalf("Expected original and live versions, got %+v", ten.Versions)
	}

	orig := ten.Versions[0]
	if orig.Label != catalog.VersionOriginal || orig.StorageRef == nil {
		t.Fatalf("Unexpected original version: %+v", orig)
	}
	stored := filepath.Join(storeDir, "original", ten.ID+".jpg")
	if *orig.StorageRef != "file://"+filepath.ToSlash(stored) {
		t.Errorf("Expected storage ref to %s but got %s", stored, *orig.StorageRef)
	}
	data, err := os.ReadFile(stored)
	if err != nil || string(data) != "bytes of ten" {
		t.Errorf("Expected stored original, got %q (%v)", data, err)
	}
	if orig.Size == nil || *orig.Size != int64(len("bytes of ten")) {
		t.Errorf("Expected size of original, got %v", orig.Size)
	}
	if orig.Type == nil || *orig.Type != "image/jpeg" {
		t.Errorf("Expected image/jpeg type, got %v", orig.Type)
	}

	if clip.Title != nil || clip.Albums != nil {
		t.Errorf("Expected no folder defaults outside of trip/, got %+v", clip)
	}
	if clip.LivePhoto != nil {
		t.Errorf("Expected plain video not to be a live photo")
	}
}

func TestImportInPlace(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.jpg": "a"})

	got, _ := importAll(t, catalog.ImportParams{Path: dir})
	if len(got) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(got))
	}
	ref := got[0].Versions[0].StorageRef
	want := "file://" + filepath.ToSlash(filepath.Join(dir, "a.jpg"))
	if ref == nil || *ref != want {
		t.Errorf("Expected in-place reference %s but got %v", want, ref)
	}

	// a single file
	got, total := importAll(t, catalog.ImportParams{Path: filepath.Join(dir, "a.jpg")})
	if len(got) != 1 || total != 1 {
		t.Fatalf("Expected 1 item from single file, got %d", len(got))
	}
	if got[0].ID != PhotoID("a.jpg") {
		t.Errorf("Expected ID from file name, got %s", got[0].ID)
	}
	if ref := got[0].Versions[0].StorageRef; ref == nil || *ref != want {
		t.Errorf("Expected in-place reference %s but got %v", want, ref)
	}
}

func TestFolderDefaultsKeepIdentity(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"IMG_1.JPG":     "one",
		"IMG_2.JPG":     "two",
		"metadata.json": `{"id": "trip-2024", "fingerprint": "abc", "filename": "x.jpg", "title": "Trip"}`,
	})
	got, _ := importAll(t, catalog.ImportParams{Path: dir})
	if len(got) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(got))
	}
	for i, tc := range []struct {
		name, content string
	}{
		{name: "IMG_1.JPG", content: "one"},
		{name: "IMG_2.JPG", content: "two"},
	} {
		in := got[i]
		if in.ID != PhotoID(tc.name) {
			t.Errorf("Test %d: Expected ID %s but got %s", i, PhotoID(tc.name), in.ID)
		}
		if in.Fingerprint == nil || *in.Fingerprint != Fingerprint([]byte(tc.content)) {
			t.Errorf("Test %d: Expected content fingerprint, got %v", i, in.Fingerprint)
		}
		if in.Filename == nil || *in.Filename != tc.name {
			t.Errorf("Test %d: Expected filename %s but got %v", i, tc.name, in.Filename)
		}
		if in.Title == nil || *in.Title != "Trip" {
			t.Errorf("Test %d: Expected folder title, got %v", i, in.Title)
		}
	}
}

func TestMalformedSidecarIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"IMG_1.jpg":  "one",
		"IMG_1.json": `{"title": `,
	})
	got, _ := importAll(t, catalog.ImportParams{Path: dir})
	if len(got) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(got))
	}
	if got[0].Title != nil {
		t.Errorf("Expected no title from malformed sidecar, got %s", *got[0].Title)
	}
}

func TestIsLiveVideo(t *testing.T) {
	siblings := map[string]bool{
		"IMG_1.HEIC":      true,
		"IMG_1.MOV":       true,
		"IMG_2.MOV":       true,
		"PXL_3.MP.jpg":    true,
		"PXL_3.MP":        true,
		"dir/IMG_4.jpg":   true,
		"dir/IMG_4.mp4":   true,
		"other/IMG_4.mp4": true,
	}
	exists := func(p string) bool { return siblings[p] }

	for i, tc := range []struct {
		path  string
		still string
		live  bool
	}{
		{path: "IMG_1.MOV", still: "IMG_1.HEIC", live: true},
		{path: "IMG_2.MOV"},
		{path: "PXL_3.MP", still: "PXL_3.MP.jpg", live: true},
		{path: "dir/IMG_4.mp4", still: "dir/IMG_4.jpg", live: true},
		{path: "other/IMG_4.mp4"},
		{path: "IMG_1.HEIC"},
	} {
		still, live := IsLiveVideo(tc.path, exists)
		if live != tc.live || still != tc.still {
			t.Errorf("Test %d: Expected (%q, %v) but got (%q, %v)", i, tc.still, tc.live, still, live)
		}
	}
}

func TestFindMedia(t *testing.T) {
	fsys := fstest.MapFS{
		"b/IMG_10.jpg":      {Data: []byte("x")},
		"b/IMG_9.jpg":       {Data: []byte("x")},
		"b/IMG_9.json":      {Data: []byte("{}")},
		"b/metadata.json":   {Data: []byte("{}")},
		"a.png":             {Data: []byte("x")},
		"a.png.json":        {Data: []byte("{}")},
		".trash/z.jpg":      {Data: []byte("x")},
		"readme.md":         {Data: []byte("x")},
		"metadata.jpg":      {Data: []byte("x")},
		"metadata.jpg.json": {Data: []byte("{}")},
	}
	files, err := FindMedia(fsys)
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path+"|"+f.Sidecar)
	}
	want := []string{
		"a.png|a.png.json",
		"b/IMG_9.jpg|b/IMG_9.json",
		"b/IMG_10.jpg|",
		"metadata.jpg|metadata.jpg.json",
	}
	if !slices.Equal(paths, want) {
		t.Errorf("Expected:\n%s\nGot:\n%s", strings.Join(want, "\n"), strings.Join(paths, "\n"))
	}
}
