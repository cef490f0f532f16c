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
	"slices"
	"testing"
	"time"

	"github.com/timelinize/photocatalog/metadata"
)

const (
	testLibrary = "lib1"
	testOwner   = "owner1"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	ctx := context.Background()
	c, err := Open(ctx, t.TempDir(), Options{OptimizeInterval: -1})
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.AddOwner(ctx, testOwner, "Test Owner"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddLibrary(ctx, testLibrary, "Test Library", testOwner); err != nil {
		t.Fatal(err)
	}
	return c
}

func ptr[T any](v T) *T { return &v }

func TestReconcileAddsVersionsAndAlbums(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	first := PhotoInput{
		ID:          "P1",
		LibraryID:   testLibrary,
		OwnerID:     testOwner,
		Fingerprint: ptr("F1"),
		Versions:    []VersionInput{{Label: VersionOriginal, StorageRef: ptr("file:///P1.jpg")}},
	}
	res, err := c.Reconcile(ctx, first, ReconcileOptions{})
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if res.Action != ActionCreated || res.VersionsCreated != 1 {
		t.Errorf("Expected created with 1 version, got %+v", res)
	}

	second := PhotoInput{
		ID:       "P1",
		Versions: []VersionInput{{Label: VersionThumb, StorageRef: ptr("file:///P1_thumb.jpg")}},
		Albums:   []string{"Trip"},
	}
	res, err = c.Reconcile(ctx, second, ReconcileOptions{})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if res.Action != ActionUpdated || res.VersionsCreated != 1 || res.AlbumsCreated != 1 || res.AlbumsLinked != 1 {
		t.Errorf("Expected update adding 1 version and 1 album, got %+v", res)
	}

	photos, err := c.ListPhotos(ctx, PhotoFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(photos) != 1 {
		t.Fatalf("Expected 1 photo but got %d", len(photos))
	}

	p, err := c.LoadPhoto(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	var labels []string
	for _, v := range p.Versions {
		labels = append(labels, v.Label)
	}
	if !slices.Equal(labels, []string{VersionOriginal, VersionThumb}) {
		t.Errorf("Expected versions [original thumb] but got %v", labels)
	}
	if len(p.Albums) != 1 || p.Albums[0].Name != "Trip" {
		t.Errorf("Expected album Trip but got %+v", p.Albums)
	}
	if p.Fingerprint == nil || *p.Fingerprint != "F1" {
		t.Errorf("Expected fingerprint F1 to survive partial update, got %v", p.Fingerprint)
	}

	albums, err := c.ListAlbums(ctx, testLibrary)
	if err != nil {
		t.Fatal(err)
	}
	if len(albums) != 1 || albums[0].PhotoCount != 1 {
		t.Errorf("Expected 1 album with 1 photo, got %+v", albums)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	in := PhotoInput{
		ID:        "P2",
		LibraryID: testLibrary,
		OwnerID:   testOwner,
		Title:     ptr("Sunset"),
		Tags:      []string{"beach", "evening"},
		Albums:    []string{"Summer"},
		Versions: []VersionInput{
			{Label: VersionOriginal, Size: ptr(int64(1024))},
			{Label: VersionThumb, Width: ptr(200)},
		},
		Facts: []metadata.Fact{{Key: "camera.make", Value: "Canon", Source: metadata.SourceEXIF}},
	}

	for i, expected := range []ReconcileAction{ActionCreated, ActionUpdated} {
		res, err := c.Reconcile(ctx, in, ReconcileOptions{})
		if err != nil {
			t.Fatalf("Test %d: %v", i, err)
		}
		if res.Action != expected {
			t.Errorf("Test %d: Expected %s but got %s", i, expected, res.Action)
		}
		if i == 1 && (res.VersionsCreated != 0 || res.AlbumsLinked != 0 || res.FactsWritten != 0) {
			t.Errorf("Test %d: Expected no new rows on re-apply, got %+v", i, res)
		}
	}

	p, err := c.LoadPhoto(ctx, "P2")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Versions) != 2 {
		t.Errorf("Expected 2 versions but got %d", len(p.Versions))
	}
	if !slices.Equal(p.Tags, []string{"beach", "evening"}) {
		t.Errorf("Expected tags to be unchanged, got %v", p.Tags)
	}
	entries, err := c.PhotoMetadata(ctx, "P2")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 metadata row but got %d", len(entries))
	}
}

func TestReconcilePartialUpdate(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	taken := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := c.Reconcile(ctx, PhotoInput{
		ID:        "P3",
		LibraryID: testLibrary,
		OwnerID:   testOwner,
		Title:     ptr("Original title"),
		Timestamp: &taken,
		Favorite:  ptr(false),
		Tags:      []string{"a", "b"},
		Versions:  []VersionInput{{Label: VersionOriginal, Filename: ptr("IMG_1.JPG"), Size: ptr(int64(10))}},
	}, ReconcileOptions{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Reconcile(ctx, PhotoInput{
		ID:       "P3",
		Favorite: ptr(true),
		Tags:     []string{"b", "c"},
		Versions: []VersionInput{{Label: VersionOriginal, Size: ptr(int64(20))}},
	}, ReconcileOptions{})
	if err != nil {
		t.Fatal(err)
	}

	p, err := c.LoadPhoto(ctx, "P3")
	if err != nil {
		t.Fatal(err)
	}
	if p.Title == nil || *p.Title != "Original title" {
		t.Errorf("Expected title to be kept, got %v", p.Title)
	}
	if p.Timestamp == nil || !p.Timestamp.Equal(taken) {
		t.Errorf("Expected timestamp %v, got %v", taken, p.Timestamp)
	}
	if p.Favorite == nil || !*p.Favorite {
		t.Errorf("Expected favorite to be updated to true")
	}
	if !slices.Equal(p.Tags, []string{"a", "b", "c"}) {
		t.Errorf("Expected merged tags [a b c] but got %v", p.Tags)
	}
	if len(p.Versions) != 1 {
		t.Fatalf("Expected 1 version but got %d", len(p.Versions))
	}
	v := p.Versions[0]
	if v.Filename == nil || *v.Filename != "IMG_1.JPG" || v.Size == nil || *v.Size != 20 {
		t.Errorf("Expected version to be partially updated, got %+v", v)
	}

	// replacing lists
	_, err = c.Reconcile(ctx, PhotoInput{ID: "P3", Tags: []string{"z"}}, ReconcileOptions{Lists: ListsReplace})
	if err != nil {
		t.Fatal(err)
	}
	p, err = c.LoadPhoto(ctx, "P3")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(p.Tags, []string{"z"}) {
		t.Errorf("Expected replaced tags [z] but got %v", p.Tags)
	}
}

func TestReconcileValidation(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	for i, tc := range []struct {
		input  PhotoInput
		expect error
	}{
		{input: PhotoInput{ID: "", LibraryID: testLibrary, OwnerID: testOwner}, expect: ErrInvalidID},
		{input: PhotoInput{ID: "   ", LibraryID: testLibrary, OwnerID: testOwner}, expect: ErrInvalidID},
		{input: PhotoInput{ID: "bad\x00id", LibraryID: testLibrary, OwnerID: testOwner}, expect: ErrInvalidID},
		{input: PhotoInput{ID: "V1", LibraryID: "nope", OwnerID: testOwner}, expect: ErrUnknownLibrary},
		{input: PhotoInput{ID: "V2", OwnerID: testOwner}, expect: ErrUnknownLibrary},
		{input: PhotoInput{ID: "V3", LibraryID: testLibrary, OwnerID: "nobody"}, expect: ErrUnknownOwner},
		{input: PhotoInput{ID: "V4", LibraryID: testLibrary, OwnerID: testOwner, Versions: []VersionInput{{Label: ""}}}, expect: ErrInvalidVersion},
		{input: PhotoInput{ID: "V5", LibraryID: testLibrary, OwnerID: testOwner, LegacyMetadata: []byte(`[1,2]`)}, expect: ErrValidation},
	} {
		_, err := c.Reconcile(ctx, tc.input, ReconcileOptions{})
		if !errors.Is(err, tc.expect) {
			t.Errorf("Test %d: Expected %v but got %v", i, tc.expect, err)
		}
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Test %d: Expected a validation error but got %v", i, err)
		}
	}

	photos, err := c.ListPhotos(ctx, PhotoFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(photos) != 0 {
		t.Errorf("Expected nothing to be written, got %d photos", len(photos))
	}
}

func TestReconcileCreateOnly(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	in := PhotoInput{ID: "P4", LibraryID: testLibrary, OwnerID: testOwner}
	if _, err := c.Reconcile(ctx, in, ReconcileOptions{CreateOnly: true}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Reconcile(ctx, in, ReconcileOptions{CreateOnly: true})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists but got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Errorf("Expected conflict to be distinct from validation errors")
	}
}

func TestReconcileRollsBack(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	// a fact without a source fails after the photo row is written
	_, err := c.Reconcile(ctx, PhotoInput{
		ID:        "P5",
		LibraryID: testLibrary,
		OwnerID:   testOwner,
		Versions:  []VersionInput{{Label: VersionOriginal}},
		Albums:    []string{"Never"},
		Facts:     []metadata.Fact{{Key: "title", Value: "x"}},
	}, ReconcileOptions{})
	if err == nil {
		t.Fatal("Expected error")
	}
	if _, err := c.LoadPhoto(ctx, "P5"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected photo to be rolled back, got %v", err)
	}
	albums, err := c.ListAlbums(ctx, testLibrary)
	if err != nil {
		t.Fatal(err)
	}
	if len(albums) != 0 {
		t.Errorf("Expected album creation to be rolled back, got %+v", albums)
	}
}

func TestFingerprintAndSoftDelete(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	for _, id := range []string{"A", "B"} {
		_, err := c.Reconcile(ctx, PhotoInput{ID: id, LibraryID: testLibrary, OwnerID: testOwner, Fingerprint: ptr("same")}, ReconcileOptions{})
		if err != nil {
			t.Fatal(err)
		}
	}

	ids, err := c.FindPhotosByFingerprint(ctx, "same")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("Expected both photos to be found (never merged), got %v", ids)
	}

	if err := c.SoftDeletePhoto(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	ids, err = c.FindPhotosByFingerprint(ctx, "same")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ids, []string{"B"}) {
		t.Errorf("Expected only B after deleting A, got %v", ids)
	}
	p, err := c.LoadPhoto(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if p.Deleted == nil {
		t.Errorf("Expected deletion time to be set")
	}
	if err := c.SoftDeletePhoto(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSearchData(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.Reconcile(ctx, PhotoInput{
		ID:        "S1",
		LibraryID: testLibrary,
		OwnerID:   testOwner,
		Title:     ptr("Golden Gate"),
		Tags:      []string{"Bridge"},
		Albums:    []string{"California"},
	}, ReconcileOptions{})
	if err != nil {
		t.Fatal(err)
	}
	p, err := c.LoadPhoto(ctx, "S1")
	if err != nil {
		t.Fatal(err)
	}
	if p.SearchData != "bridge california gate golden" {
		t.Errorf("Unexpected search data: %q", p.SearchData)
	}
}
