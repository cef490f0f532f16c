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
	"strings"
	"sync"
	"testing"

	"github.com/timelinize/photocatalog/internal/testhelpers"
)

// fakeImports maps an import path to the photos the fake source emits for it.
var (
	fakeImports   = make(map[string][]PhotoInput)
	fakeImportsMu sync.Mutex
)

type fakeImporter struct{}

func (fakeImporter) Import(_ context.Context, params ImportParams, emit func(PhotoInput) error) error {
	fakeImportsMu.Lock()
	photos, ok := fakeImports[params.Path]
	fakeImportsMu.Unlock()
	if !ok {
		return errors.New("no such export")
	}
	params.SetTotal(len(photos))
	for _, p := range photos {
		if err := emit(p); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	err := RegisterDataSource(DataSource{
		Name:        "fake_photos",
		Title:       "Fake photos",
		NewImporter: func() Importer { return fakeImporter{} },
	})
	if err != nil {
		panic(err)
	}
}

func setFakeImport(path string, photos ...PhotoInput) {
	fakeImportsMu.Lock()
	fakeImports[path] = photos
	fakeImportsMu.Unlock()
}

func TestDataSourceRegistry(t *testing.T) {
	for i, ds := range []DataSource{
		{Title: "No name", NewImporter: func() Importer { return fakeImporter{} }},
		{Name: "no_title", NewImporter: func() Importer { return fakeImporter{} }},
		{Name: "no_importer", Title: "No importer"},
		{Name: "fake_photos", Title: "Again", NewImporter: func() Importer { return fakeImporter{} }},
	} {
		if err := RegisterDataSource(ds); err == nil {
			t.Errorf("Test %d: Expected registration of %q to fail", i, ds.Name)
		}
	}
	if _, err := GetDataSource("fake_photos"); err != nil {
		t.Errorf("Expected registered source to be found: %v", err)
	}
	if _, err := GetDataSource("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	var found bool
	for _, ds := range AllDataSources() {
		found = found || ds.Name == "fake_photos"
	}
	if !found {
		t.Errorf("Expected fake_photos to be listed")
	}
}

func TestImport(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	fk := testhelpers.NewFaker(42)

	var photos []PhotoInput
	for range 5 {
		taken := fk.Taken()
		photos = append(photos, PhotoInput{
			ID:          fk.ID(),
			Fingerprint: ptr(fk.Fingerprint()),
			Filename:    ptr(fk.Filename()),
			Timestamp:   &taken,
			Tags:        fk.Tags(3),
			Versions:    []VersionInput{{Label: VersionOriginal}},
		})
	}
	// one with a bad library fails by itself
	photos = append(photos, PhotoInput{ID: "orphan", LibraryID: "missing"})
	setFakeImport("batch1", photos...)

	task, err := c.RunTask(ctx, Import{
		DataSource: "fake_photos",
		Path:       "batch1",
		LibraryID:  testLibrary,
		OwnerID:    testOwner,
		BatchSize:  2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != TaskCompleted {
		t.Fatalf("Expected completed, got %s (%s)", task.Status, deref(task.Error))
	}
	if ok, failed := taskCounts(t, task); ok != 5 || failed != 1 {
		t.Errorf("Expected 5 imported and 1 failed, got %d and %d", ok, failed)
	}
	if task.Total == nil || *task.Total != 6 || task.Processed == nil || *task.Processed != 6 {
		t.Errorf("Expected progress 6/6, got %v/%v", task.Processed, task.Total)
	}

	stored, err := c.ListPhotos(ctx, PhotoFilter{LibraryID: testLibrary})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 5 {
		t.Errorf("Expected 5 photos but got %d", len(stored))
	}

	// importing again is idempotent
	if _, err := c.RunTask(ctx, Import{DataSource: "fake_photos", Path: "batch1", LibraryID: testLibrary, OwnerID: testOwner}); err != nil {
		t.Fatal(err)
	}
	stored, err = c.ListPhotos(ctx, PhotoFilter{LibraryID: testLibrary})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 5 {
		t.Errorf("Expected re-import to add nothing, got %d photos", len(stored))
	}
}

func TestImportFailures(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	for i, tc := range []struct {
		op        Import
		errSubstr string
	}{
		{op: Import{DataSource: "not_registered"}, errSubstr: "not found"},
		{op: Import{DataSource: "fake_photos", Path: "does-not-exist"}, errSubstr: "no such export"},
		{op: Import{DataSource: "fake_photos", Path: "x", Fingerprints: "merge"}, errSubstr: "fingerprint policy"},
	} {
		task, err := c.RunTask(ctx, tc.op)
		if err != nil {
			t.Fatalf("Test %d: %v", i, err)
		}
		if task.Status != TaskFailed || !strings.Contains(deref(task.Error), tc.errSubstr) {
			t.Errorf("Test %d: Expected failure containing %q, got %s (%s)", i, tc.errSubstr, task.Status, deref(task.Error))
		}
	}

	// every photo invalid
	setFakeImport("invalid", PhotoInput{ID: ""}, PhotoInput{ID: "x", LibraryID: "missing", OwnerID: testOwner})
	task, err := c.RunTask(ctx, Import{DataSource: "fake_photos", Path: "invalid", LibraryID: testLibrary, OwnerID: testOwner})
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != TaskFailed || !strings.Contains(deref(task.Error), "2 item(s) failed") {
		t.Errorf("Expected all-invalid import to fail, got %s (%s)", task.Status, deref(task.Error))
	}
}

func TestImportFingerprintPolicy(t *testing.T) {
	ctx := context.Background()

	for i, tc := range []struct {
		policy      FingerprintPolicy
		expectIDs   []string
		detail      string
		titleOfOrig string
	}{
		{policy: FingerprintKeep, expectIDs: []string{"orig", "copy"}, detail: "created", titleOfOrig: "Original"},
		{policy: FingerprintSkip, expectIDs: []string{"orig"}, detail: "skipped: same fingerprint as orig", titleOfOrig: "Original"},
		{policy: FingerprintAdopt, expectIDs: []string{"orig"}, detail: "updated (adopted)", titleOfOrig: "Copy"},
	} {
		c := newTestCatalog(t)

		_, err := c.Reconcile(ctx, PhotoInput{
			ID:          "orig",
			LibraryID:   testLibrary,
			OwnerID:     testOwner,
			Fingerprint: ptr("abc"),
			Title:       ptr("Original"),
		}, ReconcileOptions{})
		if err != nil {
			t.Fatal(err)
		}

		detail, err := c.importPhoto(ctx, PhotoInput{
			ID:          "copy",
			LibraryID:   testLibrary,
			OwnerID:     testOwner,
			Fingerprint: ptr("abc"),
			Title:       ptr("Copy"),
		}, tc.policy, ListsMerge)
		if err != nil {
			t.Fatalf("Test %d: %v", i, err)
		}
		if detail != tc.detail {
			t.Errorf("Test %d: Expected detail %q but got %q", i, tc.detail, detail)
		}

		ids, err := c.FindPhotosByFingerprint(ctx, "abc")
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(slices.Sorted(slices.Values(ids)), slices.Sorted(slices.Values(tc.expectIDs))) {
			t.Errorf("Test %d: Expected photos %v but got %v", i, tc.expectIDs, ids)
		}

		orig, err := c.LoadPhoto(ctx, "orig")
		if err != nil {
			t.Fatal(err)
		}
		if deref(orig.Title) != tc.titleOfOrig {
			t.Errorf("Test %d: Expected original's title %q but got %q", i, tc.titleOfOrig, deref(orig.Title))
		}

		// re-importing the original itself is a plain update under any policy
		detail, err = c.importPhoto(ctx, PhotoInput{ID: "orig", Fingerprint: ptr("abc")}, tc.policy, ListsMerge)
		if err != nil {
			t.Fatalf("Test %d: %v", i, err)
		}
		if detail != "updated" {
			t.Errorf("Test %d: Expected plain update of exact match, got %q", i, detail)
		}
	}

	for i, tc := range []struct {
		input  string
		expect FingerprintPolicy
		err    bool
	}{
		{input: "", expect: FingerprintKeep},
		{input: "skip", expect: FingerprintSkip},
		{input: "adopt", expect: FingerprintAdopt},
		{input: "merge", err: true},
	} {
		actual, err := ParseFingerprintPolicy(tc.input)
		if (err != nil) != tc.err {
			t.Errorf("Test %d: Expected error=%v but got %v", i, tc.err, err)
		}
		if actual != tc.expect {
			t.Errorf("Test %d: Expected %q but got %q", i, tc.expect, actual)
		}
	}
}
