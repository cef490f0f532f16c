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
	"testing"
	"time"
)

func TestMergePrecedence(t *testing.T) {
	sidecar, err := ParseSidecar([]byte(`{
		"title": "Beach day",
		"tags": ["beach"],
		"exif": {"model": "X100V", "exposure_time": "1/500"}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	defaults, err := ParseDirectoryDefaults([]byte(`{
		"title": "Summer 2021",
		"model": "Fallback Cam",
		"favorite": true,
		"latitude": 10.5,
		"longitude": 20.25
	}`))
	if err != nil {
		t.Fatal(err)
	}
	extracted := Record{}
	extracted.Camera.Model = ptr("FUJIFILM X100V")
	extracted.Camera.Make = ptr("FUJIFILM")
	extracted.Exposure.ISO = ptr(160)

	merged := Merge(extracted.Facts(SourceEXIF), defaults.Facts(), sidecar.Facts())

	for i, tc := range []struct {
		key    string
		value  string
		source Source
	}{
		{key: KeyTitle, value: "Beach day", source: SourceSidecar},
		{key: "camera.model", value: "X100V", source: SourceSidecar},
		{key: "camera.make", value: "FUJIFILM", source: SourceEXIF},
		{key: "exposure.iso", value: "160", source: SourceEXIF},
		{key: "exposure.exposure_time", value: "0.002", source: SourceSidecar},
		{key: KeyFavorite, value: "true", source: SourceDirectory},
		{key: "location.latitude", value: "10.5", source: SourceDirectory},
	} {
		actual, ok := merged.View[tc.key]
		if !ok {
			t.Errorf("Test %d: Expected key '%s' in merged view", i, tc.key)
			continue
		}
		if actual.Value != tc.value || actual.Source != tc.source {
			t.Errorf("Test %d: Expected %s=%s from %s but got %s from %s",
				i, tc.key, tc.value, tc.source, actual.Value, actual.Source)
		}
	}

	// all rows persist, one per (key, source)
	var titles int
	for _, f := range merged.Facts {
		if f.Key == KeyTitle {
			titles++
		}
	}
	if titles != 2 {
		t.Errorf("Expected 2 title facts (sidecar and directory), got %d", titles)
	}

	// facts are ordered by precedence
	for i := 1; i < len(merged.Facts); i++ {
		if Rank(merged.Facts[i-1].Source) > Rank(merged.Facts[i].Source) {
			t.Errorf("Facts out of order at %d: %s before %s", i, merged.Facts[i-1].Source, merged.Facts[i].Source)
		}
	}

	if tags := merged.List(KeyTags); len(tags) != 1 || tags[0] != "beach" {
		t.Errorf("Expected tags [beach], got %v", tags)
	}
	if fav := merged.BoolPtr(KeyFavorite); fav == nil || !*fav {
		t.Errorf("Expected favorite from directory defaults")
	}
}

func TestDirectoryDefaultsSkipIdentity(t *testing.T) {
	defaults, err := ParseDirectoryDefaults([]byte(`{
		"id": "trip-2024",
		"fingerprint": "abc",
		"filename": "x.jpg",
		"title": "Trip"
	}`))
	if err != nil {
		t.Fatal(err)
	}
	facts := defaults.Facts()
	if len(facts) != 1 || facts[0].Key != KeyTitle {
		t.Errorf("Expected only the title fact, got %v", facts)
	}
}

func TestMergeIdempotent(t *testing.T) {
	first := []Fact{{Key: "a", Value: "1", Source: SourceSidecar}, {Key: "b", Value: "2", Source: SourceSidecar}}
	again := []Fact{{Key: "a", Value: "3", Source: SourceSidecar}}

	merged := Merge(first, again)
	if len(merged.Facts) != 2 {
		t.Fatalf("Expected 2 facts, got %d: %v", len(merged.Facts), merged.Facts)
	}
	if merged.View["a"].Value != "3" {
		t.Errorf("Expected re-applied value to win within the same source, got %s", merged.View["a"].Value)
	}
}

func TestRank(t *testing.T) {
	for i, tc := range []struct {
		higher, lower Source
	}{
		{SourceSidecar, SourceDirectory},
		{SourceDirectory, SourceMacOS},
		{SourceDirectory, SourceEXIF},
		{SourceICloud, SourceEXIF},
		{SourceEXIF, Source("someapp")},
		{Source("someapp"), SourceLegacy},
	} {
		if Rank(tc.higher) >= Rank(tc.lower) {
			t.Errorf("Test %d: Expected %s to outrank %s", i, tc.higher, tc.lower)
		}
	}
}

func TestMergedRecord(t *testing.T) {
	taken := time.Date(2020, 2, 3, 4, 5, 6, 0, time.UTC)
	var rec Record
	rec.DateTime.Taken = &taken
	rec.Exposure.ExposureBias = ptr(0.0)
	rec.Exposure.Flash = ptr(false)
	rec.Video.BitRate = ptr(int64(12000000))
	rec.Camera.Make = ptr("Canon")

	rebuilt := Merge(rec.Facts(SourceEXIF)).Record()
	for _, diff := range Compare(rec, rebuilt) {
		if !diff.Equal {
			t.Errorf("Field %s.%s did not survive: %v vs %v", diff.Category, diff.Name, diff.Left, diff.Right)
		}
	}
	if rebuilt.Exposure.ExposureBias == nil {
		t.Errorf("Expected zero exposure bias to be kept")
	}
}

func TestCanonicalKey(t *testing.T) {
	for i, tc := range []struct{ input, expect string }{
		{"latitude", "location.latitude"},
		{"camera.make", "camera.make"},
		{"keywords", KeyTags},
		{"custom_thing", "custom_thing"},
	} {
		if actual := CanonicalKey(tc.input); actual != tc.expect {
			t.Errorf("Test %d: Expected '%s' but got '%s'", i, tc.expect, actual)
		}
	}
}
