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

package objstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStore(t *testing.T) {
	root := t.TempDir()
	store := Local{Root: root}
	ctx := context.Background()

	ref, err := store.Store(ctx, "originals/P1.jpg", []byte("first"))
	if err != nil {
		t.Fatalf("storing: %v", err)
	}
	if !strings.HasPrefix(ref, "file://") || !strings.HasSuffix(ref, "originals/P1.jpg") {
		t.Errorf("Unexpected reference: %s", ref)
	}

	// same key replaces
	if _, err := store.Store(ctx, "originals/P1.jpg", []byte("second")); err != nil {
		t.Fatalf("storing again: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "originals", "P1.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("Expected 'second' but got '%s'", data)
	}

	// keys can't escape the root
	if _, err := store.Store(ctx, "../../etc/passwd", []byte("x")); err != nil {
		t.Fatalf("storing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "etc", "passwd")); err != nil {
		t.Errorf("Expected escaping key to be confined to root: %v", err)
	}

	if _, err := store.Store(ctx, "", []byte("x")); err == nil {
		t.Errorf("Expected error for empty key")
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{}); err == nil {
		t.Errorf("Expected error without directory")
	}
	if _, err := New(ctx, Config{Type: "floppy"}); err == nil {
		t.Errorf("Expected error for unknown type")
	}
	s, err := New(ctx, Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(Local); !ok {
		t.Errorf("Expected local store, got %T", s)
	}
	if _, err := New(ctx, Config{Type: "minio"}); err == nil {
		t.Errorf("Expected error without endpoint")
	}
}
