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
	"testing"
	"time"
)

func TestOpenReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := Open(ctx, dir, Options{OptimizeInterval: -1})
	if err != nil {
		t.Fatal(err)
	}
	id := c.ID()
	if err := c.AddOwner(ctx, "o", "Owner"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddLibrary(ctx, "l", "Library", "o"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Reconcile(ctx, PhotoInput{ID: "keep", LibraryID: "l", OwnerID: "o"}, ReconcileOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := c.Optimize(ctx); err != nil {
		t.Errorf("optimizing: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = Open(ctx, dir, Options{OptimizeInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.ID() != id {
		t.Errorf("Expected repo ID %s to persist, got %s", id, c.ID())
	}
	if _, err := c.LoadPhoto(ctx, "keep"); err != nil {
		t.Errorf("Expected photo to persist: %v", err)
	}
}

func TestAddLibrary(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, t.TempDir(), Options{OptimizeInterval: -1})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.AddLibrary(ctx, "l", "Library", "ghost"); !errors.Is(err, ErrUnknownOwner) {
		t.Errorf("Expected ErrUnknownOwner, got %v", err)
	}
	if err := c.AddLibrary(ctx, " ", "Library", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if err := c.AddOwner(ctx, "", "Nobody"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if err := c.AddLibrary(ctx, "l", "Library", ""); err != nil {
		t.Errorf("Expected library without owner to be added: %v", err)
	}
}
