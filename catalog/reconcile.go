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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ListPolicy decides how incoming list fields (tags, labels, persons)
// combine with stored ones when updating a photo.
type ListPolicy string

const (
	ListsMerge   ListPolicy = "merge"   // union of stored and incoming values (default)
	ListsReplace ListPolicy = "replace" // incoming values replace stored ones
)

// ReconcileOptions customizes reconciliation.
type ReconcileOptions struct {
	// If true, an identifier already in the catalog
	// fails with ErrAlreadyExists instead of updating.
	CreateOnly bool `json:"create_only,omitempty"`

	Lists ListPolicy `json:"lists,omitempty"`
}

// ReconcileAction describes what reconciliation did with a photo.
type ReconcileAction string

const (
	ActionCreated ReconcileAction = "created"
	ActionUpdated ReconcileAction = "updated"
)

// ReconcileResult summarizes the writes applied for one input.
type ReconcileResult struct {
	PhotoID         string          `json:"photo_id"`
	Action          ReconcileAction `json:"action"`
	VersionsCreated int             `json:"versions_created,omitempty"`
	VersionsUpdated int             `json:"versions_updated,omitempty"`
	AlbumsCreated   int             `json:"albums_created,omitempty"`
	AlbumsLinked    int             `json:"albums_linked,omitempty"`
	FactsWritten    int             `json:"facts_written,omitempty"`
}

const maxIDLength = 512

// validateInput checks everything about in that can be checked
// without the database.
func validateInput(in PhotoInput) error {
	id := strings.TrimSpace(in.ID)
	if id == "" || len(id) > maxIDLength || strings.ContainsFunc(id, unicode.IsControl) {
		return fmt.Errorf("%w: %q", ErrInvalidID, in.ID)
	}
	for i, v := range in.Versions {
		if strings.TrimSpace(v.Label) == "" {
			return fmt.Errorf("%w (version %d of %s)", ErrInvalidVersion, i, id)
		}
	}
	if len(in.LegacyMetadata) > 0 {
		if _, err := decodeLegacy(in.LegacyMetadata); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile creates the photo described by in, or updates it if a photo with
// the same identifier already exists. All writes for the input (photo, versions,
// album memberships, and metadata facts) happen in one transaction.
//
// Fields not supplied by in are left unchanged on update. Versions are matched
// by label and never deleted. Albums are created by name within the photo's
// library on first reference.
func (c *Catalog) Reconcile(ctx context.Context, in PhotoInput, opts ReconcileOptions) (ReconcileResult, error) {
	if err := validateInput(in); err != nil {
		return ReconcileResult{}, err
	}
	in.ID = strings.TrimSpace(in.ID)

	c.photoLocks.Lock(photoLockKey(in.ID))
	defer c.photoLocks.Unlock(photoLockKey(in.ID))

	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := reconcile(ctx, tx, in, opts)
	if err != nil {
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return ReconcileResult{}, fmt.Errorf("committing reconciliation of %s: %w", in.ID, err)
	}

	Log.Named("reconcile").Debug("reconciled photo",
		zap.String("id", result.PhotoID),
		zap.String("action", string(result.Action)),
		zap.Int("versions_created", result.VersionsCreated),
		zap.Int("versions_updated", result.VersionsUpdated),
		zap.Int("albums_linked", result.AlbumsLinked),
		zap.Int("facts", result.FactsWritten))

	return result, nil
}

func photoLockKey(id string) string { return "photo:" + id }

func reconcile(ctx context.Context, tx *sql.Tx, in PhotoInput, opts ReconcileOptions) (ReconcileResult, error) {
	result := ReconcileResult{PhotoID: in.ID}

	existing, err := scanPhoto(tx.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id=? LIMIT 1`, in.ID))
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return result, fmt.Errorf("looking up photo %s: %w", in.ID, err)
	}
	if exists && opts.CreateOnly {
		return result, fmt.Errorf("%s: %w", in.ID, ErrAlreadyExists)
	}

	// validate foreign references before writing anything
	libraryID, ownerID := in.LibraryID, in.OwnerID
	if libraryID == "" {
		libraryID = existing.LibraryID
	}
	if ownerID == "" {
		ownerID = existing.OwnerID
	}
	if libraryID == "" {
		return result, fmt.Errorf("%w: no library given for %s", ErrUnknownLibrary, in.ID)
	}
	if ownerID == "" {
		return result, fmt.Errorf("%w: no owner given for %s", ErrUnknownOwner, in.ID)
	}
	if libraryID != existing.LibraryID {
		if ok, err := rowExists(ctx, tx, "libraries", libraryID); err != nil {
			return result, err
		} else if !ok {
			return result, fmt.Errorf("%w: %s", ErrUnknownLibrary, libraryID)
		}
	}
	if ownerID != existing.OwnerID {
		if ok, err := rowExists(ctx, tx, "owners", ownerID); err != nil {
			return result, err
		} else if !ok {
			return result, fmt.Errorf("%w: %s", ErrUnknownOwner, ownerID)
		}
	}

	tags, err := encodeList(resolveList(existing.Tags, in.Tags, opts.Lists))
	if err != nil {
		return result, err
	}
	labels, err := encodeList(resolveList(existing.Labels, in.Labels, opts.Lists))
	if err != nil {
		return result, err
	}
	persons, err := encodeList(resolveList(existing.Persons, in.Persons, opts.Lists))
	if err != nil {
		return result, err
	}
	exifData, err := mergeEXIF(existing.EXIF, in.EXIF)
	if err != nil {
		return result, fmt.Errorf("merging EXIF data of %s: %w", in.ID, err)
	}

	now := time.Now().UnixMilli()

	if exists {
		result.Action = ActionUpdated
		_, err = tx.ExecContext(ctx, `UPDATE photos SET
			library_id=?, owner_id=?,
			fingerprint=COALESCE(?, fingerprint),
			filename=COALESCE(?, filename),
			title=COALESCE(?, title),
			description=COALESCE(?, description),
			timestamp=COALESCE(?, timestamp),
			timezone=COALESCE(?, timezone),
			width=COALESCE(?, width),
			height=COALESCE(?, height),
			latitude=COALESCE(?, latitude),
			longitude=COALESCE(?, longitude),
			altitude=COALESCE(?, altitude),
			favorite=COALESCE(?, favorite),
			hidden=COALESCE(?, hidden),
			screenshot=COALESCE(?, screenshot),
			panorama=COALESCE(?, panorama),
			live_photo=COALESCE(?, live_photo),
			burst=COALESCE(?, burst),
			tags=?, labels=?, persons=?, exif_data=?,
			updated=?
			WHERE id=?`,
			libraryID, ownerID,
			in.Fingerprint, in.Filename, in.Title, in.Description,
			milli(in.Timestamp), in.Timezone, in.Width, in.Height,
			in.Latitude, in.Longitude, in.Altitude,
			in.Favorite, in.Hidden, in.Screenshot, in.Panorama, in.LivePhoto, in.Burst,
			tags, labels, persons, exifData,
			now, in.ID)
		if err != nil {
			return result, fmt.Errorf("updating photo %s: %w", in.ID, err)
		}

		// a changed coordinate invalidates the resolved place
		if coordinateChanged(existing, in) {
			_, err = tx.ExecContext(ctx, `UPDATE photos SET place_name=NULL, place_data=NULL, place_updated=? WHERE id=?`, now, in.ID)
			if err != nil {
				return result, fmt.Errorf("clearing stale place of %s: %w", in.ID, err)
			}
		}
	} else {
		result.Action = ActionCreated
		_, err = tx.ExecContext(ctx, `INSERT INTO photos
			(id, library_id, owner_id, fingerprint, filename, title, description,
			timestamp, timezone, width, height, latitude, longitude, altitude,
			favorite, hidden, screenshot, panorama, live_photo, burst,
			tags, labels, persons, exif_data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			in.ID, libraryID, ownerID, in.Fingerprint, in.Filename, in.Title, in.Description,
			milli(in.Timestamp), in.Timezone, in.Width, in.Height,
			in.Latitude, in.Longitude, in.Altitude,
			in.Favorite, in.Hidden, in.Screenshot, in.Panorama, in.LivePhoto, in.Burst,
			tags, labels, persons, exifData)
		if err != nil {
			return result, fmt.Errorf("inserting photo %s: %w", in.ID, err)
		}
	}

	for _, v := range in.Versions {
		created, err := upsertVersion(ctx, tx, in.ID, v, now)
		if err != nil {
			return result, err
		}
		if created {
			result.VersionsCreated++
		} else {
			result.VersionsUpdated++
		}
	}

	for _, name := range normalizeList(in.Albums) {
		albumID, created, err := findOrCreateAlbum(ctx, tx, libraryID, name)
		if err != nil {
			return result, err
		}
		if created {
			result.AlbumsCreated++
		}
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO album_photos (album_id, photo_id) VALUES (?, ?)`, albumID, in.ID)
		if err != nil {
			return result, fmt.Errorf("adding %s to album %s: %w", in.ID, name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.AlbumsLinked++
		}
	}

	n, err := applyFacts(ctx, tx, in.ID, in.Facts)
	if err != nil {
		return result, err
	}
	result.FactsWritten += n

	if len(in.LegacyMetadata) > 0 {
		n, err := applyLegacyMetadata(ctx, tx, in.ID, in.LegacyMetadata)
		if err != nil {
			return result, err
		}
		result.FactsWritten += n
	}

	if err := refreshSearchData(ctx, tx, in.ID); err != nil {
		return result, err
	}

	return result, nil
}

// resolveList returns the list to store given the stored and incoming
// values. A nil incoming list leaves the stored one unchanged.
func resolveList(stored, incoming []string, policy ListPolicy) []string {
	incoming = normalizeList(incoming)
	if incoming == nil {
		return stored
	}
	if policy == ListsReplace {
		return incoming
	}
	return unionList(stored, incoming)
}

// mergeEXIF overlays the top-level keys of incoming onto the stored
// document, returning the JSON to store.
func mergeEXIF(stored json.RawMessage, incoming map[string]any) (*string, error) {
	if len(incoming) == 0 {
		if len(stored) == 0 {
			return nil, nil
		}
		s := string(stored)
		return &s, nil
	}
	doc := make(map[string]any)
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &doc); err != nil {
			return nil, err
		}
	}
	maps.Copy(doc, incoming)
	enc, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	s := string(enc)
	return &s, nil
}

func coordinateChanged(existing Photo, in PhotoInput) bool {
	differs := func(a, b *float64) bool { return b != nil && (a == nil || *a != *b) }
	return differs(existing.Latitude, in.Latitude) || differs(existing.Longitude, in.Longitude)
}

// upsertVersion inserts the version, or updates the supplied fields of the
// version with the same label. It reports whether the version was created.
func upsertVersion(ctx context.Context, tx *sql.Tx, photoID string, v VersionInput, now int64) (bool, error) {
	label := strings.TrimSpace(v.Label)

	var rowID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM versions WHERE photo_id=? AND label=? LIMIT 1`, photoID, label).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx, `INSERT INTO versions (photo_id, label, storage_ref, filename, type, width, height, size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			photoID, label, v.StorageRef, v.Filename, v.Type, v.Width, v.Height, v.Size)
		if err != nil {
			return false, fmt.Errorf("inserting version %s of %s: %w", label, photoID, err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up version %s of %s: %w", label, photoID, err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE versions SET
		storage_ref=COALESCE(?, storage_ref),
		filename=COALESCE(?, filename),
		type=COALESCE(?, type),
		width=COALESCE(?, width),
		height=COALESCE(?, height),
		size=COALESCE(?, size),
		updated=?
		WHERE id=?`,
		v.StorageRef, v.Filename, v.Type, v.Width, v.Height, v.Size, now, rowID)
	if err != nil {
		return false, fmt.Errorf("updating version %s of %s: %w", label, photoID, err)
	}
	return false, nil
}

func findOrCreateAlbum(ctx context.Context, tx *sql.Tx, libraryID, name string) (string, bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM albums WHERE library_id=? AND name=? LIMIT 1`, libraryID, name).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("looking up album %s: %w", name, err)
	}
	id = uuid.NewString()
	_, err = tx.ExecContext(ctx, `INSERT INTO albums (id, library_id, name) VALUES (?, ?, ?)`, id, libraryID, name)
	if err != nil {
		return "", false, fmt.Errorf("creating album %s: %w", name, err)
	}
	return id, true, nil
}

// refreshSearchData rebuilds the search document from the photo's final row.
func refreshSearchData(ctx context.Context, tx *sql.Tx, photoID string) error {
	p, err := loadPhoto(ctx, tx, photoID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE photos SET search_data=? WHERE id=?`, buildSearchData(p), photoID)
	if err != nil {
		return fmt.Errorf("updating search data of %s: %w", photoID, err)
	}
	return nil
}

// ListAlbums returns the albums of a library ordered by name, with photo counts.
func (c *Catalog) ListAlbums(ctx context.Context, libraryID string) ([]AlbumSummary, error) {
	c.dbMu.RLock()
	defer c.dbMu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT albums.id, albums.library_id, albums.name, albums.created, count(album_photos.photo_id)
		FROM albums
		LEFT JOIN album_photos ON album_photos.album_id = albums.id
		WHERE albums.library_id=?
		GROUP BY albums.id
		ORDER BY albums.name`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("querying albums: %w", err)
	}
	defer rows.Close()

	var albums []AlbumSummary
	for rows.Next() {
		var a AlbumSummary
		var created int64
		if err := rows.Scan(&a.ID, &a.LibraryID, &a.Name, &created, &a.PhotoCount); err != nil {
			return nil, fmt.Errorf("scanning album: %w", err)
		}
		a.Created = time.UnixMilli(created)
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// AlbumSummary is an album with its number of member photos.
type AlbumSummary struct {
	Album
	PhotoCount int `json:"photo_count"`
}
