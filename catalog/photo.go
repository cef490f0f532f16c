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
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/timelinize/photocatalog/geocode"
	"go.uber.org/zap"
)

// Photo is one physical asset as stored in the catalog.
type Photo struct {
	ID          string     `json:"id"`
	LibraryID   string     `json:"library_id"`
	OwnerID     string     `json:"owner_id"`
	Fingerprint *string    `json:"fingerprint,omitempty"`
	Filename    *string    `json:"filename,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Timezone    *string    `json:"timezone,omitempty"`
	Width       *int       `json:"width,omitempty"`
	Height      *int       `json:"height,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Altitude    *float64   `json:"altitude,omitempty"`

	Favorite   *bool `json:"favorite,omitempty"`
	Hidden     *bool `json:"hidden,omitempty"`
	Screenshot *bool `json:"screenshot,omitempty"`
	Panorama   *bool `json:"panorama,omitempty"`
	LivePhoto  *bool `json:"live_photo,omitempty"`
	Burst      *bool `json:"burst,omitempty"`

	Tags    []string `json:"tags,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Persons []string `json:"persons,omitempty"`

	EXIF         json.RawMessage `json:"exif,omitempty"`
	PlaceName    *string         `json:"place_name,omitempty"`
	Place        *geocode.Place  `json:"place,omitempty"`
	PlaceUpdated *time.Time      `json:"place_updated,omitempty"`
	SearchData   string          `json:"search_data,omitempty"`

	Created time.Time  `json:"created"`
	Updated *time.Time `json:"updated,omitempty"`
	Deleted *time.Time `json:"deleted,omitempty"`

	Versions []Version `json:"versions,omitempty"`
	Albums   []Album   `json:"albums,omitempty"`
}

// Version is one rendition of a photo, unique by (photo ID, label).
type Version struct {
	PhotoID    string     `json:"photo_id"`
	Label      string     `json:"label"`
	StorageRef *string    `json:"storage_ref,omitempty"`
	Filename   *string    `json:"filename,omitempty"`
	Type       *string    `json:"type,omitempty"`
	Width      *int       `json:"width,omitempty"`
	Height     *int       `json:"height,omitempty"`
	Size       *int64     `json:"size,omitempty"`
	Created    time.Time  `json:"created"`
	Updated    *time.Time `json:"updated,omitempty"`
}

// Album is a named collection of photos within a library.
type Album struct {
	ID        string    `json:"id"`
	LibraryID string    `json:"library_id"`
	Name      string    `json:"name"`
	Created   time.Time `json:"created"`
}

// Standard version labels.
const (
	VersionOriginal = "original"
	VersionThumb    = "thumb"
	VersionEdited   = "edited"
	VersionLive     = "live"
)

// AddOwner adds an owning account with the given ID, if it does not already exist.
func (c *Catalog) AddOwner(ctx context.Context, id, name string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: owner ID is required", ErrValidation)
	}
	c.dbMu.Lock()
	defer c.dbMu.Unlock()
	_, err := c.db.ExecContext(ctx, `INSERT INTO owners (id, name) VALUES (?, ?)
		ON CONFLICT DO UPDATE SET name=COALESCE(excluded.name, name)`, id, nullString(name))
	if err != nil {
		return fmt.Errorf("storing owner %s: %w", id, err)
	}
	return nil
}

// AddLibrary adds a library with the given ID, if it does not already exist.
// If ownerID is not empty, it must refer to an existing owner.
func (c *Catalog) AddLibrary(ctx context.Context, id, name, ownerID string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: library ID is required", ErrValidation)
	}

	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if ownerID != "" {
		if ok, err := rowExists(ctx, tx, "owners", ownerID); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownOwner, ownerID)
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO libraries (id, name, owner_id) VALUES (?, ?, ?)
		ON CONFLICT DO UPDATE SET name=COALESCE(excluded.name, name), owner_id=COALESCE(excluded.owner_id, owner_id)`,
		id, nullString(name), nullString(ownerID))
	if err != nil {
		return fmt.Errorf("storing library %s: %w", id, err)
	}

	return tx.Commit()
}

// rowExists reports whether table has a row with the given text ID.
func rowExists(ctx context.Context, tx *sql.Tx, table, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id=? LIMIT 1`, id).Scan(&one) //nolint:gosec
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s %s: %w", table, id, err)
	}
	return true, nil
}

const photoColumns = `id, library_id, owner_id, fingerprint, filename, title, description,
	timestamp, timezone, width, height, latitude, longitude, altitude,
	favorite, hidden, screenshot, panorama, live_photo, burst,
	tags, labels, persons, exif_data, place_name, place_data, place_updated, search_data,
	created, updated, deleted`

type scanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row scanner) (Photo, error) {
	var p Photo
	var timestamp, placeUpdated, updated, deleted *int64
	var created int64
	var tags, labels, persons, exifData, placeData, searchData *string

	err := row.Scan(&p.ID, &p.LibraryID, &p.OwnerID, &p.Fingerprint, &p.Filename, &p.Title, &p.Description,
		&timestamp, &p.Timezone, &p.Width, &p.Height, &p.Latitude, &p.Longitude, &p.Altitude,
		&p.Favorite, &p.Hidden, &p.Screenshot, &p.Panorama, &p.LivePhoto, &p.Burst,
		&tags, &labels, &persons, &exifData, &p.PlaceName, &placeData, &placeUpdated, &searchData,
		&created, &updated, &deleted)
	if err != nil {
		return Photo{}, err
	}

	p.Timestamp = timeFromMilli(timestamp)
	p.PlaceUpdated = timeFromMilli(placeUpdated)
	p.Updated = timeFromMilli(updated)
	p.Deleted = timeFromMilli(deleted)
	p.Created = time.UnixMilli(created)

	if p.Tags, err = decodeList(tags); err != nil {
		return p, fmt.Errorf("decoding tags of %s: %w", p.ID, err)
	}
	if p.Labels, err = decodeList(labels); err != nil {
		return p, fmt.Errorf("decoding labels of %s: %w", p.ID, err)
	}
	if p.Persons, err = decodeList(persons); err != nil {
		return p, fmt.Errorf("decoding persons of %s: %w", p.ID, err)
	}
	if exifData != nil {
		p.EXIF = json.RawMessage(*exifData)
	}
	if placeData != nil {
		var place geocode.Place
		if err := json.Unmarshal([]byte(*placeData), &place); err != nil {
			return p, fmt.Errorf("decoding place of %s: %w", p.ID, err)
		}
		p.Place = &place
	}
	if searchData != nil {
		p.SearchData = *searchData
	}

	return p, nil
}

// LoadPhoto loads the photo with the given ID, including its versions and albums.
// Soft-deleted photos are returned too; check Deleted.
func (c *Catalog) LoadPhoto(ctx context.Context, id string) (Photo, error) {
	c.dbMu.RLock()
	defer c.dbMu.RUnlock()

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Photo{}, err
	}
	defer tx.Rollback()

	return loadPhoto(ctx, tx, id)
}

func loadPhoto(ctx context.Context, tx *sql.Tx, id string) (Photo, error) {
	p, err := scanPhoto(tx.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id=? LIMIT 1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Photo{}, fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Photo{}, fmt.Errorf("loading photo %s: %w", id, err)
	}
	if p.Versions, err = loadVersions(ctx, tx, id); err != nil {
		return Photo{}, err
	}
	if p.Albums, err = loadPhotoAlbums(ctx, tx, id); err != nil {
		return Photo{}, err
	}
	return p, nil
}

func loadVersions(ctx context.Context, tx *sql.Tx, photoID string) ([]Version, error) {
	rows, err := tx.QueryContext(ctx, `SELECT photo_id, label, storage_ref, filename, type, width, height, size, created, updated
		FROM versions WHERE photo_id=? ORDER BY id`, photoID)
	if err != nil {
		return nil, fmt.Errorf("querying versions of %s: %w", photoID, err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		var created int64
		var updated *int64
		if err := rows.Scan(&v.PhotoID, &v.Label, &v.StorageRef, &v.Filename, &v.Type,
			&v.Width, &v.Height, &v.Size, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		v.Created = time.UnixMilli(created)
		v.Updated = timeFromMilli(updated)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func loadPhotoAlbums(ctx context.Context, tx *sql.Tx, photoID string) ([]Album, error) {
	rows, err := tx.QueryContext(ctx, `SELECT albums.id, albums.library_id, albums.name, albums.created
		FROM album_photos
		JOIN albums ON albums.id = album_photos.album_id
		WHERE album_photos.photo_id=?
		ORDER BY albums.name`, photoID)
	if err != nil {
		return nil, fmt.Errorf("querying albums of %s: %w", photoID, err)
	}
	defer rows.Close()

	var albums []Album
	for rows.Next() {
		var a Album
		var created int64
		if err := rows.Scan(&a.ID, &a.LibraryID, &a.Name, &created); err != nil {
			return nil, fmt.Errorf("scanning album: %w", err)
		}
		a.Created = time.UnixMilli(created)
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// FindPhotosByFingerprint returns the IDs of photos that have the given content
// fingerprint, oldest first. It is only a detection aid: the catalog never
// unifies photos that share a fingerprint.
func (c *Catalog) FindPhotosByFingerprint(ctx context.Context, fingerprint string) ([]string, error) {
	if fingerprint == "" {
		return nil, nil
	}

	c.dbMu.RLock()
	defer c.dbMu.RUnlock()

	rows, err := c.db.QueryContext(ctx,
		`SELECT id FROM photos WHERE fingerprint=? AND deleted IS NULL ORDER BY created, id`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("querying photos by fingerprint: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SoftDeletePhoto marks the photo as deleted without removing any rows.
// Deleting an already-deleted photo keeps its original deletion time.
func (c *Catalog) SoftDeletePhoto(ctx context.Context, id string) error {
	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	res, err := c.db.ExecContext(ctx, `UPDATE photos SET deleted=COALESCE(deleted, ?) WHERE id=?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("deleting photo %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}

	Log.Named("catalog").Info("soft-deleted photo", zap.String("id", id))

	return nil
}

// PhotoFilter narrows ListPhotos.
type PhotoFilter struct {
	LibraryID      string `json:"library_id,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

// ListPhotos returns photos (without versions or albums) ordered by ID.
func (c *Catalog) ListPhotos(ctx context.Context, filter PhotoFilter) ([]Photo, error) {
	q := `SELECT ` + photoColumns + ` FROM photos`
	var clauses []string
	var args []any
	if filter.LibraryID != "" {
		clauses = append(clauses, "library_id=?")
		args = append(args, filter.LibraryID)
	}
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted IS NULL")
	}
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY id"
	q, args = paginate(q, args, filter.Limit, filter.Offset)

	c.dbMu.RLock()
	defer c.dbMu.RUnlock()

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying photos: %w", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func paginate(q string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			q += " OFFSET ?"
			args = append(args, offset)
		}
	} else if offset > 0 {
		q += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}
	return q, args
}

// buildSearchData returns the lowercased, de-duplicated words that
// search should match for the photo.
func buildSearchData(p Photo) string {
	var terms []string
	add := func(vals ...string) {
		for _, v := range vals {
			for _, word := range strings.Fields(strings.ToLower(v)) {
				terms = append(terms, word)
			}
		}
	}
	for _, s := range []*string{p.Filename, p.Title, p.Description, p.PlaceName} {
		if s != nil {
			add(*s)
		}
	}
	add(p.Tags...)
	add(p.Labels...)
	add(p.Persons...)
	for _, a := range p.Albums {
		add(a.Name)
	}
	if p.Place != nil {
		add(p.Place.City, p.Place.State, p.Place.Country)
	}
	sort.Strings(terms)
	return strings.Join(slices.Compact(terms), " ")
}

func encodeList(list []string) (*string, error) {
	if list == nil {
		return nil, nil
	}
	enc, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	s := string(enc)
	return &s, nil
}

func decodeList(s *string) ([]string, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var list []string
	err := json.Unmarshal([]byte(*s), &list)
	return list, err
}

// unionList appends the values of add missing from base, preserving order.
func unionList(base, add []string) []string {
	out := slices.Clone(base)
	for _, v := range add {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// normalizeList trims entries and drops empty or duplicate ones.
// A nil list stays nil, meaning "not supplied".
func normalizeList(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func timeFromMilli(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}

func milli(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
