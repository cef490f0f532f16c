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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/timelinize/photocatalog/metadata"
)

// MetadataEntry is one stored metadata row.
type MetadataEntry struct {
	metadata.Fact
	Created time.Time  `json:"created"`
	Updated *time.Time `json:"updated,omitempty"`
}

// ApplyFacts writes facts about an existing photo to the metadata store.
// Each (key, source) pair is one row: applying a fact again updates the
// row's value in place, and the same key from a different source is kept
// as a separate row. It returns the number of rows inserted or changed.
func (c *Catalog) ApplyFacts(ctx context.Context, photoID string, facts []metadata.Fact) (int, error) {
	return c.writeMetadata(ctx, photoID, func(tx *sql.Tx) (int, error) {
		return applyFacts(ctx, tx, photoID, facts)
	})
}

// ApplyLegacyMetadata stores each top-level key of a JSON object as a fact
// from metadata.SourceLegacy. Strings are stored as-is; other values are
// stored as compact JSON; nulls are skipped.
func (c *Catalog) ApplyLegacyMetadata(ctx context.Context, photoID string, blob []byte) (int, error) {
	if _, err := decodeLegacy(blob); err != nil {
		return 0, err
	}
	return c.writeMetadata(ctx, photoID, func(tx *sql.Tx) (int, error) {
		return applyLegacyMetadata(ctx, tx, photoID, blob)
	})
}

func (c *Catalog) writeMetadata(ctx context.Context, photoID string, write func(*sql.Tx) (int, error)) (int, error) {
	c.photoLocks.Lock(photoLockKey(photoID))
	defer c.photoLocks.Unlock(photoLockKey(photoID))

	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if ok, err := rowExists(ctx, tx, "photos", photoID); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("photo %s: %w", photoID, ErrNotFound)
	}

	n, err := write(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing metadata of %s: %w", photoID, err)
	}
	return n, nil
}

func applyFacts(ctx context.Context, tx *sql.Tx, photoID string, facts []metadata.Fact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	// collapse repeats of the same (key, source), last one wins
	merged := metadata.Merge(facts)

	now := time.Now().UnixMilli()

	var count int
	for _, f := range merged.Facts {
		key := strings.TrimSpace(f.Key)
		if key == "" {
			continue
		}
		if f.Source == "" {
			return count, fmt.Errorf("%w: fact %s of %s has no source", ErrValidation, key, photoID)
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO photo_metadata (photo_id, key, value, source)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (photo_id, key, source) DO UPDATE
			SET value=excluded.value, updated=?
			WHERE value IS NOT excluded.value`,
			photoID, key, f.Value, string(f.Source), now)
		if err != nil {
			return count, fmt.Errorf("storing fact %s (%s) of %s: %w", key, f.Source, photoID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			count++
		}
	}

	return count, nil
}

func decodeLegacy(blob []byte) (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(blob, &doc); err != nil || doc == nil {
		return nil, fmt.Errorf("%w: legacy metadata must be a JSON object", ErrValidation)
	}
	return doc, nil
}

func applyLegacyMetadata(ctx context.Context, tx *sql.Tx, photoID string, blob []byte) (int, error) {
	doc, err := decodeLegacy(blob)
	if err != nil {
		return 0, err
	}

	facts := make([]metadata.Fact, 0, len(doc))
	for _, key := range sortedKeys(doc) {
		raw := bytes.TrimSpace(doc[key])
		if bytes.Equal(raw, []byte("null")) {
			continue
		}
		value := string(raw)
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			value = s
		} else {
			var buf bytes.Buffer
			if err := json.Compact(&buf, raw); err == nil {
				value = buf.String()
			}
		}
		facts = append(facts, metadata.Fact{Key: key, Value: value, Source: metadata.SourceLegacy})
	}

	return applyFacts(ctx, tx, photoID, facts)
}

// PhotoMetadata returns every stored metadata row of the photo, ordered
// by source precedence and then key.
func (c *Catalog) PhotoMetadata(ctx context.Context, photoID string) ([]MetadataEntry, error) {
	c.dbMu.RLock()
	defer c.dbMu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT key, value, source, created, updated
		FROM photo_metadata WHERE photo_id=?`, photoID)
	if err != nil {
		return nil, fmt.Errorf("querying metadata of %s: %w", photoID, err)
	}
	defer rows.Close()

	byFact := make(map[metadata.Fact]MetadataEntry)
	var facts []metadata.Fact
	for rows.Next() {
		var e MetadataEntry
		var value *string
		var source string
		var created int64
		var updated *int64
		if err := rows.Scan(&e.Key, &value, &source, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning metadata: %w", err)
		}
		if value != nil {
			e.Value = *value
		}
		e.Source = metadata.Source(source)
		e.Created = time.UnixMilli(created)
		e.Updated = timeFromMilli(updated)
		byFact[e.Fact] = e
		facts = append(facts, e.Fact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// (key, source) is unique, so ordering the facts orders the entries
	ordered := metadata.Merge(facts).Facts
	entries := make([]MetadataEntry, 0, len(ordered))
	for _, f := range ordered {
		entries = append(entries, byFact[f])
	}
	return entries, nil
}

// MergedMetadata returns the photo's metadata merged by source precedence.
func (c *Catalog) MergedMetadata(ctx context.Context, photoID string) (metadata.Merged, error) {
	entries, err := c.PhotoMetadata(ctx, photoID)
	if err != nil {
		return metadata.Merged{}, err
	}
	facts := make([]metadata.Fact, len(entries))
	for i, e := range entries {
		facts[i] = e.Fact
	}
	return metadata.Merge(facts), nil
}
