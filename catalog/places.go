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
	"math"
	"strings"
	"time"

	"github.com/timelinize/photocatalog/geocode"
	"go.uber.org/zap"
)

// PlaceLookup resolves the place of photos that have coordinates but no
// place yet. A failed lookup skips that photo; an unreachable geocoder
// fails the task.
type PlaceLookup struct {
	Geocoder geocode.Geocoder `json:"-"`

	// Only photos in this library, if set.
	LibraryID string `json:"library_id,omitempty"`

	// Maximum number of photos to process; 0 means no limit.
	Limit int `json:"limit,omitempty"`

	// Number of photos per batch. Default 50.
	BatchSize int `json:"batch_size,omitempty"`

	// Report what would be looked up and resolved without writing anything.
	DryRun bool `json:"dry_run,omitempty"`
}

func (PlaceLookup) TaskName() TaskName { return TaskPlaceLookup }

const defaultPlaceBatchSize = 50

// A geocoder that fails this many lookups in a row is considered down.
const maxConsecutiveUnreachable = 3

type placeCandidate struct {
	id       string
	lat, lon float64
}

func (op PlaceLookup) Run(ctx context.Context, c *Catalog, progress ProgressReporter) (BatchOutcome, error) {
	if op.Geocoder == nil {
		return BatchOutcome{}, errors.New("no geocoder configured")
	}
	batchSize := op.BatchSize
	if batchSize <= 0 {
		batchSize = defaultPlaceBatchSize
	}
	logger := progress.Logger()

	total, err := c.countPlaceCandidates(ctx, op.LibraryID)
	if err != nil {
		return BatchOutcome{}, err
	}
	if op.Limit > 0 && total > op.Limit {
		total = op.Limit
	}
	progress.Report(0, total)

	var overall BatchOutcome
	var processed int
	var lastID string

	for processed < total {
		n := min(batchSize, total-processed)
		batch, err := c.placeCandidates(ctx, op.LibraryID, lastID, n)
		if err != nil {
			return overall, err
		}
		if len(batch) == 0 {
			break
		}
		lastID = batch[len(batch)-1].id

		var outcome BatchOutcome
		resolved := make(map[string]geocode.Place)

		// places resolved so far in this batch are kept whatever happens next
		finishBatch := func(cause error) error {
			overall.Add(outcome)
			if !op.DryRun && len(resolved) > 0 {
				if err := c.storePlaces(ctx, resolved); err != nil {
					return err
				}
			}
			return cause
		}

		var unreachable, consecutiveUnreachable int
		for _, cand := range batch {
			if err := ctx.Err(); err != nil {
				return overall, finishBatch(err)
			}
			if err := geocode.ValidateCoordinates(cand.lat, cand.lon); err != nil {
				outcome.Fail(cand.id, err)
				continue
			}
			place, err := op.Geocoder.ReverseGeocode(ctx, cand.lat, cand.lon)
			if errors.Is(err, context.Canceled) {
				return overall, finishBatch(err)
			}
			if errors.Is(err, geocode.ErrUnreachable) {
				unreachable++
				consecutiveUnreachable++
				outcome.Fail(cand.id, err)
				if consecutiveUnreachable >= maxConsecutiveUnreachable {
					return overall, finishBatch(fmt.Errorf("looking up place of %s: %d lookups in a row failed: %w",
						cand.id, consecutiveUnreachable, err))
				}
				logger.Warn("geocoder unreachable; continuing", zap.String("photo_id", cand.id), zap.Error(err))
				continue
			}
			consecutiveUnreachable = 0
			if err != nil {
				outcome.Fail(cand.id, err)
				continue
			}
			key := place.Key()
			if key == "" {
				outcome.Fail(cand.id, geocode.ErrNoResult)
				continue
			}
			resolved[cand.id] = place
			outcome.Succeed(cand.id, key)
		}

		if unreachable == len(batch) {
			return overall, finishBatch(fmt.Errorf("%w for every photo in the batch", geocode.ErrUnreachable))
		}

		if !op.DryRun && len(resolved) > 0 {
			if err := c.storePlaces(ctx, resolved); err != nil {
				overall.Add(outcome)
				return overall, err
			}
		}

		processed += len(batch)
		overall.Add(outcome)
		progress.Report(processed, total)

		logger.Info("place lookup batch finished",
			zap.Int("succeeded", len(outcome.Succeeded)),
			zap.Int("failed", len(outcome.Failed)),
			zap.Bool("dry_run", op.DryRun))

		if err := progress.Batch(outcome); err != nil {
			return overall, err
		}
	}

	return overall, nil
}

func placeCandidateWhere(libraryID string) (string, []any) {
	where := `latitude IS NOT NULL AND longitude IS NOT NULL AND place_data IS NULL AND deleted IS NULL`
	var args []any
	if libraryID != "" {
		where += ` AND library_id=?`
		args = append(args, libraryID)
	}
	return where, args
}

func (c *Catalog) countPlaceCandidates(ctx context.Context, libraryID string) (int, error) {
	where, args := placeCandidateWhere(libraryID)
	c.dbMu.RLock()
	defer c.dbMu.RUnlock()
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT count() FROM photos WHERE `+where, args...).Scan(&count) //nolint:gosec
	if err != nil {
		return 0, fmt.Errorf("counting photos without places: %w", err)
	}
	return count, nil
}

// placeCandidates returns up to limit photos needing a place with IDs after afterID.
func (c *Catalog) placeCandidates(ctx context.Context, libraryID, afterID string, limit int) ([]placeCandidate, error) {
	where, args := placeCandidateWhere(libraryID)
	args = append(args, afterID, limit)

	c.dbMu.RLock()
	defer c.dbMu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT id, latitude, longitude FROM photos
		WHERE `+where+` AND id > ? ORDER BY id LIMIT ?`, args...) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("querying photos without places: %w", err)
	}
	defer rows.Close()

	var batch []placeCandidate
	for rows.Next() {
		var pc placeCandidate
		if err := rows.Scan(&pc.id, &pc.lat, &pc.lon); err != nil {
			return nil, err
		}
		batch = append(batch, pc)
	}
	return batch, rows.Err()
}

// storePlaces writes resolved places in one transaction.
func (c *Catalog) storePlaces(ctx context.Context, places map[string]geocode.Place) error {
	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, id := range sortedKeys(places) {
		place := places[id]
		data, err := json.Marshal(place)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE photos SET place_name=?, place_data=?, place_updated=? WHERE id=?`,
			place.Key(), string(data), now, id)
		if err != nil {
			return fmt.Errorf("storing place of %s: %w", id, err)
		}
		if err := refreshSearchData(ctx, tx, id); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing places: %w", err)
	}
	return nil
}

// PlaceSummary aggregates the photos resolved to one place.
type PlaceSummary struct {
	Name        string     `json:"name"`
	PhotoCount  int        `json:"photo_count"`
	FirstPhoto  *time.Time `json:"first_photo,omitempty"`
	LastPhoto   *time.Time `json:"last_photo,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Country     string     `json:"country,omitempty"`
	CountryCode string     `json:"country_code,omitempty"`
	State       string     `json:"state,omitempty"`
	City        string     `json:"city,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`
}

// PlaceSummaryAggregation builds the place summaries from photos with
// resolved places. A rebuild recomputes every place and drops summaries
// of places that no longer have photos; otherwise only places touched
// since the last completed aggregation are recomputed.
type PlaceSummaryAggregation struct {
	Rebuild bool `json:"rebuild,omitempty"`

	// Number of places per batch. Default 50.
	BatchSize int `json:"batch_size,omitempty"`
}

func (PlaceSummaryAggregation) TaskName() TaskName { return TaskPlaceSummaries }

func (op PlaceSummaryAggregation) Run(ctx context.Context, c *Catalog, progress ProgressReporter) (BatchOutcome, error) {
	batchSize := op.BatchSize
	if batchSize <= 0 {
		batchSize = defaultPlaceBatchSize
	}
	logger := progress.Logger()

	// a first run has nothing to be incremental to
	var since *time.Time
	if !op.Rebuild {
		last, ok, err := c.lastCompletedTask(ctx, TaskPlaceSummaries)
		if err != nil {
			return BatchOutcome{}, err
		}
		if ok && last.Started != nil {
			since = last.Started
		}
	}
	rebuild := since == nil

	total, err := c.countSummaryWork(ctx, since)
	if err != nil {
		return BatchOutcome{}, err
	}
	progress.Report(0, total)

	// every summary written by this run carries the same update time,
	// so a rebuild can drop the ones it did not write at the end
	now := time.Now().UnixMilli()

	var overall BatchOutcome
	var processed int
	var after string

	for {
		outcome, last, err := c.summarizeBatch(ctx, since, after, batchSize, now)
		if err != nil {
			return overall, err
		}
		if outcome.Len() == 0 {
			break
		}
		after = last

		processed += outcome.Len()
		overall.Add(outcome)
		progress.Report(processed, max(total, processed))
		if err := progress.Batch(outcome); err != nil {
			return overall, err
		}
	}

	if rebuild {
		c.dbMu.Lock()
		_, err := c.db.ExecContext(ctx, `DELETE FROM place_summaries WHERE updated IS NOT ?`, now)
		c.dbMu.Unlock()
		if err != nil {
			return overall, fmt.Errorf("removing outdated place summaries: %w", err)
		}
	}

	logger.Info("aggregated place summaries",
		zap.Bool("rebuild", rebuild),
		zap.Int("places", processed))

	return overall, nil
}

// countSummaryWork counts the places to summarize: all of them if since is
// nil, otherwise those changed since then.
func (c *Catalog) countSummaryWork(ctx context.Context, since *time.Time) (int, error) {
	c.dbMu.RLock()
	defer c.dbMu.RUnlock()

	var total int
	var err error
	if since == nil {
		err = c.db.QueryRowContext(ctx, `SELECT count(DISTINCT place_name) FROM photos
			WHERE place_name IS NOT NULL AND deleted IS NULL`).Scan(&total)
	} else {
		err = c.db.QueryRowContext(ctx, `SELECT count() FROM (`+changedPlacesQuery+`)`, since.UnixMilli()).Scan(&total)
	}
	if err != nil {
		return 0, fmt.Errorf("counting places: %w", err)
	}
	return total, nil
}

// summarizeBatch summarizes the next batch of places after the given name
// in one transaction, returning the outcome and the last name processed.
func (c *Catalog) summarizeBatch(ctx context.Context, since *time.Time, after string, limit int, now int64) (BatchOutcome, string, error) {
	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return BatchOutcome{}, "", err
	}
	defer tx.Rollback()

	var names []string
	if since == nil {
		names, err = allPlaceNames(ctx, tx, after, limit)
	} else {
		names, err = changedPlaceNames(ctx, tx, *since, after, limit)
	}
	if err != nil || len(names) == 0 {
		return BatchOutcome{}, "", err
	}

	var outcome BatchOutcome
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return BatchOutcome{}, "", err
		}
		count, err := summarizePlace(ctx, tx, name, now)
		if err != nil {
			return BatchOutcome{}, "", err
		}
		outcome.Succeed(name, fmt.Sprintf("%d photos", count))
	}

	if err := tx.Commit(); err != nil {
		return BatchOutcome{}, "", fmt.Errorf("committing place summaries: %w", err)
	}

	return outcome, names[len(names)-1], nil
}

func allPlaceNames(ctx context.Context, tx *sql.Tx, after string, limit int) ([]string, error) {
	return queryNames(ctx, tx, `SELECT DISTINCT place_name FROM photos
		WHERE place_name IS NOT NULL AND deleted IS NULL AND place_name > ?
		ORDER BY place_name LIMIT ?`, after, limit)
}

// changedPlacesQuery selects place names whose photos changed since a time,
// and names whose summary is out of date (such as after their photos were
// deleted or their place was cleared).
const changedPlacesQuery = `SELECT DISTINCT place_name AS name FROM photos
	WHERE place_name IS NOT NULL
		AND (place_updated >= ?1 OR updated >= ?1 OR created >= ?1 OR deleted >= ?1)
	UNION
	SELECT s.name FROM place_summaries AS s
	WHERE s.photo_count != (SELECT count() FROM photos AS p WHERE p.place_name=s.name AND p.deleted IS NULL)`

func changedPlaceNames(ctx context.Context, tx *sql.Tx, since time.Time, after string, limit int) ([]string, error) {
	return queryNames(ctx, tx, `SELECT name FROM (`+changedPlacesQuery+`)
		WHERE name > ?2 ORDER BY name LIMIT ?3`, since.UnixMilli(), after, limit)
}

func queryNames(ctx context.Context, tx *sql.Tx, q string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying place names: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// summarizePlace recomputes the summary of one place from its photos,
// removing the summary if no photos remain. It returns the photo count.
func summarizePlace(ctx context.Context, tx *sql.Tx, name string, now int64) (int, error) {
	var count int
	var first, last *int64
	var lat, lon *float64
	err := tx.QueryRowContext(ctx, `SELECT count(), min(timestamp), max(timestamp), avg(latitude), avg(longitude)
		FROM photos WHERE place_name=? AND deleted IS NULL`, name).Scan(&count, &first, &last, &lat, &lon)
	if err != nil {
		return 0, fmt.Errorf("aggregating place %s: %w", name, err)
	}

	if count == 0 {
		_, err := tx.ExecContext(ctx, `DELETE FROM place_summaries WHERE name=?`, name)
		if err != nil {
			return 0, fmt.Errorf("removing empty place %s: %w", name, err)
		}
		return 0, nil
	}

	// hierarchy comes from the earliest-resolved photo, for stable results
	var place geocode.Place
	var placeData *string
	err = tx.QueryRowContext(ctx, `SELECT place_data FROM photos
		WHERE place_name=? AND deleted IS NULL AND place_data IS NOT NULL
		ORDER BY id LIMIT 1`, name).Scan(&placeData)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("loading place data of %s: %w", name, err)
	}
	if placeData != nil {
		if err := json.Unmarshal([]byte(*placeData), &place); err != nil {
			return 0, fmt.Errorf("decoding place data of %s: %w", name, err)
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO place_summaries
		(name, photo_count, first_photo, last_photo, latitude, longitude, country, country_code, state, city, timezone, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			photo_count=excluded.photo_count,
			first_photo=excluded.first_photo,
			last_photo=excluded.last_photo,
			latitude=excluded.latitude,
			longitude=excluded.longitude,
			country=excluded.country,
			country_code=excluded.country_code,
			state=excluded.state,
			city=excluded.city,
			timezone=excluded.timezone,
			updated=excluded.updated`,
		name, count, first, last, roundCoordinate(lat), roundCoordinate(lon),
		nullString(place.Country), nullString(place.CountryCode), nullString(place.State),
		nullString(place.City), nullString(place.Timezone), now)
	if err != nil {
		return 0, fmt.Errorf("storing summary of %s: %w", name, err)
	}

	return count, nil
}

// roundCoordinate rounds to about 1cm so averages compare stably.
func roundCoordinate(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(*v*1e7) / 1e7
	return &r
}

// PlaceSummaryFilter narrows ListPlaceSummaries. Zero values match everything.
type PlaceSummaryFilter struct {
	Country string `json:"country,omitempty"`
	State   string `json:"state,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// ListPlaceSummaries returns place summaries ordered by photo count (most
// first) and then name.
func (c *Catalog) ListPlaceSummaries(ctx context.Context, filter PlaceSummaryFilter) ([]PlaceSummary, error) {
	q := `SELECT name, photo_count, first_photo, last_photo, latitude, longitude,
		country, country_code, state, city, timezone, updated
		FROM place_summaries`
	var clauses []string
	var args []any
	if filter.Country != "" {
		// match either the country name or code
		clauses = append(clauses, "(country=? COLLATE NOCASE OR country_code=? COLLATE NOCASE)")
		args = append(args, filter.Country, filter.Country)
	}
	if filter.State != "" {
		clauses = append(clauses, "state=? COLLATE NOCASE")
		args = append(args, filter.State)
	}
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY photo_count DESC, name"
	q, args = paginate(q, args, filter.Limit, filter.Offset)

	c.dbMu.RLock()
	defer c.dbMu.RUnlock()

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying place summaries: %w", err)
	}
	defer rows.Close()

	var summaries []PlaceSummary
	for rows.Next() {
		var ps PlaceSummary
		var first, last, updated *int64
		var country, countryCode, state, city, tz *string
		if err := rows.Scan(&ps.Name, &ps.PhotoCount, &first, &last, &ps.Latitude, &ps.Longitude,
			&country, &countryCode, &state, &city, &tz, &updated); err != nil {
			return nil, fmt.Errorf("scanning place summary: %w", err)
		}
		ps.FirstPhoto = timeFromMilli(first)
		ps.LastPhoto = timeFromMilli(last)
		ps.Updated = timeFromMilli(updated)
		ps.Country = deref(country)
		ps.CountryCode = deref(countryCode)
		ps.State = deref(state)
		ps.City = deref(city)
		ps.Timezone = deref(tz)
		summaries = append(summaries, ps)
	}
	return summaries, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
