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
	"fmt"
	"slices"
	"sync"

	"github.com/timelinize/photocatalog/metadata"
	"github.com/timelinize/photocatalog/objstore"
	"go.uber.org/zap"
)

// FingerprintPolicy decides what an import does with an incoming photo
// whose fingerprint matches a different photo already in the catalog.
// Photos are never merged automatically.
type FingerprintPolicy string

const (
	FingerprintKeep  FingerprintPolicy = "keep"  // import under the incoming identifier (default)
	FingerprintSkip  FingerprintPolicy = "skip"  // don't import the incoming photo
	FingerprintAdopt FingerprintPolicy = "adopt" // apply the incoming record to the existing photo
)

// ParseFingerprintPolicy parses s, which may be empty for the default.
func ParseFingerprintPolicy(s string) (FingerprintPolicy, error) {
	switch p := FingerprintPolicy(s); p {
	case "":
		return FingerprintKeep, nil
	case FingerprintKeep, FingerprintSkip, FingerprintAdopt:
		return p, nil
	}
	return "", fmt.Errorf("unknown fingerprint policy: %s", s)
}

// Import is an operation that imports photos from a registered data source.
// Each photo is reconciled in its own transaction, so an interrupted import
// can be resumed by running it again.
type Import struct {
	DataSource string          `json:"data_source"`
	Path       string          `json:"path"`
	Format     metadata.Format `json:"format,omitempty"`

	// Library and owner for photos that don't name their own.
	LibraryID string `json:"library_id,omitempty"`
	OwnerID   string `json:"owner_id,omitempty"`

	Fingerprints FingerprintPolicy `json:"fingerprints,omitempty"`
	Lists        ListPolicy        `json:"lists,omitempty"`

	// Number of photos per reported batch. Default 100.
	BatchSize int `json:"batch_size,omitempty"`

	Store objstore.Store `json:"-"`
}

func (Import) TaskName() TaskName { return TaskImport }

const defaultImportBatchSize = 100

func (op Import) Run(ctx context.Context, c *Catalog, progress ProgressReporter) (BatchOutcome, error) {
	ds, err := GetDataSource(op.DataSource)
	if err != nil {
		return BatchOutcome{}, err
	}
	batchSize := op.BatchSize
	if batchSize <= 0 {
		batchSize = defaultImportBatchSize
	}
	policy, err := ParseFingerprintPolicy(string(op.Fingerprints))
	if err != nil {
		return BatchOutcome{}, err
	}
	logger := progress.Logger().With(zap.String("data_source", ds.Name), zap.String("path", op.Path))

	var (
		mu        sync.Mutex
		overall   BatchOutcome
		batch     BatchOutcome
		processed int
		total     int
	)

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		processed += batch.Len()
		overall.Add(batch)
		progress.Report(processed, max(total, processed))
		err := progress.Batch(batch)
		batch = BatchOutcome{}
		return err
	}

	params := ImportParams{
		Path:   op.Path,
		Format: op.Format,
		Store:  op.Store,
		SetTotal: func(n int) {
			mu.Lock()
			total = n
			progress.Report(processed, max(total, processed))
			mu.Unlock()
		},
		Logger: logger,
	}

	emit := func(in PhotoInput) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if in.LibraryID == "" {
			in.LibraryID = op.LibraryID
		}
		if in.OwnerID == "" {
			in.OwnerID = op.OwnerID
		}

		detail, err := c.importPhoto(ctx, in, policy, op.Lists)

		mu.Lock()
		defer mu.Unlock()

		switch {
		case err == nil:
			batch.Succeed(in.ID, detail)
		case errors.Is(err, ErrValidation), errors.Is(err, ErrAlreadyExists):
			batch.Fail(in.ID, err)
		default:
			return err
		}
		if batch.Len() >= batchSize {
			return flush()
		}
		return nil
	}

	err = ds.NewImporter().Import(ctx, params, emit)

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		overall.Add(batch)
		return overall, fmt.Errorf("importing from %s: %w", ds.Name, err)
	}
	if err := flush(); err != nil {
		return overall, err
	}

	logger.Info("import finished",
		zap.Int("succeeded", len(overall.Succeeded)),
		zap.Int("failed", len(overall.Failed)))

	return overall, nil
}

// importPhoto applies the fingerprint policy and reconciles in. It returns
// a short description of what happened.
func (c *Catalog) importPhoto(ctx context.Context, in PhotoInput, policy FingerprintPolicy, lists ListPolicy) (string, error) {
	opts := ReconcileOptions{Lists: lists}

	if policy == FingerprintKeep || in.Fingerprint == nil || *in.Fingerprint == "" {
		return reconcileDetail(c.Reconcile(ctx, in, opts))
	}

	// hold the fingerprint so two imports of the same bytes don't both pass the check
	fpKey := "fingerprint:" + *in.Fingerprint
	c.photoLocks.Lock(fpKey)
	defer c.photoLocks.Unlock(fpKey)

	matches, err := c.FindPhotosByFingerprint(ctx, *in.Fingerprint)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 || slices.Contains(matches, in.ID) {
		return reconcileDetail(c.Reconcile(ctx, in, opts))
	}
	// an exact identifier match always wins over a fingerprint match
	if exists, err := c.photoExists(ctx, in.ID); err != nil {
		return "", err
	} else if exists {
		return reconcileDetail(c.Reconcile(ctx, in, opts))
	}

	switch policy {
	case FingerprintSkip:
		return "skipped: same fingerprint as " + matches[0], nil
	case FingerprintAdopt:
		Log.Named("import").Debug("adopting existing photo with same fingerprint",
			zap.String("incoming_id", in.ID),
			zap.String("existing_id", matches[0]))
		in.ID = matches[0]
		detail, err := reconcileDetail(c.Reconcile(ctx, in, opts))
		return detail + " (adopted)", err
	}
	return reconcileDetail(c.Reconcile(ctx, in, opts))
}

func reconcileDetail(res ReconcileResult, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return string(res.Action), nil
}

func (c *Catalog) photoExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	c.dbMu.RLock()
	defer c.dbMu.RUnlock()
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT count() FROM photos WHERE id=?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking photo %s: %w", id, err)
	}
	return count > 0, nil
}
