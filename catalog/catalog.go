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

// Package catalog persists photos, their versions, albums and attributed
// metadata, reconciles incoming records against what is already stored,
// and runs tracked background tasks over the stored photos.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver
	"go.uber.org/zap"
)

// DBFilename is the name of the database file within a catalog repo.
const DBFilename = "catalog.db"

//go:embed schema.sql
var createDB string

// Options configures an opened catalog.
type Options struct {
	// How often to run PRAGMA optimize while open. Zero uses
	// a default; negative disables the maintenance loop.
	OptimizeInterval time.Duration
}

// Catalog is an opened catalog repository. The zero value is
// NOT valid; use Open() to obtain a valid value.
type Catalog struct {
	// A context used primarily for cancellation.
	ctx    context.Context
	cancel context.CancelFunc

	repoDir string
	id      uuid.UUID

	// The database handle and its mutex. Writes that scan rows while
	// another statement writes can yield "database is locked" errors
	// with sqlite, so all DB access goes through dbMu.
	// https://github.com/mattn/go-sqlite3/issues/607#issuecomment-808739698
	db         *sql.DB
	dbMu       sync.RWMutex
	optimizing *int64 // accessed atomically; drops overlapping optimize calls

	// in-process serialization of tasks (by name) and reconciliation (by photo ID)
	taskLocks  *mapMutex
	photoLocks *mapMutex

	// tasks currently running in this process
	activeTasks   map[int64]*runningTask
	activeTasksMu sync.RWMutex

	maintenanceDone chan struct{}
}

func (c *Catalog) String() string { return fmt.Sprintf("%s:%s", c.id, c.repoDir) }
func (c *Catalog) Dir() string    { return c.repoDir }
func (c *Catalog) ID() uuid.UUID  { return c.id }

// Open opens the catalog in repoDir, creating the directory and
// database if they do not exist. Catalogs should always be Close()'d
// for a clean shutdown when done.
func Open(ctx context.Context, repoDir string, opts Options) (*Catalog, error) {
	if err := os.MkdirAll(repoDir, 0700); err != nil {
		return nil, fmt.Errorf("creating repo folder: %w", err)
	}

	db, err := openAndProvisionDB(ctx, repoDir)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	id, err := loadRepoID(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("loading repo ID: %w", err)
	}

	// tasks left running by a previous process are intentionally not reset;
	// an operator decides whether they were abandoned (see AbandonTask)
	var stuck int
	if err := db.QueryRowContext(ctx, `SELECT count() FROM tasks WHERE status=?`, TaskRunning).Scan(&stuck); err == nil && stuck > 0 {
		Log.Warn("catalog has tasks in running state from a previous process; abandon them if they are no longer running",
			zap.String("repo", repoDir),
			zap.Int("count", stuck))
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Catalog{
		ctx:             ctx,
		cancel:          cancel,
		repoDir:         repoDir,
		id:              id,
		db:              db,
		optimizing:      new(int64),
		taskLocks:       newMapMutex(),
		photoLocks:      newMapMutex(),
		activeTasks:     make(map[int64]*runningTask),
		maintenanceDone: make(chan struct{}),
	}

	interval := opts.OptimizeInterval
	if interval == 0 {
		interval = defaultOptimizeInterval
	}
	if interval > 0 {
		go c.maintenanceLoop(interval)
	} else {
		close(c.maintenanceDone)
	}

	return c, nil
}

// Close frees up resources allocated from Open.
func (c *Catalog) Close() error {
	c.cancel() // cancel this catalog's context, so anything waiting on it knows we're closing
	<-c.maintenanceDone
	if c.db != nil {
		c.dbMu.Lock()
		defer c.dbMu.Unlock()
		return c.db.Close()
	}
	return nil
}

func openAndProvisionDB(ctx context.Context, repoDir string) (*sql.DB, error) {
	db, err := openDB(ctx, repoDir)
	if err != nil {
		return nil, err
	}
	if err = provisionDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openDB(ctx context.Context, repoDir string) (*sql.DB, error) {
	dbPath := filepath.Join(repoDir, DBFilename)

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var version string
	err = db.QueryRowContext(ctx, "SELECT sqlite_version() AS version").Scan(&version)
	if err == nil {
		Log.Debug("using sqlite", zap.String("version", version))
	}

	return db, nil
}

func provisionDB(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, createDB)
	if err != nil {
		return fmt.Errorf("setting up database: %w", err)
	}

	// assign this repo a persistent UUID, and store version so
	// readers can know how to work with this DB
	repoID := uuid.New()
	_, err = db.ExecContext(ctx, `INSERT OR IGNORE INTO repo (key, value) VALUES (?, ?), (?, ?)`,
		"id", repoID.String(),
		"version", 1,
	)
	if err != nil {
		return fmt.Errorf("persisting repo UUID and version: %w", err)
	}

	return nil
}

func loadRepoID(ctx context.Context, db *sql.DB) (uuid.UUID, error) {
	var idStr string
	err := db.QueryRowContext(ctx, `SELECT value FROM repo WHERE key=? LIMIT 1`, "id").Scan(&idStr)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("selecting repo UUID: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("malformed UUID %s: %w", idStr, err)
	}
	return id, nil
}

const defaultOptimizeInterval = time.Hour

// maintenanceLoop optimizes the database occasionally while the catalog is open.
func (c *Catalog) maintenanceLoop(interval time.Duration) {
	defer close(c.maintenanceDone)

	logger := Log.Named("maintenance")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.Optimize(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("optimizing database", zap.Error(err))
			}
		}
	}
}

// Optimize runs PRAGMA optimize on the database. If an optimization
// is already in progress, it returns immediately.
func (c *Catalog) Optimize(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(c.optimizing, 0, 1) {
		return nil
	}
	defer atomic.StoreInt64(c.optimizing, 0)

	start := time.Now()

	c.dbMu.Lock()
	_, err := c.db.ExecContext(ctx, `PRAGMA optimize=0x10002`)
	c.dbMu.Unlock()
	if err != nil {
		return err
	}

	Log.Named("maintenance").Debug("optimized database", zap.Duration("duration", time.Since(start)))
	return nil
}
