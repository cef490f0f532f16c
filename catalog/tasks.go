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
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// TaskName identifies a kind of background operation.
type TaskName string

const (
	TaskPlaceLookup    TaskName = "place_lookup"
	TaskPlaceSummaries TaskName = "place_summaries"
	TaskImport         TaskName = "import"
)

// TaskStatus is the state of a task. Tasks move from pending to running, and
// from running to completed or failed. Completed and failed are final; a retry
// is a new task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"   // created, not yet started
	TaskRunning   TaskStatus = "running"   // currently running, or abandoned by a dead process
	TaskCompleted TaskStatus = "completed" // final; some items may have failed
	TaskFailed    TaskStatus = "failed"    // final; the task as a whole could not proceed
)

// Terminal reports whether s is a final status.
func (s TaskStatus) Terminal() bool { return s == TaskCompleted || s == TaskFailed }

// Task is one tracked invocation of an operation, as stored in the DB.
type Task struct {
	ID        int64           `json:"id"`
	Name      TaskName        `json:"name"`
	Status    TaskStatus      `json:"status"`
	Hash      []byte          `json:"hash,omitempty"`
	Hostname  *string         `json:"hostname,omitempty"`
	Total     *int            `json:"total,omitempty"`
	Processed *int            `json:"processed,omitempty"`
	Error     *string         `json:"error,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Created   time.Time       `json:"created"`
	Updated   *time.Time      `json:"updated,omitempty"`
	Started   *time.Time      `json:"started,omitempty"`
	Completed *time.Time      `json:"completed,omitempty"`
}

// Operation is the work a task does. It must be JSON-encodable; the
// encoding is stored with the task.
type Operation interface {
	TaskName() TaskName

	// Run does the work, synchronously. It should report progress as it goes
	// and hand each finished batch to the reporter, stopping if the reporter
	// returns an error. A returned error is a systemic failure and fails the
	// task. The returned outcome is the total over all batches.
	Run(ctx context.Context, c *Catalog, progress ProgressReporter) (BatchOutcome, error)
}

// ItemResult is the outcome of processing one item of a batch.
type ItemResult struct {
	ID     string `json:"id"`
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// BatchOutcome collects item results of a batch.
type BatchOutcome struct {
	Succeeded []ItemResult `json:"succeeded,omitempty"`
	Failed    []ItemResult `json:"failed,omitempty"`
}

// Succeed records a successful item.
func (b *BatchOutcome) Succeed(id, detail string) {
	b.Succeeded = append(b.Succeeded, ItemResult{ID: id, Detail: detail})
}

// Fail records a failed item.
func (b *BatchOutcome) Fail(id string, err error) {
	b.Failed = append(b.Failed, ItemResult{ID: id, Error: err.Error()})
}

// Add appends the results of other to b.
func (b *BatchOutcome) Add(other BatchOutcome) {
	b.Succeeded = append(b.Succeeded, other.Succeeded...)
	b.Failed = append(b.Failed, other.Failed...)
}

// Len returns the number of items in the outcome.
func (b BatchOutcome) Len() int { return len(b.Succeeded) + len(b.Failed) }

// ErrBatchFailed is returned by ProgressReporter.Batch when every item of a
// batch failed before any item of the task succeeded.
var ErrBatchFailed = errors.New("every item in batch failed")

// ProgressReporter persists a running task's progress so it can be
// observed from elsewhere while the task runs.
type ProgressReporter interface {
	// TaskID returns the ID of the running task.
	TaskID() int64

	// Report sets the processed and total counts. Writes to the
	// DB are throttled; the final counts are always written.
	Report(processed, total int)

	// Batch records a finished batch. It returns an error wrapping
	// ErrBatchFailed if the task cannot proceed.
	Batch(outcome BatchOutcome) error

	// Logger returns the task's logger.
	Logger() *zap.Logger
}

// runningTask tracks a task while its operation runs.
type runningTask struct {
	c         *Catalog
	id        int64
	logger    *zap.Logger
	statusLog *zap.Logger

	mu sync.Mutex

	// protected by mu
	processed int
	total     *int
	batches   int
	succeeded int
	failed    int
	failures  []ItemResult // the first few, for the task metadata
	lastSync  time.Time    // last DB update
	lastFlush time.Time    // last status log
}

func (t *runningTask) TaskID() int64        { return t.id }
func (t *runningTask) Logger() *zap.Logger { return t.logger }

func (t *runningTask) batchCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batches
}

func (t *runningTask) Report(processed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed = processed
	t.total = &total
	t.flushProgress(false)
	if err := t.sync(false); err != nil {
		t.logger.Error("syncing task progress", zap.Error(err))
	}
}

func (t *runningTask) Batch(outcome BatchOutcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.batches++

	for _, f := range outcome.Failed {
		t.logger.Warn("item failed", zap.String("item", f.ID), zap.String("error", f.Error))
		if len(t.failures) < maxRecordedFailures {
			t.failures = append(t.failures, f)
		}
	}

	allFailed := len(outcome.Failed) > 0 && len(outcome.Succeeded) == 0
	if allFailed && t.succeeded == 0 {
		t.failed += len(outcome.Failed)
		return fmt.Errorf("%w: %s", ErrBatchFailed, aggregateMessage(outcome.Failed))
	}

	t.succeeded += len(outcome.Succeeded)
	t.failed += len(outcome.Failed)
	return nil
}

// flushProgress writes a status log line if it has been long enough
// since the last one, or if force is true.
// MUST BE CALLED IN A LOCK ON THE TASK MUTEX.
func (t *runningTask) flushProgress(force bool) {
	if force || time.Since(t.lastFlush) > taskFlushInterval {
		t.statusLog.Info("progress",
			zap.Int64("id", t.id),
			zap.Int("processed", t.processed),
			zap.Intp("total", t.total),
			zap.Int("succeeded", t.succeeded),
			zap.Int("failed", t.failed))
		t.lastFlush = time.Now()
	}
}

// sync writes the progress counters to the DB, unless the last sync was
// too recent and force is false.
// MUST BE CALLED IN A LOCK ON THE TASK MUTEX.
func (t *runningTask) sync(force bool) error {
	if !force && time.Since(t.lastSync) < taskSyncInterval {
		return nil
	}
	t.c.dbMu.Lock()
	_, err := t.c.db.ExecContext(t.c.ctx, `UPDATE tasks SET processed=?, total=?, updated=? WHERE id=?`,
		t.processed, t.total, time.Now().UnixMilli(), t.id)
	t.c.dbMu.Unlock()
	if err != nil {
		return fmt.Errorf("syncing progress with DB: %w", err)
	}
	t.lastSync = time.Now()
	return nil
}

const maxRecordedFailures = 20

func aggregateMessage(failed []ItemResult) string {
	const show = 3
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d item(s) failed", len(failed))
	for i, f := range failed {
		if i == show {
			fmt.Fprintf(&sb, "; and %d more", len(failed)-show)
			break
		}
		fmt.Fprintf(&sb, "; %s: %s", f.ID, f.Error)
	}
	return sb.String()
}

// RunTask creates a task for op and runs it to completion in the calling
// goroutine. Tasks with the same name are serialized within this process;
// a task waiting its turn stays pending.
//
// A task that fails is not an error of RunTask: check the returned task's
// status. An error is returned only if the task could not be tracked.
func (c *Catalog) RunTask(ctx context.Context, op Operation) (Task, error) {
	name := op.TaskName()

	config, err := json.Marshal(op)
	if err != nil {
		return Task{}, fmt.Errorf("JSON-encoding task options: %w", err)
	}

	id, err := c.createTask(ctx, name, config)
	if err != nil {
		return Task{}, err
	}

	logger := Log.Named("task").With(zap.Int64("id", id), zap.String("name", string(name)))
	statusLog := Log.Named("task.status").With(zap.Int64("id", id), zap.String("name", string(name)))

	statusLog.Info("created", zap.String("status", string(TaskPending)))

	c.taskLocks.Lock(name)
	defer c.taskLocks.Unlock(name)

	if err := c.transitionTask(ctx, id, TaskPending, TaskRunning, nil); err != nil {
		return Task{}, err
	}
	statusLog.Info("running", zap.String("status", string(TaskRunning)))

	run := &runningTask{
		c:         c,
		id:        id,
		logger:    logger,
		statusLog: statusLog,
	}

	c.activeTasksMu.Lock()
	c.activeTasks[id] = run
	c.activeTasksMu.Unlock()
	defer func() {
		c.activeTasksMu.Lock()
		delete(c.activeTasks, id)
		c.activeTasksMu.Unlock()
	}()

	start := time.Now()
	outcome, runErr := runOperation(ctx, c, op, run)
	if runErr == nil && run.batchCount() == 0 && outcome.Len() > 0 {
		// the operation didn't report batches; treat its outcome as one
		runErr = run.Batch(outcome)
	}

	status := TaskCompleted
	var message *string
	if runErr != nil {
		status = TaskFailed
		msg := runErr.Error()
		message = &msg
	}

	run.mu.Lock()
	meta, err := json.Marshal(taskMetadata{
		Options:   config,
		Succeeded: run.succeeded,
		Failed:    run.failed,
		Failures:  run.failures,
	})
	if err != nil {
		run.mu.Unlock()
		return Task{}, fmt.Errorf("JSON-encoding task metadata: %w", err)
	}
	err = run.sync(true)
	run.flushProgress(true)
	run.mu.Unlock()
	if err != nil {
		logger.Error("final progress sync", zap.Error(err))
	}

	// use the catalog's context so a cancelled task can still be recorded as failed
	if err := c.transitionTask(c.ctx, id, TaskRunning, status, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(c.ctx, `UPDATE tasks SET error=?, metadata=? WHERE id=?`, message, string(meta), id)
		return err
	}); err != nil {
		return Task{}, err
	}

	if runErr != nil {
		statusLog.Error(string(status),
			zap.String("status", string(status)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(runErr))
	} else {
		statusLog.Info(string(status),
			zap.String("status", string(status)),
			zap.Duration("duration", time.Since(start)))
	}

	return c.GetTask(c.ctx, id)
}

// runOperation runs op and turns a panic into a task failure.
func runOperation(ctx context.Context, c *Catalog, op Operation, run *runningTask) (outcome BatchOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return op.Run(ctx, c, run)
}

type taskMetadata struct {
	Options   json.RawMessage `json:"options,omitempty"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Failures  []ItemResult    `json:"failures,omitempty"`
}

func taskHash(name TaskName, config []byte) []byte {
	h := blake3.New()
	_, _ = h.WriteString(string(name))
	_, _ = h.Write(config)
	return h.Sum(nil)
}

func (c *Catalog) createTask(ctx context.Context, name TaskName, config []byte) (int64, error) {
	hostname, err := os.Hostname()
	if err != nil {
		Log.Error("unable to lookup hostname while adding task", zap.Error(err))
	}

	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	var id int64
	err = c.db.QueryRowContext(ctx, `INSERT INTO tasks (name, status, hash, hostname, metadata)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		name, TaskPending, taskHash(name, config), nullString(hostname), string(config)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting new task row: %w", err)
	}
	return id, nil
}

// transitionTask moves the task from one status to another. The update is
// conditional on the current status, so a task can't skip or undo a state.
// If more is non-nil, it runs in the same transaction.
func (c *Catalog) transitionTask(ctx context.Context, id int64, from, to TaskStatus, more func(*sql.Tx) error) error {
	if !validTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrTaskTransition, from, to)
	}

	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	q := `UPDATE tasks SET status=?, updated=?`
	args := []any{to, now}
	switch to {
	case TaskRunning:
		q += `, started=?`
		args = append(args, now)
	case TaskCompleted, TaskFailed:
		q += `, completed=?`
		args = append(args, now)
	}
	q += ` WHERE id=? AND status=?`
	args = append(args, id, from)

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("updating task %d status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current TaskStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id=?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return fmt.Errorf("%w: task %d is %s, not %s", ErrTaskTransition, id, current, from)
	}

	if more != nil {
		if err := more(tx); err != nil {
			return fmt.Errorf("updating task %d: %w", id, err)
		}
	}

	return tx.Commit()
}

func validTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	}
	return false
}

// AbandonTask marks a task that was left running by a process that is no
// longer running it as failed. Tasks running in this process can't be abandoned.
func (c *Catalog) AbandonTask(ctx context.Context, id int64) error {
	c.activeTasksMu.RLock()
	_, active := c.activeTasks[id]
	c.activeTasksMu.RUnlock()
	if active {
		return fmt.Errorf("%w: task %d is running in this process", ErrTaskTransition, id)
	}

	err := c.transitionTask(ctx, id, TaskRunning, TaskFailed, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE tasks SET error=? WHERE id=?`, "abandoned", id)
		return err
	})
	if err != nil {
		return err
	}

	Log.Named("task.status").Warn("abandoned", zap.Int64("id", id), zap.String("status", string(TaskFailed)))
	return nil
}

const taskColumns = `id, name, status, hash, hostname, total, processed, error, metadata, created, updated, started, completed`

func scanTask(row scanner) (Task, error) {
	var t Task
	var metadata *string
	var created int64
	var updated, started, completed *int64
	err := row.Scan(&t.ID, &t.Name, &t.Status, &t.Hash, &t.Hostname, &t.Total, &t.Processed,
		&t.Error, &metadata, &created, &updated, &started, &completed)
	if err != nil {
		return Task{}, err
	}
	if metadata != nil {
		t.Metadata = json.RawMessage(*metadata)
	}
	t.Created = time.UnixMilli(created)
	t.Updated = timeFromMilli(updated)
	t.Started = timeFromMilli(started)
	t.Completed = timeFromMilli(completed)
	return t, nil
}

// GetTask loads a task. If the task is running in this process, its
// progress is current even if it has not been synced to the DB yet.
func (c *Catalog) GetTask(ctx context.Context, id int64) (Task, error) {
	c.dbMu.RLock()
	t, err := scanTask(c.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=? LIMIT 1`, id))
	c.dbMu.RUnlock()
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("loading task %d: %w", id, err)
	}
	c.overlayProgress(&t)
	return t, nil
}

func (c *Catalog) overlayProgress(t *Task) {
	if t.Status != TaskRunning {
		return
	}
	c.activeTasksMu.RLock()
	run, ok := c.activeTasks[t.ID]
	c.activeTasksMu.RUnlock()
	if !ok {
		return
	}
	run.mu.Lock()
	processed := run.processed
	t.Processed = &processed
	if run.total != nil {
		total := *run.total
		t.Total = &total
	}
	run.mu.Unlock()
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	Status TaskStatus `json:"status,omitempty"`
	Name   TaskName   `json:"name,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// ListTasks returns tasks matching filter, newest first.
func (c *Catalog) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.Name != "" {
		clauses = append(clauses, "name=?")
		args = append(args, filter.Name)
	}
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY id DESC"
	q, args = paginate(q, args, filter.Limit, filter.Offset)

	c.dbMu.RLock()
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		c.dbMu.RUnlock()
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			c.dbMu.RUnlock()
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	err = rows.Err()
	rows.Close()
	c.dbMu.RUnlock()
	if err != nil {
		return nil, err
	}

	for i := range tasks {
		c.overlayProgress(&tasks[i])
	}
	return tasks, nil
}

// lastCompletedTask returns the most recently completed task with the given name.
func (c *Catalog) lastCompletedTask(ctx context.Context, name TaskName) (Task, bool, error) {
	c.dbMu.RLock()
	defer c.dbMu.RUnlock()
	t, err := scanTask(c.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE name=? AND status=? ORDER BY completed DESC, id DESC LIMIT 1`, name, TaskCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("loading last %s task: %w", name, err)
	}
	return t, true, nil
}

const (
	taskSyncInterval  = 2 * time.Second        // how often to update the DB
	taskFlushInterval = 250 * time.Millisecond // how often to log progress
)

var _ ProgressReporter = (*runningTask)(nil)
