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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedOp reports a fixed sequence of batches.
type scriptedOp struct {
	Batches []BatchOutcome `json:"batches"`
	Err     error          `json:"-"`
	Panic   bool           `json:"-"`

	// if set, the outcome is returned without reporting batches
	Unreported bool `json:"unreported,omitempty"`
}

func (scriptedOp) TaskName() TaskName { return "scripted" }

func (op scriptedOp) Run(_ context.Context, _ *Catalog, progress ProgressReporter) (BatchOutcome, error) {
	if op.Panic {
		panic("oops")
	}
	var overall BatchOutcome
	for i, b := range op.Batches {
		overall.Add(b)
		if op.Unreported {
			continue
		}
		progress.Report(i+1, len(op.Batches))
		if err := progress.Batch(b); err != nil {
			return overall, err
		}
	}
	return overall, op.Err
}

func outcome(succeeded, failed int) BatchOutcome {
	var b BatchOutcome
	for i := range succeeded {
		b.Succeed(fmt.Sprintf("ok%d", i), "")
	}
	for i := range failed {
		b.Fail(fmt.Sprintf("bad%d", i), errors.New("broken"))
	}
	return b
}

func TestRunTaskStatus(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	for i, tc := range []struct {
		op        scriptedOp
		status    TaskStatus
		errSubstr string
		succeeded int
		failed    int
	}{
		{op: scriptedOp{Batches: []BatchOutcome{outcome(3, 0), outcome(2, 0)}}, status: TaskCompleted, succeeded: 5},
		{op: scriptedOp{Batches: []BatchOutcome{outcome(2, 1), outcome(0, 2)}}, status: TaskCompleted, succeeded: 2, failed: 3},
		{op: scriptedOp{Batches: []BatchOutcome{outcome(0, 4), outcome(3, 0)}}, status: TaskFailed, errSubstr: "4 item(s) failed", failed: 4},
		{op: scriptedOp{Batches: []BatchOutcome{outcome(1, 0)}, Err: errors.New("disk on fire")}, status: TaskFailed, errSubstr: "disk on fire", succeeded: 1},
		{op: scriptedOp{Panic: true}, status: TaskFailed, errSubstr: "panicked"},
		{op: scriptedOp{Batches: []BatchOutcome{outcome(0, 2)}, Unreported: true}, status: TaskFailed, errSubstr: "2 item(s) failed", failed: 2},
		{op: scriptedOp{}, status: TaskCompleted},
	} {
		task, err := c.RunTask(ctx, tc.op)
		if err != nil {
			t.Fatalf("Test %d: RunTask: %v", i, err)
		}
		if task.Status != tc.status {
			t.Errorf("Test %d: Expected status %s but got %s (error=%v)", i, tc.status, task.Status, deref(task.Error))
		}
		if tc.errSubstr != "" && !strings.Contains(deref(task.Error), tc.errSubstr) {
			t.Errorf("Test %d: Expected error containing %q but got %q", i, tc.errSubstr, deref(task.Error))
		}
		if tc.errSubstr == "" && task.Error != nil {
			t.Errorf("Test %d: Expected no error but got %q", i, *task.Error)
		}
		if task.Started == nil || task.Completed == nil {
			t.Errorf("Test %d: Expected start and completion times, got %v and %v", i, task.Started, task.Completed)
		}

		var meta taskMetadata
		if err := json.Unmarshal(task.Metadata, &meta); err != nil {
			t.Fatalf("Test %d: decoding metadata: %v", i, err)
		}
		if meta.Succeeded != tc.succeeded || meta.Failed != tc.failed {
			t.Errorf("Test %d: Expected %d succeeded and %d failed, got %d and %d",
				i, tc.succeeded, tc.failed, meta.Succeeded, meta.Failed)
		}
	}
}

func TestTaskTransitions(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	task, err := c.RunTask(ctx, scriptedOp{Batches: []BatchOutcome{outcome(1, 0)}})
	if err != nil {
		t.Fatal(err)
	}
	if task.Processed == nil || *task.Processed != 1 || task.Total == nil || *task.Total != 1 {
		t.Errorf("Expected final progress 1/1, got %v/%v", task.Processed, task.Total)
	}
	if len(task.Hash) == 0 || task.Hostname == nil {
		t.Errorf("Expected hash and hostname to be recorded")
	}

	// terminal states are final
	for i, tc := range []struct{ from, to TaskStatus }{
		{TaskCompleted, TaskRunning},
		{TaskCompleted, TaskFailed},
		{TaskFailed, TaskCompleted},
		{TaskPending, TaskCompleted},
		{TaskRunning, TaskPending},
	} {
		err := c.transitionTask(ctx, task.ID, tc.from, tc.to, nil)
		if !errors.Is(err, ErrTaskTransition) {
			t.Errorf("Test %d: Expected ErrTaskTransition for %s -> %s, got %v", i, tc.from, tc.to, err)
		}
	}
	if err := c.transitionTask(ctx, task.ID, TaskRunning, TaskFailed, nil); !errors.Is(err, ErrTaskTransition) {
		t.Errorf("Expected a completed task not to be failed, got %v", err)
	}
	if err := c.transitionTask(ctx, 9999, TaskRunning, TaskFailed, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAbandonTask(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	// simulate a task left running by a process that died
	id, err := c.createTask(ctx, TaskImport, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.transitionTask(ctx, id, TaskPending, TaskRunning, nil); err != nil {
		t.Fatal(err)
	}

	stuck, err := c.ListTasks(ctx, TaskFilter{Status: TaskRunning})
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 1 || stuck[0].ID != id {
		t.Fatalf("Expected the stuck task to be listed as running, got %+v", stuck)
	}

	if err := c.AbandonTask(ctx, id); err != nil {
		t.Fatal(err)
	}
	task, err := c.GetTask(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != TaskFailed || deref(task.Error) != "abandoned" {
		t.Errorf("Expected failed/abandoned, got %s/%s", task.Status, deref(task.Error))
	}
	if err := c.AbandonTask(ctx, id); !errors.Is(err, ErrTaskTransition) {
		t.Errorf("Expected abandoning twice to fail, got %v", err)
	}
}

// blockingOp waits until released, so tests can observe it while running.
type blockingOp struct {
	started chan struct{}
	release chan struct{}
}

func (blockingOp) TaskName() TaskName { return "blocking" }

func (op blockingOp) Run(ctx context.Context, c *Catalog, progress ProgressReporter) (BatchOutcome, error) {
	progress.Report(7, 10)
	close(op.started)
	<-op.release
	return outcome(1, 0), nil
}

func TestRunningTaskVisibility(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	op := blockingOp{started: make(chan struct{}), release: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(1)
	var final Task
	go func() {
		defer wg.Done()
		var err error
		final, err = c.RunTask(ctx, op)
		if err != nil {
			t.Errorf("RunTask: %v", err)
		}
	}()

	select {
	case <-op.started:
	case <-time.After(10 * time.Second):
		t.Fatal("task never started")
	}

	tasks, err := c.ListTasks(ctx, TaskFilter{Name: "blocking"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Status != TaskRunning {
		t.Fatalf("Expected 1 running task, got %+v", tasks)
	}
	running := tasks[0]
	if running.Processed == nil || *running.Processed != 7 {
		t.Errorf("Expected live progress of 7, got %v", running.Processed)
	}
	if err := c.AbandonTask(ctx, running.ID); !errors.Is(err, ErrTaskTransition) {
		t.Errorf("Expected a task running in this process not to be abandoned, got %v", err)
	}

	close(op.release)
	wg.Wait()

	if final.Status != TaskCompleted {
		t.Errorf("Expected completed, got %s", final.Status)
	}
}

func TestListTasks(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	for _, op := range []scriptedOp{
		{Batches: []BatchOutcome{outcome(1, 0)}},
		{Batches: []BatchOutcome{outcome(0, 1)}},
		{Batches: []BatchOutcome{outcome(1, 0)}},
	} {
		if _, err := c.RunTask(ctx, op); err != nil {
			t.Fatal(err)
		}
	}

	all, err := c.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID < all[2].ID {
		t.Errorf("Expected 3 tasks newest first, got %+v", all)
	}
	failed, err := c.ListTasks(ctx, TaskFilter{Status: TaskFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Errorf("Expected 1 failed task, got %d", len(failed))
	}
	page, err := c.ListTasks(ctx, TaskFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != all[1].ID {
		t.Errorf("Expected second task on page 2, got %+v", page)
	}
	none, err := c.ListTasks(ctx, TaskFilter{Name: TaskPlaceLookup})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no place lookup tasks, got %d", len(none))
	}
}

func TestAggregateMessage(t *testing.T) {
	for i, tc := range []struct {
		failed []ItemResult
		expect string
	}{
		{
			failed: []ItemResult{{ID: "a", Error: "x"}},
			expect: "1 item(s) failed; a: x",
		},
		{
			failed: []ItemResult{{ID: "a", Error: "x"}, {ID: "b", Error: "y"}, {ID: "c", Error: "z"}, {ID: "d", Error: "w"}, {ID: "e", Error: "v"}},
			expect: "5 item(s) failed; a: x; b: y; c: z; and 2 more",
		},
	} {
		if actual := aggregateMessage(tc.failed); actual != tc.expect {
			t.Errorf("Test %d: Expected %q but got %q", i, tc.expect, actual)
		}
	}
}

func TestMapMutex(t *testing.T) {
	mmu := newMapMutex()
	mmu.Lock("a")

	// other keys are independent
	done := make(chan struct{})
	go func() {
		mmu.Lock("b")
		mmu.Unlock("b")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("locking a different key blocked")
	}

	acquired := make(chan struct{})
	go func() {
		mmu.Lock("a")
		close(acquired)
		mmu.Unlock("a")
	}()
	select {
	case <-acquired:
		t.Fatal("same key was locked twice")
	case <-time.After(50 * time.Millisecond):
	}
	mmu.Unlock("a")
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}
