package controlplane

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/opensandbox/batchfleet/internal/batch"
)

func taskBatch(n int) []batch.TaskSpec {
	tasks := make([]batch.TaskSpec, n)
	for i := range tasks {
		id := fmt.Sprintf("t%d", i+1)
		tasks[i] = batch.NewTaskSpec(id, "echo "+id, nil, nil)
	}
	return tasks
}

func jobGateway(tasks ...batch.Task) *batch.MemoryGateway {
	g := batch.NewMemoryGateway()
	g.AddJob(batch.Job{ID: "j1", PoolID: "p1"}, tasks...)
	return g
}

func TestTaskCommitter_Success(t *testing.T) {
	g := jobGateway()
	c := NewTaskCommitter(g, nil)

	ok, err := c.CommitTasks(context.Background(), "j1", taskBatch(5), false)
	if err != nil || !ok {
		t.Fatalf("CommitTasks() = (%v, %v), want (true, nil)", ok, err)
	}
	if n := len(g.Tasks("j1")); n != 5 {
		t.Errorf("expected 5 tasks, got %d", n)
	}
	if calls := g.CallsTo(batch.OpDeleteTask); len(calls) != 0 {
		t.Errorf("expected no deletes, got %v", calls)
	}
	if calls := g.CallsTo(batch.OpUpdateJob); len(calls) != 0 {
		t.Errorf("expected no job update, got %v", calls)
	}
}

func TestTaskCommitter_TerminateWhenDone(t *testing.T) {
	g := jobGateway()
	c := NewTaskCommitter(g, nil)

	ok, err := c.CommitTasks(context.Background(), "j1", taskBatch(2), true)
	if err != nil || !ok {
		t.Fatalf("CommitTasks() = (%v, %v), want (true, nil)", ok, err)
	}
	job, err := g.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if job.OnAllTasksComplete != batch.TerminateJob {
		t.Errorf("expected onAllTasksComplete %s, got %s", batch.TerminateJob, job.OnAllTasksComplete)
	}
}

func TestTaskCommitter_TaskExistsRollsBackWholeBatch(t *testing.T) {
	g := jobGateway(batch.Task{ID: "t3", State: batch.TaskActive})
	logger, logs := observedLogger()
	c := NewTaskCommitter(g, logger)

	ok, err := c.CommitTasks(context.Background(), "j1", taskBatch(5), false)
	if err != nil {
		t.Fatalf("CommitTasks() error: %v", err)
	}
	if ok {
		t.Fatal("expected false on TaskExists")
	}
	if calls := g.CallsTo(batch.OpDeleteTask); len(calls) != 5 {
		t.Errorf("expected 5 delete calls, got %d", len(calls))
	}
	if left := g.Tasks("j1"); len(left) != 0 {
		t.Errorf("expected no submitted task left, got %v", left)
	}
	if logs.FilterMessage("task already exists, batch rolled back").Len() != 1 {
		t.Errorf("expected rollback warning, got %v", logs.All())
	}
}

func TestTaskCommitter_OtherErrorPropagatesAfterRollback(t *testing.T) {
	g := jobGateway()
	g.Fail(batch.OpAddTasks, batch.NewRemoteError(batch.OpAddTasks, "ServerBusy", 503, nil))
	c := NewTaskCommitter(g, nil)

	ok, err := c.CommitTasks(context.Background(), "j1", taskBatch(5), false)
	if ok {
		t.Error("expected false")
	}
	if batch.Code(err) != "ServerBusy" {
		t.Errorf("expected ServerBusy, got %v", err)
	}
	if calls := g.CallsTo(batch.OpDeleteTask); len(calls) != 5 {
		t.Errorf("expected rollback of 5 tasks, got %d", len(calls))
	}
}

func TestTaskCommitter_UpdateFailureRollsBack(t *testing.T) {
	g := jobGateway()
	boom := errors.New("boom")
	g.Fail(batch.OpUpdateJob, boom)
	c := NewTaskCommitter(g, nil)

	ok, err := c.CommitTasks(context.Background(), "j1", taskBatch(3), true)
	if ok || !errors.Is(err, boom) {
		t.Fatalf("CommitTasks() = (%v, %v), want (false, boom)", ok, err)
	}
	if left := g.Tasks("j1"); len(left) != 0 {
		t.Errorf("expected rollback to remove added tasks, got %v", left)
	}
}

func TestTaskCommitter_RollbackFailureReported(t *testing.T) {
	g := jobGateway(batch.Task{ID: "t1", State: batch.TaskActive})
	boom := errors.New("delete failed")
	g.Fail(batch.OpDeleteTask, boom, "j1", "t2")
	c := NewTaskCommitter(g, nil)

	ok, err := c.CommitTasks(context.Background(), "j1", taskBatch(3), false)
	if ok {
		t.Error("expected false")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected rollback failure to be returned, got %v", err)
	}
}

func TestTaskCommitter_EmptyBatch(t *testing.T) {
	g := jobGateway()
	c := NewTaskCommitter(g, nil)

	ok, err := c.CommitTasks(context.Background(), "j1", nil, true)
	if err != nil || !ok {
		t.Fatalf("CommitTasks() = (%v, %v), want (true, nil)", ok, err)
	}
	if calls := g.Calls(); len(calls) != 0 {
		t.Errorf("expected no calls, got %v", calls)
	}
}

func TestTaskCommitter_CommitTask(t *testing.T) {
	g := jobGateway(batch.Task{ID: "dup", State: batch.TaskActive})
	c := NewTaskCommitter(g, nil)
	ctx := context.Background()

	ok, err := c.CommitTask(ctx, "j1", batch.NewTaskSpec("new", "run", nil, nil), false)
	if err != nil || !ok {
		t.Errorf("CommitTask(new) = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = c.CommitTask(ctx, "j1", batch.NewTaskSpec("dup", "run", nil, nil), false)
	if err != nil || ok {
		t.Errorf("CommitTask(dup) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestTaskCommitter_DeleteTaskIfPresent(t *testing.T) {
	g := jobGateway(batch.Task{ID: "t1", State: batch.TaskActive})
	c := NewTaskCommitter(g, nil)
	ctx := context.Background()

	if ok, err := c.DeleteTaskIfPresent(ctx, "j1", "t1"); err != nil || !ok {
		t.Errorf("DeleteTaskIfPresent(t1) = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := c.DeleteTaskIfPresent(ctx, "j1", "t1"); err != nil || ok {
		t.Errorf("second DeleteTaskIfPresent(t1) = (%v, %v), want (false, nil)", ok, err)
	}
}
