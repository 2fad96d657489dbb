package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/metrics"
)

const defaultRollbackTimeout = 2 * time.Minute

// TaskCommitter adds tasks to jobs with all-or-nothing semantics.
type TaskCommitter struct {
	gateway         batch.Gateway
	log             *zap.Logger
	rollbackTimeout time.Duration
}

// NewTaskCommitter creates a task committer.
func NewTaskCommitter(gateway batch.Gateway, logger *zap.Logger) *TaskCommitter {
	return &TaskCommitter{
		gateway:         gateway,
		log:             named(logger, "tasks"),
		rollbackTimeout: defaultRollbackTimeout,
	}
}

// CommitTasks adds tasks to jobID in one batch. When terminateJobWhenDone is
// set, the job is switched to terminate once all its tasks complete.
//
// If any step fails, every submitted task is deleted again (tasks that never
// landed are ignored). A TaskExists conflict is reported as false with a nil
// error; any other failure is returned after the rollback.
func (c *TaskCommitter) CommitTasks(ctx context.Context, jobID string, tasks []batch.TaskSpec, terminateJobWhenDone bool) (bool, error) {
	if len(tasks) == 0 {
		return true, nil
	}

	err := c.gateway.AddTasks(ctx, jobID, tasks)
	if err == nil && terminateJobWhenDone {
		err = c.setTerminateOnComplete(ctx, jobID)
	}
	if err == nil {
		c.log.Info("committed tasks", zap.String("job", jobID), zap.Int("count", len(tasks)))
		return true, nil
	}

	rollbackErr := c.rollback(ctx, jobID, tasks)

	if batch.IsTaskExists(err) {
		metrics.TaskRollbacksTotal.WithLabelValues(jobID, "task_exists").Inc()
		c.log.Warn("task already exists, batch rolled back",
			zap.String("job", jobID), zap.Int("count", len(tasks)), zap.Error(rollbackErr))
		return false, rollbackErr
	}

	metrics.TaskRollbacksTotal.WithLabelValues(jobID, "error").Inc()
	c.log.Error("task commit failed, batch rolled back",
		zap.String("job", jobID), zap.Int("count", len(tasks)), zap.Error(err))
	return false, errors.Join(fmt.Errorf("tasks: commit to job %s: %w", jobID, err), rollbackErr)
}

// CommitTask adds a single task. A TaskExists conflict is reported as false.
func (c *TaskCommitter) CommitTask(ctx context.Context, jobID string, task batch.TaskSpec, terminateJobWhenDone bool) (bool, error) {
	if err := c.gateway.AddTasks(ctx, jobID, []batch.TaskSpec{task}); err != nil {
		if batch.IsTaskExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("tasks: add task %s to job %s: %w", task.ID, jobID, err)
	}
	if terminateJobWhenDone {
		if err := c.setTerminateOnComplete(ctx, jobID); err != nil {
			return false, err
		}
	}
	return true, nil
}

// DeleteTaskIfPresent deletes a task and reports false if it did not exist.
func (c *TaskCommitter) DeleteTaskIfPresent(ctx context.Context, jobID, taskID string) (bool, error) {
	if err := c.gateway.DeleteTask(ctx, jobID, taskID); err != nil {
		if batch.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("tasks: delete task %s from job %s: %w", taskID, jobID, err)
	}
	return true, nil
}

func (c *TaskCommitter) setTerminateOnComplete(ctx context.Context, jobID string) error {
	terminate := batch.TerminateJob
	if err := c.gateway.UpdateJob(ctx, jobID, batch.JobUpdate{OnAllTasksComplete: &terminate}); err != nil {
		return fmt.Errorf("tasks: set job %s to terminate on completion: %w", jobID, err)
	}
	return nil
}

// rollback deletes every task of the batch concurrently. It runs on a
// detached context so a cancelled commit still cleans up.
func (c *TaskCommitter) rollback(ctx context.Context, jobID string, tasks []batch.TaskSpec) error {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.rollbackTimeout)
	defer cancel()

	var g errgroup.Group
	for _, task := range tasks {
		g.Go(func() error {
			_, err := c.DeleteTaskIfPresent(rollbackCtx, jobID, task.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("tasks: rollback of job %s: %w", jobID, err)
	}
	return nil
}
