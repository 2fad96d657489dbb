package controlplane

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opensandbox/batchfleet/internal/batch"
)

const allTasksCompletedReason = "All tasks are completed"

// JobMutations lists the job fields a caller wants to change. Nil fields are
// left as they are.
type JobMutations struct {
	NewID                       *string `json:"newId,omitempty"`
	NewPoolID                   *string `json:"newPoolId,omitempty"`
	TerminateOnAllTasksComplete *bool   `json:"terminateOnAllTasksComplete,omitempty"`
	UsesTaskDependencies        *bool   `json:"usesTaskDependencies,omitempty"`
}

// diffJob returns the update for the fields of m that differ from job. An
// empty new ID or pool ID counts as not supplied.
func diffJob(job *batch.Job, m JobMutations) batch.JobUpdate {
	var u batch.JobUpdate
	if m.NewID != nil && *m.NewID != "" && *m.NewID != job.ID {
		u.ID = m.NewID
	}
	if m.NewPoolID != nil && *m.NewPoolID != "" && *m.NewPoolID != job.PoolID {
		u.PoolID = m.NewPoolID
	}
	if m.TerminateOnAllTasksComplete != nil {
		want := batch.OnAllTasksCompleteFor(*m.TerminateOnAllTasksComplete)
		if want != job.OnAllTasksComplete {
			u.OnAllTasksComplete = &want
		}
	}
	if m.UsesTaskDependencies != nil && *m.UsesTaskDependencies != job.UsesTaskDependencies {
		u.UsesTaskDependencies = m.UsesTaskDependencies
	}
	return u
}

// JobManager creates, updates and terminates jobs.
type JobManager struct {
	gateway batch.Gateway
	log     *zap.Logger
}

// NewJobManager creates a job manager.
func NewJobManager(gateway batch.Gateway, logger *zap.Logger) *JobManager {
	return &JobManager{gateway: gateway, log: named(logger, "jobs")}
}

// CreateJobIfAbsent creates the job and reports false if it already exists.
func (m *JobManager) CreateJobIfAbsent(ctx context.Context, spec batch.JobSpec) (bool, error) {
	if spec.ID == "" {
		return false, batch.Validation("id", "must not be empty")
	}
	if spec.PoolID == "" {
		return false, batch.Validation("poolId", "must not be empty")
	}
	if spec.OnAllTasksComplete == "" {
		spec.OnAllTasksComplete = batch.NoAction
	}
	if err := m.gateway.CreateJob(ctx, spec); err != nil {
		if batch.IsConflict(err) {
			m.log.Info("job already exists", zap.String("job", spec.ID))
			return false, nil
		}
		return false, fmt.Errorf("jobs: create job %s: %w", spec.ID, err)
	}
	m.log.Info("created job", zap.String("job", spec.ID), zap.String("pool", spec.PoolID))
	return true, nil
}

// DeleteJobIfPresent deletes the job and reports false if it did not exist.
func (m *JobManager) DeleteJobIfPresent(ctx context.Context, jobID string) (bool, error) {
	if err := m.gateway.DeleteJob(ctx, jobID); err != nil {
		if batch.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("jobs: delete job %s: %w", jobID, err)
	}
	m.log.Info("deleted job", zap.String("job", jobID))
	return true, nil
}

// GetJob returns the job, or nil if it does not exist.
func (m *JobManager) GetJob(ctx context.Context, jobID string) (*batch.Job, error) {
	job, err := m.gateway.GetJob(ctx, jobID)
	if err != nil {
		if batch.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs: get job %s: %w", jobID, err)
	}
	return job, nil
}

// TerminateIfAllTasksComplete terminates an active job once every one of its
// tasks is completed. It reports true when the job is, or now will be, done.
func (m *JobManager) TerminateIfAllTasksComplete(ctx context.Context, jobID string) (bool, error) {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		m.log.Warn("job not found", zap.String("job", jobID))
		return false, nil
	}

	switch job.State {
	case batch.JobCompleted:
		return true, nil
	case batch.JobActive:
	default:
		return false, nil
	}

	tasks, err := m.gateway.ListTasks(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("jobs: list tasks of job %s: %w", jobID, err)
	}
	for _, t := range tasks {
		if t.State != batch.TaskCompleted {
			return false, nil
		}
	}

	if err := m.gateway.TerminateJob(ctx, jobID, allTasksCompletedReason); err != nil {
		return false, fmt.Errorf("jobs: terminate job %s: %w", jobID, err)
	}
	m.log.Info("terminated job", zap.String("job", jobID), zap.Int("tasks", len(tasks)))
	return true, nil
}

// TerminateJob terminates the job if all its tasks are complete.
func (m *JobManager) TerminateJob(ctx context.Context, jobID string) (bool, error) {
	return m.TerminateIfAllTasksComplete(ctx, jobID)
}

// UpdateJob applies the supplied mutations. The update is sent only when at
// least one field differs from the current job; it reports whether it was.
func (m *JobManager) UpdateJob(ctx context.Context, jobID string, mutations JobMutations) (bool, error) {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		m.log.Warn("job not found", zap.String("job", jobID))
		return false, nil
	}

	update := diffJob(job, mutations)
	if update.Empty() {
		return false, nil
	}
	if err := m.gateway.UpdateJob(ctx, jobID, update); err != nil {
		return false, fmt.Errorf("jobs: update job %s: %w", jobID, err)
	}
	m.log.Info("updated job", zap.String("job", jobID))
	return true, nil
}

// PoolJobs returns the jobs bound to poolID.
func (m *JobManager) PoolJobs(ctx context.Context, poolID string) ([]batch.Job, error) {
	jobs, err := m.gateway.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: list jobs: %w", err)
	}
	var out []batch.Job
	for _, j := range jobs {
		if j.PoolID == poolID {
			out = append(out, j)
		}
	}
	return out, nil
}

// RunningJobs returns the active jobs of poolID that have started work: at
// least one task is preparing, running or completed.
func (m *JobManager) RunningJobs(ctx context.Context, poolID string) ([]batch.Job, error) {
	jobs, err := m.PoolJobs(ctx, poolID)
	if err != nil {
		return nil, err
	}
	var out []batch.Job
	for _, j := range jobs {
		if j.State != batch.JobActive {
			continue
		}
		tasks, err := m.gateway.ListTasks(ctx, j.ID)
		if err != nil {
			if batch.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("jobs: list tasks of job %s: %w", j.ID, err)
		}
		for _, t := range tasks {
			if t.State == batch.TaskRunning || t.State == batch.TaskPreparing || t.State == batch.TaskCompleted {
				out = append(out, j)
				break
			}
		}
	}
	return out, nil
}

// IsAnyTaskFailed reports whether any task of the job ended with a failure.
// A missing job has no failed tasks.
func (m *JobManager) IsAnyTaskFailed(ctx context.Context, jobID string) (bool, error) {
	tasks, err := m.FailedTasks(ctx, jobID)
	if err != nil {
		return false, err
	}
	return len(tasks) > 0, nil
}

// FailedTasks returns the tasks of the job that ended with a failure code.
func (m *JobManager) FailedTasks(ctx context.Context, jobID string) ([]batch.Task, error) {
	tasks, err := m.gateway.ListTasks(ctx, jobID)
	if err != nil {
		if batch.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs: list tasks of job %s: %w", jobID, err)
	}
	var failed []batch.Task
	for _, t := range tasks {
		if t.FailureInfo == nil {
			continue
		}
		switch t.FailureInfo.Code {
		case batch.FailureExitCode, batch.TaskEnded:
			failed = append(failed, t)
		}
	}
	return failed, nil
}

// JobsTaskCounts queries task counts for every job concurrently. The result
// is in the order of jobIDs.
func (m *JobManager) JobsTaskCounts(ctx context.Context, jobIDs []string) ([]batch.TaskCounts, error) {
	counts := make([]batch.TaskCounts, len(jobIDs))
	var g errgroup.Group
	for i, id := range jobIDs {
		g.Go(func() error {
			c, err := m.gateway.GetTaskCounts(ctx, id)
			if err != nil {
				return fmt.Errorf("jobs: task counts of job %s: %w", id, err)
			}
			c.JobID = id
			counts[i] = *c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}
