package azbatch

import (
	"context"
	"net/http"
	"net/url"

	"github.com/opensandbox/batchfleet/internal/batch"
)

const jobSelect = "id,state,poolInfo,onAllTasksComplete,usesTaskDependencies"

func (g *Gateway) GetJob(ctx context.Context, jobID string) (*batch.Job, error) {
	var w jobWire
	if err := g.batch.do(ctx, batch.OpGetJob, http.MethodGet,
		g.batch.url(pathf("/jobs/%s", jobID), url.Values{"$select": {jobSelect}}), nil, &w, http.StatusOK); err != nil {
		return nil, err
	}
	job := w.toJob()
	return &job, nil
}

func (g *Gateway) ListJobs(ctx context.Context) ([]batch.Job, error) {
	wires, err := listAll[jobWire](ctx, &g.batch, batch.OpListJobs,
		g.batch.url("/jobs", url.Values{"$select": {jobSelect}}))
	if err != nil {
		return nil, err
	}
	jobs := make([]batch.Job, 0, len(wires))
	for _, w := range wires {
		jobs = append(jobs, w.toJob())
	}
	return jobs, nil
}

func (g *Gateway) CreateJob(ctx context.Context, spec batch.JobSpec) error {
	body := jobWire{
		ID:                   spec.ID,
		PoolInfo:             poolInfo{PoolID: spec.PoolID},
		OnAllTasksComplete:   string(spec.OnAllTasksComplete),
		UsesTaskDependencies: spec.UsesTaskDependencies,
	}
	return g.batch.do(ctx, batch.OpCreateJob, http.MethodPost,
		g.batch.url("/jobs", nil), body, nil, http.StatusCreated)
}

func (g *Gateway) DeleteJob(ctx context.Context, jobID string) error {
	return g.batch.do(ctx, batch.OpDeleteJob, http.MethodDelete,
		g.batch.url(pathf("/jobs/%s", jobID), nil), nil, nil, http.StatusAccepted)
}

// UpdateJob patches the supplied fields. The service has no job rename, so
// an update carrying a different ID is rejected before any request is sent.
func (g *Gateway) UpdateJob(ctx context.Context, jobID string, update batch.JobUpdate) error {
	if update.ID != nil && *update.ID != jobID {
		return batch.Validation("id", "renaming a job is not supported")
	}
	var body jobPatch
	if update.PoolID != nil {
		body.PoolInfo = &poolInfo{PoolID: *update.PoolID}
	}
	if update.OnAllTasksComplete != nil {
		body.OnAllTasksComplete = string(*update.OnAllTasksComplete)
	}
	body.UsesTaskDependencies = update.UsesTaskDependencies
	return g.batch.do(ctx, batch.OpUpdateJob, http.MethodPatch,
		g.batch.url(pathf("/jobs/%s", jobID), nil), body, nil, http.StatusOK)
}

func (g *Gateway) TerminateJob(ctx context.Context, jobID, reason string) error {
	return g.batch.do(ctx, batch.OpTerminateJob, http.MethodPost,
		g.batch.url(pathf("/jobs/%s/terminate", jobID), nil),
		terminateBody{TerminateReason: reason}, nil, http.StatusAccepted)
}
