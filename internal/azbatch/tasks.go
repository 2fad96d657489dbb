package azbatch

import (
	"context"
	"net/http"
	"net/url"

	"github.com/opensandbox/batchfleet/internal/batch"
)

func (g *Gateway) ListTasks(ctx context.Context, jobID string) ([]batch.Task, error) {
	q := url.Values{"$select": {"id,state,executionInfo,dependsOn"}}
	wires, err := listAll[taskWire](ctx, &g.batch, batch.OpListTasks, g.batch.url(pathf("/jobs/%s/tasks", jobID), q))
	if err != nil {
		return nil, err
	}
	tasks := make([]batch.Task, 0, len(wires))
	for _, w := range wires {
		tasks = append(tasks, w.toTask())
	}
	return tasks, nil
}

// AddTasks submits tasks in collections of at most 100, the service limit.
// The service answers each collection with a per-task status; the first
// failed task is reported with its error code, so a duplicate surfaces as a
// TaskExists conflict.
func (g *Gateway) AddTasks(ctx context.Context, jobID string, tasks []batch.TaskSpec) error {
	endpoint := g.batch.url(pathf("/jobs/%s/addtaskcollection", jobID), nil)
	for start := 0; start < len(tasks); start += maxTasksPerRequest {
		end := min(start+maxTasksPerRequest, len(tasks))
		body := taskCollection{Value: make([]taskAddWire, 0, end-start)}
		for _, spec := range tasks[start:end] {
			body.Value = append(body.Value, taskAddFrom(spec))
		}

		var res taskAddResults
		if err := g.batch.do(ctx, batch.OpAddTasks, http.MethodPost, endpoint, body, &res, http.StatusOK); err != nil {
			return err
		}
		if err := firstTaskFailure(res.Value); err != nil {
			return err
		}
	}
	return nil
}

func firstTaskFailure(results []taskAddResult) error {
	for _, r := range results {
		if r.Status == taskAddSuccess {
			continue
		}
		code := "TaskAddFailed"
		if r.Error != nil && r.Error.Code != "" {
			code = r.Error.Code
		}
		status := http.StatusBadRequest
		switch {
		case code == batch.CodeTaskExists:
			status = http.StatusConflict
		case r.Status == taskAddServerError:
			status = http.StatusInternalServerError
		}
		return batch.NewRemoteError(batch.OpAddTasks+" "+r.TaskID, code, status, nil)
	}
	return nil
}

func (g *Gateway) DeleteTask(ctx context.Context, jobID, taskID string) error {
	return g.batch.do(ctx, batch.OpDeleteTask, http.MethodDelete,
		g.batch.url(pathf("/jobs/%s/tasks/%s", jobID, taskID), nil), nil, nil, http.StatusOK)
}

func (g *Gateway) GetTaskCounts(ctx context.Context, jobID string) (*batch.TaskCounts, error) {
	var w taskCountsWire
	if err := g.batch.do(ctx, batch.OpGetTaskCounts, http.MethodGet,
		g.batch.url(pathf("/jobs/%s/taskcounts", jobID), nil), nil, &w, http.StatusOK); err != nil {
		return nil, err
	}
	c := w.TaskCounts
	return &batch.TaskCounts{
		JobID:     jobID,
		Active:    c.Active,
		Running:   c.Running,
		Completed: c.Completed,
		Succeeded: c.Succeeded,
		Failed:    c.Failed,
	}, nil
}
