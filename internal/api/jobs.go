package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/controlplane"
)

type createJobRequest struct {
	PoolID                      string `json:"poolId"`
	TerminateOnAllTasksComplete bool   `json:"terminateOnAllTasksComplete"`
	UsesTaskDependencies        bool   `json:"usesTaskDependencies"`
}

type commitTasksRequest struct {
	Tasks                []batch.TaskSpec `json:"tasks"`
	TerminateJobWhenDone bool             `json:"terminateJobWhenDone"`
}

func (s *Server) listJobs(c echo.Context) error {
	poolID := c.QueryParam("poolId")
	if poolID == "" {
		return badRequest(c, "poolId is required")
	}

	ctx := c.Request().Context()
	var (
		jobs []batch.Job
		err  error
	)
	if c.QueryParam("running") == "true" {
		jobs, err = s.Jobs.RunningJobs(ctx, poolID)
	} else {
		jobs, err = s.Jobs.PoolJobs(ctx, poolID)
	}
	if err != nil {
		return s.fail(c, err)
	}
	if jobs == nil {
		jobs = []batch.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func (s *Server) createJob(c echo.Context) error {
	var req createJobRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	spec := batch.JobSpec{
		ID:                   c.Param("id"),
		PoolID:               req.PoolID,
		OnAllTasksComplete:   batch.OnAllTasksCompleteFor(req.TerminateOnAllTasksComplete),
		UsesTaskDependencies: req.UsesTaskDependencies,
	}

	created, err := s.Jobs.CreateJobIfAbsent(c.Request().Context(), spec)
	if err != nil {
		return s.fail(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]bool{"created": created})
}

func (s *Server) deleteJob(c echo.Context) error {
	deleted, err := s.Jobs.DeleteJobIfPresent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) updateJob(c echo.Context) error {
	var m controlplane.JobMutations
	if err := c.Bind(&m); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	updated, err := s.Jobs.UpdateJob(c.Request().Context(), c.Param("id"), m)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"updated": updated})
}

func (s *Server) terminateJob(c echo.Context) error {
	terminated, err := s.Jobs.TerminateJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"terminated": terminated})
}

func (s *Server) failedTasks(c echo.Context) error {
	tasks, err := s.Jobs.FailedTasks(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if tasks == nil {
		tasks = []batch.Task{}
	}
	return c.JSON(http.StatusOK, map[string]any{"failed": len(tasks) > 0, "tasks": tasks})
}

func (s *Server) commitTasks(c echo.Context) error {
	var req commitTasksRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	committed, err := s.Tasks.CommitTasks(c.Request().Context(), c.Param("id"), req.Tasks, req.TerminateJobWhenDone)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"committed": committed, "count": len(req.Tasks)})
}

func (s *Server) taskCounts(c echo.Context) error {
	var ids []string
	for _, id := range strings.Split(c.QueryParam("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return badRequest(c, "ids is required")
	}
	counts, err := s.Jobs.JobsTaskCounts(c.Request().Context(), ids)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}

func (s *Server) deleteApplication(c echo.Context) error {
	deleted, err := s.Apps.DeleteApplication(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": deleted})
}
