package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/controlplane"
)

type targetRequest struct {
	TargetNodes        *int   `json:"targetNodes"`
	DeallocationPolicy string `json:"deallocationPolicy"`
}

type createPoolRequest struct {
	batch.PoolSpec
	Wait bool `json:"wait"`
}

type rebootRequest struct {
	RebootOption string `json:"rebootOption"`
}

func (s *Server) getPool(c echo.Context) error {
	pool, err := s.Gateway.GetPool(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, pool)
}

func (s *Server) createPool(c echo.Context) error {
	var req createPoolRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	req.ID = c.Param("id")

	created, err := s.Pools.CreatePoolIfAbsent(c.Request().Context(), req.PoolSpec, req.Wait)
	if err != nil {
		return s.fail(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]bool{"created": created})
}

func (s *Server) updatePool(c echo.Context) error {
	var update batch.PoolUpdate
	if err := c.Bind(&update); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	updated, err := s.Pools.UpdatePool(c.Request().Context(), c.Param("id"), update)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"updated": updated})
}

func (s *Server) setPoolTarget(c echo.Context) error {
	var req targetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.TargetNodes == nil {
		return badRequest(c, "targetNodes is required")
	}
	policy, err := batch.ParseDeallocationPolicy(req.DeallocationPolicy)
	if err != nil {
		return s.fail(c, err)
	}

	res, err := s.Scaler.SetTargetNodeCount(c.Request().Context(), c.Param("id"), *req.TargetNodes, policy)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) recoverPool(c echo.Context) error {
	poolID := c.Param("id")
	n, err := s.Health.RecoverUnhealthyNodes(c.Request().Context(), poolID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"poolId": poolID, "dispatched": n})
}

func (s *Server) rebootPool(c echo.Context) error {
	var req rebootRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	option, err := batch.ParseRebootOption(req.RebootOption)
	if err != nil {
		return s.fail(c, err)
	}

	poolID := c.Param("id")
	n, err := s.Pools.RebootNodes(c.Request().Context(), poolID, option)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"poolId": poolID, "rebooted": n})
}

func (s *Server) waitPool(c echo.Context) error {
	poolID := c.Param("id")
	if err := s.Waiter.WaitUntilSteady(c.Request().Context(), poolID); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"poolId": poolID, "steady": true})
}

func (s *Server) deletePool(c echo.Context) error {
	deleted, err := s.Pools.DeletePoolIfPresent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": deleted})
}

func limitParam(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func (s *Server) listActions(c echo.Context) error {
	if s.History == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "no database configured"})
	}
	actions, err := s.History.ListActions(c.Request().Context(), c.Param("id"), limitParam(c))
	if err != nil {
		return s.fail(c, err)
	}
	if actions == nil {
		actions = []controlplane.ActionRecord{}
	}
	return c.JSON(http.StatusOK, actions)
}

func (s *Server) listEvents(c echo.Context) error {
	if s.History == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "no database configured"})
	}
	events, err := s.History.ListEvents(c.Request().Context(), c.Param("id"), limitParam(c))
	if err != nil {
		return s.fail(c, err)
	}
	if events == nil {
		events = []controlplane.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) listTargets(c echo.Context) error {
	targets, err := s.Targets.ListTargets(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if targets == nil {
		targets = []controlplane.PoolTarget{}
	}
	return c.JSON(http.StatusOK, targets)
}

func (s *Server) putTarget(c echo.Context) error {
	var target controlplane.PoolTarget
	if err := c.Bind(&target); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	target.PoolID = c.Param("id")
	policy, err := batch.ParseDeallocationPolicy(string(target.Policy))
	if err != nil {
		return s.fail(c, err)
	}
	target.Policy = policy

	if err := s.Targets.PutTarget(c.Request().Context(), target); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, target)
}
