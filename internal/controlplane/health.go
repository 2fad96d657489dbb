package controlplane

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/metrics"
)

// Remediation is the action taken for an unhealthy node.
type Remediation string

const (
	RemediationEnableScheduling Remediation = "enable_scheduling"
	RemediationReboot           Remediation = "reboot"
	RemediationRemove           Remediation = "remove"
)

// remediationFor maps a node state to its action. Unknown nodes are only
// removed while the pool is not resizing, to stay out of an in-flight resize.
func remediationFor(state batch.NodeState, poolResizing bool) (Remediation, bool) {
	switch state {
	case batch.NodeOffline, batch.NodeDeallocated:
		return RemediationEnableScheduling, true
	case batch.NodeUnusable:
		return RemediationReboot, true
	case batch.NodeUnknown:
		if poolResizing {
			return "", false
		}
		return RemediationRemove, true
	}
	return "", false
}

// HealthMonitor detects and remediates unhealthy nodes in a pool.
type HealthMonitor struct {
	gateway batch.Gateway
	log     *zap.Logger
}

// NewHealthMonitor creates a health monitor.
func NewHealthMonitor(gateway batch.Gateway, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{gateway: gateway, log: named(logger, "health")}
}

// RecoverUnhealthyNodes dispatches one remediation per unhealthy node and
// waits for all of them. It returns the number of dispatched actions and the
// first action error, if any. A returned count is a monitoring signal, not
// a promise that the nodes recover.
func (m *HealthMonitor) RecoverUnhealthyNodes(ctx context.Context, poolID string) (int, error) {
	pool, err := m.gateway.GetPool(ctx, poolID)
	if err != nil {
		return 0, fmt.Errorf("health: get pool %s: %w", poolID, err)
	}

	nodes, err := m.gateway.ListNodes(ctx, poolID, batch.NodeFilter{States: batch.UnhealthyNodeStates})
	if err != nil {
		return 0, fmt.Errorf("health: list unhealthy nodes of pool %s: %w", poolID, err)
	}

	m.log.Info("checking unhealthy nodes", zap.String("pool", poolID), zap.Int("candidates", len(nodes)))

	resizing := pool.AllocationState == batch.AllocationResizing
	var (
		g          errgroup.Group
		dispatched int
	)
	for _, node := range nodes {
		action, ok := remediationFor(node.State, resizing)
		if !ok {
			if node.State == batch.NodeUnknown {
				m.log.Info("leaving unknown node while pool is resizing",
					zap.String("pool", poolID), zap.String("node", node.ID))
			}
			continue
		}

		dispatched++
		metrics.NodeRemediationsTotal.WithLabelValues(poolID, string(action)).Inc()
		m.log.Info("remediating node",
			zap.String("pool", poolID),
			zap.String("node", node.ID),
			zap.String("state", string(node.State)),
			zap.String("action", string(action)))

		g.Go(func() error {
			if err := m.remediate(ctx, poolID, node.ID, action); err != nil {
				return fmt.Errorf("health: %s node %s in pool %s: %w", action, node.ID, poolID, err)
			}
			return nil
		})
	}

	if dispatched > 0 {
		m.log.Info("found unhealthy nodes", zap.String("pool", poolID), zap.Int("count", dispatched))
	}
	return dispatched, g.Wait()
}

func (m *HealthMonitor) remediate(ctx context.Context, poolID, nodeID string, action Remediation) error {
	switch action {
	case RemediationEnableScheduling:
		return m.gateway.EnableScheduling(ctx, poolID, nodeID)
	case RemediationReboot:
		return m.gateway.RebootNode(ctx, poolID, nodeID, batch.RebootRequeue)
	case RemediationRemove:
		return m.gateway.RemoveNodes(ctx, poolID, []string{nodeID}, batch.DeallocateRequeue)
	}
	return fmt.Errorf("unknown remediation %q", action)
}
