package controlplane

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/metrics"
)

// ScaleOutcome says what SetTargetNodeCount did.
type ScaleOutcome string

const (
	ScaledUp              ScaleOutcome = "scaled_up"
	ScaledDown            ScaleOutcome = "scaled_down"
	ScaleUnchanged        ScaleOutcome = "unchanged"
	ScaleSkippedAutoScale ScaleOutcome = "skipped_autoscale"
	ScaleSkippedNotSteady ScaleOutcome = "skipped_not_steady"
	ScaleSkippedNoNodes   ScaleOutcome = "skipped_no_nodes"
)

// ScaleResult reports the decision taken for one pool.
type ScaleResult struct {
	PoolID       string       `json:"poolId"`
	Outcome      ScaleOutcome `json:"outcome"`
	Previous     int          `json:"previous"`
	Target       int          `json:"target"`
	RemovedNodes []string     `json:"removedNodes,omitempty"`
}

// Performed reports whether a remote mutation was issued.
func (r ScaleResult) Performed() bool {
	return r.Outcome == ScaledUp || r.Outcome == ScaledDown
}

// Skipped reports whether a guard prevented the change.
func (r ScaleResult) Skipped() bool {
	switch r.Outcome {
	case ScaleSkippedAutoScale, ScaleSkippedNotSteady, ScaleSkippedNoNodes:
		return true
	}
	return false
}

// ScalerConfig configures the pool scaler.
type ScalerConfig struct {
	Gateway batch.Gateway
	Logger  *zap.Logger
}

// Scaler applies target node counts to fixed-scale pools.
type Scaler struct {
	gateway batch.Gateway
	log     *zap.Logger
}

// NewScaler creates a new pool scaler.
func NewScaler(cfg ScalerConfig) *Scaler {
	return &Scaler{
		gateway: cfg.Gateway,
		log:     named(cfg.Logger, "scaler"),
	}
}

// SetTargetNodeCount moves poolID towards desired dedicated nodes. It issues
// at most one remote mutation: a resize when growing, or a removal of the
// most disposable nodes when shrinking. Pools with autoscale enabled or not
// in steady state are left alone and reported as skipped.
func (s *Scaler) SetTargetNodeCount(ctx context.Context, poolID string, desired int, policy batch.DeallocationPolicy) (ScaleResult, error) {
	if desired < 0 {
		return ScaleResult{}, batch.Validation("targetNodes", "must not be negative")
	}
	if policy == "" {
		policy = batch.DeallocateRequeue
	}

	pool, err := s.gateway.GetPool(ctx, poolID)
	if err != nil {
		return ScaleResult{}, fmt.Errorf("scaler: get pool %s: %w", poolID, err)
	}

	result := ScaleResult{PoolID: poolID, Previous: pool.TargetDedicatedNodes, Target: desired}

	if pool.AutoScaleEnabled {
		s.log.Warn("cannot resize pool with autoscale enabled", zap.String("pool", poolID))
		result.Outcome = ScaleSkippedAutoScale
		return result, nil
	}
	if pool.AllocationState != batch.AllocationSteady {
		s.log.Warn("cannot resize pool that is not steady",
			zap.String("pool", poolID),
			zap.String("allocation_state", string(pool.AllocationState)))
		result.Outcome = ScaleSkippedNotSteady
		return result, nil
	}

	current := pool.TargetDedicatedNodes
	switch {
	case desired > current:
		s.log.Info("adding nodes",
			zap.String("pool", poolID), zap.Int("previous", current), zap.Int("target", desired))
		if err := s.gateway.ResizePool(ctx, poolID, desired, policy); err != nil {
			return result, fmt.Errorf("scaler: resize pool %s to %d: %w", poolID, desired, err)
		}
		result.Outcome = ScaledUp

	case desired < current:
		nodes, err := s.gateway.ListNodes(ctx, poolID, batch.NodeFilter{})
		if err != nil {
			return result, fmt.Errorf("scaler: list nodes of pool %s: %w", poolID, err)
		}
		ids := selectForRemoval(nodes, current-desired)
		if len(ids) == 0 {
			s.log.Warn("pool has no nodes to remove",
				zap.String("pool", poolID), zap.Int("previous", current), zap.Int("target", desired))
			result.Outcome = ScaleSkippedNoNodes
			return result, nil
		}
		if len(ids) > batch.MaxRemoveNodes {
			return result, batch.Validation("targetNodes",
				fmt.Sprintf("cannot remove %d nodes in one step, the limit is %d", len(ids), batch.MaxRemoveNodes))
		}
		s.log.Info("removing nodes",
			zap.String("pool", poolID), zap.Int("previous", current), zap.Int("target", desired),
			zap.Strings("nodes", ids))
		if err := s.gateway.RemoveNodes(ctx, poolID, ids, policy); err != nil {
			return result, fmt.Errorf("scaler: remove %d nodes from pool %s: %w", len(ids), poolID, err)
		}
		result.Outcome = ScaledDown
		result.RemovedNodes = ids

	default:
		result.Outcome = ScaleUnchanged
	}

	metrics.ScaleEventsTotal.WithLabelValues(poolID, string(result.Outcome)).Inc()
	return result, nil
}

func named(l *zap.Logger, name string) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return l.Named(name)
}
