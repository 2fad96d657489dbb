package controlplane

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opensandbox/batchfleet/internal/batch"
)

// PoolManager groups pool operations that need a quiescent pool.
type PoolManager struct {
	gateway batch.Gateway
	waiter  *SteadyWaiter
	log     *zap.Logger
}

// NewPoolManager creates a pool manager. The waiter is used to settle a pool
// after stopping an in-flight resize.
func NewPoolManager(gateway batch.Gateway, waiter *SteadyWaiter, logger *zap.Logger) *PoolManager {
	return &PoolManager{gateway: gateway, waiter: waiter, log: named(logger, "pools")}
}

// PoolExists reports whether the pool exists.
func (m *PoolManager) PoolExists(ctx context.Context, poolID string) (bool, error) {
	if _, err := m.gateway.GetPool(ctx, poolID); err != nil {
		if batch.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("pools: get pool %s: %w", poolID, err)
	}
	return true, nil
}

// CreatePoolIfAbsent creates the pool unless one with the same ID exists and
// reports whether it did. With wait set it returns once the new pool is steady.
func (m *PoolManager) CreatePoolIfAbsent(ctx context.Context, spec batch.PoolSpec, wait bool) (bool, error) {
	if err := spec.Validate(); err != nil {
		return false, err
	}
	exists, err := m.PoolExists(ctx, spec.ID)
	if err != nil {
		return false, err
	}
	if exists {
		m.log.Info("pool already exists", zap.String("pool", spec.ID))
		return false, nil
	}
	if err := m.gateway.CreatePool(ctx, spec); err != nil {
		if batch.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("pools: create pool %s: %w", spec.ID, err)
	}
	m.log.Info("pool created",
		zap.String("pool", spec.ID),
		zap.String("vmSize", spec.VMSize),
		zap.Int("applications", len(spec.Applications)),
	)
	if wait {
		if err := m.waiter.WaitUntilSteady(ctx, spec.ID); err != nil {
			return true, err
		}
	}
	return true, nil
}

// UpdatePool applies the supplied settings to an existing pool. It reports
// false without calling the service when the update changes nothing.
func (m *PoolManager) UpdatePool(ctx context.Context, poolID string, update batch.PoolUpdate) (bool, error) {
	if update.Empty() {
		return false, nil
	}
	if err := update.Validate(); err != nil {
		return false, err
	}
	if err := m.gateway.UpdatePool(ctx, poolID, update); err != nil {
		return false, fmt.Errorf("pools: update pool %s: %w", poolID, err)
	}
	m.log.Info("pool updated", zap.String("pool", poolID))
	return true, nil
}

// DeletePoolIfPresent deletes the pool and reports false if it was already gone.
func (m *PoolManager) DeletePoolIfPresent(ctx context.Context, poolID string) (bool, error) {
	if err := m.gateway.DeletePool(ctx, poolID); err != nil {
		if batch.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("pools: delete pool %s: %w", poolID, err)
	}
	m.log.Info("pool deletion requested", zap.String("pool", poolID))
	return true, nil
}

// StopResizeAndWait stops an in-flight resize and waits for the pool to settle.
// Pools that are not resizing are returned as read.
func (m *PoolManager) StopResizeAndWait(ctx context.Context, poolID string) (*batch.Pool, error) {
	pool, err := m.gateway.GetPool(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("pools: get pool %s: %w", poolID, err)
	}
	if pool.AllocationState != batch.AllocationResizing {
		return pool, nil
	}

	m.log.Info("stopping resize", zap.String("pool", poolID))
	if err := m.gateway.StopResize(ctx, poolID); err != nil {
		return nil, fmt.Errorf("pools: stop resize of %s: %w", poolID, err)
	}
	if err := m.waiter.WaitUntilSteady(ctx, poolID); err != nil {
		return nil, err
	}
	return m.gateway.GetPool(ctx, poolID)
}

// RebootNodes reboots every node of the pool that is not already rebooting.
// A resizing pool is first stopped and awaited.
func (m *PoolManager) RebootNodes(ctx context.Context, poolID string, option batch.RebootOption) (int, error) {
	if _, err := m.StopResizeAndWait(ctx, poolID); err != nil {
		return 0, err
	}

	nodes, err := m.gateway.ListNodes(ctx, poolID, batch.NodeFilter{})
	if err != nil {
		return 0, fmt.Errorf("pools: list nodes of %s: %w", poolID, err)
	}

	var g errgroup.Group
	rebooted := 0
	for _, node := range nodes {
		if node.State == batch.NodeRebooting {
			continue
		}
		rebooted++
		g.Go(func() error {
			if err := m.gateway.RebootNode(ctx, poolID, node.ID, option); err != nil {
				return fmt.Errorf("pools: reboot node %s in %s: %w", node.ID, poolID, err)
			}
			return nil
		})
	}
	m.log.Info("rebooting nodes", zap.String("pool", poolID), zap.Int("count", rebooted))
	return rebooted, g.Wait()
}
