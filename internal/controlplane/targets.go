package controlplane

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/opensandbox/batchfleet/internal/batch"
)

// PoolTarget is the desired dedicated node count for one pool.
type PoolTarget struct {
	PoolID      string                   `json:"poolId"`
	TargetNodes int                      `json:"targetNodes"`
	Policy      batch.DeallocationPolicy `json:"deallocationPolicy"`
	Enabled     bool                     `json:"enabled"`
}

// TargetStore supplies the desired pool targets to the reconciler.
// Both StaticTargets and the PostgreSQL store satisfy this.
type TargetStore interface {
	ListTargets(ctx context.Context) ([]PoolTarget, error)
	PutTarget(ctx context.Context, target PoolTarget) error
}

// StaticTargets is an in-process TargetStore seeded from configuration.
type StaticTargets struct {
	mu      sync.RWMutex
	order   []string
	targets map[string]PoolTarget
}

// NewStaticTargets creates a store holding targets.
func NewStaticTargets(targets []PoolTarget) *StaticTargets {
	s := &StaticTargets{targets: make(map[string]PoolTarget)}
	for _, t := range targets {
		s.put(t)
	}
	return s
}

func (s *StaticTargets) put(t PoolTarget) {
	if _, ok := s.targets[t.PoolID]; !ok {
		s.order = append(s.order, t.PoolID)
	}
	s.targets[t.PoolID] = t
}

// ListTargets returns the targets in insertion order.
func (s *StaticTargets) ListTargets(ctx context.Context) ([]PoolTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PoolTarget, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.targets[id])
	}
	return out, nil
}

// PutTarget inserts or replaces the target for t.PoolID.
func (s *StaticTargets) PutTarget(ctx context.Context, t PoolTarget) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(t)
	return nil
}

// Validate checks the target fields.
func (t PoolTarget) Validate() error {
	if t.PoolID == "" {
		return batch.Validation("poolId", "must not be empty")
	}
	if t.TargetNodes < 0 {
		return batch.Validation("targetNodes", "must not be negative")
	}
	if _, err := batch.ParseDeallocationPolicy(string(t.Policy)); err != nil {
		return err
	}
	return nil
}

// ParsePoolTargets parses a comma-separated list of pool=count[:policy]
// entries, e.g. "p1=10:requeue,p2=4". Parsed targets are enabled.
func ParsePoolTargets(s string) ([]PoolTarget, error) {
	var out []PoolTarget
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		poolID, rest, ok := strings.Cut(entry, "=")
		if !ok || poolID == "" {
			return nil, batch.Validation("poolTargets", fmt.Sprintf("entry %q is not pool=count", entry))
		}
		countStr, policyStr, _ := strings.Cut(rest, ":")
		count, err := strconv.Atoi(countStr)
		if err != nil {
			return nil, batch.Validation("poolTargets", fmt.Sprintf("entry %q has a bad count", entry))
		}
		policy, err := batch.ParseDeallocationPolicy(policyStr)
		if err != nil {
			return nil, err
		}
		t := PoolTarget{PoolID: strings.TrimSpace(poolID), TargetNodes: count, Policy: policy, Enabled: true}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
