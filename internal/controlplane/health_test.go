package controlplane

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/opensandbox/batchfleet/internal/batch"
)

func unhealthyPool(state batch.AllocationState) *batch.MemoryGateway {
	g := batch.NewMemoryGateway()
	g.AddPool(batch.Pool{ID: "p1", TargetDedicatedNodes: 6, AllocationState: state},
		node("off", batch.NodeOffline),
		node("dealloc", batch.NodeDeallocated),
		node("unusable", batch.NodeUnusable),
		node("unknown", batch.NodeUnknown),
		node("run", batch.NodeRunning),
		node("idle", batch.NodeIdle),
	)
	return g
}

func argsOf(calls []batch.Call) [][]string {
	var out [][]string
	for _, c := range calls {
		out = append(out, c.Args)
	}
	return out
}

func TestRemediationFor(t *testing.T) {
	tests := []struct {
		state    batch.NodeState
		resizing bool
		action   Remediation
		ok       bool
	}{
		{batch.NodeOffline, false, RemediationEnableScheduling, true},
		{batch.NodeDeallocated, true, RemediationEnableScheduling, true},
		{batch.NodeUnusable, true, RemediationReboot, true},
		{batch.NodeUnknown, false, RemediationRemove, true},
		{batch.NodeUnknown, true, "", false},
		{batch.NodeRunning, false, "", false},
		{batch.NodeState("upgrading"), false, "", false},
	}
	for _, tt := range tests {
		action, ok := remediationFor(tt.state, tt.resizing)
		if action != tt.action || ok != tt.ok {
			t.Errorf("remediationFor(%s, %v) = (%q, %v), want (%q, %v)",
				tt.state, tt.resizing, action, ok, tt.action, tt.ok)
		}
	}
}

func TestHealthMonitor_RecoverSteadyPool(t *testing.T) {
	g := unhealthyPool(batch.AllocationSteady)
	m := NewHealthMonitor(g, nil)

	n, err := m.RecoverUnhealthyNodes(context.Background(), "p1")
	if err != nil {
		t.Fatalf("RecoverUnhealthyNodes() error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 remediations, got %d", n)
	}

	enabled := argsOf(g.CallsTo(batch.OpEnableScheduling))
	if len(enabled) != 2 {
		t.Errorf("expected 2 enable scheduling calls, got %v", enabled)
	}
	reboots := argsOf(g.CallsTo(batch.OpRebootNode))
	if !reflect.DeepEqual(reboots, [][]string{{"p1", "unusable", "requeue"}}) {
		t.Errorf("reboot calls = %v", reboots)
	}
	removes := argsOf(g.CallsTo(batch.OpRemoveNodes))
	if !reflect.DeepEqual(removes, [][]string{{"p1", "unknown", "requeue"}}) {
		t.Errorf("remove calls = %v", removes)
	}
	if muts := g.Mutations(); len(muts) != 4 {
		t.Errorf("expected one action per unhealthy node, got %v", muts)
	}
}

func TestHealthMonitor_SkipsUnknownWhileResizing(t *testing.T) {
	g := unhealthyPool(batch.AllocationResizing)
	logger, logs := observedLogger()
	m := NewHealthMonitor(g, logger)

	n, err := m.RecoverUnhealthyNodes(context.Background(), "p1")
	if err != nil {
		t.Fatalf("RecoverUnhealthyNodes() error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 remediations, got %d", n)
	}
	if calls := g.CallsTo(batch.OpRemoveNodes); len(calls) != 0 {
		t.Errorf("expected no removals while resizing, got %v", calls)
	}
	if logs.FilterMessage("leaving unknown node while pool is resizing").Len() != 1 {
		t.Error("expected a log entry for the skipped unknown node")
	}
}

func TestHealthMonitor_HealthyPool(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddPool(batch.Pool{ID: "p1"}, node("a", batch.NodeRunning), node("b", batch.NodeIdle))
	m := NewHealthMonitor(g, nil)

	n, err := m.RecoverUnhealthyNodes(context.Background(), "p1")
	if err != nil {
		t.Fatalf("RecoverUnhealthyNodes() error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 remediations, got %d", n)
	}
	if muts := g.Mutations(); len(muts) != 0 {
		t.Errorf("expected no mutations, got %v", muts)
	}
}

func TestHealthMonitor_ActionFailure(t *testing.T) {
	g := unhealthyPool(batch.AllocationSteady)
	boom := errors.New("boom")
	g.Fail(batch.OpRebootNode, boom)
	m := NewHealthMonitor(g, nil)

	n, err := m.RecoverUnhealthyNodes(context.Background(), "p1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected reboot failure to surface, got %v", err)
	}
	if n != 4 {
		t.Errorf("expected all 4 actions dispatched, got %d", n)
	}
	if calls := g.CallsTo(batch.OpEnableScheduling); len(calls) != 2 {
		t.Errorf("other actions should still run, got %v", calls)
	}
}

func TestHealthMonitor_MissingPool(t *testing.T) {
	m := NewHealthMonitor(batch.NewMemoryGateway(), nil)
	if _, err := m.RecoverUnhealthyNodes(context.Background(), "nope"); !batch.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
