package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/config"
	"github.com/opensandbox/batchfleet/internal/controlplane"
)

func localConfig(targets string) *config.Config {
	return &config.Config{
		Mode:               config.ModeLocal,
		PoolTargets:        targets,
		SteadyPollInterval: time.Millisecond,
		SteadyTimeout:      10 * time.Millisecond,
		ReconcileInterval:  time.Hour,
	}
}

func TestSeedLocal(t *testing.T) {
	g := SeedLocal([]controlplane.PoolTarget{{PoolID: "p1", TargetNodes: 2}, {PoolID: "p2"}})

	pool, err := g.GetPool(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetPool() error: %v", err)
	}
	if pool.TargetDedicatedNodes != 2 || pool.AllocationState != batch.AllocationSteady {
		t.Errorf("unexpected pool %+v", pool)
	}
	nodes := g.Nodes("p1")
	if len(nodes) != 2 || nodes[0].ID != "p1-node-1" || nodes[0].State != batch.NodeIdle {
		t.Errorf("unexpected nodes %+v", nodes)
	}
	if len(g.Nodes("p2")) != 0 {
		t.Error("p2 should have no nodes")
	}
}

func TestNewLocalFleet_Reconciles(t *testing.T) {
	f, err := New(context.Background(), localConfig("p1=3"), nil, Options{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer f.Close()

	if f.Store != nil || f.Lease != nil || f.Events != nil {
		t.Fatal("local fleet without urls must not connect stores")
	}
	if err := f.Targets.PutTarget(context.Background(), controlplane.PoolTarget{PoolID: "p1", TargetNodes: 1, Enabled: true}); err != nil {
		t.Fatalf("PutTarget() error: %v", err)
	}

	reports := f.Reconciler().ReconcileOnce(context.Background())
	if len(reports) != 1 || reports[0].Err != nil {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if reports[0].Scale.Outcome != controlplane.ScaledDown || len(reports[0].Scale.RemovedNodes) != 2 {
		t.Errorf("expected two nodes removed, got %+v", reports[0].Scale)
	}
}

func TestNew_InvalidTargets(t *testing.T) {
	if _, err := New(context.Background(), localConfig("p1=lots"), nil, Options{}); err == nil {
		t.Fatal("expected error for bad pool targets")
	}
}

func TestCatalogNeedsAzure(t *testing.T) {
	f, err := New(context.Background(), localConfig(""), nil, Options{SkipStores: true})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := f.Catalog(); err == nil {
		t.Error("expected error for catalog in local mode")
	}
}
