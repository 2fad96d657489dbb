package controlplane

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/metrics"
)

// Event types published by the reconciler.
const (
	EventNodesRemediated = "nodes_remediated"
	EventPoolScaled      = "pool_scaled"
	EventReconcileFailed = "reconcile_failed"
)

// Event is a control-plane event about one pool.
type Event struct {
	ID      string    `json:"id"`
	RunID   string    `json:"runId"`
	Type    string    `json:"type"`
	PoolID  string    `json:"poolId"`
	Outcome string    `json:"outcome,omitempty"`
	Count   int       `json:"count,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// EventSink receives control-plane events.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// ActionRecord is one audit log row for a reconcile step.
type ActionRecord struct {
	RunID   string
	PoolID  string
	Action  string
	Outcome string
	Count   int
	Error   string
	At      time.Time
}

// ActionRecorder persists reconcile outcomes.
type ActionRecorder interface {
	RecordAction(ctx context.Context, rec ActionRecord) error
}

// Lease grants one reconciler instance the right to act on a key.
type Lease interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// PoolReport is the outcome of reconciling one pool.
type PoolReport struct {
	PoolID     string
	Skipped    bool // lease held elsewhere
	Remediated int
	Scale      ScaleResult
	Err        error
}

// ReconcilerConfig configures the control loop.
type ReconcilerConfig struct {
	Scaler   *Scaler
	Health   *HealthMonitor
	Targets  TargetStore
	Recorder ActionRecorder // optional
	Lease    Lease          // optional
	Events   EventSink      // optional
	Logger   *zap.Logger
	Interval time.Duration // how often to reconcile (0 = default 30s)
	Timeout  time.Duration // per-run deadline (0 = default 2m)
}

// Reconciler periodically drives every enabled pool towards its target:
// first unhealthy nodes are remediated, then the node count is applied.
type Reconciler struct {
	scaler   *Scaler
	health   *HealthMonitor
	targets  TargetStore
	recorder ActionRecorder
	lease    Lease
	events   EventSink
	log      *zap.Logger
	interval time.Duration
	timeout  time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewReconciler creates a reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Reconciler{
		scaler:   cfg.Scaler,
		health:   cfg.Health,
		targets:  cfg.Targets,
		recorder: cfg.Recorder,
		lease:    cfg.Lease,
		events:   cfg.Events,
		log:      named(cfg.Logger, "reconciler"),
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
	}
}

// Start begins the reconcile loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
				r.ReconcileOnce(ctx)
				cancel()
			case <-r.stop:
				return
			}
		}
	}()
	r.log.Info("reconciler started", zap.Duration("interval", r.interval))
}

// Stop stops the reconcile loop and waits for an in-flight run.
func (r *Reconciler) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// ReconcileOnce runs one pass over all enabled targets. A failure on one
// pool is reported and never stops the others.
func (r *Reconciler) ReconcileOnce(ctx context.Context) []PoolReport {
	runID := uuid.NewString()
	targets, err := r.targets.ListTargets(ctx)
	if err != nil {
		r.log.Error("failed to load pool targets", zap.String("run", runID), zap.Error(err))
		return nil
	}

	var reports []PoolReport
	for _, t := range targets {
		if !t.Enabled {
			continue
		}
		reports = append(reports, r.reconcilePool(ctx, runID, t))
	}
	return reports
}

func (r *Reconciler) reconcilePool(ctx context.Context, runID string, t PoolTarget) PoolReport {
	report := PoolReport{PoolID: t.PoolID}
	log := r.log.With(zap.String("run", runID), zap.String("pool", t.PoolID))

	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx, t.PoolID)
		if err != nil {
			report.Err = err
			r.fail(ctx, runID, "lease", t.PoolID, err)
			return report
		}
		if !ok {
			log.Debug("pool lease held by another instance")
			report.Skipped = true
			return report
		}
		defer func() {
			if err := r.lease.Release(ctx, t.PoolID); err != nil {
				log.Warn("failed to release pool lease", zap.Error(err))
			}
		}()
	}

	n, err := r.health.RecoverUnhealthyNodes(ctx, t.PoolID)
	report.Remediated = n
	if err != nil {
		report.Err = err
		r.fail(ctx, runID, "recover", t.PoolID, err)
		return report
	}
	if n > 0 {
		r.record(ctx, ActionRecord{RunID: runID, PoolID: t.PoolID, Action: "recover", Outcome: "dispatched", Count: n})
		r.publish(ctx, Event{RunID: runID, Type: EventNodesRemediated, PoolID: t.PoolID, Count: n})
	}

	res, err := r.scaler.SetTargetNodeCount(ctx, t.PoolID, t.TargetNodes, t.Policy)
	report.Scale = res
	if err != nil {
		report.Err = err
		r.fail(ctx, runID, "scale", t.PoolID, err)
		return report
	}
	metrics.PoolTargetNodes.WithLabelValues(t.PoolID).Set(float64(t.TargetNodes))
	if res.Outcome != ScaleUnchanged {
		r.record(ctx, ActionRecord{
			RunID: runID, PoolID: t.PoolID, Action: "scale",
			Outcome: string(res.Outcome), Count: len(res.RemovedNodes),
		})
		r.publish(ctx, Event{RunID: runID, Type: EventPoolScaled, PoolID: t.PoolID, Outcome: string(res.Outcome)})
	}
	return report
}

func (r *Reconciler) fail(ctx context.Context, runID, action, poolID string, err error) {
	metrics.ReconcileErrorsTotal.WithLabelValues(poolID).Inc()
	r.log.Error("reconcile step failed",
		zap.String("run", runID), zap.String("pool", poolID), zap.String("action", action), zap.Error(err))
	r.record(ctx, ActionRecord{RunID: runID, PoolID: poolID, Action: action, Outcome: "error", Error: err.Error()})
	r.publish(ctx, Event{RunID: runID, Type: EventReconcileFailed, PoolID: poolID, Outcome: action, Error: err.Error()})
}

func (r *Reconciler) record(ctx context.Context, rec ActionRecord) {
	if r.recorder == nil {
		return
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	if err := r.recorder.RecordAction(ctx, rec); err != nil {
		r.log.Warn("failed to record action", zap.String("pool", rec.PoolID), zap.Error(err))
	}
}

func (r *Reconciler) publish(ctx context.Context, ev Event) {
	if r.events == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Time = time.Now().UTC()
	if err := r.events.Publish(ctx, ev); err != nil {
		r.log.Warn("failed to publish event", zap.String("type", ev.Type), zap.Error(err))
	}
}
