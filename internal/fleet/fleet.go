// Package fleet assembles the control-plane components from configuration.
// The server and the bfctl CLI share it.
package fleet

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/azbatch"
	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/config"
	"github.com/opensandbox/batchfleet/internal/controlplane"
	"github.com/opensandbox/batchfleet/internal/db"
	"github.com/opensandbox/batchfleet/internal/events"
	"github.com/opensandbox/batchfleet/internal/sku"
	"github.com/opensandbox/batchfleet/internal/storage"
)

// Fleet holds every wired component. Optional components are nil when
// their backing service is not configured.
type Fleet struct {
	Gateway    batch.Gateway
	Azure      *azbatch.Gateway       // azure mode only
	Credential azcore.TokenCredential // azure mode only

	Scaler  *controlplane.Scaler
	Health  *controlplane.HealthMonitor
	Waiter  *controlplane.SteadyWaiter
	Pools   *controlplane.PoolManager
	Jobs    *controlplane.JobManager
	Tasks   *controlplane.TaskCommitter
	Apps    *controlplane.ApplicationManager
	Targets controlplane.TargetStore

	Store  *db.Store
	Lease  *controlplane.RedisLease
	Events *events.Publisher

	cfg     *config.Config
	log     *zap.Logger
	closers []func()
}

// Options trims what New connects to. The CLI skips the stores and buses.
type Options struct {
	SkipStores bool
}

// New builds the fleet described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Fleet, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fleet{cfg: cfg, log: logger}

	static, err := controlplane.ParsePoolTargets(cfg.PoolTargets)
	if err != nil {
		return nil, fmt.Errorf("invalid pool targets: %w", err)
	}

	switch cfg.Mode {
	case config.ModeAzure:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure credential: %w", err)
		}
		gw, err := azbatch.New(azbatch.Config{
			Endpoint:           cfg.BatchEndpoint,
			APIVersion:         cfg.BatchAPIVersion,
			ManagementEndpoint: cfg.ManagementEndpoint,
			SubscriptionID:     cfg.SubscriptionID,
			ResourceGroup:      cfg.ResourceGroup,
			AccountName:        cfg.AccountName,
			Credential:         cred,
		})
		if err != nil {
			return nil, err
		}
		f.Gateway, f.Azure, f.Credential = gw, gw, cred
		logger.Info("using azure batch", zap.String("endpoint", cfg.BatchEndpoint))
	default:
		f.Gateway = SeedLocal(static)
		logger.Info("using in-memory gateway", zap.Int("pools", len(static)))
	}

	f.wireManagers()
	f.Targets = controlplane.NewStaticTargets(static)

	if opts.SkipStores {
		return f, nil
	}
	if err := f.connectStores(ctx, static); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (f *Fleet) wireManagers() {
	f.Scaler = controlplane.NewScaler(controlplane.ScalerConfig{Gateway: f.Gateway, Logger: f.log})
	f.Health = controlplane.NewHealthMonitor(f.Gateway, f.log)
	f.Waiter = controlplane.NewSteadyWaiter(controlplane.SteadyWaiterConfig{
		Gateway:      f.Gateway,
		Logger:       f.log,
		PollInterval: f.cfg.SteadyPollInterval,
		Timeout:      f.cfg.SteadyTimeout,
	})
	f.Pools = controlplane.NewPoolManager(f.Gateway, f.Waiter, f.log)
	f.Jobs = controlplane.NewJobManager(f.Gateway, f.log)
	f.Tasks = controlplane.NewTaskCommitter(f.Gateway, f.log)
	f.Apps = controlplane.NewApplicationManager(f.Gateway, f.log)
}

func (f *Fleet) connectStores(ctx context.Context, static []controlplane.PoolTarget) error {
	cfg := f.cfg
	if cfg.DatabaseURL != "" {
		store, err := db.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, store.Close)
		f.log.Info("running database migrations")
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		// Configured targets seed the table; stored rows for other pools stay.
		for _, t := range static {
			if err := store.PutTarget(ctx, t); err != nil {
				return err
			}
		}
		f.Store = store
		f.Targets = store
	} else {
		f.log.Info("no database configured, using static pool targets")
	}

	if cfg.RedisURL != "" {
		lease, err := controlplane.NewRedisLease(cfg.RedisURL, cfg.InstanceID, cfg.LeaseTTL)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, func() { lease.Close() })
		f.Lease = lease
		f.log.Info("pool leases enabled", zap.String("instance", cfg.InstanceID))
	}

	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.NATSURL, f.log)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, pub.Close)
		f.Events = pub
	}
	return nil
}

// Reconciler builds the control loop over the wired components.
func (f *Fleet) Reconciler() *controlplane.Reconciler {
	rc := controlplane.ReconcilerConfig{
		Scaler:   f.Scaler,
		Health:   f.Health,
		Targets:  f.Targets,
		Logger:   f.log,
		Interval: f.cfg.ReconcileInterval,
		Timeout:  f.cfg.ReconcileTimeout,
	}
	// Leave unset dependencies as nil interfaces, not typed nils.
	if f.Store != nil {
		rc.Recorder = f.Store
	}
	if f.Lease != nil {
		rc.Lease = f.Lease
	}
	if f.Events != nil {
		rc.Events = f.Events
	}
	return controlplane.NewReconciler(rc)
}

// PackageSource opens the configured S3 bucket for package binaries.
func (f *Fleet) PackageSource(ctx context.Context) (*storage.PackageSource, error) {
	return storage.NewPackageSource(ctx, storage.S3Config{
		Endpoint:        f.cfg.S3Endpoint,
		Bucket:          f.cfg.S3Bucket,
		Region:          f.cfg.S3Region,
		AccessKeyID:     f.cfg.S3AccessKeyID,
		SecretAccessKey: f.cfg.S3SecretAccessKey,
		ForcePathStyle:  f.cfg.S3ForcePathStyle,
	})
}

// Catalog returns the VM size catalog for the configured subscription.
func (f *Fleet) Catalog() (*sku.Catalog, error) {
	if f.Credential == nil || f.cfg.SubscriptionID == "" {
		return nil, batch.Validation("subscription", "size catalog needs azure mode and a subscription")
	}
	return sku.NewCatalog(f.cfg.SubscriptionID, f.Credential, nil)
}

// Location is the configured Azure region.
func (f *Fleet) Location() string {
	return f.cfg.Location
}

// Close releases every connection in reverse order of opening.
func (f *Fleet) Close() {
	for i := len(f.closers) - 1; i >= 0; i-- {
		f.closers[i]()
	}
	f.closers = nil
}

// SeedLocal creates an in-memory gateway with one steady pool per target,
// each holding its target count of idle nodes.
func SeedLocal(targets []controlplane.PoolTarget) *batch.MemoryGateway {
	g := batch.NewMemoryGateway()
	for _, t := range targets {
		nodes := make([]batch.ComputeNode, t.TargetNodes)
		for i := range nodes {
			nodes[i] = batch.ComputeNode{ID: fmt.Sprintf("%s-node-%d", t.PoolID, i+1), State: batch.NodeIdle}
		}
		g.AddPool(batch.Pool{ID: t.PoolID, TargetDedicatedNodes: t.TargetNodes}, nodes...)
	}
	return g
}
