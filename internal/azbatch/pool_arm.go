package azbatch

import (
	"context"
	"net/http"

	"github.com/opensandbox/batchfleet/internal/batch"
)

// Pool creation and settings changes go through the management plane; the
// data plane only resizes and inspects existing pools.

func (g *Gateway) armPoolPath(op, poolID string) (string, error) {
	if g.accountPath == "" {
		return "", batch.Validation("account", op+" needs subscription, resource group and account name")
	}
	return g.accountPath + pathf("/pools/%s", poolID), nil
}

func (g *Gateway) applicationPackagesFrom(refs []batch.ApplicationReference) *[]armApplicationPackage {
	if refs == nil {
		return nil
	}
	out := make([]armApplicationPackage, 0, len(refs))
	for _, r := range refs {
		out = append(out, armApplicationPackage{
			ID:      g.accountPath + pathf("/applications/%s", r.ApplicationID),
			Version: r.Version,
		})
	}
	return &out
}

// CreatePool creates or overwrites the pool resource described by spec.
func (g *Gateway) CreatePool(ctx context.Context, spec batch.PoolSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	p, err := g.armPoolPath(batch.OpCreatePool, spec.ID)
	if err != nil {
		return err
	}
	body := armPool{
		Identity: armIdentityFrom(spec.Identities),
		Properties: armPoolProperties{
			DisplayName:   spec.ID,
			VMSize:        spec.VMSize,
			ScaleSettings: armScaleFrom(spec.TargetDedicatedNodes),
			StartTask:     armStartTaskFrom(spec.StartTask),
		},
	}
	d := &armDeployment{}
	d.VirtualMachineConfiguration.ImageReference = spec.Image
	d.VirtualMachineConfiguration.NodeAgentSKUID = spec.NodeAgentSKUID
	body.Properties.DeploymentConfiguration = d
	if len(spec.Applications) > 0 {
		body.Properties.ApplicationPackages = g.applicationPackagesFrom(spec.Applications)
	}
	return g.arm.do(ctx, batch.OpCreatePool, http.MethodPut,
		g.arm.url(p, nil), body, nil, http.StatusOK, http.StatusCreated)
}

// UpdatePool patches the settings present in update. The pool must exist.
func (g *Gateway) UpdatePool(ctx context.Context, poolID string, update batch.PoolUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	p, err := g.armPoolPath(batch.OpUpdatePool, poolID)
	if err != nil {
		return err
	}
	body := armPool{
		Identity: armIdentityFrom(update.Identities),
		Properties: armPoolProperties{
			ScaleSettings:       armScaleFrom(update.TargetDedicatedNodes),
			StartTask:           armStartTaskFrom(update.StartTask),
			ApplicationPackages: g.applicationPackagesFrom(update.Applications),
		},
	}
	return g.arm.do(ctx, batch.OpUpdatePool, http.MethodPatch,
		g.arm.url(p, nil), body, nil, http.StatusOK)
}
