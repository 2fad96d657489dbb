package azbatch

import (
	"context"
	"net/http"

	"github.com/opensandbox/batchfleet/internal/batch"
)

func (g *Gateway) applicationPath(op, applicationID string, version ...string) (string, error) {
	if g.accountPath == "" {
		return "", batch.Validation("account", op+" needs subscription, resource group and account name")
	}
	p := g.accountPath + pathf("/applications/%s", applicationID)
	if len(version) > 0 {
		p += pathf("/versions/%s", version[0])
	}
	return p, nil
}

func (g *Gateway) ListApplicationPackages(ctx context.Context, applicationID string) ([]batch.ApplicationPackage, error) {
	p, err := g.applicationPath(batch.OpListApplicationPackages, applicationID)
	if err != nil {
		return nil, err
	}
	wires, err := listAll[packageWire](ctx, &g.arm, batch.OpListApplicationPackages, g.arm.url(p+"/versions", nil))
	if err != nil {
		return nil, err
	}
	pkgs := make([]batch.ApplicationPackage, 0, len(wires))
	for _, w := range wires {
		pkgs = append(pkgs, w.toPackage(applicationID))
	}
	return pkgs, nil
}

func (g *Gateway) CreateApplicationPackage(ctx context.Context, applicationID, version string) (*batch.ApplicationPackage, error) {
	p, err := g.applicationPath(batch.OpCreateApplicationPackage, applicationID, version)
	if err != nil {
		return nil, err
	}
	var w packageWire
	if err := g.arm.do(ctx, batch.OpCreateApplicationPackage, http.MethodPut,
		g.arm.url(p, nil), struct{}{}, &w, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	pkg := w.toPackage(applicationID)
	if pkg.Version == "" {
		pkg.Version = version
	}
	return &pkg, nil
}

func (g *Gateway) ActivateApplicationPackage(ctx context.Context, applicationID, version, format string) error {
	p, err := g.applicationPath(batch.OpActivateApplicationPackage, applicationID, version)
	if err != nil {
		return err
	}
	return g.arm.do(ctx, batch.OpActivateApplicationPackage, http.MethodPost,
		g.arm.url(p+"/activate", nil), activateBody{Format: format}, nil, http.StatusOK)
}

func (g *Gateway) DeleteApplicationPackage(ctx context.Context, applicationID, version string) error {
	p, err := g.applicationPath(batch.OpDeleteApplicationPackage, applicationID, version)
	if err != nil {
		return err
	}
	return g.arm.do(ctx, batch.OpDeleteApplicationPackage, http.MethodDelete,
		g.arm.url(p, nil), nil, nil, http.StatusOK, http.StatusNoContent)
}

func (g *Gateway) DeleteApplication(ctx context.Context, applicationID string) error {
	p, err := g.applicationPath(batch.OpDeleteApplication, applicationID)
	if err != nil {
		return err
	}
	return g.arm.do(ctx, batch.OpDeleteApplication, http.MethodDelete,
		g.arm.url(p, nil), nil, nil, http.StatusOK, http.StatusNoContent)
}
