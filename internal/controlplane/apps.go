package controlplane

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opensandbox/batchfleet/internal/batch"
)

// PackageFormat is the archive format packages are activated with.
const PackageFormat = "zip"

// PackageUploader writes a package binary to the storage URL issued for a
// new application package version.
type PackageUploader interface {
	Upload(ctx context.Context, storageURL string) error
}

// ApplicationManager publishes and deletes application packages.
type ApplicationManager struct {
	gateway batch.Gateway
	log     *zap.Logger
}

// NewApplicationManager creates an application manager.
func NewApplicationManager(gateway batch.Gateway, logger *zap.Logger) *ApplicationManager {
	return &ApplicationManager{gateway: gateway, log: named(logger, "apps")}
}

// DeleteApplication deletes every package of the application concurrently and
// then the application itself. It reports false if the application did not exist.
func (m *ApplicationManager) DeleteApplication(ctx context.Context, applicationID string) (bool, error) {
	packages, err := m.gateway.ListApplicationPackages(ctx, applicationID)
	if err != nil {
		if batch.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("apps: list packages of %s: %w", applicationID, err)
	}

	var g errgroup.Group
	for _, pkg := range packages {
		g.Go(func() error {
			err := m.gateway.DeleteApplicationPackage(ctx, applicationID, pkg.Version)
			if err != nil && !batch.IsNotFound(err) {
				return fmt.Errorf("apps: delete package %s %s: %w", applicationID, pkg.Version, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	if err := m.gateway.DeleteApplication(ctx, applicationID); err != nil {
		if batch.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("apps: delete application %s: %w", applicationID, err)
	}
	m.log.Info("deleted application", zap.String("application", applicationID), zap.Int("packages", len(packages)))
	return true, nil
}

// PublishPackage creates a package version, uploads its binary and activates it.
func (m *ApplicationManager) PublishPackage(ctx context.Context, applicationID, version string, uploader PackageUploader) (*batch.ApplicationPackage, error) {
	if applicationID == "" {
		return nil, batch.Validation("applicationId", "must not be empty")
	}
	if version == "" {
		return nil, batch.Validation("version", "must not be empty")
	}

	pkg, err := m.gateway.CreateApplicationPackage(ctx, applicationID, version)
	if err != nil {
		return nil, fmt.Errorf("apps: create package %s %s: %w", applicationID, version, err)
	}
	if pkg.StorageURL == "" {
		return nil, fmt.Errorf("apps: package %s %s has no storage url", applicationID, version)
	}
	if err := uploader.Upload(ctx, pkg.StorageURL); err != nil {
		return nil, fmt.Errorf("apps: upload package %s %s: %w", applicationID, version, err)
	}
	if err := m.gateway.ActivateApplicationPackage(ctx, applicationID, version, PackageFormat); err != nil {
		return nil, fmt.Errorf("apps: activate package %s %s: %w", applicationID, version, err)
	}
	pkg.State = batch.PackageActive

	m.log.Info("published package", zap.String("application", applicationID), zap.String("version", version))
	return pkg, nil
}

// InstalledApplicationPath returns the environment reference to an
// installed package, optionally followed by a relative path inside it.
// Windows nodes use the upper-cased name and '#', Linux nodes '_'. An empty
// version refers to the default version of the application.
func InstalledApplicationPath(isWindows bool, applicationID, version, relPath string) string {
	name, sep := strings.ToLower(applicationID), "_"
	if isWindows {
		name, sep = strings.ToUpper(applicationID), "#"
	}
	if version == "" {
		sep = ""
	}
	path := "%AZ_BATCH_APP_PACKAGE_" + name + sep + version + "%"
	if strings.TrimSpace(relPath) != "" {
		path += `\` + relPath
	}
	return path
}
