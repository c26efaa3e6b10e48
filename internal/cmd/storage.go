package cmd

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/q99/cloudservices/internal/observability"
	"github.com/q99/cloudservices/pkg/factory"
	"github.com/q99/cloudservices/pkg/ledger"
	"github.com/q99/cloudservices/pkg/storage"
)

// openStorage resolves the storage service for cloud from the loaded
// configuration.
func openStorage(ctx context.Context, cloud factory.Cloud) (storage.Service, error) {
	registry := factory.NewRegistry(appConfig.FactoryConfig(), factory.WithLogger(observability.CLILogger))
	svc, err := registry.Storage(ctx, cloud)
	if err != nil {
		observability.CLILogger.Error("Failed to create storage service",
			zap.String("cloud", string(cloud)),
			zap.Error(err))
		return nil, exitError(classify(err), "Failed to connect to storage provider", err)
	}
	return svc, nil
}

// openLedger opens the ledger at path, falling back to the configured path.
func openLedger(ctx context.Context, path string) (*ledger.Store, error) {
	if strings.TrimSpace(path) == "" {
		path = appConfig.Ledger.Path
	}
	store, err := ledger.Open(ctx, path)
	if err != nil {
		return nil, exitError(foundry.ExitFileWriteError, "Failed to open ledger", err)
	}
	observability.CLILogger.Debug("Ledger opened", zap.String("path", path))
	return store, nil
}

func parseURIArg(uri string) (*ObjectURI, error) {
	parsed, err := ParseURI(uri)
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", uri), zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	return parsed, nil
}
