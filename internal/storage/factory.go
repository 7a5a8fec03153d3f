package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gstorage "google.golang.org/api/storage/v1"

	"renderfleet/internal/adapters/store/gcs"
	"renderfleet/internal/adapters/store/localfs"
	"renderfleet/internal/adapters/store/memstore"
	"renderfleet/internal/config"
)

// NewStore builds the configured object store.
func NewStore(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Provider {
	case "localfs":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("store: local_root is required for localfs")
		}
		return localfs.New(cfg.LocalRoot), nil

	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("store: bucket is required for gcs")
		}
		return newGCSStore(ctx, cfg.Bucket)

	case "memory":
		return memstore.New(), nil

	default:
		return nil, fmt.Errorf("store: unknown provider %q", cfg.Provider)
	}
}

func newGCSStore(ctx context.Context, bucket string) (Store, error) {
	// Application default credentials; workers run with the instance
	// service account in production.
	httpClient, err := google.DefaultClient(ctx, gstorage.DevstorageReadWriteScope)
	if err != nil {
		return nil, fmt.Errorf("store: default credentials: %w", err)
	}
	svc, err := gstorage.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("store: gcs service: %w", err)
	}
	return gcs.New(svc, bucket), nil
}
