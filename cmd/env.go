package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/northpeak/aso-bible-cli/internal/profile"
	"github.com/northpeak/aso-bible-cli/internal/store"
)

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "aso-bible.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRegistry builds the profile registry, applying the YAML overlay
// when one is configured.
func initRegistry() (*profile.Registry, error) {
	overlay, err := profile.LoadOverlay(cfg.Profiles.OverlayPath)
	if err != nil {
		return nil, err
	}
	return profile.NewRegistry(overlay)
}
