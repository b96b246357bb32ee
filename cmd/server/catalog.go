package main

import (
	"context"
	"fmt"
	"log/slog"

	"raster-timelapse/internal/timelapse"
)

type catalogConfig struct {
	databaseURL string
	catalogURL  string
	layout      string
	retries     int
}

// loadCatalog lists the catalog from Postgres when a database is configured,
// else from the listing endpoint. Failures are returned for the viewer to
// report; the server still starts.
func loadCatalog(ctx context.Context, cfg catalogConfig, log *slog.Logger, cleanup *closers) (*timelapse.Catalog, error) {
	var source timelapse.CatalogSource
	if cfg.databaseURL != "" {
		pg, err := timelapse.NewPostgresCatalogSource(cfg.databaseURL, cfg.layout)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", timelapse.ErrCatalogLoad, err)
		}
		cleanup.add("catalog database", func() error {
			pg.Close()
			return nil
		})
		source = pg
		log.Info("catalog source", "kind", "postgres")
	} else {
		source = timelapse.NewHTTPCatalogSource(cfg.catalogURL, nil)
		log.Info("catalog source", "kind", "http", "url", cfg.catalogURL)
	}
	return timelapse.LoadCatalogWithRetry(ctx, source, cfg.retries, log)
}
