package main

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/popradius/internal/config"
	"github.com/sells-group/popradius/internal/estimate"
	"github.com/sells-group/popradius/internal/query"
	"github.com/sells-group/popradius/internal/raster"
)

// app bundles the query stack built from configuration.
type app struct {
	catalog *raster.Catalog
	orch    *query.Orchestrator
}

func buildApp(c *config.Config, mode string) (*app, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	defaultMode, err := estimate.ParseMode(c.Raster.DefaultMode)
	if err != nil {
		return nil, eris.Wrap(err, "raster.default_mode")
	}

	fractions := estimate.Fractions{Primary: c.Query.PrimaryFraction, Secondary: c.Query.SecondaryFraction}
	if err := fractions.Validate(); err != nil {
		return nil, err
	}

	var cache *raster.HeaderCache
	if c.Raster.HeaderCacheSize > 0 {
		cache = raster.NewHeaderCache(c.Raster.HeaderCacheSize, c.Raster.HeaderCacheTTL())
	}
	catalog, err := raster.NewCatalog(c.Raster.BandPaths(), raster.CatalogOptions{
		MinFileBytes: c.Raster.MinFileBytes,
		Cache:        cache,
	})
	if err != nil {
		return nil, err
	}

	orch := query.New(estimate.NewEstimator(catalog, fractions), catalog, query.Options{
		MinRadiusKm:  c.Query.MinRadiusKm,
		MaxRadiusKm:  c.Query.MaxRadiusKm,
		DefaultMode:  defaultMode,
		DefaultBands: c.Query.DefaultBands,
		ReadTimeout:  c.Raster.ReadTimeout(),
	})

	zap.L().Debug("app: query stack ready",
		zap.Strings("bands", catalog.Bands()),
		zap.String("default_mode", string(defaultMode)),
	)
	return &app{catalog: catalog, orch: orch}, nil
}
