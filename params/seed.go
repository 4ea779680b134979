package params

import (
	"errors"
	"fmt"
)

// SeedConfig describes a prefetch of the disk cache.
type SeedConfig struct {
	// Bound is [west, south, east, north] in degrees.
	Bound []float64 `mapstructure:"bound"`

	// GeoJSON, when set, names a file whose geometries replace Bound.
	GeoJSON string `mapstructure:"geojson"`

	MinZoom uint32 `mapstructure:"min_zoom"`
	MaxZoom uint32 `mapstructure:"max_zoom"`

	// Workers fetch concurrently.
	Workers int `mapstructure:"workers"`

	// Force refetches tiles that are already cached.
	Force bool `mapstructure:"force"`

	// Progress shows a progress bar on stderr.
	Progress bool `mapstructure:"progress"`

	// MaxTiles refuses seeds larger than this. Public tile servers
	// forbid bulk downloads.
	MaxTiles int64 `mapstructure:"max_tiles"`
}

func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		Bound:    []float64{13.08, 52.33, 13.76, 52.68},
		MinZoom:  0,
		MaxZoom:  12,
		Workers:  4,
		Progress: true,
		MaxTiles: 50_000,
	}
}

func (c *SeedConfig) Validate() error {
	var errs []error
	if c.GeoJSON == "" {
		if len(c.Bound) != 4 {
			errs = append(errs, fmt.Errorf("%w: seed.bound wants [west, south, east, north], got %v", ErrInvalidConfig, c.Bound))
		} else if c.Bound[0] > c.Bound[2] || c.Bound[1] > c.Bound[3] {
			errs = append(errs, fmt.Errorf("%w: seed.bound %v is inverted", ErrInvalidConfig, c.Bound))
		}
	}
	if c.MinZoom > c.MaxZoom {
		errs = append(errs, fmt.Errorf("%w: seed.min_zoom %d > seed.max_zoom %d", ErrInvalidConfig, c.MinZoom, c.MaxZoom))
	}
	if c.MaxZoom > MaxZoomLimit {
		errs = append(errs, fmt.Errorf("%w: seed.max_zoom %d > %d", ErrInvalidConfig, c.MaxZoom, MaxZoomLimit))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("%w: seed.workers %d < 1", ErrInvalidConfig, c.Workers))
	}
	if c.MaxTiles < 1 {
		errs = append(errs, fmt.Errorf("%w: seed.max_tiles %d < 1", ErrInvalidConfig, c.MaxTiles))
	}
	return errors.Join(errs...)
}
