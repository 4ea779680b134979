package params

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MapConfig is everything a map session consumes.
type MapConfig struct {
	Source  SourceConfig  `mapstructure:"source"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Loader  LoaderConfig  `mapstructure:"loader"`
	Origin  OriginConfig  `mapstructure:"origin"`
	Zoom    ZoomConfig    `mapstructure:"zoom"`
	Visible VisibleConfig `mapstructure:"visible"`
	Start   StartConfig   `mapstructure:"start"`
}

func DefaultMapConfig() *MapConfig {
	return &MapConfig{
		Source:  *DefaultSourceConfig(),
		Cache:   *DefaultCacheConfig(),
		Loader:  *DefaultLoaderConfig(),
		Origin:  *DefaultOriginConfig(),
		Zoom:    *DefaultZoomConfig(),
		Visible: *DefaultVisibleConfig(),
		Start:   *DefaultStartConfig(),
	}
}

// Validate checks every section and joins the failures.
func (c *MapConfig) Validate() error {
	return errors.Join(
		c.Source.Validate(),
		c.Cache.Validate(),
		c.Loader.Validate(),
		c.Origin.Validate(),
		c.Zoom.Validate(),
		c.Visible.Validate(),
		c.Start.Validate(),
	)
}

// DisplayZoom is Zoom with the source zoom offset folded in: a source asked
// for one level coarser (ZoomOffset -1) is displayed one level finer.
func (c *MapConfig) DisplayZoom() *ZoomConfig {
	z := c.Zoom
	z.Offset -= c.Source.ZoomOffset
	return &z
}

type SourceConfig struct {
	// URL locates the tiles. Schemes:
	// http(s)://... with {z}/{x}/{y} placeholders ({-y} for TMS rows, {q} quadkey, {s} subdomain),
	// tilejson+https://... for a TileJSON document,
	// s3://bucket/prefix/{z}/{x}/{y}.png,
	// mbtiles:///path/to/file.mbtiles,
	// file:///path/{z}/{x}/{y}.png or a plain path template.
	URL string `mapstructure:"url"`

	// Headers are sent with every HTTP request.
	Headers map[string]string `mapstructure:"headers"`

	UserAgent string `mapstructure:"user_agent"`

	// Subdomains rotate through the {s} placeholder.
	Subdomains []string `mapstructure:"subdomains"`

	// ReverseY requests TMS rows (row 0 at the south) for the {y} placeholder.
	ReverseY bool `mapstructure:"reverse_y"`

	// ZoomOffset is added to the zoom of every request and subtracted from
	// the displayed zoom, see MapConfig.DisplayZoom.
	// Sources that serve 512px tiles for 256px slots use -1.
	ZoomOffset int `mapstructure:"zoom_offset"`

	// Timeout bounds one fetch.
	Timeout time.Duration `mapstructure:"timeout"`

	// Extension names disk cache files.
	Extension string `mapstructure:"extension"`

	// S3Region is used by s3:// sources.
	S3Region string `mapstructure:"s3_region"`
}

func DefaultSourceConfig() *SourceConfig {
	return &SourceConfig{
		URL:        "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		Headers:    map[string]string{},
		UserAgent:  DefaultUserAgent,
		Subdomains: []string{"a", "b", "c"},
		Timeout:    20 * time.Second,
		Extension:  "png",
		S3Region:   "us-east-1",
	}
}

func (c *SourceConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.URL) == "" {
		errs = append(errs, fmt.Errorf("%w: source.url is empty", ErrInvalidConfig))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%w: source.timeout %v < 0", ErrInvalidConfig, c.Timeout))
	}
	if strings.ContainsAny(c.Extension, `/\`) {
		errs = append(errs, fmt.Errorf("%w: source.extension %q", ErrInvalidConfig, c.Extension))
	}
	return errors.Join(errs...)
}

type CacheConfig struct {
	// Root is the disk cache directory.
	// Each source gets its own namespace beneath it.
	Root string `mapstructure:"root"`

	// Backend is "flat" (one file per tile), "bolt" (one bbolt file) or "memory".
	Backend string `mapstructure:"backend"`

	// MemoryCapacity is how many decoded tiles stay in memory. A resident tile
	// holds only its RGBA pixels, 4·TileSize² bytes.
	// Visible tiles are never evicted, so the tier may exceed it temporarily.
	MemoryCapacity int `mapstructure:"memory_capacity"`

	// DiskMaxBytes bounds the flat disk tier when pruned. 0 is unbounded.
	DiskMaxBytes int64 `mapstructure:"disk_max_bytes"`

	// RetryMax is how many times a failing address is attempted in total.
	RetryMax int `mapstructure:"retry_max"`

	// RetryBackoff is the wait after the first failure; it doubles per
	// failure up to RetryBackoffMax.
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`

	// FailureLedgerSize bounds how many failing addresses are remembered.
	FailureLedgerSize int `mapstructure:"failure_ledger_size"`
}

func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Root:              DefaultCacheRoot(),
		Backend:           "flat",
		MemoryCapacity:    512,
		RetryMax:          3,
		RetryBackoff:      2 * time.Second,
		RetryBackoffMax:   time.Minute,
		FailureLedgerSize: 10_000,
	}
}

func (c *CacheConfig) Validate() error {
	var errs []error
	switch c.Backend {
	case "flat", "bolt":
		if c.Root == "" {
			errs = append(errs, fmt.Errorf("%w: cache.root is empty", ErrInvalidConfig))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("%w: cache.backend %q", ErrInvalidConfig, c.Backend))
	}
	if c.MemoryCapacity < 1 {
		errs = append(errs, fmt.Errorf("%w: cache.memory_capacity %d < 1", ErrInvalidConfig, c.MemoryCapacity))
	}
	if c.RetryMax < 1 {
		errs = append(errs, fmt.Errorf("%w: cache.retry_max %d < 1", ErrInvalidConfig, c.RetryMax))
	}
	if c.RetryBackoff <= 0 || c.RetryBackoffMax < c.RetryBackoff {
		errs = append(errs, fmt.Errorf("%w: cache.retry_backoff %v, max %v", ErrInvalidConfig, c.RetryBackoff, c.RetryBackoffMax))
	}
	if c.FailureLedgerSize < 1 {
		errs = append(errs, fmt.Errorf("%w: cache.failure_ledger_size %d < 1", ErrInvalidConfig, c.FailureLedgerSize))
	}
	return errors.Join(errs...)
}

type LoaderConfig struct {
	// Workers is the number of goroutines fetching and decoding.
	Workers int `mapstructure:"workers"`

	// RequestQueue and ResultQueue size the channels between the update loop and workers.
	RequestQueue int `mapstructure:"request_queue"`
	ResultQueue  int `mapstructure:"result_queue"`

	// DrainPerFrame caps how many results one frame consumes. 0 drains all buffered.
	DrainPerFrame int `mapstructure:"drain_per_frame"`
}

func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		Workers:      4,
		RequestQueue: 64,
		ResultQueue:  64,
	}
}

func (c *LoaderConfig) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("%w: loader.workers %d < 1", ErrInvalidConfig, c.Workers))
	}
	if c.RequestQueue < 1 || c.ResultQueue < 1 {
		errs = append(errs, fmt.Errorf("%w: loader queues must be >= 1", ErrInvalidConfig))
	}
	if c.DrainPerFrame < 0 {
		errs = append(errs, fmt.Errorf("%w: loader.drain_per_frame %d < 0", ErrInvalidConfig, c.DrainPerFrame))
	}
	return errors.Join(errs...)
}

type OriginConfig struct {
	// RecenterThreshold is the camera distance from origin, in local units
	// (mercator meters), beyond which the origin moves to the camera.
	RecenterThreshold float64 `mapstructure:"recenter_threshold"`

	// SnapStep rounds new origins to a grid. 0 disables snapping.
	// Must be smaller than RecenterThreshold.
	SnapStep float64 `mapstructure:"snap_step"`

	// Initial is an explicit [lon, lat] origin. Empty uses the camera start.
	Initial []float64 `mapstructure:"initial"`
}

func DefaultOriginConfig() *OriginConfig {
	return &OriginConfig{
		RecenterThreshold: 2500,
	}
}

func (c *OriginConfig) Validate() error {
	var errs []error
	if c.RecenterThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%w: origin.recenter_threshold %v <= 0", ErrInvalidConfig, c.RecenterThreshold))
	}
	if c.SnapStep < 0 || (c.SnapStep > 0 && c.SnapStep >= c.RecenterThreshold) {
		errs = append(errs, fmt.Errorf("%w: origin.snap_step %v", ErrInvalidConfig, c.SnapStep))
	}
	if len(c.Initial) != 0 && len(c.Initial) != 2 {
		errs = append(errs, fmt.Errorf("%w: origin.initial wants [lon, lat], got %v", ErrInvalidConfig, c.Initial))
	}
	return errors.Join(errs...)
}

type ZoomConfig struct {
	Min uint32 `mapstructure:"min"`
	Max uint32 `mapstructure:"max"`

	// Offset shifts the zoom chosen for a scale. Positive values load more detail.
	// Source.ZoomOffset is applied on top of it.
	Offset int `mapstructure:"offset"`

	// TileSize is the nominal pixel width of a tile.
	TileSize int `mapstructure:"tile_size"`
}

// MaxZoomLimit keeps 2^z inside uint32 tile columns.
const MaxZoomLimit = 30

func DefaultZoomConfig() *ZoomConfig {
	return &ZoomConfig{
		Min:      0,
		Max:      19,
		TileSize: 256,
	}
}

func (c *ZoomConfig) Validate() error {
	var errs []error
	if c.Min > c.Max {
		errs = append(errs, fmt.Errorf("%w: zoom.min %d > zoom.max %d", ErrInvalidConfig, c.Min, c.Max))
	}
	if c.Max > MaxZoomLimit {
		errs = append(errs, fmt.Errorf("%w: zoom.max %d > %d", ErrInvalidConfig, c.Max, MaxZoomLimit))
	}
	if c.TileSize < 1 {
		errs = append(errs, fmt.Errorf("%w: zoom.tile_size %d < 1", ErrInvalidConfig, c.TileSize))
	}
	return errors.Join(errs...)
}

type VisibleConfig struct {
	// ViewportMargin pads the viewport, in tiles, when choosing tiles to request.
	ViewportMargin float64 `mapstructure:"viewport_margin"`

	// EvictionMargin is extra padding, in tiles, a resident tile may drift
	// outside before it is removed. It keeps tiles from flickering at edges.
	EvictionMargin float64 `mapstructure:"eviction_margin"`

	// RetainAdjacentZooms keeps ready tiles one zoom level above and below
	// on screen, layered behind/above the current level, until they leave the view.
	RetainAdjacentZooms bool `mapstructure:"retain_adjacent_zooms"`

	// DepthStep separates zoom layers along Z.
	DepthStep float32 `mapstructure:"depth_step"`
}

func DefaultVisibleConfig() *VisibleConfig {
	return &VisibleConfig{
		ViewportMargin:      0.5,
		EvictionMargin:      1,
		RetainAdjacentZooms: true,
		DepthStep:           0.1,
	}
}

func (c *VisibleConfig) Validate() error {
	if c.ViewportMargin < 0 || c.EvictionMargin < 0 {
		return fmt.Errorf("%w: visible margins must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// StartConfig places the camera when a session starts.
type StartConfig struct {
	Lon  float64 `mapstructure:"lon"`
	Lat  float64 `mapstructure:"lat"`
	Zoom float64 `mapstructure:"zoom"`

	// ViewportWidth and ViewportHeight are the screen size in pixels.
	ViewportWidth  int `mapstructure:"viewport_width"`
	ViewportHeight int `mapstructure:"viewport_height"`
}

// DefaultStartConfig is Berlin at zoom 9.
func DefaultStartConfig() *StartConfig {
	return &StartConfig{
		Lon:            13.4050,
		Lat:            52.5200,
		Zoom:           9,
		ViewportWidth:  1280,
		ViewportHeight: 720,
	}
}

func (c *StartConfig) Validate() error {
	if c.ViewportWidth < 1 || c.ViewportHeight < 1 {
		return fmt.Errorf("%w: start viewport %dx%d", ErrInvalidConfig, c.ViewportWidth, c.ViewportHeight)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: start.lat %v", ErrInvalidConfig, c.Lat)
	}
	return nil
}
