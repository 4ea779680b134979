// Package session drives one map: each Update turns a camera into origin,
// zoom and visible-tile changes for the renderer.
//
// A Session is owned by a single update goroutine. Tile loading happens on
// the loader's workers; nothing in Update blocks on I/O.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/event"
	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/geo/origin"
	"github.com/rotblauer/geotiles/loader"
	"github.com/rotblauer/geotiles/metrics"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tile"
	"github.com/rotblauer/geotiles/tiledb"
	"github.com/rotblauer/geotiles/tiledb/cache"
	"github.com/rotblauer/geotiles/visible"
)

// Frame is everything the renderer needs to apply after one Update.
type Frame struct {
	Number uint64          `json:"number"`
	Zoom   uint32          `json:"zoom"`
	Events []visible.Event `json:"events"`
	Rebase *origin.Rebase  `json:"rebase,omitempty"`

	// Camera is the camera centre in local coordinates, recomputed after any rebase.
	Camera  mercator.LocalPoint `json:"camera"`
	Anchors []Placed            `json:"anchors,omitempty"`

	Visible  int     `json:"visible"`
	Pending  int     `json:"pending"`
	Coverage float64 `json:"coverage"`
}

type Session struct {
	config  *params.MapConfig
	logger  *slog.Logger
	source  loader.Source
	store   tiledb.Store
	metrics *metrics.Pipeline
	loader  *loader.Loader
	cache   *cache.Cache
	origin  *origin.Tracker
	visible *visible.Manager

	events  event.FeedOf[visible.Event]
	camera  Camera
	zoom    uint32
	frames  uint64
	anchors map[string]*Anchor
}

// New builds a session from config: source, disk tier, loader and cache.
// Configuration problems fail here, before any frame.
func New(config *params.MapConfig) (*Session, error) {
	if config == nil {
		config = params.DefaultMapConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	src, err := loader.NewSource(&config.Source)
	if err != nil {
		return nil, err
	}
	ns, err := cache.Namespace(&config.Source)
	if err != nil {
		return nil, err
	}
	store, err := cache.OpenStore(&config.Cache, ns, config.Source.Extension)
	if err != nil {
		return nil, err
	}
	s, err := NewWith(config, src, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// NewWith builds a session around an existing source and disk tier.
// The session takes ownership of store.
func NewWith(config *params.MapConfig, src loader.Source, store tiledb.Store) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	start := config.Start
	camera, err := NewCamera(mercator.ClampGeo(mercator.GeoPoint{Lon: start.Lon, Lat: start.Lat}),
		start.Zoom, start.ViewportWidth, start.ViewportHeight, config.Zoom.TileSize)
	if err != nil {
		return nil, err
	}
	initial := camera.Center
	if len(config.Origin.Initial) == 2 {
		initial, err = mercator.GeoToMercator(mercator.GeoPoint{Lon: config.Origin.Initial[0], Lat: config.Origin.Initial[1]})
		if err != nil {
			return nil, errors.Join(params.ErrInvalidConfig, err)
		}
	}
	tracker, err := origin.NewTracker(&config.Origin, initial)
	if err != nil {
		return nil, err
	}

	m := metrics.NewPipeline()
	l, err := loader.New(&config.Loader, src, store, loader.Decoder{TileSize: config.Zoom.TileSize}, m)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(&config.Cache, l, m)
	if err != nil {
		return nil, err
	}
	s := &Session{
		config:  config,
		logger:  slog.With("session", src.Describe()),
		source:  src,
		store:   store,
		metrics: m,
		loader:  l,
		cache:   c,
		origin:  tracker,
		visible: visible.New(&config.Visible, c, config.Loader.DrainPerFrame),
		camera:  camera,
		anchors: make(map[string]*Anchor),
	}
	s.zoom = tile.ZoomForScale(camera.PixelsPerMeter, config.DisplayZoom())
	return s, nil
}

// Start launches the loader workers.
func (s *Session) Start(ctx context.Context) {
	s.loader.Start(ctx)
	s.logger.Info("Session started", "origin", s.origin.Origin(), "zoom", s.zoom,
		"cache", s.config.Cache.Backend, "workers", s.config.Loader.Workers)
}

// Update advances one frame for camera. It never fails: tiles that cannot be
// loaded are logged and left out.
func (s *Session) Update(camera Camera) Frame {
	s.frames++
	s.camera = camera
	f := Frame{Number: s.frames}

	if rb, ok := s.origin.Update(camera.Center); ok {
		f.Rebase = &rb
		s.metrics.Rebases.Inc(1)
		s.logger.Info("Origin rebased", "delta", rb.Delta, "origin", rb.New)
	}

	s.zoom = tile.ZoomForScale(camera.PixelsPerMeter, s.config.DisplayZoom())
	view := visible.View{Bounds: camera.Bounds(), Zoom: s.zoom, Origin: s.origin.Origin()}
	f.Zoom = s.zoom
	f.Events = s.visible.Update(view)
	f.Camera = s.origin.ToLocal(camera.Center)
	if len(s.anchors) > 0 {
		f.Anchors = s.Anchors()
	}
	f.Visible, f.Pending, f.Coverage = s.visible.Len(), s.visible.Pending(), s.visible.Coverage(view)

	for _, e := range f.Events {
		s.events.Send(e)
	}
	return f
}

// SubscribeEvents delivers every tile event to ch as it is produced.
// Send blocks the update loop until ch accepts, so ch must be buffered and
// drained by a dedicated goroutine.
func (s *Session) SubscribeEvents(ch chan<- visible.Event) event.Subscription {
	return s.events.Subscribe(ch)
}

// SubscribeRebase has the same contract as SubscribeEvents.
func (s *Session) SubscribeRebase(ch chan<- origin.Rebase) event.Subscription {
	return s.origin.SubscribeRebase(ch)
}

func (s *Session) Camera() Camera {
	return s.camera
}

func (s *Session) Origin() mercator.Point {
	return s.origin.Origin()
}

func (s *Session) Zoom() uint32 {
	return s.zoom
}

func (s *Session) Config() *params.MapConfig {
	return s.config
}

func (s *Session) Cache() *cache.Cache {
	return s.cache
}

func (s *Session) Store() tiledb.Store {
	return s.store
}

func (s *Session) Metrics() *metrics.Pipeline {
	return s.metrics
}

// Loader is safe to call from any goroutine.
func (s *Session) Loader() *loader.Loader {
	return s.loader
}

func (s *Session) Visible() *visible.Manager {
	return s.visible
}

// Tiles returns the ready tiles.
func (s *Session) Tiles() []*visible.Tile {
	return s.visible.Tiles()
}

// Describe names the tile source.
func (s *Session) Describe() string {
	return s.source.Describe()
}

// Close stops the workers and releases the disk tier.
func (s *Session) Close() error {
	s.loader.Stop()
	s.loader.Wait()
	s.metrics.Log(s.logger)
	s.metrics.Stop()
	var errs []error
	if err := s.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if c, ok := s.source.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.source.Describe(), err))
		}
	}
	return errors.Join(errs...)
}
