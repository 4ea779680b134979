// Package seed warms the disk tier for an area and a range of zooms.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/loader"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/stream"
	"github.com/rotblauer/geotiles/tile"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"
)

var ErrTooManyTiles = errors.New("seed area too large")

// Layer is every tile of one zoom, in column then row order.
type Layer struct {
	Zoom  uint32
	Tiles []tile.Address
}

// Report counts the outcome of a seed.
type Report struct {
	ID      string        `json:"id"`
	Total   int64         `json:"total"`
	Cached  int64         `json:"cached"`
	Fetched int64         `json:"fetched"`
	Missing int64         `json:"missing"`
	Failed  int64         `json:"failed"`
	Bytes   int64         `json:"bytes"`
	Elapsed time.Duration `json:"elapsed"`
}

func (r *Report) add(res loader.Result) {
	switch {
	case res.Err == nil && res.FromDisk:
		r.Cached++
	case res.Err == nil:
		r.Fetched++
		r.Bytes += int64(len(res.Bytes))
	case errors.Is(res.Err, loader.ErrTileNotFound):
		r.Missing++
	default:
		r.Failed++
	}
}

type Task struct {
	ID     string
	Layers []Layer
	Total  int64

	config *params.SeedConfig
	loader *loader.Loader
	logger *slog.Logger
}

// NewTask plans the tiles to seed. The loader is used through Load only;
// it need not be started.
func NewTask(config *params.SeedConfig, l *loader.Loader) (*Task, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	geoms, err := areaOf(config)
	if err != nil {
		return nil, err
	}

	minZ, maxZ := config.MinZoom, config.MaxZoom
	if zb, ok := l.Source().(loader.ZoomBounded); ok {
		lo, hi := zb.ZoomRange()
		minZ, maxZ = max(minZ, lo), min(maxZ, hi)
	}

	// Estimate from bounding boxes first so an oversized seed fails
	// before any cover is computed.
	var estimate int64
	for z := minZ; z <= maxZ && minZ <= maxZ; z++ {
		for _, g := range geoms {
			estimate += boundCount(g.Bound(), z)
		}
		if estimate > config.MaxTiles {
			return nil, fmt.Errorf("%w: more than %s tiles by zoom %d (max %s)",
				ErrTooManyTiles, humanize.Comma(estimate), z, humanize.Comma(config.MaxTiles))
		}
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}
	t := &Task{
		ID:     id,
		config: config,
		loader: l,
		logger: slog.With("seed", id, "source", l.Source().Describe()),
	}
	for z := minZ; z <= maxZ && minZ <= maxZ; z++ {
		layer, err := cover(geoms, z)
		if err != nil {
			return nil, err
		}
		t.Layers = append(t.Layers, layer)
		t.Total += int64(len(layer.Tiles))
	}
	return t, nil
}

// areaOf reads the configured area as geometries in degrees.
func areaOf(config *params.SeedConfig) ([]orb.Geometry, error) {
	if config.GeoJSON == "" {
		b := config.Bound
		bound := orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
		return []orb.Geometry{clampBound(bound)}, nil
	}
	data, err := os.ReadFile(config.GeoJSON)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: seed.geojson %s: %v", params.ErrInvalidConfig, config.GeoJSON, err)
	}
	var geoms []orb.Geometry
	for _, f := range fc.Features {
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	if len(geoms) == 0 {
		return nil, fmt.Errorf("%w: seed.geojson %s has no geometries", params.ErrInvalidConfig, config.GeoJSON)
	}
	return geoms, nil
}

func clampBound(b orb.Bound) orb.Bound {
	lo := mercator.ClampGeo(mercator.GeoPoint{Lon: b.Min[0], Lat: b.Min[1]})
	hi := mercator.ClampGeo(mercator.GeoPoint{Lon: b.Max[0], Lat: b.Max[1]})
	return orb.Bound{Min: lo.Orb(), Max: hi.Orb()}
}

// boundCount is the number of tiles a bound touches at zoom z.
func boundCount(b orb.Bound, z uint32) int64 {
	b = clampBound(b)
	nw := maptile.At(orb.Point{b.Min[0], b.Max[1]}, maptile.Zoom(z))
	se := maptile.At(orb.Point{b.Max[0], b.Min[1]}, maptile.Zoom(z))
	return (int64(se.X) - int64(nw.X) + 1) * (int64(se.Y) - int64(nw.Y) + 1)
}

func cover(geoms []orb.Geometry, z uint32) (Layer, error) {
	set := maptile.Set{}
	for _, g := range geoms {
		var s maptile.Set
		if b, ok := g.(orb.Bound); ok {
			s = tilecover.Bound(b, maptile.Zoom(z))
		} else {
			var err error
			if s, err = tilecover.Geometry(g, maptile.Zoom(z)); err != nil {
				return Layer{}, fmt.Errorf("cover zoom %d: %w", z, err)
			}
		}
		for t, ok := range s {
			if ok {
				set[t] = true
			}
		}
	}
	layer := Layer{Zoom: z, Tiles: make([]tile.Address, 0, len(set))}
	for t := range set {
		layer.Tiles = append(layer.Tiles, tile.FromMaptile(t))
	}
	sort.Slice(layer.Tiles, func(i, j int) bool {
		a, b := layer.Tiles[i], layer.Tiles[j]
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	return layer, nil
}

// Run loads every planned tile, zoom by zoom. Per-tile failures are counted,
// not returned; the error is non-nil only when ctx ends the run early.
func (t *Task) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	r := Report{ID: t.ID, Total: t.Total}
	meter := stream.NewTickMeter("Seeding", 10*time.Second)
	defer meter.Stop()

	t.logger.Info("Seed starting", "tiles", humanize.Comma(t.Total), "layers", len(t.Layers), "force", t.config.Force)
	for _, layer := range t.Layers {
		bar := pb.New64(int64(len(layer.Tiles))).Prefix(fmt.Sprintf("Zoom %d : ", layer.Zoom))
		if t.config.Progress {
			bar.Output = os.Stderr
		} else {
			bar.NotPrint = true
		}
		bar.SetRefreshRate(time.Second)
		bar.Start()

		results := stream.Workers(ctx, t.config.Workers, func(a tile.Address) loader.Result {
			return t.loader.Load(ctx, loader.Request{Address: a, Force: t.config.Force})
		}, stream.Slice(ctx, layer.Tiles))
		for res := range results {
			bar.Increment()
			meter.Mark(len(res.Bytes))
			r.add(res)
			if res.Err != nil && !errors.Is(res.Err, loader.ErrTileNotFound) {
				t.logger.Warn("Seed tile failed", "tile", res.Address, "error", res.Err)
			}
		}
		bar.Finish()
		t.logger.Info("Seeded zoom", "zoom", layer.Zoom, "tiles", len(layer.Tiles))

		if err := ctx.Err(); err != nil {
			r.Elapsed = time.Since(start)
			return r, err
		}
	}
	r.Elapsed = time.Since(start)
	t.logger.Info("Seed done",
		"fetched", humanize.Comma(r.Fetched),
		"cached", humanize.Comma(r.Cached),
		"missing", humanize.Comma(r.Missing),
		"failed", humanize.Comma(r.Failed),
		"bytes", humanize.Bytes(uint64(r.Bytes)),
		"elapsed", r.Elapsed.Round(time.Millisecond))
	return r, nil
}
