package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/rotblauer/geotiles/common"
	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/loader"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/testing/testdata"
	"github.com/rotblauer/geotiles/tile"
	"github.com/rotblauer/geotiles/visible"
)

func testConfig() *params.MapConfig {
	config := params.DefaultMapConfig()
	config.Cache.Backend = "memory"
	config.Cache.RetryMax = 2
	config.Cache.RetryBackoff = 10 * time.Millisecond
	config.Cache.RetryBackoffMax = 20 * time.Millisecond
	config.Origin.RecenterThreshold = 10_000
	config.Zoom.TileSize = 64
	config.Start.ViewportWidth = 320
	config.Start.ViewportHeight = 200
	return config
}

func newTestSession(t *testing.T, config *params.MapConfig) (*Session, *testdata.Source) {
	t.Helper()
	t.Cleanup(common.SlogResetLevel(slog.LevelWarn))
	src := testdata.NewSource(config.Zoom.TileSize)
	s, err := NewWith(config, src, testdata.NewStore())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	})
	return s, src
}

// settle runs frames until every on-screen tile is ready.
func settle(t *testing.T, s *Session, camera Camera) (Frame, []visible.Event) {
	t.Helper()
	var all []visible.Event
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f := s.Update(camera)
		all = append(all, f.Events...)
		if f.Coverage == 1 && f.Pending == 0 {
			return f, all
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("tiles never settled")
	return Frame{}, nil
}

func TestSession_LoadsVisibleTiles(t *testing.T) {
	s, src := newTestSession(t, testConfig())
	f, events := settle(t, s, s.Camera())

	ready := 0
	for _, e := range events {
		if e.Kind == visible.EventReady {
			ready++
			if e.Image == nil {
				t.Errorf("%v ready without image", e.Address)
			}
		}
	}
	if ready != f.Visible || ready == 0 {
		t.Errorf("ready events %d, visible %d", ready, f.Visible)
	}
	if f.Zoom != 9 {
		t.Errorf("zoom %d", f.Zoom)
	}
	if f.Camera.Norm() > 1e-3 {
		t.Errorf("camera local %v, origin starts at the camera", f.Camera)
	}
	for _, pt := range s.Tiles() {
		if n := src.Calls(pt.Address); n != 1 {
			t.Errorf("%v fetched %d times", pt.Address, n)
		}
	}
	if src.Overlaps() != 0 {
		t.Errorf("%d overlapping fetches", src.Overlaps())
	}
}

func TestSession_RebaseKeepsCameraContinuous(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	camera := s.Camera()
	settle(t, s, camera)

	before := make(map[tile.Address]mercator.LocalPoint)
	for _, pt := range s.Tiles() {
		before[pt.Address] = pt.Position
	}

	moved := camera
	moved.Center.X += 50_000
	f := s.Update(moved)
	if f.Rebase == nil {
		t.Fatal("no rebase after moving 50,000 past a 10,000 threshold")
	}
	if f.Rebase.New != moved.Center || math.Abs(f.Rebase.Delta.X-50_000) > 1e-6 {
		t.Errorf("rebase %+v", f.Rebase)
	}
	if f.Camera.Norm() > 1e-3 {
		t.Errorf("camera jumped to %v", f.Camera)
	}

	shifted := 0
	for _, e := range f.Events {
		if e.Kind != visible.EventMoved {
			continue
		}
		old, ok := before[e.Address]
		if !ok {
			continue
		}
		shifted++
		if math.Abs(float64(e.Position.X)-(float64(old.X)-f.Rebase.Delta.X)) > 0.05 ||
			math.Abs(float64(e.Position.Y)-(float64(old.Y)-f.Rebase.Delta.Y)) > 0.05 {
			t.Errorf("%v: %v -> %v", e.Address, old, e.Position)
		}
	}
	if shifted != len(before) {
		t.Errorf("%d of %d tiles moved", shifted, len(before))
	}

	if f := s.Update(moved); f.Rebase != nil {
		t.Error("rebased again for the same camera")
	}
	if n := s.Metrics().Snapshot().Rebases; n != 1 {
		t.Errorf("rebases %d", n)
	}
}

func TestSession_FailingTileStaysOffScreen(t *testing.T) {
	config := testConfig()
	s, src := newTestSession(t, config)
	camera := s.Camera()
	bad := tile.At(camera.Geo(), s.Zoom())
	src.SetErr(bad, fmt.Errorf("%w: refused", loader.ErrFetch))

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		f := s.Update(camera)
		for _, e := range f.Events {
			if e.Address == bad && e.Kind == visible.EventReady {
				t.Fatal("failing tile became ready")
			}
		}
		if _, ok := s.Visible().Tile(bad); ok {
			t.Fatal("failing tile in the visible set")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if n := src.Calls(bad); n != config.Cache.RetryMax {
		t.Errorf("fetched %d times, want %d", n, config.Cache.RetryMax)
	}
	if n := s.Visible().Len(); n == 0 {
		t.Error("healthy neighbours not shown")
	}
}

func TestSession_AnchorsFollowRebase(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	berlin := mercator.GeoPoint{Lon: 13.405, Lat: 52.52}
	p, err := s.AddAnchor("berlin", berlin, true)
	if err != nil {
		t.Fatal(err)
	}
	if p.Position.Norm() > 1e-3 {
		t.Errorf("anchor at start camera placed at %v", p.Position)
	}
	if want := float32(1 / s.Camera().PixelsPerMeter); p.Scale != want {
		t.Errorf("scale %v, want %v", p.Scale, want)
	}

	moved := s.Camera()
	moved.Center.Y += 20_000
	f := s.Update(moved)
	if f.Rebase == nil || len(f.Anchors) != 1 {
		t.Fatalf("rebase %v anchors %v", f.Rebase, f.Anchors)
	}
	if got := f.Anchors[0].Position; math.Abs(float64(got.Y)+20_000) > 0.01 {
		t.Errorf("anchor after rebase at %v", got)
	}

	if _, err := s.AddAnchor("pole", mercator.GeoPoint{Lat: 89}, false); !errors.Is(err, mercator.ErrProjectionOutOfRange) {
		t.Errorf("got %v", err)
	}
	if !s.RemoveAnchor("berlin") || len(s.Anchors()) != 0 {
		t.Error("anchor not removed")
	}
}

func TestSession_SourceZoomOffsetRaisesDisplayZoom(t *testing.T) {
	base, _ := newTestSession(t, testConfig())
	want := base.Update(base.Camera()).Zoom + 1

	config := testConfig()
	config.Source.ZoomOffset = -1
	s, _ := newTestSession(t, config)
	if got := s.Update(s.Camera()).Zoom; got != want {
		t.Errorf("zoom %d with source offset -1, want %d", got, want)
	}
}

func TestSession_Readout(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	f := s.Update(s.Camera())
	r := s.Readout(f.Camera)
	g := s.Camera().Geo()
	if math.Abs(r.Geo.Lat-g.Lat) > 1e-6 || math.Abs(r.Geo.Lon-g.Lon) > 1e-6 {
		t.Errorf("readout %v, camera %v", r.Geo, g)
	}
	if r.Tile != tile.At(g, f.Zoom) {
		t.Errorf("tile %v", r.Tile)
	}
	if r.String() == "" {
		t.Error("empty readout text")
	}
}

func TestSession_ReadoutWrapsAntimeridian(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	f := s.Update(s.Camera())

	east := mercator.Point{X: mercator.Extent + 1000, Y: -1000}
	r := s.Readout(mercator.MercatorToLocal(east, s.Origin()))
	want := mercator.MercatorToGeo(mercator.Point{X: -mercator.Extent + 1000, Y: -1000})
	if math.Abs(r.Geo.Lon-want.Lon) > 1e-3 || math.Abs(r.Geo.Lat-want.Lat) > 1e-3 {
		t.Errorf("readout %v, want %v", r.Geo, want)
	}
	if r.Geo.Lon <= -180 {
		t.Errorf("longitude pinned to the edge: %v", r.Geo.Lon)
	}
	if r.Tile != tile.At(want, f.Zoom) {
		t.Errorf("tile %v, want %v", r.Tile, tile.At(want, f.Zoom))
	}
}

func TestSession_SubscribeEvents(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	ch := make(chan visible.Event, 1024)
	sub := s.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	_, events := settle(t, s, s.Camera())
	if len(ch) != len(events) {
		t.Errorf("feed delivered %d of %d events", len(ch), len(events))
	}
}

func TestNew_FailsBeforeFirstFrame(t *testing.T) {
	config := testConfig()
	config.Source.URL = "https://tiles.example.com/{z}/{x}.png"
	if _, err := New(config); !errors.Is(err, tile.ErrInvalidTemplate) {
		t.Errorf("bad template: %v", err)
	}

	config = testConfig()
	config.Zoom.Min, config.Zoom.Max = 10, 2
	if _, err := New(config); !errors.Is(err, params.ErrInvalidConfig) {
		t.Errorf("bad zoom: %v", err)
	}
}

func TestCamera(t *testing.T) {
	c, err := NewCamera(mercator.GeoPoint{}, 0, 256, 256, 256)
	if err != nil {
		t.Fatal(err)
	}
	b := c.Bounds()
	if math.Abs(b.Width()-2*mercator.Extent) > 1e-6 {
		t.Errorf("zoom 0 width %v", b.Width())
	}
	if got := c.ZoomBy(1).ZoomLevel(256); math.Abs(got-1) > 1e-9 {
		t.Errorf("zoom level %v", got)
	}
	panned := c.Pan(128, 0)
	if math.Abs(panned.Center.X-mercator.Extent) > 1e-6 {
		t.Errorf("pan to %v", panned.Center)
	}
	if up := c.Pan(0, -1e6); up.Center.Y != mercator.Extent {
		t.Errorf("pan not clamped: %v", up.Center)
	}
	if _, err := NewCamera(mercator.GeoPoint{Lat: 86}, 1, 1, 1, 256); err == nil {
		t.Error("camera beyond projection accepted")
	}
}
