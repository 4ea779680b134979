package tile

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/params"
)

func TestForViewport_TwoTilesAtZoom3(t *testing.T) {
	b := mercator.Bounds{
		Min: mercator.Point{X: -9_000_000, Y: 1_000_000},
		Max: mercator.Point{X: -1_000_000, Y: 4_000_000},
	}
	got := ForViewport(b, 3, 0)
	want := []Address{New(3, 2, 3), New(3, 3, 3)}
	slices.SortFunc(got, compareAddress)
	if !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestForViewport_MarginAddsNeighbours(t *testing.T) {
	b := New(4, 7, 5).Bounds().Expand(-10)
	got := ForViewport(b, 4, 1)
	if len(got) != 9 {
		t.Fatalf("Expected 3x3 tiles, got %d: %v", len(got), got)
	}
	if got[0] != New(4, 7, 5) {
		t.Errorf("Expected centre tile first, got %v", got[0])
	}
}

func TestForViewport_EdgeTouchingExcluded(t *testing.T) {
	b := New(2, 1, 1).Bounds()
	got := ForViewport(b, 2, 0)
	if !slices.Equal(got, []Address{New(2, 1, 1)}) {
		t.Errorf("Expected only the exact tile, got %v", got)
	}
}

func TestForViewport_WrapsColumnsClampsRows(t *testing.T) {
	// Straddles the antimeridian and the north edge of the world.
	b := mercator.Bounds{
		Min: mercator.Point{X: mercator.Extent - 1_000_000, Y: mercator.Extent - 1_000_000},
		Max: mercator.Point{X: mercator.Extent + 1_000_000, Y: mercator.Extent + 3_000_000},
	}
	placements := Cover(b, 3, 0)
	var got []Address
	for _, p := range placements {
		if !p.Valid() {
			t.Fatalf("invalid address %v", p.Address)
		}
		got = append(got, p.Address)
		if p.X == 0 && p.Wrap != 1 {
			t.Errorf("column 0 should be placed east of the antimeridian, got wrap %d", p.Wrap)
		}
	}
	slices.SortFunc(got, compareAddress)
	want := []Address{New(3, 0, 0), New(3, 7, 0)}
	if !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestForViewport_WiderThanWorld(t *testing.T) {
	b := mercator.BoundsAround(mercator.Point{}, 8*mercator.Extent, mercator.Extent)
	got := ForViewport(b, 1, 0)
	if len(got) != 4 {
		t.Fatalf("Expected every tile once, got %v", got)
	}
	seen := map[Address]bool{}
	for _, a := range got {
		if seen[a] {
			t.Errorf("duplicate %v", a)
		}
		seen[a] = true
	}
}

func TestForViewport_CoversIntersectingTiles(t *testing.T) {
	views := []mercator.Bounds{
		mercator.BoundsAround(mercator.MustGeoToMercator(mercator.GeoPoint{Lon: 13.405, Lat: 52.52}), 40_000, 30_000),
		mercator.BoundsAround(mercator.MustGeoToMercator(mercator.GeoPoint{Lon: -122.4, Lat: 37.7}), 250_000, 90_000),
		mercator.BoundsAround(mercator.Point{X: 179.9 / 180 * mercator.Extent, Y: 0}, 600_000, 600_000),
	}
	for _, v := range views {
		for z := uint32(0); z <= 9; z++ {
			got := map[Address]bool{}
			for _, p := range Cover(v, z, 0) {
				if !p.Valid() {
					t.Fatalf("z%d: invalid %v", z, p.Address)
				}
				got[p.Address] = true
			}
			// Brute force near the view.
			n := Count(z)
			for x := uint32(0); x < n; x++ {
				for y := uint32(0); y < n; y++ {
					a := New(z, x, y)
					for _, wrap := range []int{-1, 0, 1} {
						pb := Placement{Address: a, Wrap: wrap}.Bounds()
						if pb.Intersects(v) && !got[a] {
							t.Errorf("z%d: %v intersects view but was not returned", z, a)
						}
					}
				}
			}
		}
	}
}

func TestZoomForScale(t *testing.T) {
	config := params.DefaultZoomConfig()
	for z := config.Min; z <= config.Max; z++ {
		if got := ZoomForScale(ScaleForZoom(float64(z), config.TileSize), config); got != z {
			t.Errorf("Expected %d, got %d", z, got)
		}
	}
	// Nearest level wins.
	if got := ZoomForScale(ScaleForZoom(9.4, 256), config); got != 9 {
		t.Errorf("Expected 9, got %d", got)
	}
	if got := ZoomForScale(ScaleForZoom(9.6, 256), config); got != 10 {
		t.Errorf("Expected 10, got %d", got)
	}
	// Clamps.
	if got := ZoomForScale(ScaleForZoom(25, 256), config); got != config.Max {
		t.Errorf("Expected max %d, got %d", config.Max, got)
	}
	limited := &params.ZoomConfig{Min: 3, Max: 8, TileSize: 256}
	if got := ZoomForScale(ScaleForZoom(1, 256), limited); got != 3 {
		t.Errorf("Expected min 3, got %d", got)
	}
	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if got := ZoomForScale(bad, limited); got != 3 {
			t.Errorf("ZoomForScale(%v): expected 3, got %d", bad, got)
		}
	}
	offset := &params.ZoomConfig{Min: 0, Max: 19, Offset: 1, TileSize: 256}
	if got := ZoomForScale(ScaleForZoom(9, 256), offset); got != 10 {
		t.Errorf("Expected offset zoom 10, got %d", got)
	}
}

func TestAddress(t *testing.T) {
	a := New(3, 3, 5)
	if a.Quadkey() != "213" {
		t.Errorf("Expected quadkey 213, got %s", a.Quadkey())
	}
	if New(0, 0, 0).Quadkey() != "" {
		t.Error("root quadkey should be empty")
	}
	if a.TMSRow() != 2 {
		t.Errorf("Expected TMS row 2, got %d", a.TMSRow())
	}
	if a.Parent() != New(2, 1, 2) {
		t.Errorf("unexpected parent %v", a.Parent())
	}
	for _, c := range a.Children() {
		if c.Parent() != a {
			t.Errorf("child %v does not point back to %v", c, a)
		}
	}
	if New(3, 8, 0).Valid() {
		t.Error("column 8 is outside zoom 3")
	}
	parsed, err := ParseAddress(a.String())
	if err != nil || parsed != a {
		t.Errorf("Expected %v, got %v (%v)", a, parsed, err)
	}
	if _, err := ParseAddress("3/8/0"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress, got %v", err)
	}

	b := New(1, 0, 0).Bounds()
	if b.Min.X != -mercator.Extent || b.Max.Y != mercator.Extent || math.Abs(b.Max.X) > 1e-6 || math.Abs(b.Min.Y) > 1e-6 {
		t.Errorf("unexpected bounds %+v", b)
	}
	g := New(1, 0, 0).GeoBound()
	if math.Abs(g.Min[0]+180) > 1e-9 || math.Abs(g.Max[1]-mercator.MaxLatitude) > 1e-6 {
		t.Errorf("unexpected geo bound %v", g)
	}
	berlin := At(mercator.GeoPoint{Lon: 13.405, Lat: 52.52}, 9)
	if berlin != New(9, 275, 167) {
		t.Errorf("Expected 9/275/167, got %v", berlin)
	}
}

func TestTemplate(t *testing.T) {
	tmpl, err := ParseTemplate("https://{s}.tile.example/{z}/{x}/{y}.png", WithSubdomains("a", "b"))
	if err != nil {
		t.Fatal(err)
	}
	a := New(3, 2, 1)
	if got := tmpl.Format(a); got != "https://a.tile.example/3/2/1.png" {
		t.Errorf("unexpected %s", got)
	}
	if got := tmpl.Format(a); got != "https://b.tile.example/3/2/1.png" {
		t.Errorf("unexpected %s", got)
	}

	tms, _ := ParseTemplate("/tiles/{z}/{x}/{-y}.png")
	if got := tms.Format(a); got != "/tiles/3/2/6.png" {
		t.Errorf("unexpected %s", got)
	}
	rev, _ := ParseTemplate("/tiles/{z}/{x}/{y}.png", WithReverseY(true), WithZoomOffset(-4))
	if got := rev.Format(a); got != "/tiles/0/2/6.png" {
		t.Errorf("unexpected %s", got)
	}
	q, _ := ParseTemplate("https://t.example/{q}.jpeg")
	if got := q.Format(New(3, 3, 5)); got != "https://t.example/213.jpeg" {
		t.Errorf("unexpected %s", got)
	}

	for _, bad := range []string{
		"https://tile.example/{z}/{x}.png",
		"https://tile.example/static.png",
		"https://{s}.tile.example/{z}/{x}/{y}.png",
		"https://tile.example/{z}/{x}/{y.png",
	} {
		if _, err := ParseTemplate(bad); !errors.Is(err, ErrInvalidTemplate) {
			t.Errorf("%s: expected ErrInvalidTemplate, got %v", bad, err)
		}
	}
}

func compareAddress(a, b Address) int {
	if a.Z != b.Z {
		return int(a.Z) - int(b.Z)
	}
	if a.Y != b.Y {
		return int(a.Y) - int(b.Y)
	}
	return int(a.X) - int(b.X)
}
