package tile

import (
	"math"
	"sort"

	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/params"
)

// ScaleForZoom is the nominal render scale, in pixels per mercator meter,
// at which tiles of zoom z are drawn at their native size.
func ScaleForZoom(z float64, tileSize int) float64 {
	return float64(tileSize) * math.Exp2(z) / (2 * mercator.Extent)
}

// ZoomLevel is the fractional zoom matching pixelsPerMeter.
func ZoomLevel(pixelsPerMeter float64, tileSize int) float64 {
	return math.Log2(pixelsPerMeter * 2 * mercator.Extent / float64(tileSize))
}

// ZoomForScale picks the integer zoom whose nominal resolution is closest to
// pixelsPerMeter, shifted by the configured offset and clamped to [Min, Max].
// Non-positive or non-finite scales give Min.
func ZoomForScale(pixelsPerMeter float64, config *params.ZoomConfig) uint32 {
	if config == nil {
		config = params.DefaultZoomConfig()
	}
	if !(pixelsPerMeter > 0) || math.IsInf(pixelsPerMeter, 0) {
		return config.Min
	}
	z := math.Round(ZoomLevel(pixelsPerMeter, config.TileSize)) + float64(config.Offset)
	switch {
	case z < float64(config.Min):
		return config.Min
	case z > float64(config.Max):
		return config.Max
	}
	return uint32(z)
}

// Placement is an address together with the copy of the world it is drawn in.
// Wrap 0 is the primary world; -1 is the copy west of the antimeridian, and so on.
type Placement struct {
	Address
	Wrap int `json:"wrap"`
}

// Offset is the mercator translation of the world copy.
func (p Placement) Offset() mercator.Point {
	return mercator.Point{X: float64(p.Wrap) * 2 * mercator.Extent}
}

// Bounds is the placed extent in mercator meters.
func (p Placement) Bounds() mercator.Bounds {
	return p.Address.Bounds().Translate(p.Offset())
}

// Cover returns the tiles at zoom z whose interiors intersect bounds padded
// by margin tiles on every side, nearest to the bounds' centre first.
// Columns wrap around the antimeridian; each address appears once, in the
// world copy nearest the centre. Rows are clamped to the pyramid.
func Cover(bounds mercator.Bounds, z uint32, margin float64) []Placement {
	if z > params.MaxZoomLimit || margin < 0 {
		return nil
	}
	n := int64(Count(z))
	size := Size(z)

	fx0 := (bounds.Min.X+mercator.Extent)/size - margin
	fx1 := (bounds.Max.X+mercator.Extent)/size + margin
	fy0 := (mercator.Extent-bounds.Max.Y)/size - margin
	fy1 := (mercator.Extent-bounds.Min.Y)/size + margin
	if anyNaN(fx0, fx1, fy0, fy1) {
		return nil
	}
	cx := (fx0 + fx1) / 2
	cy := (fy0 + fy1) / 2

	x0, x1 := span(fx0, fx1)
	y0, y1 := span(fy0, fy1)
	if y0 < 0 {
		y0 = 0
	}
	if y1 > n-1 {
		y1 = n - 1
	}
	if y0 > y1 {
		return nil
	}
	if x1-x0+1 >= n {
		// Wider than the world: one copy of every column, centred on the view.
		x0 = int64(math.Floor(cx - float64(n)/2))
		x1 = x0 + n - 1
	}

	out := make([]Placement, 0, (x1-x0+1)*(y1-y0+1))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			col := x % n
			if col < 0 {
				col += n
			}
			out = append(out, Placement{
				Address: New(z, uint32(col), uint32(y)),
				Wrap:    int(floorDiv(x, n)),
			})
		}
	}

	dist := func(p Placement) float64 {
		dx := float64(p.X) + float64(p.Wrap)*float64(n) + 0.5 - cx
		dy := float64(p.Y) + 0.5 - cy
		return dx*dx + dy*dy
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := dist(out[i]), dist(out[j])
		if di != dj {
			return di < dj
		}
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// ForViewport is Cover without the world copy.
func ForViewport(bounds mercator.Bounds, z uint32, margin float64) []Address {
	placements := Cover(bounds, z, margin)
	out := make([]Address, len(placements))
	for i, p := range placements {
		out[i] = p.Address
	}
	return out
}

// span converts a fractional tile range into the inclusive integer range of
// tiles it overlaps. A degenerate range still selects the tile it lies in.
func span(f0, f1 float64) (int64, int64) {
	i0 := int64(math.Floor(f0))
	i1 := int64(math.Ceil(f1)) - 1
	if i1 < i0 {
		i1 = i0
	}
	return i0, i1
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
