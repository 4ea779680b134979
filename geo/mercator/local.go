package mercator

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// LocalPoint is a render-space position relative to an origin.
// Z is carried for hosts that layer tiles by depth; transforms leave it alone.
type LocalPoint struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (l LocalPoint) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", l.X, l.Y, l.Z)
}

// Norm is the planar length of l.
func (l LocalPoint) Norm() float64 {
	return math.Hypot(float64(l.X), float64(l.Y))
}

// Exceeds reports whether l is farther than bound from the origin,
// where float32 spacing starts to show as jitter.
func (l LocalPoint) Exceeds(bound float64) bool {
	return l.Norm() > bound
}

// MercatorToLocal returns m relative to origin, in single precision.
func MercatorToLocal(m, origin Point) LocalPoint {
	return LocalPoint{
		X: float32(m.X - origin.X),
		Y: float32(m.Y - origin.Y),
	}
}

// LocalToMercator is the inverse of MercatorToLocal.
func LocalToMercator(l LocalPoint, origin Point) Point {
	return Point{
		X: origin.X + float64(l.X),
		Y: origin.Y + float64(l.Y),
	}
}

// Relative converts a mercator polyline into float32 offsets from its first
// vertex. The anchor is that vertex; hosts place the geometry at the anchor's
// local position so vertex offsets stay small however far the line is from origin.
func Relative(points []Point) (anchor Point, rel []LocalPoint) {
	if len(points) == 0 {
		return Point{}, nil
	}
	anchor = points[0]
	rel = make([]LocalPoint, len(points))
	for i, p := range points {
		rel[i] = MercatorToLocal(p, anchor)
	}
	return anchor, rel
}

// Bounds is an axis aligned rectangle in mercator meters.
type Bounds struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// BoundsAround returns the rectangle of the given size centred on c.
func BoundsAround(c Point, width, height float64) Bounds {
	return fromRect(r2.RectFromCenterSize(r2.Point{X: c.X, Y: c.Y}, r2.Point{X: width, Y: height}))
}

// BoundsOf returns the smallest rectangle holding all points.
func BoundsOf(points ...Point) Bounds {
	pts := make([]r2.Point, len(points))
	for i, p := range points {
		pts[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return fromRect(r2.RectFromPoints(pts...))
}

func fromRect(r r2.Rect) Bounds {
	return Bounds{
		Min: Point{X: r.X.Lo, Y: r.Y.Lo},
		Max: Point{X: r.X.Hi, Y: r.Y.Hi},
	}
}

func (b Bounds) rect() r2.Rect {
	return r2.RectFromPoints(r2.Point{X: b.Min.X, Y: b.Min.Y}, r2.Point{X: b.Max.X, Y: b.Max.Y})
}

func (b Bounds) Width() float64  { return b.Max.X - b.Min.X }
func (b Bounds) Height() float64 { return b.Max.Y - b.Min.Y }

func (b Bounds) Center() Point {
	c := b.rect().Center()
	return Point{X: c.X, Y: c.Y}
}

// Expand grows b by margin on every side.
func (b Bounds) Expand(margin float64) Bounds {
	return fromRect(b.rect().ExpandedByMargin(margin))
}

// Intersects reports whether the interiors of b and o overlap.
// Rectangles sharing only an edge do not intersect.
func (b Bounds) Intersects(o Bounds) bool {
	return b.Min.X < o.Max.X && o.Min.X < b.Max.X &&
		b.Min.Y < o.Max.Y && o.Min.Y < b.Max.Y
}

func (b Bounds) Contains(p Point) bool {
	return b.rect().ContainsPoint(r2.Point{X: p.X, Y: p.Y})
}

// Translate shifts b by d.
func (b Bounds) Translate(d Point) Bounds {
	return Bounds{Min: b.Min.Add(d), Max: b.Max.Add(d)}
}

// LocalRect is a rectangle in render space.
type LocalRect struct {
	Min LocalPoint `json:"min"`
	Max LocalPoint `json:"max"`
}

// ToLocal converts b to render space under origin.
func (b Bounds) ToLocal(origin Point) LocalRect {
	return LocalRect{
		Min: MercatorToLocal(b.Min, origin),
		Max: MercatorToLocal(b.Max, origin),
	}
}
