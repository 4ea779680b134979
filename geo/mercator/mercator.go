// Package mercator converts between geographic (WGS84), projected
// (Web Mercator, EPSG:3857) and local render-space coordinates.
//
// Mercator coordinates are meters in double precision.
// Local coordinates are float32 offsets from an origin held by the caller;
// see package origin for the tracker that keeps them small.
package mercator

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	// Radius is the WGS84 semi-major axis used by the spherical projection.
	Radius = orb.EarthRadius

	// Extent is the half-width of the projected world in meters.
	// The square [-Extent, Extent]² holds the whole tile pyramid.
	Extent = math.Pi * Radius

	// MaxLatitude is the latitude at which the projected world becomes square.
	MaxLatitude = 85.05112877980659
)

var ErrProjectionOutOfRange = errors.New("projection out of range")

// GeoPoint is a longitude/latitude pair in degrees.
type GeoPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

func (g GeoPoint) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", g.Lon, g.Lat)
}

// Orb returns the point in orb's [lon, lat] order.
func (g GeoPoint) Orb() orb.Point {
	return orb.Point{g.Lon, g.Lat}
}

// Wrapped returns the point with longitude wrapped into [-180, 180).
func (g GeoPoint) Wrapped() GeoPoint {
	lon := math.Mod(g.Lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return GeoPoint{Lon: lon - 180, Lat: g.Lat}
}

// Valid reports whether the point can be projected.
func (g GeoPoint) Valid() bool {
	if math.IsNaN(g.Lon) || math.IsNaN(g.Lat) || math.IsInf(g.Lon, 0) || math.IsInf(g.Lat, 0) {
		return false
	}
	return math.Abs(g.Lat) <= MaxLatitude && math.Abs(g.Lon) <= 180
}

// Point is a Web Mercator position in meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) Mul(k float64) Point {
	return Point{p.X * k, p.Y * k}
}

// Norm is the euclidean length of p.
func (p Point) Norm() float64 {
	return math.Hypot(p.X, p.Y)
}

func (p Point) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", p.X, p.Y)
}

// GeoToMercator projects g. Latitudes beyond MaxLatitude, longitudes beyond
// ±180 and non-finite values fail with ErrProjectionOutOfRange; use ClampGeo
// first when clamping is the wanted policy.
func GeoToMercator(g GeoPoint) (Point, error) {
	if !g.Valid() {
		return Point{}, fmt.Errorf("%w: %v", ErrProjectionOutOfRange, g)
	}
	p := project.WGS84.ToMercator(g.Orb())
	return Point{X: p[0], Y: p[1]}, nil
}

// MustGeoToMercator is GeoToMercator for constants and tests.
func MustGeoToMercator(g GeoPoint) Point {
	p, err := GeoToMercator(g)
	if err != nil {
		panic(err)
	}
	return p
}

// MercatorToGeo is the inverse of GeoToMercator.
func MercatorToGeo(p Point) GeoPoint {
	g := project.Mercator.ToWGS84(orb.Point{p.X, p.Y})
	return GeoPoint{Lon: g[0], Lat: g[1]}
}

// ClampGeo wraps longitude and clamps latitude into the projectable range.
func ClampGeo(g GeoPoint) GeoPoint {
	g = g.Wrapped()
	g.Lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, g.Lat))
	return g
}

// WrapMercator folds X into [-Extent, Extent) across the antimeridian and
// clamps Y into the world square.
func WrapMercator(p Point) Point {
	x := math.Mod(p.X+Extent, 2*Extent)
	if x < 0 {
		x += 2 * Extent
	}
	return Point{
		X: x - Extent,
		Y: math.Max(-Extent, math.Min(Extent, p.Y)),
	}
}

// GroundResolution is the number of meters on the ground covered by one
// pixel at latitude lat for a world tileSize·2^zoom pixels wide.
func GroundResolution(lat float64, zoom uint32, tileSize int) float64 {
	angle := s1.Angle(lat) * s1.Degree
	return math.Cos(angle.Radians()) * 2 * Extent / (float64(tileSize) * math.Exp2(float64(zoom)))
}

// ScaleFactor is the Mercator distortion at latitude lat: how many projected
// meters correspond to one meter on the ground.
func ScaleFactor(lat float64) float64 {
	angle := s1.Angle(lat) * s1.Degree
	return 1 / math.Cos(angle.Radians())
}
