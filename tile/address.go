// Package tile addresses the Web Mercator tile pyramid: tile coordinates,
// their extents, the zoom level for a render scale and the tiles covering a viewport.
package tile

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/params"
)

var ErrInvalidAddress = errors.New("invalid tile address")

// Address identifies one tile: column X and row Y at zoom Z.
// Row 0 is the northernmost row (XYZ convention).
type Address struct {
	Z uint32 `json:"z"`
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

func New(z, x, y uint32) Address {
	return Address{Z: z, X: x, Y: y}
}

// Count is the number of columns (and rows) at zoom z.
func Count(z uint32) uint32 {
	return 1 << z
}

// Size is the width of a tile at zoom z in mercator meters.
func Size(z uint32) float64 {
	return 2 * mercator.Extent / math.Exp2(float64(z))
}

// Valid reports whether the column and row exist at the zoom.
func (a Address) Valid() bool {
	return a.Z <= params.MaxZoomLimit && a.X < Count(a.Z) && a.Y < Count(a.Z)
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Z, a.X, a.Y)
}

// ParseAddress reads the z/x/y form produced by String.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	var v [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
		}
		v[i] = uint32(n)
	}
	a := New(v[0], v[1], v[2])
	if !a.Valid() {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return a, nil
}

// TMSRow is the row counted from the south, as TMS sources and MBTiles number them.
func (a Address) TMSRow() uint32 {
	return Count(a.Z) - 1 - a.Y
}

// Bounds is the tile's extent in mercator meters.
func (a Address) Bounds() mercator.Bounds {
	size := Size(a.Z)
	minX := -mercator.Extent + float64(a.X)*size
	maxY := mercator.Extent - float64(a.Y)*size
	return mercator.Bounds{
		Min: mercator.Point{X: minX, Y: maxY - size},
		Max: mercator.Point{X: minX + size, Y: maxY},
	}
}

// Center is the middle of the tile in mercator meters.
func (a Address) Center() mercator.Point {
	return a.Bounds().Center()
}

func (a Address) Maptile() maptile.Tile {
	return maptile.New(a.X, a.Y, maptile.Zoom(a.Z))
}

func FromMaptile(t maptile.Tile) Address {
	return New(uint32(t.Z), t.X, t.Y)
}

// GeoBound is the tile's extent in degrees.
func (a Address) GeoBound() orb.Bound {
	return a.Maptile().Bound()
}

// At returns the tile containing g at zoom z.
func At(g mercator.GeoPoint, z uint32) Address {
	return FromMaptile(maptile.At(mercator.ClampGeo(g).Orb(), maptile.Zoom(z)))
}

// Parent is the tile one level up containing a. The root is its own parent.
func (a Address) Parent() Address {
	if a.Z == 0 {
		return a
	}
	return New(a.Z-1, a.X>>1, a.Y>>1)
}

func (a Address) Children() [4]Address {
	x, y, z := a.X<<1, a.Y<<1, a.Z+1
	return [4]Address{New(z, x, y), New(z, x+1, y), New(z, x, y+1), New(z, x+1, y+1)}
}

// Quadkey is the Bing Maps quadkey, one base-4 digit per zoom level.
func (a Address) Quadkey() string {
	var b strings.Builder
	for i := a.Z; i > 0; i-- {
		digit := byte('0')
		mask := uint32(1) << (i - 1)
		if a.X&mask != 0 {
			digit++
		}
		if a.Y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}
