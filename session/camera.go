package session

import (
	"math"

	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/tile"
)

// Camera is an orthographic view onto the mercator plane.
// Center is authoritative; local positions are derived from it every frame.
type Camera struct {
	Center         mercator.Point `json:"center"`
	PixelsPerMeter float64        `json:"pixels_per_meter"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
}

// NewCamera centres a camera on g at a fractional zoom level.
func NewCamera(g mercator.GeoPoint, zoom float64, width, height, tileSize int) (Camera, error) {
	center, err := mercator.GeoToMercator(g)
	if err != nil {
		return Camera{}, err
	}
	return Camera{
		Center:         center,
		PixelsPerMeter: tile.ScaleForZoom(zoom, tileSize),
		Width:          width,
		Height:         height,
	}, nil
}

// Bounds is the mercator rectangle on screen.
func (c Camera) Bounds() mercator.Bounds {
	if !(c.PixelsPerMeter > 0) {
		return mercator.Bounds{Min: c.Center, Max: c.Center}
	}
	return mercator.BoundsAround(c.Center, float64(c.Width)/c.PixelsPerMeter, float64(c.Height)/c.PixelsPerMeter)
}

// Pan moves the camera by a screen offset in pixels; positive dy is down.
func (c Camera) Pan(dx, dy float64) Camera {
	if !(c.PixelsPerMeter > 0) {
		return c
	}
	c.Center.X += dx / c.PixelsPerMeter
	c.Center.Y -= dy / c.PixelsPerMeter
	c.Center.Y = math.Max(-mercator.Extent, math.Min(mercator.Extent, c.Center.Y))
	return c
}

// ZoomBy scales the view by 2^levels around its centre.
func (c Camera) ZoomBy(levels float64) Camera {
	c.PixelsPerMeter *= math.Exp2(levels)
	return c
}

func (c Camera) ZoomLevel(tileSize int) float64 {
	return tile.ZoomLevel(c.PixelsPerMeter, tileSize)
}

func (c Camera) Geo() mercator.GeoPoint {
	return mercator.MercatorToGeo(c.Center).Wrapped()
}
