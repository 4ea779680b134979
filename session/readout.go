package session

import (
	"fmt"

	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/tile"
	"github.com/shopspring/decimal"
)

// Readout describes a local position in every coordinate space, for debug overlays.
type Readout struct {
	Local    mercator.LocalPoint `json:"local"`
	Mercator mercator.Point      `json:"mercator"`
	Geo      mercator.GeoPoint   `json:"geo"`
	Tile     tile.Address        `json:"tile"`
}

// Readout resolves local against the current origin and zoom.
func (s *Session) Readout(local mercator.LocalPoint) Readout {
	m := s.origin.ToMercator(local)
	g := mercator.MercatorToGeo(mercator.WrapMercator(m))
	return Readout{
		Local:    local,
		Mercator: m,
		Geo:      g,
		Tile:     tile.At(mercator.ClampGeo(g), s.zoom),
	}
}

func (r Readout) String() string {
	return fmt.Sprintf("%s, %s  x=%s y=%s  tile %v",
		decimal.NewFromFloat(r.Geo.Lat).StringFixed(6),
		decimal.NewFromFloat(r.Geo.Lon).StringFixed(6),
		decimal.NewFromFloat(r.Mercator.X).StringFixed(2),
		decimal.NewFromFloat(r.Mercator.Y).StringFixed(2),
		r.Tile)
}
