package session

import (
	"fmt"
	"sort"

	"github.com/rotblauer/geotiles/geo/mercator"
)

// Anchor pins an overlay object to a place on the map.
// Its local position follows every rebase.
type Anchor struct {
	ID string         `json:"id"`
	At mercator.Point `json:"at"`

	// KeepDisplaySize scales the object so it keeps its pixel size while zooming.
	KeepDisplaySize bool `json:"keep_display_size"`
}

// Placed is where the renderer should draw an anchor this frame.
type Placed struct {
	ID       string              `json:"id"`
	Position mercator.LocalPoint `json:"position"`
	Scale    float32             `json:"scale"`
}

// AddAnchor places an object at g. Adding an existing ID moves it.
func (s *Session) AddAnchor(id string, g mercator.GeoPoint, keepDisplaySize bool) (Placed, error) {
	m, err := mercator.GeoToMercator(g)
	if err != nil {
		return Placed{}, fmt.Errorf("anchor %q: %w", id, err)
	}
	a := &Anchor{ID: id, At: m, KeepDisplaySize: keepDisplaySize}
	s.anchors[id] = a
	return s.place(a), nil
}

func (s *Session) RemoveAnchor(id string) bool {
	_, ok := s.anchors[id]
	delete(s.anchors, id)
	return ok
}

// Anchors returns every anchor placed against the current origin and scale.
func (s *Session) Anchors() []Placed {
	out := make([]Placed, 0, len(s.anchors))
	for _, a := range s.anchors {
		out = append(out, s.place(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Session) place(a *Anchor) Placed {
	p := Placed{ID: a.ID, Position: s.origin.ToLocal(a.At), Scale: 1}
	if a.KeepDisplaySize && s.camera.PixelsPerMeter > 0 {
		p.Scale = float32(1 / s.camera.PixelsPerMeter)
	}
	return p
}
