// Package visible decides, frame by frame, which tiles are on screen.
//
// Every address moves through NotNeeded → Requested → Ready → Evicted.
// The manager asks the cache for tiles the view needs, turns finished loads
// into ready events positioned against the current origin, and removes
// tiles once they drift beyond a padded keep region.
package visible

import (
	"fmt"
	"image"
	"log/slog"
	"sort"

	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tile"
	"github.com/rotblauer/geotiles/tiledb/cache"
)

type State int

const (
	NotNeeded State = iota
	Requested
	Ready
	Evicted
)

func (s State) String() string {
	switch s {
	case NotNeeded:
		return "not-needed"
	case Requested:
		return "requested"
	case Ready:
		return "ready"
	case Evicted:
		return "evicted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type EventKind int

const (
	EventReady EventKind = iota
	EventMoved
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventMoved:
		return "moved"
	case EventRemoved:
		return "removed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event tells the renderer to draw, move or drop a tile.
// Position is the tile centre in local coordinates; its Z is the layer depth.
// Size is the tile edge in local units. Image is set on ready events only.
type Event struct {
	Kind     EventKind           `json:"kind"`
	Address  tile.Address        `json:"address"`
	Wrap     int                 `json:"wrap"`
	Position mercator.LocalPoint `json:"position"`
	Size     float32             `json:"size"`
	Image    *image.RGBA         `json:"-"`
}

// Tile is the render handle for a ready tile.
type Tile struct {
	tile.Placement
	Position mercator.LocalPoint
	Size     float32
	Image    *image.RGBA
}

func (t *Tile) event(kind EventKind) Event {
	e := Event{Kind: kind, Address: t.Address, Wrap: t.Wrap, Position: t.Position, Size: t.Size}
	if kind == EventReady {
		e.Image = t.Image
	}
	return e
}

// View is what the camera sees this frame.
type View struct {
	Bounds mercator.Bounds
	Zoom   uint32
	Origin mercator.Point
}

// Cache is the slice of cache.Cache the manager drives.
type Cache interface {
	Get(tile.Address) (*cache.Record, cache.State)
	Drain(max int) []*cache.Record
	Pin(tile.Address)
	Unpin(tile.Address)
}

type Manager struct {
	config *params.VisibleConfig
	cache  Cache
	drain  int
	logger *slog.Logger

	states    map[tile.Address]State
	ready     map[tile.Address]*Tile
	requested map[tile.Address]tile.Placement

	origin mercator.Point
	zoom   uint32
	seen   bool
}

// New returns a manager that drains at most drainPerFrame results per
// Update; 0 drains whatever is buffered.
func New(config *params.VisibleConfig, c Cache, drainPerFrame int) *Manager {
	if config == nil {
		config = params.DefaultVisibleConfig()
	}
	return &Manager{
		config:    config,
		cache:     c,
		drain:     drainPerFrame,
		logger:    slog.With("component", "visible"),
		states:    make(map[tile.Address]State),
		ready:     make(map[tile.Address]*Tile),
		requested: make(map[tile.Address]tile.Placement),
	}
}

// Update reconciles the visible set with view. It never fails; tiles that
// cannot be loaded simply stay off screen.
func (m *Manager) Update(view View) []Event {
	var events []Event
	for a, st := range m.states {
		if st == Evicted {
			delete(m.states, a)
		}
	}
	if view.Origin != m.origin {
		events = append(events, m.Rebase(view.Origin)...)
	}

	zoomChanged := m.seen && view.Zoom != m.zoom
	m.zoom, m.seen = view.Zoom, true

	desired := tile.Cover(view.Bounds, view.Zoom, m.config.ViewportMargin)
	want := make(map[tile.Address]tile.Placement, len(desired))
	for _, p := range desired {
		want[p.Address] = p
	}

	// Finished loads.
	for _, rec := range m.cache.Drain(m.drain) {
		a := rec.Address
		if m.states[a] != Requested {
			continue
		}
		p, ok := want[a]
		if !ok {
			p = m.requested[a]
		}
		delete(m.requested, a)
		switch rec.State {
		case cache.StateDecoded:
			events = append(events, m.show(p, rec))
		default:
			delete(m.states, a)
			m.logger.Debug("Tile unavailable", "tile", a, "error", rec.Err)
		}
	}

	// Requests, nearest first.
	for _, p := range desired {
		a := p.Address
		switch m.states[a] {
		case Ready:
			if t := m.ready[a]; t.Wrap != p.Wrap {
				t.Placement = p
				m.place(t)
				events = append(events, t.event(EventMoved))
			}
			continue
		case Requested:
			m.requested[a] = p
			continue
		}
		rec, st := m.cache.Get(a)
		switch st {
		case cache.StateDecoded:
			events = append(events, m.show(p, rec))
		case cache.StatePending:
			m.states[a] = Requested
			m.requested[a] = p
		case cache.StateFailed:
			delete(m.states, a)
		}
	}

	events = append(events, m.evict(view)...)

	if zoomChanged {
		for _, t := range m.sorted() {
			before := t.Position.Z
			m.place(t)
			if t.Position.Z != before {
				events = append(events, t.event(EventMoved))
			}
		}
	}
	return events
}

func (m *Manager) evict(view View) []Event {
	pad := m.config.ViewportMargin + m.config.EvictionMargin
	keep := make(map[tile.Address]struct{})
	for _, a := range tile.ForViewport(view.Bounds, view.Zoom, pad) {
		keep[a] = struct{}{}
	}
	keepBounds := view.Bounds.Expand(pad * tile.Size(view.Zoom))

	var events []Event
	for _, t := range m.sorted() {
		if m.keeps(t, keep, keepBounds, view.Zoom) {
			continue
		}
		delete(m.ready, t.Address)
		m.states[t.Address] = Evicted
		m.cache.Unpin(t.Address)
		events = append(events, t.event(EventRemoved))
	}
	for a := range m.requested {
		if _, ok := keep[a]; ok {
			continue
		}
		delete(m.requested, a)
		delete(m.states, a)
	}
	return events
}

func (m *Manager) keeps(t *Tile, keep map[tile.Address]struct{}, keepBounds mercator.Bounds, zoom uint32) bool {
	if _, ok := keep[t.Address]; ok {
		return true
	}
	if !m.config.RetainAdjacentZooms || t.Z == zoom {
		return false
	}
	if diff := int(t.Z) - int(zoom); diff != 1 && diff != -1 {
		return false
	}
	return t.Bounds().Intersects(keepBounds)
}

func (m *Manager) show(p tile.Placement, rec *cache.Record) Event {
	t := &Tile{Placement: p, Image: rec.Image, Size: float32(tile.Size(p.Z))}
	m.place(t)
	m.ready[p.Address] = t
	m.states[p.Address] = Ready
	m.cache.Pin(p.Address)
	return t.event(EventReady)
}

// place recomputes the local position and depth of t.
func (m *Manager) place(t *Tile) {
	t.Position = mercator.MercatorToLocal(t.Bounds().Center(), m.origin)
	t.Position.Z = m.depth(t.Z)
}

// depth layers finer zooms above coarser ones, relative to the current zoom.
func (m *Manager) depth(z uint32) float32 {
	return m.config.DepthStep * float32(int(z)-int(m.zoom))
}

// Rebase moves every ready tile to its position relative to origin.
// Nothing is refetched.
func (m *Manager) Rebase(origin mercator.Point) []Event {
	if origin == m.origin {
		return nil
	}
	m.origin = origin
	tiles := m.sorted()
	events := make([]Event, 0, len(tiles))
	for _, t := range tiles {
		m.place(t)
		events = append(events, t.event(EventMoved))
	}
	return events
}

func (m *Manager) Origin() mercator.Point {
	return m.origin
}

// State of a. Addresses the manager has never seen are NotNeeded.
func (m *Manager) State(a tile.Address) State {
	return m.states[a]
}

func (m *Manager) Tile(a tile.Address) (*Tile, bool) {
	t, ok := m.ready[a]
	return t, ok
}

// Tiles returns the ready tiles ordered by zoom, row and column.
func (m *Manager) Tiles() []*Tile {
	return m.sorted()
}

func (m *Manager) Len() int {
	return len(m.ready)
}

func (m *Manager) Pending() int {
	return len(m.requested)
}

// Clear drops every tile, eg. when the source changes.
func (m *Manager) Clear() []Event {
	var events []Event
	for _, t := range m.sorted() {
		m.cache.Unpin(t.Address)
		events = append(events, t.event(EventRemoved))
	}
	clear(m.ready)
	clear(m.requested)
	clear(m.states)
	return events
}

func (m *Manager) sorted() []*Tile {
	out := make([]*Tile, 0, len(m.ready))
	for _, t := range m.ready {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Address, out[j].Address
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return out
}

// Coverage is the share of tiles on screen at the view zoom that are ready.
// An empty view is fully covered.
func (m *Manager) Coverage(view View) float64 {
	desired := tile.ForViewport(view.Bounds, view.Zoom, 0)
	if len(desired) == 0 {
		return 1
	}
	n := 0
	for _, a := range desired {
		if m.states[a] == Ready {
			n++
		}
	}
	return float64(n) / float64(len(desired))
}
