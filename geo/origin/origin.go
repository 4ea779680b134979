// Package origin owns the offset between Web Mercator space and local
// render space, and moves it when the camera drifts too far from it.
package origin

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/event"
	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/params"
	"github.com/shopspring/decimal"
)

// Rebase is published whenever the origin moves.
// Every local position computed before the rebase is stale.
type Rebase struct {
	Old   mercator.Point `json:"old"`
	New   mercator.Point `json:"new"`
	Delta mercator.Point `json:"delta"`
}

type Tracker struct {
	config *params.OriginConfig
	origin mercator.Point
	logger *slog.Logger

	rebases event.FeedOf[Rebase]
	count   int
}

// NewTracker returns a tracker with its origin at initial
// (snapped to the configured grid).
func NewTracker(config *params.OriginConfig, initial mercator.Point) (*Tracker, error) {
	if config == nil {
		config = params.DefaultOriginConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		config: config,
		logger: slog.With("component", "origin"),
	}
	t.origin = t.snap(initial)
	return t, nil
}

// Origin returns the current origin.
func (t *Tracker) Origin() mercator.Point {
	return t.origin
}

// Rebases returns how many times the origin has moved.
func (t *Tracker) Rebases() int {
	return t.count
}

func (t *Tracker) Threshold() float64 {
	return t.config.RecenterThreshold
}

func (t *Tracker) ToLocal(m mercator.Point) mercator.LocalPoint {
	return mercator.MercatorToLocal(m, t.origin)
}

func (t *Tracker) ToMercator(l mercator.LocalPoint) mercator.Point {
	return mercator.LocalToMercator(l, t.origin)
}

// SubscribeRebase delivers future rebases to ch.
// Send blocks until every subscriber received, so ch should be buffered
// and drained promptly.
func (t *Tracker) SubscribeRebase(ch chan<- Rebase) event.Subscription {
	return t.rebases.Subscribe(ch)
}

// Update moves the origin to camera when the camera is farther than the
// recenter threshold from it. It returns the rebase and true when that happened.
// Calling Update again with the same position is a no-op.
func (t *Tracker) Update(camera mercator.Point) (Rebase, bool) {
	if camera.Sub(t.origin).Norm() <= t.config.RecenterThreshold {
		return Rebase{}, false
	}
	next := t.snap(camera)
	if next == t.origin {
		return Rebase{}, false
	}
	rb := Rebase{
		Old:   t.origin,
		New:   next,
		Delta: next.Sub(t.origin),
	}
	t.origin = next
	t.count++
	t.logger.Debug("Origin rebased", "old", rb.Old, "new", rb.New, "delta", rb.Delta)
	t.rebases.Send(rb)
	return rb, true
}

// Reset places the origin at m unconditionally, publishing a rebase if it moved.
func (t *Tracker) Reset(m mercator.Point) (Rebase, bool) {
	next := t.snap(m)
	if next == t.origin {
		return Rebase{}, false
	}
	rb := Rebase{Old: t.origin, New: next, Delta: next.Sub(t.origin)}
	t.origin = next
	t.count++
	t.rebases.Send(rb)
	return rb, true
}

// snap rounds p to the nearest multiple of SnapStep.
// Decimal arithmetic keeps grid values exact, so repeated snaps agree.
func (t *Tracker) snap(p mercator.Point) mercator.Point {
	if t.config.SnapStep <= 0 {
		return p
	}
	step := decimal.NewFromFloat(t.config.SnapStep)
	round := func(v float64) float64 {
		f, _ := decimal.NewFromFloat(v).Div(step).Round(0).Mul(step).Float64()
		return f
	}
	return mercator.Point{X: round(p.X), Y: round(p.Y)}
}

func (r Rebase) String() string {
	return fmt.Sprintf("rebase %v -> %v", r.Old, r.New)
}
