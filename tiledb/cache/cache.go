// Package cache is the two-tier tile cache: decoded tiles in memory,
// raw bytes on disk (via the loader), and the bookkeeping that keeps at
// most one load per address in flight and stops retrying failing ones.
//
// A Cache is owned by the update loop. None of its methods are safe for
// concurrent use; workers reach it only through the loader's channels.
package cache

import (
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rotblauer/geotiles/loader"
	"github.com/rotblauer/geotiles/metrics"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tile"
)

type State int

const (
	StatePending State = iota
	StateDecoded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDecoded:
		return "decoded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Record struct {
	Address tile.Address

	// Image is all a resident record holds of the tile; encoded bytes stay on disk.
	Image      *image.RGBA
	Format     string
	State      State
	Err        error
	FromDisk   bool
	Attempts   int
	LastAccess time.Time
}

// Loader is the side of loader.Loader the cache drives.
type Loader interface {
	Submit(loader.Request) bool
	Results() <-chan loader.Result
}

type attempt struct {
	count     int
	err       error
	permanent bool
}

// lruSize bounds the underlying list; the configured capacity is enforced by trim
// so that pinned tiles can outlive it.
const lruSize = 1 << 30

type Cache struct {
	config  *params.CacheConfig
	loader  Loader
	metrics *metrics.Pipeline
	logger  *slog.Logger

	memory   *simplelru.LRU[tile.Address, *Record]
	pinned   map[tile.Address]struct{}
	inflight map[tile.Address]time.Time
	attempts *lru.Cache
	backoff  *ttlcache.Cache[tile.Address, struct{}]

	now func() time.Time
}

func New(config *params.CacheConfig, l Loader, m *metrics.Pipeline) (*Cache, error) {
	if config == nil {
		config = params.DefaultCacheConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%w: cache needs a loader", params.ErrInvalidConfig)
	}
	if m == nil {
		m = metrics.NewPipeline()
	}
	memory, err := simplelru.NewLRU[tile.Address, *Record](lruSize, nil)
	if err != nil {
		return nil, err
	}
	return &Cache{
		config:   config,
		loader:   l,
		metrics:  m,
		logger:   slog.With("component", "cache"),
		memory:   memory,
		pinned:   make(map[tile.Address]struct{}),
		inflight: make(map[tile.Address]time.Time),
		attempts: lru.New(config.FailureLedgerSize),
		backoff: ttlcache.New[tile.Address, struct{}](
			ttlcache.WithDisableTouchOnHit[tile.Address, struct{}](),
		),
		now: time.Now,
	}, nil
}

// Get returns the decoded record on a memory hit. Otherwise it reports
// Pending while a load is in flight (starting one if allowed), or Failed
// while the address is backing off or has used up its retries.
func (c *Cache) Get(a tile.Address) (*Record, State) {
	if rec, ok := c.memory.Get(a); ok {
		rec.LastAccess = c.now()
		c.metrics.MemoryHits.Inc(1)
		return rec, StateDecoded
	}
	c.metrics.MemoryMisses.Inc(1)
	if _, ok := c.inflight[a]; ok {
		return nil, StatePending
	}
	if rec := c.failed(a); rec != nil {
		return rec, StateFailed
	}
	if !c.loader.Submit(loader.Request{Address: a}) {
		// Queue full. Not marked in flight, so the next Get tries again.
		return nil, StatePending
	}
	c.inflight[a] = c.now()
	return nil, StatePending
}

// Peek returns a decoded record without touching recency or starting a load.
func (c *Cache) Peek(a tile.Address) (*Record, bool) {
	return c.memory.Peek(a)
}

// State reports what Get would say without side effects.
func (c *Cache) State(a tile.Address) (State, bool) {
	if c.memory.Contains(a) {
		return StateDecoded, true
	}
	if _, ok := c.inflight[a]; ok {
		return StatePending, true
	}
	if c.failed(a) != nil {
		return StateFailed, true
	}
	return StatePending, false
}

func (c *Cache) InFlight(a tile.Address) bool {
	_, ok := c.inflight[a]
	return ok
}

func (c *Cache) failed(a tile.Address) *Record {
	v, ok := c.attempts.Get(a)
	if !ok {
		return nil
	}
	at := v.(*attempt)
	if at.permanent || at.count >= c.config.RetryMax || c.backoff.Has(a) {
		return &Record{Address: a, State: StateFailed, Err: at.err, Attempts: at.count}
	}
	return nil
}

// Drain receives up to max finished loads without blocking; max <= 0 takes
// everything buffered. Every record is returned, including ones nobody is
// waiting for any more; the caller decides what to show.
func (c *Cache) Drain(max int) []*Record {
	var out []*Record
	results := c.loader.Results()
	for max <= 0 || len(out) < max {
		select {
		case res, ok := <-results:
			if !ok {
				return out
			}
			out = append(out, c.accept(res))
		default:
			return out
		}
	}
	return out
}

func (c *Cache) accept(res loader.Result) *Record {
	a := res.Address
	delete(c.inflight, a)
	now := c.now()
	if res.Err == nil && res.Image != nil {
		rec := &Record{
			Address:    a,
			Image:      res.Image,
			Format:     res.Format,
			State:      StateDecoded,
			FromDisk:   res.FromDisk,
			LastAccess: now,
		}
		c.attempts.Remove(a)
		c.backoff.Delete(a)
		c.memory.Add(a, rec)
		c.trim()
		return rec
	}

	err := res.Err
	if err == nil {
		err = fmt.Errorf("%w: no image for %v", loader.ErrDecode, a)
	}
	at := &attempt{}
	if v, ok := c.attempts.Get(a); ok {
		at = v.(*attempt)
	}
	at.count++
	at.err = err
	at.permanent = loader.Permanent(err)
	c.attempts.Add(a, at)

	if !at.permanent && at.count < c.config.RetryMax {
		wait := c.backoffFor(at.count)
		c.backoff.Set(a, struct{}{}, wait)
		c.logger.Warn("Tile failed, backing off", "tile", a, "attempt", at.count, "wait", wait, "error", err)
	} else {
		c.logger.Warn("Tile failed for good", "tile", a, "attempts", at.count, "error", err)
	}
	return &Record{Address: a, State: StateFailed, Err: err, Attempts: at.count, LastAccess: now}
}

// backoffFor is the wait after the n-th failure.
func (c *Cache) backoffFor(n int) time.Duration {
	d := c.config.RetryBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.config.RetryBackoffMax {
			return c.config.RetryBackoffMax
		}
	}
	return d
}

// Pin keeps a out of eviction while it is on screen.
func (c *Cache) Pin(a tile.Address) {
	c.pinned[a] = struct{}{}
}

func (c *Cache) Unpin(a tile.Address) {
	if _, ok := c.pinned[a]; !ok {
		return
	}
	delete(c.pinned, a)
	c.trim()
}

// Forget clears everything known about a, including exhausted retries.
func (c *Cache) Forget(a tile.Address) {
	c.memory.Remove(a)
	c.attempts.Remove(a)
	c.backoff.Delete(a)
}

// trim evicts least recently used tiles until the memory tier fits,
// skipping pinned ones.
func (c *Cache) trim() {
	over := c.memory.Len() - c.config.MemoryCapacity
	if over <= 0 {
		return
	}
	for _, a := range c.memory.Keys() {
		if over == 0 {
			break
		}
		if _, ok := c.pinned[a]; ok {
			continue
		}
		c.memory.Remove(a)
		c.metrics.Evicted.Inc(1)
		over--
	}
}

type Stats struct {
	Memory   int `json:"memory"`
	Capacity int `json:"capacity"`
	Pinned   int `json:"pinned"`
	InFlight int `json:"in_flight"`
	Failing  int `json:"failing"`
	Backoff  int `json:"backoff"`

	// PixelBytes is the decoded size of the resident tiles.
	PixelBytes int `json:"pixel_bytes"`
}

func (c *Cache) Stats() Stats {
	c.backoff.DeleteExpired()
	pixels := 0
	for _, rec := range c.memory.Values() {
		if rec.Image != nil {
			pixels += len(rec.Image.Pix)
		}
	}
	return Stats{
		Memory:     c.memory.Len(),
		Capacity:   c.config.MemoryCapacity,
		Pinned:     len(c.pinned),
		InFlight:   len(c.inflight),
		Failing:    c.attempts.Len(),
		Backoff:    c.backoff.Len(),
		PixelBytes: pixels,
	}
}

// Close drops the memory tier. The disk store and loader belong to the caller.
func (c *Cache) Close() error {
	c.memory.Purge()
	c.attempts.Clear()
	c.backoff.DeleteAll()
	clear(c.pinned)
	clear(c.inflight)
	return nil
}
