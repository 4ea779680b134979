// Package loader fetches, persists and decodes tiles on a pool of workers.
// The update loop talks to it only through non-blocking Submit and a
// buffered results channel; every result carries the address it answers.
package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/groupcache/singleflight"
	"github.com/rotblauer/geotiles/metrics"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tile"
	"github.com/rotblauer/geotiles/tiledb"
)

type Request struct {
	Address tile.Address

	// Force skips the disk tier and refetches from the source.
	Force bool
}

type Result struct {
	Address  tile.Address
	Bytes    []byte
	Image    *image.RGBA
	Format   string
	FromDisk bool
	Err      error
	Elapsed  time.Duration
}

func (r Result) OK() bool {
	return r.Err == nil && r.Image != nil
}

type Loader struct {
	config  *params.LoaderConfig
	source  Source
	store   tiledb.Store
	decoder Decoder
	metrics *metrics.Pipeline
	logger  *slog.Logger

	requests chan Request
	results  chan Result

	// fetches holds one source fetch per address across workers and Load callers.
	fetches singleflight.Group

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// New wires a loader. A nil store disables the disk tier, nil metrics get a private pipeline.
func New(config *params.LoaderConfig, src Source, store tiledb.Store, dec Decoder, m *metrics.Pipeline) (*Loader, error) {
	if config == nil {
		config = params.DefaultLoaderConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: loader needs a source", params.ErrInvalidConfig)
	}
	if store == nil {
		store = tiledb.Nop{}
	}
	if m == nil {
		m = metrics.NewPipeline()
	}
	return &Loader{
		config:   config,
		source:   src,
		store:    store,
		decoder:  dec,
		metrics:  m,
		logger:   slog.With("loader", src.Describe()),
		requests: make(chan Request, config.RequestQueue),
		results:  make(chan Result, config.ResultQueue),
	}, nil
}

// Start launches the workers. They run until ctx is done or Stop is called.
func (l *Loader) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	for i := 0; i < l.config.Workers; i++ {
		l.wg.Add(1)
		go l.work()
	}
	go func() {
		l.wg.Wait()
		close(l.results)
	}()
	l.logger.Info("Loader started", "workers", l.config.Workers,
		"request.queue", l.config.RequestQueue, "result.queue", l.config.ResultQueue)
}

// Submit enqueues r without blocking. It reports false when the
// request queue is full or the loader is stopped; the caller retries later.
func (l *Loader) Submit(r Request) bool {
	if l.stopped.Load() || (l.ctx != nil && l.ctx.Err() != nil) {
		return false
	}
	select {
	case l.requests <- r:
		l.metrics.Submitted.Inc(1)
		return true
	default:
		l.metrics.QueueFull.Inc(1)
		return false
	}
}

// Results is closed once all workers have exited.
func (l *Loader) Results() <-chan Result {
	return l.results
}

func (l *Loader) Pending() int {
	return len(l.requests)
}

func (l *Loader) Metrics() *metrics.Pipeline {
	return l.metrics
}

func (l *Loader) Source() Source {
	return l.source
}

func (l *Loader) Stop() {
	if !l.stopped.CompareAndSwap(false, true) {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
}

// Wait blocks until every worker has returned.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func (l *Loader) work() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case req := <-l.requests:
			res := l.Load(l.ctx, req)
			select {
			case l.results <- res:
			case <-l.ctx.Done():
				return
			}
		}
	}
}

// Load runs one request to completion on the calling goroutine.
func (l *Loader) Load(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	a := req.Address
	res = Result{Address: a}
	defer func() {
		res.Elapsed = time.Since(start)
	}()

	if !a.Valid() {
		res.Err = fmt.Errorf("%w: %v", tile.ErrInvalidAddress, a)
		l.metrics.Failed.Inc(1)
		return res
	}

	var data []byte
	if !req.Force {
		var err error
		data, err = l.store.Get(a)
		switch {
		case err == nil:
			res.FromDisk = true
			l.metrics.DiskHits.Inc(1)
		case !errors.Is(err, tiledb.ErrNotFound):
			l.metrics.CacheIOErrors.Inc(1)
			l.logger.Warn("Disk read failed", "tile", a, "error", fmt.Errorf("%w: %v", ErrCacheIO, err))
		}
	}

	if !res.FromDisk {
		var err error
		if data, err = l.fetch(ctx, a); err != nil {
			res.Err = err
			l.metrics.Failed.Inc(1)
			return res
		}
	}

	img, format, err := l.decoder.Decode(data)
	if err != nil && res.FromDisk {
		// A corrupt disk entry is dropped and the tile fetched again.
		l.logger.Warn("Corrupt cached tile", "tile", a, "error", err)
		if derr := l.store.Delete(a); derr != nil {
			l.metrics.CacheIOErrors.Inc(1)
		}
		res.FromDisk = false
		if data, err = l.fetch(ctx, a); err != nil {
			res.Err = err
			l.metrics.Failed.Inc(1)
			return res
		}
		img, format, err = l.decoder.Decode(data)
	}
	if err != nil {
		res.Err = err
		l.metrics.Failed.Inc(1)
		if derr := l.store.Delete(a); derr != nil {
			l.metrics.CacheIOErrors.Inc(1)
		}
		return res
	}
	l.metrics.Decoded.Inc(1)
	res.Bytes, res.Image, res.Format = data, img, format
	return res
}

// fetch joins a running fetch of a if there is one. The returned bytes are
// shared between callers and must not be modified.
func (l *Loader) fetch(ctx context.Context, a tile.Address) ([]byte, error) {
	v, err := l.fetches.Do(a.String(), func() (interface{}, error) {
		return l.fetchAndStore(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (l *Loader) fetchAndStore(ctx context.Context, a tile.Address) ([]byte, error) {
	start := time.Now()
	data, err := l.source.Fetch(ctx, a)
	if err != nil {
		l.logger.Debug("Fetch failed", "tile", a, "error", err)
		return nil, err
	}
	l.metrics.ObserveFetch(time.Since(start), len(data))
	if err := l.store.Put(a, data); err != nil {
		l.metrics.CacheIOErrors.Inc(1)
		l.logger.Warn("Disk write failed", "tile", a, "error", fmt.Errorf("%w: %v", ErrCacheIO, err))
	}
	return data, nil
}
