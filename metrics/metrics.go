// Package metrics counts what the tile pipeline does: cache hits, fetches,
// failures and fetch latency.
package metrics

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/montanaflynn/stats"
	"github.com/rotblauer/geotiles/common"
)

// Pipeline holds the counters for one map session.
// Counters are safe to mark from loader workers and the update loop.
type Pipeline struct {
	reg metrics.Registry

	MemoryHits    metrics.Counter
	MemoryMisses  metrics.Counter
	Submitted     metrics.Counter
	QueueFull     metrics.Counter
	DiskHits      metrics.Counter
	Fetched       metrics.Counter
	Decoded       metrics.Counter
	Failed        metrics.Counter
	CacheIOErrors metrics.Counter
	Evicted       metrics.Counter
	Rebases       metrics.Counter
	FetchedBytes  metrics.Meter

	// latency holds recent fetch durations in milliseconds.
	latency *common.Window[float64]
}

const latencySamples = 512

func NewPipeline() *Pipeline {
	metrics.Enabled = true
	p := &Pipeline{
		reg:           metrics.NewRegistry(),
		MemoryHits:    metrics.NewCounter(),
		MemoryMisses:  metrics.NewCounter(),
		Submitted:     metrics.NewCounter(),
		QueueFull:     metrics.NewCounter(),
		DiskHits:      metrics.NewCounter(),
		Fetched:       metrics.NewCounter(),
		Decoded:       metrics.NewCounter(),
		Failed:        metrics.NewCounter(),
		CacheIOErrors: metrics.NewCounter(),
		Evicted:       metrics.NewCounter(),
		Rebases:       metrics.NewCounter(),
		FetchedBytes:  metrics.NewMeter(),
		latency:       common.NewWindow[float64](latencySamples),
	}
	for name, m := range map[string]interface{}{
		"cache.memory.hit":  p.MemoryHits,
		"cache.memory.miss": p.MemoryMisses,
		"loader.submitted":  p.Submitted,
		"loader.queue.full": p.QueueFull,
		"loader.disk.hit":   p.DiskHits,
		"loader.fetched":    p.Fetched,
		"loader.decoded":    p.Decoded,
		"loader.failed":     p.Failed,
		"loader.cache.io":   p.CacheIOErrors,
		"cache.evicted":     p.Evicted,
		"origin.rebases":    p.Rebases,
		"loader.bytes":      p.FetchedBytes,
	} {
		if err := p.reg.Register(name, m); err != nil {
			panic(err)
		}
	}
	return p
}

// ObserveFetch records one source fetch.
func (p *Pipeline) ObserveFetch(d time.Duration, size int) {
	p.Fetched.Inc(1)
	p.FetchedBytes.Mark(int64(size))
	p.latency.Add(float64(d) / float64(time.Millisecond))
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	MemoryHits    int64   `json:"memory_hits"`
	MemoryMisses  int64   `json:"memory_misses"`
	Submitted     int64   `json:"submitted"`
	QueueFull     int64   `json:"queue_full"`
	DiskHits      int64   `json:"disk_hits"`
	Fetched       int64   `json:"fetched"`
	Decoded       int64   `json:"decoded"`
	Failed        int64   `json:"failed"`
	CacheIOErrors int64   `json:"cache_io_errors"`
	Evicted       int64   `json:"evicted"`
	Rebases       int64   `json:"rebases"`
	FetchedBytes  int64   `json:"fetched_bytes"`
	BytesRate1    float64 `json:"bytes_rate_1m"`
	LatencyMeanMS float64 `json:"latency_mean_ms"`
	LatencyP50MS  float64 `json:"latency_p50_ms"`
	LatencyP95MS  float64 `json:"latency_p95_ms"`
}

func (p *Pipeline) Snapshot() Snapshot {
	bytes := p.FetchedBytes.Snapshot()
	s := Snapshot{
		MemoryHits:    p.MemoryHits.Snapshot().Count(),
		MemoryMisses:  p.MemoryMisses.Snapshot().Count(),
		Submitted:     p.Submitted.Snapshot().Count(),
		QueueFull:     p.QueueFull.Snapshot().Count(),
		DiskHits:      p.DiskHits.Snapshot().Count(),
		Fetched:       p.Fetched.Snapshot().Count(),
		Decoded:       p.Decoded.Snapshot().Count(),
		Failed:        p.Failed.Snapshot().Count(),
		CacheIOErrors: p.CacheIOErrors.Snapshot().Count(),
		Evicted:       p.Evicted.Snapshot().Count(),
		Rebases:       p.Rebases.Snapshot().Count(),
		FetchedBytes:  bytes.Count(),
		BytesRate1:    bytes.Rate1(),
	}
	if lat := p.latency.Values(); len(lat) > 0 {
		s.LatencyMeanMS, _ = stats.Mean(lat)
		s.LatencyP50MS, _ = stats.Percentile(lat, 50)
		s.LatencyP95MS, _ = stats.Percentile(lat, 95)
	}
	return s
}

// Each visits every registered metric.
func (p *Pipeline) Each(fn func(name string, metric interface{})) {
	p.reg.Each(fn)
}

// Log writes the snapshot at info level.
func (p *Pipeline) Log(logger *slog.Logger) {
	s := p.Snapshot()
	logger.Info("Tile pipeline",
		"memory.hit", humanize.Comma(s.MemoryHits),
		"memory.miss", humanize.Comma(s.MemoryMisses),
		"disk.hit", humanize.Comma(s.DiskHits),
		"fetched", humanize.Comma(s.Fetched),
		"failed", humanize.Comma(s.Failed),
		"bytes", humanize.Bytes(uint64(s.FetchedBytes)),
		"latency.p50", time.Duration(s.LatencyP50MS*float64(time.Millisecond)).Round(time.Millisecond),
		"latency.p95", time.Duration(s.LatencyP95MS*float64(time.Millisecond)).Round(time.Millisecond),
	)
}

func (p *Pipeline) Stop() {
	p.FetchedBytes.Stop()
}
