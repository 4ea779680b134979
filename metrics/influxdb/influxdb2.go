// Package influxdb exports tile pipeline snapshots to an InfluxDB v2 bucket.
package influxdb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rotblauer/geotiles/metrics"
	"github.com/rotblauer/geotiles/params"
)

const measurement = "geotiles"

// Point converts one snapshot to a line protocol point tagged with the source.
func Point(source string, s metrics.Snapshot, at time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement(measurement).
		SetTime(at).
		AddTag("source", source).
		AddField("memory_hits", s.MemoryHits).
		AddField("memory_misses", s.MemoryMisses).
		AddField("submitted", s.Submitted).
		AddField("queue_full", s.QueueFull).
		AddField("disk_hits", s.DiskHits).
		AddField("fetched", s.Fetched).
		AddField("decoded", s.Decoded).
		AddField("failed", s.Failed).
		AddField("cache_io_errors", s.CacheIOErrors).
		AddField("evicted", s.Evicted).
		AddField("rebases", s.Rebases).
		AddField("fetched_bytes", s.FetchedBytes).
		AddField("bytes_rate_1m", s.BytesRate1).
		AddField("latency_mean_ms", s.LatencyMeanMS).
		AddField("latency_p50_ms", s.LatencyP50MS).
		AddField("latency_p95_ms", s.LatencyP95MS)
}

// Export posts points to the configured bucket.
// The Write API buffers and flushes; the last error encountered is returned.
func Export(config *params.InfluxDBConfig, points ...*write.Point) error {
	opts := influxdb2.DefaultOptions()
	opts.SetPrecision(time.Second)
	client := influxdb2.NewClientWithOptions(config.URL, config.Token, opts)
	writeAPI := client.WriteAPI(config.Org, config.Bucket)

	// Errors must be read before any write or the writer blocks.
	errorsCh := writeAPI.Errors()
	var err error
	wait := sync.WaitGroup{}
	wait.Add(1)
	go func() {
		defer wait.Done()
		for e := range errorsCh {
			if e != nil {
				err = e
			}
		}
	}()

	for _, p := range points {
		writeAPI.WritePoint(p)
	}
	writeAPI.Flush()
	client.Close()
	wait.Wait()
	return err
}

// Run exports a snapshot of p every config.Interval until ctx is done,
// and once more on the way out.
func Run(ctx context.Context, config *params.InfluxDBConfig, source string, p *metrics.Pipeline) {
	if !config.Enabled() {
		return
	}
	interval := config.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	logger := slog.With("export", "influxdb", "bucket", config.Bucket)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := Export(config, Point(source, p.Snapshot(), time.Now())); err != nil {
				logger.Warn("Final export failed", "error", err)
			}
			return
		case now := <-ticker.C:
			if err := Export(config, Point(source, p.Snapshot(), now)); err != nil {
				logger.Warn("Export failed", "error", err)
			}
		}
	}
}
