package stream

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/geotiles/common"
)

// TickMeter logs throughput of a long-running stream at a fixed interval.
type TickMeter struct {
	label      string
	interval   time.Duration
	started    time.Time
	ticker     *time.Ticker
	done       chan struct{}
	reg        metrics.Registry
	countMeter metrics.Meter
	sizeMeter  metrics.Meter
}

func NewTickMeter(label string, interval time.Duration) *TickMeter {
	// Meters do nothing without the global switch.
	metrics.Enabled = true

	reg := metrics.NewRegistry()
	rl := &TickMeter{
		label:      label,
		reg:        reg,
		interval:   interval,
		started:    time.Now(),
		done:       make(chan struct{}),
		countMeter: metrics.NewMeter(),
		sizeMeter:  metrics.NewMeter(),
	}
	if err := reg.Register("count.meter", rl.countMeter); err != nil {
		panic(err)
	}
	if err := reg.Register("size.meter", rl.sizeMeter); err != nil {
		panic(err)
	}
	rl.ticker = time.NewTicker(interval)
	go rl.run()
	return rl
}

// Mark counts one element of size bytes.
func (rl *TickMeter) Mark(size int) {
	rl.countMeter.Mark(1)
	rl.sizeMeter.Mark(int64(size))
}

func (rl *TickMeter) Count() int64 {
	return rl.countMeter.Snapshot().Count()
}

func (rl *TickMeter) run() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.ticker.C:
			rl.Log()
		}
	}
}

func (rl *TickMeter) Log() {
	countSnap := rl.countMeter.Snapshot()
	sizeSnap := rl.sizeMeter.Snapshot()

	slog.Info(rl.label, "n", humanize.Comma(countSnap.Count()),
		"tps", common.Round(countSnap.Rate1(), 1),
		"bps", humanize.Bytes(uint64(sizeSnap.Rate1())),
		"total.bytes", humanize.Bytes(uint64(sizeSnap.Count())),
		"running", time.Since(rl.started).Round(time.Second))
}

func (rl *TickMeter) Stop() {
	if rl == nil || rl.ticker == nil {
		return
	}
	select {
	case <-rl.done:
		return
	default:
	}
	rl.ticker.Stop()
	close(rl.done)
	rl.countMeter.Stop()
	rl.sizeMeter.Stop()
}
