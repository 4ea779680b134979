/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"log"
	"log/slog"
	"time"

	"github.com/rotblauer/geotiles/metrics/influxdb"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/session"
	"github.com/spf13/cobra"
)

var optViewFrames int
var optViewFPS int
var optViewPanX float64
var optViewPanY float64
var optViewZoomRate float64
var optViewLogEvery time.Duration

// viewCmd runs a headless session.
var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Run a headless map session",
	Long: `Runs the frame loop without a renderer: the camera pans and zooms at a
steady rate while tiles stream in. Frame summaries and a coordinate readout
are logged. Useful for exercising a tile source and the cache.

Examples:

  geotiles view --frames 600 --pan-x 40
  geotiles view --zoom-rate 0.5 --source.url 'https://tile.openstreetmap.org/{z}/{x}/{y}.png'
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		v, err := loadViper(cmd)
		if err != nil {
			log.Fatalln(err)
		}
		config, err := params.LoadMapConfig(v)
		if err != nil {
			log.Fatalln(err)
		}
		influxConfig, err := params.LoadInfluxDBConfig(v)
		if err != nil {
			log.Fatalln(err)
		}
		s, err := session.New(config)
		if err != nil {
			log.Fatalln(err)
		}

		ctx, cancel := interruptibleContext()
		defer cancel()
		s.Start(ctx)
		exported := make(chan struct{})
		go func() {
			defer close(exported)
			influxdb.Run(ctx, influxConfig, s.Describe(), s.Metrics())
		}()

		fps := max(optViewFPS, 1)
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()

		camera := s.Camera()
		lastLog := time.Now()
	loop:
		for n := 0; optViewFrames <= 0 || n < optViewFrames; n++ {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
			}
			camera = camera.Pan(optViewPanX/float64(fps), optViewPanY/float64(fps))
			if optViewZoomRate != 0 {
				next := camera.ZoomBy(optViewZoomRate / float64(fps))
				if z := next.ZoomLevel(config.Zoom.TileSize); z >= float64(config.Zoom.Min) && z <= float64(config.Zoom.Max) {
					camera = next
				}
			}
			f := s.Update(camera)
			if f.Rebase != nil {
				slog.Info("Rebased", "frame", f.Number, "delta", f.Rebase.Delta)
			}
			slog.Debug("Frame", "n", f.Number, "zoom", f.Zoom, "events", len(f.Events),
				"visible", f.Visible, "pending", f.Pending)
			if time.Since(lastLog) >= optViewLogEvery {
				lastLog = time.Now()
				slog.Info("View", "frame", f.Number, "zoom", f.Zoom,
					"visible", f.Visible, "pending", f.Pending, "coverage", f.Coverage,
					"at", s.Readout(f.Camera).String())
				s.Metrics().Log(slog.Default())
			}
		}
		cancel()
		<-exported
		if err := s.Close(); err != nil {
			slog.Error("Close session", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)

	flags := viewCmd.Flags()
	flags.IntVar(&optViewFrames, "frames", 0, "Frames to run; 0 runs until interrupted")
	flags.IntVar(&optViewFPS, "fps", 30, "Frames per second")
	flags.Float64Var(&optViewPanX, "pan-x", 0, "Pan speed east, screen pixels per second")
	flags.Float64Var(&optViewPanY, "pan-y", 0, "Pan speed south, screen pixels per second")
	flags.Float64Var(&optViewZoomRate, "zoom-rate", 0, "Zoom levels per second")
	flags.DurationVar(&optViewLogEvery, "log-every", time.Second, "Interval between view log lines")
}
