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
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rotblauer/geotiles/loader"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/seed"
	"github.com/rotblauer/geotiles/tiledb/cache"
	"github.com/spf13/cobra"
)

var optSeedBound []float64
var optSeedGeoJSON string
var optSeedMinZoom uint32
var optSeedMaxZoom uint32
var optSeedWorkers int
var optSeedForce bool
var optSeedProgress bool
var optSeedMaxTiles int64

// seedCmd warms the disk tier.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Prefetch tiles for an area into the disk cache",
	Long: `Fetches every tile covering an area, for a range of zooms, into the
configured disk tier. Tiles already cached are skipped unless --force.

The area is a bound [west,south,east,north] in degrees, or the geometries of
a GeoJSON FeatureCollection. Seeds larger than --max-tiles are refused:
most public tile servers forbid bulk downloading.

Examples:

  geotiles seed --bound 13.08,52.33,13.76,52.68 --max-zoom 14
  geotiles seed --geojson route.geojson --min-zoom 10 --max-zoom 16 --workers 2
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
		seedConfig, err := params.LoadSeedConfig(v)
		if err != nil {
			log.Fatalln(err)
		}
		applySeedFlags(cmd, seedConfig)

		if config.Cache.Backend == "memory" {
			log.Fatalln("seed needs a disk cache backend, have cache.backend=memory")
		}
		src, err := loader.NewSource(&config.Source)
		if err != nil {
			log.Fatalln(err)
		}
		if c, ok := src.(interface{ Close() error }); ok {
			defer c.Close()
		}
		ns, err := cache.Namespace(&config.Source)
		if err != nil {
			log.Fatalln(err)
		}
		store, err := cache.OpenStore(&config.Cache, ns, config.Source.Extension)
		if err != nil {
			log.Fatalln(err)
		}
		defer store.Close()

		l, err := loader.New(&config.Loader, src, store, loader.Decoder{TileSize: config.Zoom.TileSize}, nil)
		if err != nil {
			log.Fatalln(err)
		}
		task, err := seed.NewTask(seedConfig, l)
		if err != nil {
			log.Fatalln(err)
		}

		ctx, cancel := interruptibleContext()
		defer cancel()
		report, err := task.Run(ctx)
		if err != nil {
			slog.Warn("Seed interrupted", "error", err)
		}
		l.Metrics().Log(slog.Default())
		l.Metrics().Stop()

		b, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalln(err)
		}
		fmt.Println(string(b))
		if err := saveSeedReport(report.ID, b); err != nil {
			slog.Warn("Failed to save seed report", "error", err)
		}
	},
}

// saveSeedReport keeps a record of each seed under the data dir.
func saveSeedReport(id string, b []byte) error {
	dir := filepath.Join(params.DatadirRoot, "seeds")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, id+".json"), b, 0644)
}

// applySeedFlags lets explicitly set flags override the config file.
func applySeedFlags(cmd *cobra.Command, c *params.SeedConfig) {
	flags := cmd.Flags()
	if flags.Changed("bound") {
		c.Bound = optSeedBound
	}
	if flags.Changed("geojson") {
		c.GeoJSON = optSeedGeoJSON
	}
	if flags.Changed("min-zoom") {
		c.MinZoom = optSeedMinZoom
	}
	if flags.Changed("max-zoom") {
		c.MaxZoom = optSeedMaxZoom
	}
	if flags.Changed("workers") {
		c.Workers = optSeedWorkers
	}
	if flags.Changed("force") {
		c.Force = optSeedForce
	}
	if flags.Changed("progress") {
		c.Progress = optSeedProgress
	}
	if flags.Changed("max-tiles") {
		c.MaxTiles = optSeedMaxTiles
	}
}

func init() {
	rootCmd.AddCommand(seedCmd)

	defaults := params.DefaultSeedConfig()
	flags := seedCmd.Flags()
	flags.Float64SliceVar(&optSeedBound, "bound", defaults.Bound, "Area as west,south,east,north degrees")
	flags.StringVar(&optSeedGeoJSON, "geojson", "", "GeoJSON FeatureCollection file covering the area")
	flags.Uint32Var(&optSeedMinZoom, "min-zoom", defaults.MinZoom, "First zoom")
	flags.Uint32Var(&optSeedMaxZoom, "max-zoom", defaults.MaxZoom, "Last zoom")
	flags.IntVar(&optSeedWorkers, "workers", defaults.Workers, "Concurrent fetches")
	flags.BoolVar(&optSeedForce, "force", false, "Refetch tiles already cached")
	flags.BoolVar(&optSeedProgress, "progress", defaults.Progress, "Show a progress bar per zoom")
	flags.Int64Var(&optSeedMaxTiles, "max-tiles", defaults.MaxTiles, "Refuse seeds with more tiles than this")
}
