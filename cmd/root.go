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
	"context"
	"log/slog"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/rotblauer/geotiles/common"
	"github.com/rotblauer/geotiles/params"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var optConfigPath string
var optVerbosity int
var optLogJSON bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "geotiles",
	Short: "Web Mercator tile streaming for large-world maps",
	Long: `geotiles streams raster map tiles around a moving camera.

Coordinates are kept precise far from the origin by recentering a local
origin as the camera travels. Tiles are fetched by a worker pool, cached in
memory and on disk, and reported to the renderer as ready, moved or removed.

Configuration is read from --config (yaml, toml or json), then GEOTILES_*
environment variables, then flags. Examples:

  geotiles view --frames 300 --pan-x 20
  geotiles seed --bound 13.08,52.33,13.76,52.68 --max-zoom 14
  geotiles webd --address localhost:3000
  geotiles cache stat
`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pFlags := rootCmd.PersistentFlags()
	pFlags.StringVar(&optConfigPath, "config", "", "Config file")
	pFlags.IntVar(&optVerbosity, "verbosity", 2, "0 errors, 1 warnings, 2 info, 3 debug")
	pFlags.BoolVar(&optLogJSON, "log.json", false, "Log as JSON")

	// Flags named like config keys override them.
	defaults := params.DefaultMapConfig()
	pFlags.String("source.url", defaults.Source.URL, "Tile source: URL template, tilejson+URL, s3://, mbtiles:// or a path template")
	pFlags.String("cache.backend", defaults.Cache.Backend, "Disk tier: flat, bolt or memory")
	pFlags.String("cache.root", defaults.Cache.Root, "Disk tier root directory")
	pFlags.Int("loader.workers", defaults.Loader.Workers, "Fetch and decode workers")
	pFlags.Float64("start.lon", defaults.Start.Lon, "Start longitude")
	pFlags.Float64("start.lat", defaults.Start.Lat, "Start latitude")
	pFlags.Float64("start.zoom", defaults.Start.Zoom, "Start zoom")
}

func setDefaultSlog(cmd *cobra.Command, args []string) {
	h := common.NewSlogHandler(os.Stderr, optVerbosity, optLogJSON)
	slog.SetDefault(slog.New(h).With("cmd", cmd.Name()))
}

// loadViper reads the config file and the flags the user actually set.
// Unset flags would otherwise shadow config file values with their defaults.
func loadViper(cmd *cobra.Command) (*viper.Viper, error) {
	path := optConfigPath
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, err
		}
		path = expanded
	}
	changed := pflag.NewFlagSet("changed", pflag.ContinueOnError)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		changed.AddFlag(f)
	})
	return params.NewViper(path, changed)
}

// interruptibleContext is cancelled on the first interrupt signal.
func interruptibleContext() (context.Context, context.CancelFunc) {
	return common.InterruptContext(context.Background())
}
