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
	"time"

	"github.com/rotblauer/geotiles/daemon/webd"
	"github.com/rotblauer/geotiles/params"
	"github.com/spf13/cobra"
)

var optHTTPAddr string
var optFrameInterval time.Duration
var optWebToken string

// webdCmd represents the serve command
var webdCmd = &cobra.Command{
	Use:   "webd",
	Short: "Serve a map session over HTTP and a websocket",
	Long: `Runs a map session and bridges it to a browser or native host.

  GET  /tiles/{z}/{x}/{y}  tile bytes through the disk cache
  GET  /status             uptime, config, last frame and pipeline counters
  GET  /frame              last frame summary
  POST /camera             {"lon":..,"lat":..,"zoom":..} or {"pan_x":..,"pan_y":..,"zoom_by":..}
  GET  /socket             websocket: tile, rebase and frame messages; accepts camera bodies

POST /camera requires the token, when one is set, as a bearer token or api_token param.
Statistics are exported to InfluxDB when INFLUXDB_URL is set.
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		v, err := loadViper(cmd)
		if err != nil {
			log.Fatalln(err)
		}
		config, err := params.LoadWebDaemonConfig(v)
		if err != nil {
			log.Fatalln(err)
		}
		if cmd.Flags().Changed("address") {
			config.Address = optHTTPAddr
		}
		if cmd.Flags().Changed("frame-interval") {
			config.FrameInterval = optFrameInterval
		}
		if cmd.Flags().Changed("token") {
			config.Token = optWebToken
		}
		if err := config.Validate(); err != nil {
			log.Fatalln(err)
		}

		server, err := webd.NewWebDaemon(config)
		if err != nil {
			log.Fatalln(err)
		}
		ctx, cancel := interruptibleContext()
		defer cancel()
		if err := server.Run(ctx); err != nil {
			log.Fatalln(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(webdCmd)

	defaults := params.DefaultWebDaemonConfig()

	pFlags := webdCmd.PersistentFlags()
	pFlags.StringVar(&optHTTPAddr, "address", defaults.Address, "HTTP address to listen on")
	pFlags.DurationVar(&optFrameInterval, "frame-interval", defaults.FrameInterval, "Time between session updates")
	pFlags.StringVar(&optWebToken, "token", "", "Token required to move the camera")
}
