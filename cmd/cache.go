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
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tiledb"
	"github.com/rotblauer/geotiles/tiledb/cache"
	"github.com/rotblauer/geotiles/tiledb/flat"
	"github.com/spf13/cobra"
)

var optPruneMaxBytes string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the disk cache of the configured source",
}

var cacheStatCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show disk cache usage",
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		config, store := openCacheStore(cmd)
		defer store.Close()

		type usager interface {
			Usage() (int, int64, error)
		}
		u, ok := store.(usager)
		if !ok {
			fmt.Printf("backend %s keeps no disk cache\n", config.Cache.Backend)
			return
		}
		n, size, err := u.Usage()
		if err != nil {
			log.Fatalln(err)
		}
		path := ""
		if p, ok := store.(interface{ Path() string }); ok {
			path = p.Path()
		}
		fmt.Printf("source:  %s\nbackend: %s\npath:    %s\ntiles:   %s\nsize:    %s\n",
			config.Source.URL, config.Cache.Backend, path, humanize.Comma(int64(n)), humanize.Bytes(uint64(size)))
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove the oldest cached tiles until the cache fits a size",
	Long: `Removes the oldest written tiles of the flat backend until at most
--max-bytes remain. Defaults to cache.disk_max_bytes from the config.

  geotiles cache prune --max-bytes 500MB
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		config, store := openCacheStore(cmd)
		defer store.Close()

		f, ok := store.(*flat.Flat)
		if !ok {
			log.Fatalf("prune supports the flat backend, have %s\n", config.Cache.Backend)
		}
		limit := config.Cache.DiskMaxBytes
		if cmd.Flags().Changed("max-bytes") {
			b, err := humanize.ParseBytes(optPruneMaxBytes)
			if err != nil {
				log.Fatalln(err)
			}
			limit = int64(b)
		}
		if limit <= 0 {
			log.Fatalln("no size limit: set --max-bytes or cache.disk_max_bytes")
		}
		removed, freed, err := f.Prune(limit)
		if err != nil {
			log.Fatalln(err)
		}
		fmt.Printf("removed %s tiles, freed %s\n", humanize.Comma(int64(removed)), humanize.Bytes(uint64(freed)))
	},
}

func openCacheStore(cmd *cobra.Command) (*params.MapConfig, tiledb.Store) {
	v, err := loadViper(cmd)
	if err != nil {
		log.Fatalln(err)
	}
	config, err := params.LoadMapConfig(v)
	if err != nil {
		log.Fatalln(err)
	}
	ns, err := cache.Namespace(&config.Source)
	if err != nil {
		log.Fatalln(err)
	}
	store, err := cache.OpenStore(&config.Cache, ns, config.Source.Extension)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return config, store
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatCmd)
	cacheCmd.AddCommand(cachePruneCmd)

	cachePruneCmd.Flags().StringVar(&optPruneMaxBytes, "max-bytes", "", "Size to prune down to, eg. 500MB")
}
