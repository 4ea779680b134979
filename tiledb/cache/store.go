package cache

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tiledb"
	"github.com/rotblauer/geotiles/tiledb/bolt"
	"github.com/rotblauer/geotiles/tiledb/flat"
)

// Namespace separates disk entries of different sources.
// Only settings that change tile content take part; headers and timeouts do not.
func Namespace(src *params.SourceConfig) (string, error) {
	v := struct {
		URL        string
		ReverseY   bool
		ZoomOffset int
	}{src.URL, src.ReverseY, src.ZoomOffset}
	h, err := hashstructure.Hash(v, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h), nil
}

// OpenStore opens the configured disk tier for one source namespace.
func OpenStore(config *params.CacheConfig, namespace, ext string) (tiledb.Store, error) {
	switch config.Backend {
	case "memory":
		return tiledb.Nop{}, nil
	case "bolt":
		return bolt.Open(config.Root, namespace)
	case "flat", "":
		f := flat.NewFlatWithRoot(config.Root).Joining(namespace).WithExtension(ext)
		if err := f.MkdirAll(); err != nil {
			return nil, fmt.Errorf("%w: cache root %s: %v", params.ErrInvalidConfig, f.Path(), err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: cache.backend %q", params.ErrInvalidConfig, config.Backend)
}
