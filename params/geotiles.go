package params

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/mitchellh/go-homedir"
)

func init() {
	metrics.Enabled = true
}

// ErrInvalidConfig wraps every configuration validation failure.
// These are fatal at initialization.
var ErrInvalidConfig = errors.New("invalid config")

// CacheRootEnv overrides the default disk cache root.
const CacheRootEnv = "GEOTILES_CACHE"

const (
	AppName          = "geotiles"
	DefaultUserAgent = "geotiles/0.1"

	BoltDBName     = "tiles.db"
	BoltTileBucket = "tiles"
)

// DatadirRoot holds state that is not cache, eg. the seed task logs.
var DatadirRoot = func() string {
	home, err := homedir.Dir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".geotiles")
}()

// DefaultCacheRoot is $GEOTILES_CACHE if set, else ~/.cache/geotiles.
// Without a home directory it falls back to the system temp dir.
func DefaultCacheRoot() string {
	if v := os.Getenv(CacheRootEnv); v != "" {
		if p, err := homedir.Expand(v); err == nil {
			return p
		}
		return v
	}
	p, err := homedir.Expand(filepath.Join("~", ".cache", AppName))
	if err != nil {
		return filepath.Join(os.TempDir(), AppName+"_cache")
	}
	return p
}
