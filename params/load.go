package params

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, eg. GEOTILES_SOURCE_URL.
const EnvPrefix = "GEOTILES"

// NewViper returns a viper instance reading path (if non-empty),
// GEOTILES_* environment variables and the given flags.
// Flags are bound by name, so a flag named "source.url" overrides that key.
func NewViper(path string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"source.url", "source.user_agent", "source.reverse_y", "source.zoom_offset",
		"cache.backend", "cache.memory_capacity",
		"loader.workers",
		"origin.recenter_threshold",
		"zoom.min", "zoom.max",
		"visible.viewport_margin",
		"start.lon", "start.lat", "start.zoom",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	if err := v.BindEnv("cache.root", CacheRootEnv, EnvPrefix+"_CACHE_ROOT"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// LoadMapConfig overlays v onto DefaultMapConfig and validates the result.
func LoadMapConfig(v *viper.Viper) (*MapConfig, error) {
	c := DefaultMapConfig()
	if v != nil {
		if err := v.Unmarshal(c); err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadWebDaemonConfig reads the map config from the top level of v and the
// daemon settings from its webd and influxdb sections.
func LoadWebDaemonConfig(v *viper.Viper) (*WebDaemonConfig, error) {
	c := DefaultWebDaemonConfig()
	m, err := LoadMapConfig(v)
	if err != nil {
		return nil, err
	}
	if err := unmarshalSection(v, "webd", c); err != nil {
		return nil, err
	}
	c.Map = m
	if c.InfluxDB == nil {
		c.InfluxDB = DefaultInfluxDBConfig()
	}
	if err := unmarshalSection(v, "influxdb", c.InfluxDB); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadInfluxDBConfig reads the influxdb section of v over DefaultInfluxDBConfig.
func LoadInfluxDBConfig(v *viper.Viper) (*InfluxDBConfig, error) {
	c := DefaultInfluxDBConfig()
	if err := unmarshalSection(v, "influxdb", c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadSeedConfig reads the seed section of v over DefaultSeedConfig.
func LoadSeedConfig(v *viper.Viper) (*SeedConfig, error) {
	c := DefaultSeedConfig()
	if err := unmarshalSection(v, "seed", c); err != nil {
		return nil, err
	}
	return c, nil
}

// unmarshalSection decodes the key section of v, if present, onto out.
func unmarshalSection(v *viper.Viper, key string, out any) error {
	if v == nil {
		return nil
	}
	sub := v.Sub(key)
	if sub == nil {
		return nil
	}
	if err := sub.Unmarshal(out); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	return nil
}
