package params

import (
	"errors"
	"fmt"
	"time"
)

type WebDaemonConfig struct {
	ListenerConfig `mapstructure:",squash"`

	// FrameInterval is how often the session is updated.
	FrameInterval time.Duration `mapstructure:"frame_interval"`

	// Token, when set, is required to move the camera.
	Token string `mapstructure:"token"`

	Map      *MapConfig      `mapstructure:"map"`
	InfluxDB *InfluxDBConfig `mapstructure:"influxdb"`
}

// Validate checks the daemon's own settings; Map is validated by the session.
func (c *WebDaemonConfig) Validate() error {
	var errs []error
	if err := c.ListenerConfig.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: webd.frame_interval %v <= 0", ErrInvalidConfig, c.FrameInterval))
	}
	if c.Map == nil {
		errs = append(errs, fmt.Errorf("%w: webd map config is nil", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

func DefaultWebListenerConfig() ListenerConfig {
	return ListenerConfig{
		Network: "tcp",
		Address: "localhost:3000",
	}
}

func DefaultWebDaemonConfig() *WebDaemonConfig {
	return &WebDaemonConfig{
		ListenerConfig: DefaultWebListenerConfig(),
		FrameInterval:  time.Second / 30,
		Map:            DefaultMapConfig(),
		InfluxDB:       DefaultInfluxDBConfig(),
	}
}

func DefaultTestWebDaemonConfig() *WebDaemonConfig {
	d := DefaultWebDaemonConfig()
	d.Address = "localhost:3333"
	d.FrameInterval = 10 * time.Millisecond
	d.Map.Cache.Backend = "memory"
	d.InfluxDB = nil
	return d
}
