package params

import (
	"errors"
	"testing"
	"time"
)

func TestWebDaemonConfig_Validate(t *testing.T) {
	if err := DefaultWebDaemonConfig().Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	cases := map[string]func(c *WebDaemonConfig){
		"no port":        func(c *WebDaemonConfig) { c.Address = "localhost" },
		"bad network":    func(c *WebDaemonConfig) { c.Network = "udp" },
		"empty socket":   func(c *WebDaemonConfig) { c.Network, c.Address = "unix", "" },
		"zero interval":  func(c *WebDaemonConfig) { c.FrameInterval = 0 },
		"nil map config": func(c *WebDaemonConfig) { c.Map = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultWebDaemonConfig()
			mutate(c)
			if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	c := DefaultWebDaemonConfig()
	c.Network, c.Address, c.FrameInterval = "unix", "/tmp/geotiles.sock", time.Second
	if err := c.Validate(); err != nil {
		t.Errorf("Expected unix socket config to validate, got %v", err)
	}
}
