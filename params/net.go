package params

import (
	"fmt"
	"net"
)

type ListenerConfig struct {
	// Network is "tcp", "tcp4", "tcp6" or "unix".
	Network string `mapstructure:"network"`
	// Address is host:port for tcp networks, a socket path for unix.
	Address string `mapstructure:"address"`
}

func (c ListenerConfig) Validate() error {
	switch c.Network {
	case "tcp", "tcp4", "tcp6":
		if _, _, err := net.SplitHostPort(c.Address); err != nil {
			return fmt.Errorf("%w: listener address %q: %v", ErrInvalidConfig, c.Address, err)
		}
	case "unix":
		if c.Address == "" {
			return fmt.Errorf("%w: listener socket path is empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: listener network %q", ErrInvalidConfig, c.Network)
	}
	return nil
}
