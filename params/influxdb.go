package params

import (
	"os"
	"time"
)

// InfluxDBConfig enables exporting session statistics.
// Export is off unless URL is set.
type InfluxDBConfig struct {
	URL      string        `mapstructure:"url"`
	Token    string        `mapstructure:"token"`
	Org      string        `mapstructure:"org"`
	Bucket   string        `mapstructure:"bucket"`
	Interval time.Duration `mapstructure:"interval"`
}

func DefaultInfluxDBConfig() *InfluxDBConfig {
	return &InfluxDBConfig{
		URL:      os.Getenv("INFLUXDB_URL"),
		Token:    os.Getenv("INFLUXDB_TOKEN"),
		Org:      os.Getenv("INFLUXDB_ORG"),
		Bucket:   os.Getenv("INFLUXDB_BUCKET"),
		Interval: 10 * time.Second,
	}
}

func (c *InfluxDBConfig) Enabled() bool {
	return c != nil && c.URL != ""
}
