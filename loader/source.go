package loader

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tile"
)

// Source fetches raw tile bytes. Fetch may block on I/O and is only
// called from loader workers.
type Source interface {
	Fetch(ctx context.Context, a tile.Address) ([]byte, error)

	// Describe identifies the source for logs.
	Describe() string
}

// ZoomBounded is implemented by sources that know their zoom range.
type ZoomBounded interface {
	ZoomRange() (min, max uint32)
}

// NewSource builds the source config.URL points at.
// Malformed templates fail here, before any session starts.
func NewSource(config *params.SourceConfig) (Source, error) {
	if config == nil {
		config = params.DefaultSourceConfig()
	}
	u := strings.TrimSpace(config.URL)
	switch {
	case strings.HasPrefix(u, tileJSONPrefix):
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return ResolveTileJSON(ctx, strings.TrimPrefix(u, tileJSONPrefix), config, nil)
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return NewHTTPSource(config, nil)
	case strings.HasPrefix(u, "s3://"):
		return NewS3Source(config)
	case strings.HasPrefix(u, mbtilesPrefix), strings.HasSuffix(u, ".mbtiles"):
		return OpenMBTiles(strings.TrimPrefix(u, mbtilesPrefix))
	case strings.Contains(u, "://") && !strings.HasPrefix(u, "file://"):
		return nil, fmt.Errorf("%w: unsupported source scheme in %q", params.ErrInvalidConfig, u)
	}
	return NewFileSource(config)
}

func templateFor(pattern string, config *params.SourceConfig) (*tile.Template, error) {
	return tile.ParseTemplate(pattern,
		tile.WithReverseY(config.ReverseY),
		tile.WithZoomOffset(config.ZoomOffset),
		tile.WithSubdomains(config.Subdomains...),
	)
}

func defaultClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
