package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/golang/groupcache/singleflight"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tile"
)

// maxTileBytes guards against a misbehaving server streaming forever.
const maxTileBytes = 16 << 20

// HTTPSource fetches tiles from a slippy map or TMS server.
// Concurrent fetches of the same address collapse into one request.
type HTTPSource struct {
	template *tile.Template
	client   *http.Client
	header   http.Header
	group    singleflight.Group
	logger   *slog.Logger

	minZoom, maxZoom uint32
	zoomBounded      bool
}

// NewHTTPSource uses client, or a client with the configured timeout when nil.
func NewHTTPSource(config *params.SourceConfig, client *http.Client) (*HTTPSource, error) {
	tmpl, err := templateFor(config.URL, config)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = defaultClient(config.Timeout)
	}
	header := http.Header{}
	ua := config.UserAgent
	if ua == "" {
		ua = params.DefaultUserAgent
	}
	header.Set("User-Agent", ua)
	for k, v := range config.Headers {
		header.Set(k, v)
	}
	return &HTTPSource{
		template: tmpl,
		client:   client,
		header:   header,
		logger:   slog.With("source", "http"),
	}, nil
}

func (s *HTTPSource) Describe() string {
	return s.template.Pattern()
}

func (s *HTTPSource) ZoomRange() (uint32, uint32) {
	if !s.zoomBounded {
		return 0, params.MaxZoomLimit
	}
	return s.minZoom, s.maxZoom
}

func (s *HTTPSource) Fetch(ctx context.Context, a tile.Address) ([]byte, error) {
	if s.zoomBounded && (a.Z < s.minZoom || a.Z > s.maxZoom) {
		return nil, fmt.Errorf("%w: %v outside zoom %d-%d", ErrTileNotFound, a, s.minZoom, s.maxZoom)
	}
	v, err := s.group.Do(a.String(), func() (interface{}, error) {
		return s.get(ctx, s.template.Format(a))
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *HTTPSource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header = s.header.Clone()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusNoContent:
		return nil, fmt.Errorf("%w: %s: %s", ErrTileNotFound, url, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s: %s", ErrFetch, url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	s.logger.Debug("Fetched tile", "url", url, "bytes", len(data))
	return data, nil
}
