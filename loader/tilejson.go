package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rotblauer/geotiles/params"
	"github.com/tidwall/gjson"
)

const tileJSONPrefix = "tilejson+"

// ResolveTileJSON reads a TileJSON document and returns an HTTP source
// for its first tile template, bounded to the document's zoom range.
func ResolveTileJSON(ctx context.Context, url string, config *params.SourceConfig, client *http.Client) (*HTTPSource, error) {
	if client == nil {
		client = defaultClient(config.Timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: tilejson %q: %v", params.ErrInvalidConfig, url, err)
	}
	ua := config.UserAgent
	if ua == "" {
		ua = params.DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	for k, v := range config.Headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: tilejson: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tilejson %s: %s", ErrFetch, url, resp.Status)
	}
	doc, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: tilejson: %v", ErrFetch, err)
	}
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("%w: tilejson %s is not json", params.ErrInvalidConfig, url)
	}

	pattern := gjson.GetBytes(doc, "tiles.0").String()
	if pattern == "" {
		return nil, fmt.Errorf("%w: tilejson %s has no tiles", params.ErrInvalidConfig, url)
	}
	resolved := *config
	resolved.URL = pattern
	if gjson.GetBytes(doc, "scheme").String() == "tms" {
		resolved.ReverseY = !resolved.ReverseY
	}
	src, err := NewHTTPSource(&resolved, client)
	if err != nil {
		return nil, err
	}
	if minz, maxz := gjson.GetBytes(doc, "minzoom"), gjson.GetBytes(doc, "maxzoom"); minz.Exists() || maxz.Exists() {
		src.zoomBounded = true
		src.minZoom = uint32(minz.Uint())
		src.maxZoom = params.MaxZoomLimit
		if maxz.Exists() {
			src.maxZoom = uint32(maxz.Uint())
		}
	}
	return src, nil
}
