package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tile"
)

// FileSource reads a tile pyramid from the local filesystem.
type FileSource struct {
	template *tile.Template
}

func NewFileSource(config *params.SourceConfig) (*FileSource, error) {
	tmpl, err := templateFor(strings.TrimPrefix(config.URL, "file://"), config)
	if err != nil {
		return nil, err
	}
	return &FileSource{template: tmpl}, nil
}

func (s *FileSource) Describe() string {
	return "file://" + s.template.Pattern()
}

func (s *FileSource) Fetch(ctx context.Context, a tile.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	path := s.template.Format(a)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return data, nil
}
