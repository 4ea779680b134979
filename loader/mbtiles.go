package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tile"
)

const mbtilesPrefix = "mbtiles://"

// MBTilesSource reads raster tiles from an MBTiles sqlite file.
// Rows in the file are TMS; addresses are converted on the way in.
type MBTilesSource struct {
	db   *sql.DB
	path string

	minZoom, maxZoom uint32
	format           string
}

func OpenMBTiles(path string) (*MBTilesSource, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty mbtiles path", params.ErrInvalidConfig)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("%w: mbtiles %s: %v", params.ErrInvalidConfig, path, err)
	}
	s := &MBTilesSource{db: db, path: path, maxZoom: params.MaxZoomLimit}
	if err := s.readMetadata(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MBTilesSource) readMetadata() error {
	rows, err := s.db.Query(`SELECT name, value FROM metadata`)
	if err != nil {
		return fmt.Errorf("%w: mbtiles %s: %v", params.ErrInvalidConfig, s.path, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		switch name {
		case "minzoom":
			if z, err := strconv.ParseUint(value, 10, 32); err == nil {
				s.minZoom = uint32(z)
			}
		case "maxzoom":
			if z, err := strconv.ParseUint(value, 10, 32); err == nil {
				s.maxZoom = uint32(z)
			}
		case "format":
			s.format = value
		}
	}
	return rows.Err()
}

func (s *MBTilesSource) Describe() string {
	return mbtilesPrefix + s.path
}

func (s *MBTilesSource) ZoomRange() (uint32, uint32) {
	return s.minZoom, s.maxZoom
}

// Format is the metadata tile format, eg. "png". Empty if not declared.
func (s *MBTilesSource) Format() string {
	return s.format
}

func (s *MBTilesSource) Fetch(ctx context.Context, a tile.Address) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		a.Z, a.X, a.TMSRow(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v in %s", ErrTileNotFound, a, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return data, nil
}

func (s *MBTilesSource) Close() error {
	return s.db.Close()
}
