// Package tiledb holds the persistent tier of the tile cache:
// raw tile bytes keyed by address, surviving restarts.
package tiledb

import (
	"errors"

	"github.com/rotblauer/geotiles/tile"
)

// ErrNotFound is returned by Get for addresses the store does not hold.
var ErrNotFound = errors.New("tile not in store")

// Store maps tile addresses to raw bytes. Entries are immutable once written.
// Implementations are safe for concurrent use by loader workers.
type Store interface {
	Get(a tile.Address) ([]byte, error)
	Put(a tile.Address, data []byte) error
	Delete(a tile.Address) error
	Has(a tile.Address) bool
	Close() error
}

// Walker is implemented by stores that can enumerate their entries.
type Walker interface {
	Walk(fn func(a tile.Address, size int64) error) error
}

// Nop is a store that holds nothing, for memory-only caching.
type Nop struct{}

func (Nop) Get(tile.Address) ([]byte, error)  { return nil, ErrNotFound }
func (Nop) Put(tile.Address, []byte) error     { return nil }
func (Nop) Delete(tile.Address) error          { return nil }
func (Nop) Has(tile.Address) bool              { return false }
func (Nop) Close() error                       { return nil }
