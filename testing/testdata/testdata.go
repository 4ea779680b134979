// Package testdata builds tile fixtures for tests: encoded tiles,
// a scriptable in-memory source and an in-memory disk tier.
package testdata

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/rotblauer/geotiles/tile"
	"github.com/rotblauer/geotiles/tiledb"
)

// basepath is the root directory of this package.
var basepath string

func init() {
	_, currentFile, _, _ := runtime.Caller(0)
	basepath = filepath.Dir(currentFile)
}

// Path returns the absolute path the given relative file or directory path,
// relative to this testdata/ directory.
// If rel is already absolute, it is returned unmodified.
func Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(basepath, rel)
}

// TileColor is a color unique enough per address to tell tiles apart.
func TileColor(a tile.Address) color.RGBA {
	return color.RGBA{R: uint8(a.X * 37), G: uint8(a.Y * 59), B: uint8(a.Z * 17), A: 0xff}
}

// PNG encodes a size×size image filled with c.
func PNG(size int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TilePNG(a tile.Address, size int) []byte {
	return PNG(size, TileColor(a))
}

// Source serves TilePNG for every valid address unless told otherwise.
// It counts fetches and notices concurrent fetches of one address.
type Source struct {
	Size int

	mu       sync.Mutex
	errs     map[tile.Address]error
	calls    map[tile.Address]int
	inflight map[tile.Address]int
	overlaps int
	gate     chan struct{}
}

func NewSource(size int) *Source {
	return &Source{
		Size:     size,
		errs:     make(map[tile.Address]error),
		calls:    make(map[tile.Address]int),
		inflight: make(map[tile.Address]int),
	}
}

func (s *Source) Describe() string {
	return "testdata"
}

func (s *Source) Fetch(ctx context.Context, a tile.Address) ([]byte, error) {
	s.mu.Lock()
	s.calls[a]++
	if s.inflight[a] > 0 {
		s.overlaps++
	}
	s.inflight[a]++
	gate := s.gate
	err := s.errs[a]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight[a]--
		s.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return TilePNG(a, s.Size), nil
}

// SetErr makes fetches of a fail with err. A nil err heals the address.
func (s *Source) SetErr(a tile.Address, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, a)
		return
	}
	s.errs[a] = err
}

// Block holds every fetch until Release.
func (s *Source) Block() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
}

func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *Source) Calls(a tile.Address) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[a]
}

func (s *Source) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Overlaps counts fetches that started while another fetch of the same address was running.
func (s *Source) Overlaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlaps
}

// Store is a map-backed tiledb.Store.
type Store struct {
	mu    sync.Mutex
	tiles map[tile.Address][]byte
	puts  int
}

func NewStore() *Store {
	return &Store{tiles: make(map[tile.Address][]byte)}
}

func (s *Store) Get(a tile.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.tiles[a]
	if !ok {
		return nil, tiledb.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) Put(a tile.Address, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles[a] = append([]byte(nil), data...)
	s.puts++
	return nil
}

func (s *Store) Delete(a tile.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tiles, a)
	return nil
}

func (s *Store) Has(a tile.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tiles[a]
	return ok
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tiles)
}

func (s *Store) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
