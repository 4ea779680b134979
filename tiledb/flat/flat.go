// Package flat stores raw tiles as one file each under root/z/x/y.ext.
package flat

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotblauer/geotiles/tile"
	"github.com/rotblauer/geotiles/tiledb"
)

const (
	DirPerm  os.FileMode = 0770
	FilePerm os.FileMode = 0660

	tmpPrefix = ".tmp-"
)

type Flat struct {
	// path is the directory holding the z/x/y tree.
	// It includes the root directory.
	path string
	ext  string
}

func NewFlatWithRoot(root string) *Flat {
	root = filepath.Clean(root)
	// If root is not absolute, make it absolute.
	if !filepath.IsAbs(root) {
		root, _ = filepath.Abs(root)
	}
	return &Flat{path: root, ext: "png"}
}

// Joining descends into a subdirectory, eg. a source namespace.
func (f *Flat) Joining(paths ...string) *Flat {
	f.path = filepath.Join(append([]string{f.path}, paths...)...)
	return f
}

// WithExtension sets the file extension of tile files.
func (f *Flat) WithExtension(ext string) *Flat {
	f.ext = strings.TrimPrefix(ext, ".")
	return f
}

// Exists returns true if the directory exists.
func (f *Flat) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

func (f *Flat) MkdirAll() error {
	return os.MkdirAll(f.path, DirPerm)
}

func (f *Flat) Path() string {
	return f.path
}

// TilePath is where a is stored.
func (f *Flat) TilePath(a tile.Address) string {
	name := strconv.FormatUint(uint64(a.Y), 10)
	if f.ext != "" {
		name += "." + f.ext
	}
	return filepath.Join(f.path,
		strconv.FormatUint(uint64(a.Z), 10),
		strconv.FormatUint(uint64(a.X), 10),
		name)
}

func (f *Flat) Get(a tile.Address) ([]byte, error) {
	data, err := os.ReadFile(f.TilePath(a))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", tiledb.ErrNotFound, a)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %v is empty", tiledb.ErrNotFound, a)
	}
	return data, nil
}

func (f *Flat) Has(a tile.Address) bool {
	fi, err := os.Stat(f.TilePath(a))
	return err == nil && fi.Size() > 0
}

// Put writes data atomically: readers see either no file or the whole tile.
func (f *Flat) Put(a tile.Address, data []byte) error {
	path := f.TilePath(a)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(FilePerm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (f *Flat) Delete(a tile.Address) error {
	err := os.Remove(f.TilePath(a))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *Flat) Close() error {
	return nil
}

// Entry is one stored tile file.
type Entry struct {
	Address tile.Address
	Size    int64
	ModTime time.Time
	path    string
}

// Entries lists every tile file under the store, skipping anything that
// does not look like z/x/y.ext.
func (f *Flat) Entries() ([]Entry, error) {
	var out []Entry
	if !f.Exists() {
		return out, nil
	}
	err := filepath.WalkDir(f.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		a, ok := f.parse(path)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Entry{Address: a, Size: info.Size(), ModTime: info.ModTime(), path: path})
		return nil
	})
	return out, err
}

func (f *Flat) Walk(fn func(a tile.Address, size int64) error) error {
	entries, err := f.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e.Address, e.Size); err != nil {
			return err
		}
	}
	return nil
}

// Usage is the number of tiles and bytes stored.
func (f *Flat) Usage() (n int, size int64, err error) {
	entries, err := f.Entries()
	for _, e := range entries {
		size += e.Size
	}
	return len(entries), size, err
}

// Prune removes the oldest written tiles until at most maxBytes remain.
// Removing entries never affects correctness; they are fetched again on demand.
func (f *Flat) Prune(maxBytes int64) (removed int, freed int64, err error) {
	entries, err := f.Entries()
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	for _, e := range entries {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, freed, err
		}
		total -= e.Size
		freed += e.Size
		removed++
	}
	return removed, freed, nil
}

func (f *Flat) parse(path string) (tile.Address, bool) {
	rel, err := filepath.Rel(f.path, path)
	if err != nil {
		return tile.Address{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return tile.Address{}, false
	}
	y := parts[2]
	if f.ext != "" {
		if !strings.HasSuffix(y, "."+f.ext) {
			return tile.Address{}, false
		}
		y = strings.TrimSuffix(y, "."+f.ext)
	}
	a, err := tile.ParseAddress(parts[0] + "/" + parts[1] + "/" + y)
	if err != nil {
		return tile.Address{}, false
	}
	return a, true
}
