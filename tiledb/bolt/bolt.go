// Package bolt stores raw tiles in a single bbolt file,
// one bucket per source namespace, keyed z/x/y.
package bolt

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/tile"
	"github.com/rotblauer/geotiles/tiledb"
	"go.etcd.io/bbolt"
)

type Store struct {
	db     *bbolt.DB
	bucket []byte
}

// Open opens (creating if needed) root/tiles.db and the bucket for namespace.
func Open(root, namespace string) (*Store, error) {
	if err := os.MkdirAll(root, 0770); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(root, params.BoltDBName), 0660, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	bucket := []byte(params.BoltTileBucket + "/" + namespace)
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, bucket: bucket}, nil
}

func key(a tile.Address) []byte {
	return []byte(a.String())
}

func (s *Store) Get(a tile.Address) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucket).Get(key(a))
		if len(v) == 0 {
			return fmt.Errorf("%w: %v", tiledb.ErrNotFound, a)
		}
		// v is only valid inside the transaction.
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	return out, err
}

func (s *Store) Has(a tile.Address) bool {
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		found = len(tx.Bucket(s.bucket).Get(key(a))) > 0
		return nil
	})
	return found
}

func (s *Store) Put(a tile.Address, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put(key(a), data)
	})
}

func (s *Store) Delete(a tile.Address) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Delete(key(a))
	})
}

func (s *Store) Walk(fn func(a tile.Address, size int64) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			a, err := tile.ParseAddress(string(k))
			if err != nil {
				return nil
			}
			return fn(a, int64(len(v)))
		})
	})
}

// Usage is the number of tiles and bytes in the bucket.
func (s *Store) Usage() (n int, size int64, err error) {
	err = s.Walk(func(_ tile.Address, sz int64) error {
		n++
		size += sz
		return nil
	})
	return n, size, err
}

func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) Close() error {
	return s.db.Close()
}
