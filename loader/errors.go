package loader

import "errors"

var (
	// ErrFetch is a network or filesystem failure reading from the source.
	ErrFetch = errors.New("fetch failed")

	// ErrTileNotFound means the source has no tile at the address.
	// Retrying will not help.
	ErrTileNotFound = errors.New("tile not found at source")

	// ErrDecode is corrupt or unsupported image data.
	ErrDecode = errors.New("decode failed")

	// ErrCacheIO is a failure writing the disk tier. It is never fatal:
	// the tile is still delivered, only not persisted.
	ErrCacheIO = errors.New("cache io failed")
)

// Permanent reports whether err should not be retried.
func Permanent(err error) bool {
	return errors.Is(err, ErrTileNotFound)
}
