// Package imagesource provides pluggable image readers for demandtex.
//
// An ImageSource hands the loader pipeline decoded RGBA8 mip levels on
// demand. The package ships three implementations: FileSource (decodes
// image files, sniffing the format to pick a decoder), MemorySource (wraps
// caller-owned pixels), and Checkerboard (procedural, handy for demos and
// tests). Applications can implement the interface themselves to stream
// from any producer.
package imagesource

import (
	"errors"
	"time"
)

// Package errors.
var (
	// ErrNotOpen is returned when a read is issued before Open succeeds.
	ErrNotOpen = errors.New("imagesource: source not open")

	// ErrBadLevel is returned when a requested mip level or its expected
	// dimensions do not match the source.
	ErrBadLevel = errors.New("imagesource: bad mip level request")

	// ErrShortBuffer is returned when the destination cannot hold a level.
	ErrShortBuffer = errors.New("imagesource: destination buffer too small")
)

// Info describes an opened image.
type Info struct {
	// Width and Height are the base level dimensions in pixels.
	Width  int
	Height int

	// Channels is the source channel count (1, 3, or 4). Reads always
	// deliver RGBA8 regardless.
	Channels int

	// MipLevels is the number of levels the source can deliver.
	MipLevels int
}

// ImageSource is a mipmapped image reader.
//
// All methods must be safe for concurrent use; the loader may probe
// metadata on one goroutine while a worker reads pixel data on another.
// Implementations may cache decoded levels after the first read.
type ImageSource interface {
	// Open reads the image header and returns its metadata. Open on an
	// already-open source returns the cached info.
	Open() (Info, error)

	// Close releases cached data. The source may be reopened.
	Close() error

	// IsOpen reports whether Open has succeeded.
	IsOpen() bool

	// Info returns the metadata from the last successful Open.
	Info() Info

	// ReadMipLevel writes the RGBA8 pixels of the given level into dst.
	// expectedWidth and expectedHeight assert the caller's idea of the
	// level dimensions; a mismatch is an error.
	ReadMipLevel(dst []byte, level, expectedWidth, expectedHeight int) error

	// ReadBaseColor returns the normalized RGBA average of the whole
	// image (the 1x1 level).
	ReadBaseColor() ([4]float32, error)

	// BytesRead returns the cumulative bytes read from the underlying
	// producer.
	BytesRead() uint64

	// ReadTime returns the cumulative time spent reading and decoding.
	ReadTime() time.Duration

	// Hash returns a 64-bit content identifier used for deduplication.
	// Two sources with the same non-zero hash are assumed to produce
	// identical pixels. Zero disables content deduplication.
	Hash() uint64
}
