package imagesource

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gogpu/demandtex/internal/mip"
)

// ErrBadPixels is returned for empty data or non-positive dimensions.
var ErrBadPixels = errors.New("imagesource: bad pixel data")

// MemorySource serves an image from caller-supplied pixels.
//
// The source takes its own copy of the data. Pixels may be 1-, 3-, or
// 4-channel; reads expand to RGBA8 with alpha 255. The content hash covers
// the pixel bytes and dimensions, so two MemorySources with identical
// content deduplicate to one texture.
type MemorySource struct {
	w, h, channels int
	base           []byte // RGBA8, expanded at construction
	hash           uint64

	mu     sync.Mutex
	open   bool
	levels [][]byte

	readTime  time.Duration
	bytesRead uint64
}

var _ ImageSource = (*MemorySource)(nil)

// NewMemorySource copies pixels and prepares an RGBA8 base level.
// pixels must hold w*h*channels bytes with channels of 1, 3, or 4.
func NewMemorySource(pixels []byte, w, h, channels int) (*MemorySource, error) {
	if len(pixels) == 0 || w <= 0 || h <= 0 {
		return nil, ErrBadPixels
	}
	if channels != 1 && channels != 3 && channels != 4 {
		return nil, ErrBadPixels
	}
	if len(pixels) < w*h*channels {
		return nil, ErrBadPixels
	}

	base := ExpandRGBA(pixels, w, h, channels)

	hasher := fnv.New64a()
	var dims [8]byte
	binary.LittleEndian.PutUint32(dims[0:], uint32(w))
	binary.LittleEndian.PutUint32(dims[4:], uint32(h))
	_, _ = hasher.Write(dims[:])
	_, _ = hasher.Write(base)
	hash := hasher.Sum64()
	if hash == 0 {
		hash = 1
	}

	return &MemorySource{w: w, h: h, channels: channels, base: base, hash: hash}, nil
}

// Open prepares the mip chain metadata.
func (s *MemorySource) Open() (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		s.levels = make([][]byte, mip.NumLevels(s.w, s.h))
		s.levels[0] = s.base
		s.open = true
	}
	return s.infoLocked(), nil
}

func (s *MemorySource) infoLocked() Info {
	return Info{Width: s.w, Height: s.h, Channels: s.channels, MipLevels: len(s.levels)}
}

// Close drops generated levels. The base copy is kept.
func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.levels = nil
	return nil
}

// IsOpen reports whether Open has succeeded.
func (s *MemorySource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Info returns the source metadata.
func (s *MemorySource) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return Info{Width: s.w, Height: s.h, Channels: s.channels, MipLevels: mip.NumLevels(s.w, s.h)}
	}
	return s.infoLocked()
}

// ReadMipLevel copies the RGBA8 pixels of a level into dst.
func (s *MemorySource) ReadMipLevel(dst []byte, level, expectedWidth, expectedHeight int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if level < 0 || level >= len(s.levels) {
		return ErrBadLevel
	}
	w, h := mip.LevelSize(s.w, s.h, level)
	if w != expectedWidth || h != expectedHeight {
		return ErrBadLevel
	}
	if len(dst) < w*h*4 {
		return ErrShortBuffer
	}

	for l := 1; l <= level; l++ {
		if s.levels[l] != nil {
			continue
		}
		pw, ph := mip.LevelSize(s.w, s.h, l-1)
		down, _, _ := mip.Downsample(s.levels[l-1], pw, ph)
		s.levels[l] = down
	}
	copy(dst, s.levels[level])
	s.bytesRead += uint64(w * h * 4)
	return nil
}

// ReadBaseColor averages the image down to its 1x1 level.
func (s *MemorySource) ReadBaseColor() ([4]float32, error) {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if !open {
		return [4]float32{}, ErrNotOpen
	}

	last := mip.NumLevels(s.w, s.h) - 1
	var p [4]byte
	if err := s.ReadMipLevel(p[:], last, 1, 1); err != nil {
		return [4]float32{}, err
	}
	return [4]float32{
		float32(p[0]) / 255,
		float32(p[1]) / 255,
		float32(p[2]) / 255,
		float32(p[3]) / 255,
	}, nil
}

// BytesRead returns the cumulative bytes delivered.
func (s *MemorySource) BytesRead() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesRead
}

// ReadTime returns zero: memory reads do no I/O.
func (s *MemorySource) ReadTime() time.Duration { return 0 }

// Hash returns the content hash computed at construction.
func (s *MemorySource) Hash() uint64 { return s.hash }

// ExpandRGBA converts 1-, 3-, or 4-channel pixels into a fresh RGBA8
// buffer. Single-channel data is replicated to gray; missing alpha is 255.
func ExpandRGBA(pixels []byte, w, h, channels int) []byte {
	n := w * h
	out := make([]byte, n*4)
	switch channels {
	case 4:
		copy(out, pixels[:n*4])
	case 3:
		for i := range n {
			out[i*4+0] = pixels[i*3+0]
			out[i*4+1] = pixels[i*3+1]
			out[i*4+2] = pixels[i*3+2]
			out[i*4+3] = 255
		}
	case 1:
		for i := range n {
			v := pixels[i]
			out[i*4+0] = v
			out[i*4+1] = v
			out[i*4+2] = v
			out[i*4+3] = 255
		}
	}
	return out
}
