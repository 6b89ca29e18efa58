package imagesource

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gogpu/demandtex/internal/mip"
)

// Checkerboard procedurally generates a two-color checker pattern.
// Useful as demo content and as a deterministic source in tests. Sources
// with identical dimensions, square size, and colors share a content hash.
type Checkerboard struct {
	w, h   int
	square int
	even   [4]byte
	odd    [4]byte

	mu     sync.Mutex
	open   bool
	levels [][]byte
}

var _ ImageSource = (*Checkerboard)(nil)

// NewCheckerboard creates a w-by-h checker with the given square size.
// Invalid dimensions or square sizes are clamped to 1.
func NewCheckerboard(w, h, square int, even, odd [4]byte) *Checkerboard {
	return &Checkerboard{
		w:      max(1, w),
		h:      max(1, h),
		square: max(1, square),
		even:   even,
		odd:    odd,
	}
}

// Open generates the base level.
func (s *Checkerboard) Open() (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		base := make([]byte, s.w*s.h*4)
		for y := range s.h {
			for x := range s.w {
				c := s.even
				if ((x/s.square)+(y/s.square))%2 == 1 {
					c = s.odd
				}
				copy(base[(y*s.w+x)*4:], c[:])
			}
		}
		s.levels = make([][]byte, mip.NumLevels(s.w, s.h))
		s.levels[0] = base
		s.open = true
	}
	return s.infoLocked(), nil
}

func (s *Checkerboard) infoLocked() Info {
	return Info{Width: s.w, Height: s.h, Channels: 4, MipLevels: mip.NumLevels(s.w, s.h)}
}

// Close drops generated levels.
func (s *Checkerboard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.levels = nil
	return nil
}

// IsOpen reports whether Open has succeeded.
func (s *Checkerboard) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Info returns the source metadata.
func (s *Checkerboard) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

// ReadMipLevel copies the RGBA8 pixels of a level into dst.
func (s *Checkerboard) ReadMipLevel(dst []byte, level, expectedWidth, expectedHeight int) error {
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
	return nil
}

// ReadBaseColor returns the average of the two colors, which is what the
// checker converges to.
func (s *Checkerboard) ReadBaseColor() ([4]float32, error) {
	var out [4]float32
	for i := range out {
		out[i] = (float32(s.even[i]) + float32(s.odd[i])) / (2 * 255)
	}
	return out, nil
}

// BytesRead returns zero: the pattern is generated, not read.
func (s *Checkerboard) BytesRead() uint64 { return 0 }

// ReadTime returns zero.
func (s *Checkerboard) ReadTime() time.Duration { return 0 }

// Hash covers the pattern parameters.
func (s *Checkerboard) Hash() uint64 {
	h := fnv.New64a()
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(s.w))
	binary.LittleEndian.PutUint32(buf[4:], uint32(s.h))
	binary.LittleEndian.PutUint32(buf[8:], uint32(s.square))
	_, _ = h.Write(buf[:])
	_, _ = h.Write(s.even[:])
	_, _ = h.Write(s.odd[:])
	v := h.Sum64()
	if v == 0 {
		return 1
	}
	return v
}
