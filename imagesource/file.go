package imagesource

import (
	"hash/fnv"
	"path/filepath"
	"sync"
	"time"

	"github.com/loov/hrtime"

	"github.com/gogpu/demandtex/internal/mip"
)

// FileSource reads a mipmapped image from an image file on disk.
//
// The first Open decodes the file once and caches the base level; higher
// mip levels are box-filtered from it on demand and cached too. The content
// hash is derived from the cleaned path, so two FileSources for the same
// file deduplicate to one texture.
type FileSource struct {
	path string

	mu     sync.Mutex
	open   bool
	info   Info
	levels [][]byte // lazily filled; levels[0] set by Open

	bytesRead uint64
	readTime  time.Duration
}

var _ ImageSource = (*FileSource)(nil)

// NewFileSource creates a source for the given file path.
// The file is not touched until Open.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: filepath.Clean(path)}
}

// Path returns the cleaned file path.
func (s *FileSource) Path() string { return s.path }

// Open decodes the file and caches the base level.
func (s *FileSource) Open() (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return s.info, nil
	}

	start := hrtime.Now()
	pix, w, h, channels, err := DecodeFile(s.path)
	s.readTime += hrtime.Since(start)
	if err != nil {
		return Info{}, err
	}
	s.bytesRead += uint64(len(pix))

	s.info = Info{
		Width:     w,
		Height:    h,
		Channels:  channels,
		MipLevels: mip.NumLevels(w, h),
	}
	s.levels = make([][]byte, s.info.MipLevels)
	s.levels[0] = pix
	s.open = true
	return s.info, nil
}

// Close drops the cached levels. The source can be reopened.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.levels = nil
	return nil
}

// IsOpen reports whether Open has succeeded.
func (s *FileSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Info returns the metadata from the last successful Open.
func (s *FileSource) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// ReadMipLevel copies the RGBA8 pixels of a level into dst, generating and
// caching the level on first use.
func (s *FileSource) ReadMipLevel(dst []byte, level, expectedWidth, expectedHeight int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if level < 0 || level >= s.info.MipLevels {
		return ErrBadLevel
	}
	w, h := mip.LevelSize(s.info.Width, s.info.Height, level)
	if w != expectedWidth || h != expectedHeight {
		return ErrBadLevel
	}
	if len(dst) < w*h*4 {
		return ErrShortBuffer
	}

	if err := s.fillLevelLocked(level); err != nil {
		return err
	}
	copy(dst, s.levels[level])
	return nil
}

// fillLevelLocked box-filters down from the nearest cached ancestor level.
func (s *FileSource) fillLevelLocked(level int) error {
	start := hrtime.Now()
	defer func() { s.readTime += hrtime.Since(start) }()

	for l := 1; l <= level; l++ {
		if s.levels[l] != nil {
			continue
		}
		w, h := mip.LevelSize(s.info.Width, s.info.Height, l-1)
		down, _, _ := mip.Downsample(s.levels[l-1], w, h)
		s.levels[l] = down
	}
	return nil
}

// ReadBaseColor averages the image down to its 1x1 level.
func (s *FileSource) ReadBaseColor() ([4]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return [4]float32{}, ErrNotOpen
	}
	last := s.info.MipLevels - 1
	if err := s.fillLevelLocked(last); err != nil {
		return [4]float32{}, err
	}
	p := s.levels[last]
	return [4]float32{
		float32(p[0]) / 255,
		float32(p[1]) / 255,
		float32(p[2]) / 255,
		float32(p[3]) / 255,
	}, nil
}

// BytesRead returns the cumulative decoded byte count.
func (s *FileSource) BytesRead() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesRead
}

// ReadTime returns the cumulative time spent decoding.
func (s *FileSource) ReadTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readTime
}

// Hash identifies the source by its cleaned path.
func (s *FileSource) Hash() uint64 {
	return HashString(s.path)
}

// HashString computes the FNV-1a hash of a string, mapped away from zero
// so the result never disables deduplication.
func HashString(str string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(str)) // fnv.Write never returns an error
	v := h.Sum64()
	if v == 0 {
		return 1
	}
	return v
}
