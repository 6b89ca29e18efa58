package cpu

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/demandtex/gpu"
)

// DefaultFallbackColor is returned for non-resident samples: loud magenta,
// easy to spot in rendered output.
var DefaultFallbackColor = [4]float32{1, 0, 1, 1}

// Sampler is the host-side rendition of the device sampling protocol.
// Each sample checks the residency bitmap; a miss appends the texture ID to
// the request ring (sticky overflow past capacity) and yields the fallback
// color, a hit fetches from the texture object with the configured address
// and filter modes.
//
// Thread safety: Sampler is safe for concurrent use; concurrent misses
// append through the stats buffer's word lock, standing in for the device
// atomics.
type Sampler struct {
	rt          *Runtime
	flags       *Buffer
	textures    *Buffer
	requests    *Buffer
	stats       *Buffer
	maxTextures uint32
	maxRequests uint32

	// Fallback is the color returned for out-of-range and non-resident IDs.
	Fallback [4]float32
}

// NewSampler builds a sampler over the loader's device context buffers.
// All buffers must come from the same cpu Runtime.
func NewSampler(rt gpu.Runtime, flags, textures, requests, stats gpu.Buffer, maxTextures, maxRequests uint32) (*Sampler, error) {
	crt, ok := rt.(*Runtime)
	if !ok {
		return nil, gpu.ErrInvalidArgument
	}
	fb, ok1 := flags.(*Buffer)
	tb, ok2 := textures.(*Buffer)
	rb, ok3 := requests.(*Buffer)
	sb, ok4 := stats.(*Buffer)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, gpu.ErrInvalidArgument
	}
	return &Sampler{
		rt:          crt,
		flags:       fb,
		textures:    tb,
		requests:    rb,
		stats:       sb,
		maxTextures: maxTextures,
		maxRequests: maxRequests,
		Fallback:    DefaultFallbackColor,
	}, nil
}

// IsResident reports whether the residency bit for id is set on the device.
func (s *Sampler) IsResident(id uint32) bool {
	if id >= s.maxTextures {
		return false
	}
	word, ok := s.flags.loadWord(int(id / 32))
	return ok && word&(1<<(id%32)) != 0
}

// RecordRequest appends id to the request ring. The append index counts
// monotonically past capacity; out-of-range appends only set the sticky
// overflow flag.
func (s *Sampler) RecordRequest(id uint32) {
	// The count and overflow words share one buffer; its lock makes the
	// increment-then-store pair atomic, as the device atomics would.
	s.stats.mu.Lock()
	if s.stats.freed || len(s.stats.data) < 8 {
		s.stats.mu.Unlock()
		return
	}
	idx := binary.LittleEndian.Uint32(s.stats.data[0:])
	binary.LittleEndian.PutUint32(s.stats.data[0:], idx+1)
	overflow := idx >= s.maxRequests
	if overflow {
		binary.LittleEndian.PutUint32(s.stats.data[4:], 1)
	}
	s.stats.mu.Unlock()

	if !overflow {
		s.requests.storeWord(int(idx), id)
	}
}

// Sample fetches the texture at (u, v), recording a request on miss.
// The second result reports whether the texture was resident.
func (s *Sampler) Sample(id uint32, u, v float32) ([4]float32, bool) {
	return s.SampleLod(id, u, v, 0)
}

// SampleLod fetches from the mip level nearest to lod, clamped to the
// texture's level range.
func (s *Sampler) SampleLod(id uint32, u, v, lod float32) ([4]float32, bool) {
	if id >= s.maxTextures {
		return s.Fallback, false
	}
	if !s.IsResident(id) {
		s.RecordRequest(id)
		return s.Fallback, false
	}

	handle, ok := s.textures.loadWord64(int(id))
	if !ok || handle == 0 {
		return s.Fallback, false
	}
	obj := s.rt.lookupTexture(handle)
	if obj == nil || obj.arr.Levels() == 0 {
		return s.Fallback, false
	}

	level := int(lod + 0.5)
	level = min(max(level, 0), obj.arr.Levels()-1)
	return fetch(obj, level, u, v), true
}

// fetch performs the address-mode and filter arithmetic for one texel read.
func fetch(obj *TextureObject, level int, u, v float32) [4]float32 {
	w, h := obj.arr.levelSize(level)
	cfg := obj.cfg

	// To texel space.
	x, y := float64(u), float64(v)
	if cfg.NormalizedCoords {
		x *= float64(w)
		y *= float64(h)
	}

	if cfg.FilterMode == gpu.FilterLinear {
		return bilinear(obj, level, w, h, x, y)
	}
	px, okx := resolve(int(math.Floor(x)), w, cfg.AddressModeU)
	py, oky := resolve(int(math.Floor(y)), h, cfg.AddressModeV)
	if !okx || !oky {
		return [4]float32{0, 0, 0, 0} // border
	}
	return texelColor(obj, level, px, py)
}

func bilinear(obj *TextureObject, level, w, h int, x, y float64) [4]float32 {
	// Half-texel offset puts sample points at texel centers.
	x -= 0.5
	y -= 0.5
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := float32(x - float64(x0))
	fy := float32(y - float64(y0))

	var out [4]float32
	for dy := range 2 {
		for dx := range 2 {
			weight := (1 - fx + float32(dx)*(2*fx-1)) * (1 - fy + float32(dy)*(2*fy-1))
			px, okx := resolve(x0+dx, w, obj.cfg.AddressModeU)
			py, oky := resolve(y0+dy, h, obj.cfg.AddressModeV)
			var c [4]float32
			if okx && oky {
				c = texelColor(obj, level, px, py)
			}
			for i := range out {
				out[i] += weight * c[i]
			}
		}
	}
	return out
}

// resolve maps a texel coordinate into [0, n) per the address mode.
// The bool result is false only for border addressing outside the texture.
func resolve(i, n int, mode gpu.AddressMode) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	switch mode {
	case gpu.AddressWrap:
		i %= n
		if i < 0 {
			i += n
		}
		return i, true
	case gpu.AddressMirror:
		period := 2 * n
		i %= period
		if i < 0 {
			i += period
		}
		if i >= n {
			i = period - 1 - i
		}
		return i, true
	case gpu.AddressBorder:
		if i < 0 || i >= n {
			return 0, false
		}
		return i, true
	default: // AddressClamp
		return min(max(i, 0), n-1), true
	}
}

func texelColor(obj *TextureObject, level, x, y int) [4]float32 {
	r, g, b, a, ok := obj.arr.texel(level, x, y)
	if !ok {
		return [4]float32{}
	}
	c := [4]float32{
		float32(r) / 255,
		float32(g) / 255,
		float32(b) / 255,
		float32(a) / 255,
	}
	if obj.cfg.SRGB {
		for i := range 3 {
			v := float64(c[i])
			if v <= 0.04045 {
				c[i] = float32(v / 12.92)
			} else {
				c[i] = float32(math.Pow((v+0.055)/1.055, 2.4))
			}
		}
	}
	return c
}
