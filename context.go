package demandtex

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/demandtex/gpu"
)

// DeviceContext is the device-visible sampling state, passed to kernels by
// value. Kernels treat it read-only apart from the request ring and stats.
type DeviceContext struct {
	// ResidentFlags is a packed bitmap of flagWords uint32 words; bit i
	// reflects the residency of texture ID i.
	ResidentFlags gpu.Buffer

	// Textures holds MaxTextures opaque 64-bit texture-object handles.
	// Zero means non-resident.
	Textures gpu.Buffer

	// Requests is the ring of MaxRequests 32-bit texture IDs missed this
	// launch.
	Requests gpu.Buffer

	// RequestStats packs two 32-bit words: the atomic append index at
	// offset 0 and the sticky overflow flag at offset 4.
	RequestStats gpu.Buffer

	// MaxTextures and MaxRequests bound the kernel's accesses.
	MaxTextures uint32
	MaxRequests uint32
}

// DeviceContext returns the context to pass to the next kernel launch.
// It pairs with LaunchPrepare and must not be called concurrently with it.
func (l *Loader) DeviceContext() DeviceContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return DeviceContext{
		ResidentFlags: l.dFlags,
		Textures:      l.dTextures,
		Requests:      l.dRequests,
		RequestStats:  l.dStats,
		MaxTextures:   uint32(l.opts.MaxTextures),
		MaxRequests:   uint32(l.opts.MaxRequestsPerLaunch),
	}
}

// Mirror accessors. The pinned mirrors are raw bytes; all access goes
// through these helpers, under the loader mutex.

func (l *Loader) setFlagMirrorLocked(id uint32) {
	word := int(id) / 32
	b := l.hFlags.Bytes()[word*4:]
	v := binary.LittleEndian.Uint32(b)
	binary.LittleEndian.PutUint32(b, v|1<<(id%32))
}

func (l *Loader) clearFlagMirrorLocked(id uint32) {
	word := int(id) / 32
	b := l.hFlags.Bytes()[word*4:]
	v := binary.LittleEndian.Uint32(b)
	binary.LittleEndian.PutUint32(b, v&^(1<<(id%32)))
}

func (l *Loader) flagMirrorLocked(id uint32) bool {
	b := l.hFlags.Bytes()[int(id)/32*4:]
	return binary.LittleEndian.Uint32(b)&(1<<(id%32)) != 0
}

func (l *Loader) setTextureMirrorLocked(id uint32, handle uint64) {
	binary.LittleEndian.PutUint64(l.hTextures.Bytes()[int(id)*8:], handle)
}

func (l *Loader) textureMirrorLocked(id uint32) uint64 {
	return binary.LittleEndian.Uint64(l.hTextures.Bytes()[int(id)*8:])
}

// Dirty interval tracking. One low-high interval per mirror: word-granular
// for the flags, element-granular for the texture table. Mutations under
// the loader mutex extend the interval; LaunchPrepare uploads exactly the
// interval and clears it.

func (l *Loader) markAllDirtyLocked() {
	l.flagsDirty = true
	l.texturesDirty = true
	l.dirtyFlagLo = 0
	l.dirtyFlagHi = max(0, l.flagWords-1)
	l.dirtyTexLo = 0
	l.dirtyTexHi = max(0, l.opts.MaxTextures-1)
}

func (l *Loader) clearDirtyLocked() {
	l.flagsDirty = false
	l.texturesDirty = false
	l.dirtyFlagLo = math.MaxInt
	l.dirtyFlagHi = 0
	l.dirtyTexLo = math.MaxInt
	l.dirtyTexHi = 0
}

func (l *Loader) markTextureDirtyLocked(id int) {
	l.texturesDirty = true
	l.dirtyTexLo = min(l.dirtyTexLo, id)
	l.dirtyTexHi = max(l.dirtyTexHi, id)
}

func (l *Loader) markFlagWordDirtyLocked(word int) {
	l.flagsDirty = true
	l.dirtyFlagLo = min(l.dirtyFlagLo, word)
	l.dirtyFlagHi = max(l.dirtyFlagHi, word)
}

// LaunchPrepare uploads the dirty mirror ranges to the device, resets the
// request counter and overflow flag, and advances the frame counter. Call
// it on the launch stream before every kernel launch.
//
// A copy failure records ErrDevice and returns; the dirty intervals stay
// intact so the next frame retries the upload.
func (l *Loader) LaunchPrepare(stream gpu.Stream) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	log := Logger()
	if l.flagsDirty || l.texturesDirty {
		flagWords, texElems := 0, 0
		if l.flagsDirty && l.dirtyFlagLo <= l.dirtyFlagHi && l.dirtyFlagLo < l.flagWords {
			flagWords = l.dirtyFlagHi - l.dirtyFlagLo + 1
		}
		if l.texturesDirty && l.dirtyTexLo <= l.dirtyTexHi && l.dirtyTexLo < l.opts.MaxTextures {
			texElems = l.dirtyTexHi - l.dirtyTexLo + 1
		}
		log.Debug("launchPrepare: dirty ranges",
			"flagWords", flagWords, "textures", texElems, "frame", l.currentFrame)
	}

	if l.flagsDirty && l.dirtyFlagLo <= l.dirtyFlagHi && l.dirtyFlagLo < l.flagWords {
		lo, hi := l.dirtyFlagLo, min(l.dirtyFlagHi, l.flagWords-1)
		src := l.hFlags.Bytes()[lo*4 : (hi+1)*4]
		if err := stream.CopyToDevice(l.dFlags, lo*4, src); err != nil {
			l.lastError.store(ErrDevice)
			log.Error("launchPrepare: resident flag upload failed", "err", err)
			return fmt.Errorf("demandtex: upload resident flags: %w", err)
		}
	}

	if l.texturesDirty && l.dirtyTexLo <= l.dirtyTexHi && l.dirtyTexLo < l.opts.MaxTextures {
		lo, hi := l.dirtyTexLo, min(l.dirtyTexHi, l.opts.MaxTextures-1)
		src := l.hTextures.Bytes()[lo*8 : (hi+1)*8]
		if err := stream.CopyToDevice(l.dTextures, lo*8, src); err != nil {
			l.lastError.store(ErrDevice)
			log.Error("launchPrepare: texture table upload failed", "err", err)
			return fmt.Errorf("demandtex: upload texture table: %w", err)
		}
	}

	l.clearDirtyLocked()

	if err := stream.MemsetZero(l.dStats, 0, 8); err != nil {
		l.lastError.store(ErrDevice)
		log.Error("launchPrepare: request stats reset failed", "err", err)
		return fmt.Errorf("demandtex: reset request stats: %w", err)
	}

	l.currentFrame++
	return nil
}

// CurrentFrame returns the loader's frame counter, advanced once per
// LaunchPrepare.
func (l *Loader) CurrentFrame() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentFrame
}
