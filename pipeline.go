package demandtex

import (
	"github.com/gogpu/demandtex/gpu"
	"github.com/gogpu/demandtex/imagesource"
	"github.com/gogpu/demandtex/internal/mip"
)

// loadTexture decodes one texture and publishes it resident. It runs on a
// worker goroutine; the loading atomic serializes claimants so the loader
// mutex is never held across I/O or GPU work.
//
// Returns true when this call made the texture resident.
func (l *Loader) loadTexture(id uint32) bool {
	if l.aborted.Load() {
		return false
	}

	// Claim. Re-check residency under the lock, then take exclusive
	// ownership of the load via the loading flag.
	l.mu.Lock()
	rec := l.records[id]
	if rec == nil || rec.resident.Load() {
		l.mu.Unlock()
		return false
	}
	if !rec.loading.CompareAndSwap(false, true) {
		// Another worker owns this load.
		l.mu.Unlock()
		return false
	}

	// Snapshot the descriptor and source references, then decode outside
	// the lock.
	desc := rec.desc
	filename := rec.filename
	source := rec.source
	width := rec.width
	height := rec.height
	channels := rec.channels
	cached := rec.cached
	l.mu.Unlock()

	data, width, height, ok := l.decode(id, source, filename, cached, width, height, channels)
	if !ok {
		l.failLoad(rec, ErrImageLoadFailed)
		return false
	}

	// GPU layout: full mip chain only when requested and meaningful.
	numLevels := 1
	useMipmaps := desc.GenerateMipmaps && (width > 1 || height > 1)
	if useMipmaps {
		numLevels = mip.NumLevels(width, height)
		if desc.MaxMipLevel > 0 {
			numLevels = min(numLevels, desc.MaxMipLevel)
		}
	}

	array, err := l.rt.NewArray(width, height, numLevels)
	if err != nil {
		Logger().Error("loadTexture: array allocation failed",
			"id", id, "width", width, "height", height, "levels", numLevels, "err", err)
		l.failLoad(rec, ErrOutOfMemory)
		return false
	}

	if err := l.rt.UploadLevel(array, 0, data, width, height); err != nil {
		array.Free()
		Logger().Error("loadTexture: base level upload failed", "id", id, "err", err)
		l.failLoad(rec, ErrDevice)
		return false
	}

	if useMipmaps {
		if err := l.uploadMipLevels(array, data, width, height, numLevels); err != nil {
			array.Free()
			Logger().Error("loadTexture: mip upload failed", "id", id, "err", err)
			l.failLoad(rec, ErrDevice)
			return false
		}
	}

	texObj, err := l.rt.NewTextureObject(array, desc.samplerConfig(numLevels))
	if err != nil {
		array.Free()
		Logger().Error("loadTexture: texture object creation failed", "id", id, "err", err)
		l.failLoad(rec, ErrDevice)
		return false
	}

	var usage int64
	if useMipmaps {
		usage = int64(mip.ChainBytes(width, height))
	} else {
		usage = int64(width) * int64(height) * 4
	}

	// Publish under the lock.
	l.mu.Lock()
	rec.width = width
	rec.height = height
	rec.array = array
	rec.texObj = texObj
	rec.hasMipmaps = useMipmaps
	rec.numLevels = numLevels
	rec.memoryUsage = usage

	l.setTextureMirrorLocked(id, texObj.Handle())
	l.setFlagMirrorLocked(id)
	l.markTextureDirtyLocked(int(id))
	l.markFlagWordDirtyLocked(int(id) / 32)

	rec.resident.Store(true)
	rec.loading.Store(false)
	rec.lastUsedFrame = l.currentFrame
	rec.loadedFrame = l.currentFrame
	rec.lastError = Success
	l.totalMemory += usage
	total := l.totalMemory
	l.mu.Unlock()

	Logger().Info("loadTexture: loaded",
		"id", id, "width", width, "height", height, "mipLevels", numLevels,
		"bytes", usage, "totalBytes", total)
	return true
}

// failLoad releases the loading claim and records the per-texture error.
func (l *Loader) failLoad(rec *textureRecord, code Error) {
	l.mu.Lock()
	rec.loading.Store(false)
	rec.lastError = code
	l.mu.Unlock()
}

// decode produces the RGBA8 base level. Source order: user-supplied image
// source, then the file decoders, then the owned pixel copy.
func (l *Loader) decode(id uint32, source imagesource.ImageSource, filename string, cached []byte, width, height, channels int) (data []byte, w, h int, ok bool) {
	switch {
	case source != nil:
		info, err := source.Open()
		if err != nil {
			Logger().Error("loadTexture: image source open failed", "id", id, "err", err)
			return nil, 0, 0, false
		}
		buf := make([]byte, info.Width*info.Height*4)
		if err := source.ReadMipLevel(buf, 0, info.Width, info.Height); err != nil {
			Logger().Error("loadTexture: image source read failed", "id", id, "err", err)
			return nil, 0, 0, false
		}
		return buf, info.Width, info.Height, true

	case filename != "":
		pix, w, h, _, err := imagesource.DecodeFile(filename)
		if err != nil {
			Logger().Error("loadTexture: decode failed", "id", id, "path", filename, "err", err)
			return nil, 0, 0, false
		}
		return pix, w, h, true

	case cached != nil:
		if channels != 1 && channels != 3 && channels != 4 {
			return nil, 0, 0, false
		}
		return imagesource.ExpandRGBA(cached, width, height, channels), width, height, true

	default:
		return nil, 0, 0, false
	}
}

// uploadMipLevels box-filters each level from the previous one on the host
// and uploads it.
func (l *Loader) uploadMipLevels(array gpu.Array, base []byte, width, height, numLevels int) error {
	level := base
	w, h := width, height
	for i := 1; i < numLevels; i++ {
		level, w, h = mip.Downsample(level, w, h)
		if err := l.rt.UploadLevel(array, i, level, w, h); err != nil {
			return err
		}
	}
	return nil
}
