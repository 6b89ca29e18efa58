package demandtex

import (
	"github.com/gogpu/demandtex/imagesource"
)

// CreateTexture registers a texture backed by an image file. The file is
// probed for its dimensions but not decoded; pixel data loads on the first
// GPU request. Registering the same path twice returns the existing ID
// without touching the file again.
func (l *Loader) CreateTexture(path string, desc TextureDesc) TextureHandle {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Dedup by filename hash, with a string compare to guard collisions.
	pathHash := imagesource.HashString(path)
	if id, hit := l.hashToID[pathHash]; hit {
		existing := l.records[id]
		if existing.filename == path {
			Logger().Debug("createTexture: reusing texture", "id", id, "path", path)
			return l.handleLocked(id)
		}
	}

	id, ok := l.allocIDLocked("createTexture")
	if !ok {
		return TextureHandle{Error: ErrMaxTexturesExceeded}
	}
	l.hashToID[pathHash] = id

	rec := &textureRecord{filename: path, desc: desc}
	l.records[id] = rec

	// Provisional dimensions; a probe failure leaves them zero and the
	// texture non-loadable until the file appears.
	if info, err := imagesource.Probe(path); err == nil {
		rec.width = info.Width
		rec.height = info.Height
		rec.channels = info.Channels
	} else {
		rec.lastError = ErrFileNotFound
		Logger().Warn("createTexture: probe failed", "path", path, "err", err)
	}

	l.lastError.store(Success)
	Logger().Debug("createTexture: registered",
		"id", id, "path", path, "width", rec.width, "height", rec.height, "channels", rec.channels)
	return l.handleLocked(id)
}

// CreateTextureFromSource registers a texture backed by a caller-supplied
// image source. The same source value always returns the same ID; distinct
// sources reporting the same non-zero content hash also share an ID.
func (l *Loader) CreateTextureFromSource(src imagesource.ImageSource, desc TextureDesc) TextureHandle {
	l.mu.Lock()
	defer l.mu.Unlock()

	if src == nil {
		l.lastError.store(ErrInvalidParameter)
		Logger().Error("createTexture: nil image source")
		return TextureHandle{Error: ErrInvalidParameter}
	}

	// First check: the identical source value.
	if id, hit := l.srcToID[src]; hit {
		Logger().Debug("createTexture: reusing texture for source", "id", id)
		return l.handleLocked(id)
	}

	// Second check: content hash, catching distinct sources over the same
	// underlying image. Zero opts out.
	contentHash := src.Hash()
	if contentHash != 0 {
		if id, hit := l.hashToID[contentHash]; hit {
			// Remember the source value for faster future lookups.
			l.srcToID[src] = id
			Logger().Debug("createTexture: reusing texture via content hash", "id", id)
			return l.handleLocked(id)
		}
	}

	id, ok := l.allocIDLocked("createTexture")
	if !ok {
		return TextureHandle{Error: ErrMaxTexturesExceeded}
	}
	l.srcToID[src] = id
	if contentHash != 0 {
		l.hashToID[contentHash] = id
	}

	rec := &textureRecord{source: src, desc: desc}
	l.records[id] = rec

	if info, err := src.Open(); err == nil {
		rec.width = info.Width
		rec.height = info.Height
		rec.channels = info.Channels
	} else {
		rec.lastError = ErrImageLoadFailed
		Logger().Warn("createTexture: source open failed", "id", id, "err", err)
	}

	l.lastError.store(Success)
	Logger().Debug("createTexture: registered source",
		"id", id, "width", rec.width, "height", rec.height, "channels", rec.channels)
	return l.handleLocked(id)
}

// CreateTextureFromMemory registers a texture from caller-owned pixels.
// The loader takes its own copy; pixels may be 1-, 3-, or 4-channel and
// are expanded to RGBA8 at load time. The dimensions are authoritative.
func (l *Loader) CreateTextureFromMemory(pixels []byte, width, height, channels int, desc TextureDesc) TextureHandle {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(pixels) == 0 || width <= 0 || height <= 0 || channels <= 0 ||
		len(pixels) < width*height*channels {
		l.lastError.store(ErrInvalidParameter)
		Logger().Error("createTextureFromMemory: invalid parameters",
			"width", width, "height", height, "channels", channels)
		return TextureHandle{Error: ErrInvalidParameter}
	}

	id, ok := l.allocIDLocked("createTextureFromMemory")
	if !ok {
		return TextureHandle{Error: ErrMaxTexturesExceeded}
	}

	cached := make([]byte, width*height*channels)
	copy(cached, pixels)

	l.records[id] = &textureRecord{
		desc:     desc,
		width:    width,
		height:   height,
		channels: channels,
		cached:   cached,
	}

	l.lastError.store(Success)
	Logger().Debug("createTextureFromMemory: registered",
		"id", id, "width", width, "height", height, "channels", channels)
	return l.handleLocked(id)
}

// allocIDLocked hands out the next texture ID, or fails when the space is
// exhausted.
func (l *Loader) allocIDLocked(op string) (uint32, bool) {
	if int(l.nextID) >= l.opts.MaxTextures {
		l.lastError.store(ErrMaxTexturesExceeded)
		Logger().Error(op+": max textures exceeded", "max", l.opts.MaxTextures)
		return 0, false
	}
	id := l.nextID
	l.nextID++
	return id, true
}

// handleLocked builds the creation result for an existing record.
func (l *Loader) handleLocked(id uint32) TextureHandle {
	rec := l.records[id]
	return TextureHandle{
		ID:       id,
		Valid:    true,
		Width:    rec.width,
		Height:   rec.height,
		Channels: rec.channels,
		Error:    Success,
	}
}
