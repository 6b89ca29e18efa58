package demandtex

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/demandtex/gpu"
	"github.com/gogpu/demandtex/imagesource"
	"github.com/gogpu/demandtex/internal/mip"
	"github.com/gogpu/demandtex/internal/parallel"
	"github.com/gogpu/demandtex/internal/pools"
)

// pinnedPoolCap and eventPoolInit size the request-processing pools. One
// async drain holds two pinned buffers and two events; four of each covers
// a couple of overlapping drains without growing.
const (
	pinnedPoolCap = 4
	eventPoolInit = 4
)

// textureRecord is the per-texture host state. The atomic resident/loading
// pair serializes loader-pipeline claimants without holding the loader
// mutex across I/O; everything else is guarded by the loader mutex.
type textureRecord struct {
	filename string
	source   imagesource.ImageSource
	desc     TextureDesc

	width    int
	height   int
	channels int

	// cached holds owned pixels for memory textures, in their native
	// channel count.
	cached []byte

	// GPU resources, owned. Non-nil exactly while resident.
	texObj gpu.TextureObject
	array  gpu.Array

	memoryUsage int64
	numLevels   int
	hasMipmaps  bool

	lastUsedFrame uint32
	loadedFrame   uint32

	resident atomic.Bool
	loading  atomic.Bool

	lastError Error
}

// estimateBytes is the device cost charged against the budget before the
// texture loads: the base level, plus the mip-chain overhead when the
// descriptor asks for mipmaps. Zero when the dimensions are still unknown.
func (rec *textureRecord) estimateBytes() int64 {
	if rec.width <= 0 || rec.height <= 0 {
		return 0
	}
	if rec.desc.GenerateMipmaps {
		return int64(mip.ChainBytes(rec.width, rec.height))
	}
	return int64(rec.width) * int64(rec.height) * 4
}

// atomicError holds an Error readable without the loader mutex.
type atomicError struct{ v atomic.Uint32 }

func (e *atomicError) store(code Error) { e.v.Store(uint32(code)) }
func (e *atomicError) load() Error      { return Error(e.v.Load()) }

// Loader is the demand-loaded texture residency manager.
//
// All public methods are safe to call concurrently with each other and
// with running kernels, with one contract: LaunchPrepare and DeviceContext
// pair with a single kernel launch and must not race themselves on the
// same Loader.
type Loader struct {
	rt gpu.Runtime

	mu   sync.Mutex // the loader mutex; see field comments
	opts LoaderOptions

	// Registry state, under mu.
	records  []*textureRecord
	nextID   uint32
	hashToID map[uint64]uint32                  // filename/content hash -> ID
	srcToID  map[imagesource.ImageSource]uint32 // source identity -> ID

	totalMemory  int64
	currentFrame uint32

	// Device context and page-locked host mirrors, under mu.
	flagWords int
	dFlags    gpu.Buffer
	dTextures gpu.Buffer
	dRequests gpu.Buffer
	dStats    gpu.Buffer
	hFlags    gpu.HostBuffer
	hTextures gpu.HostBuffer
	hRequests gpu.HostBuffer
	hStats    gpu.HostBuffer

	// Dirty intervals over the mirrors, under mu.
	flagsDirty    bool
	texturesDirty bool
	dirtyFlagLo   int
	dirtyFlagHi   int
	dirtyTexLo    int
	dirtyTexHi    int

	copyStream gpu.Stream
	pool       *parallel.WorkerPool
	pinned     *pools.PinnedPool
	events     *pools.EventPool
	worker     *asyncWorker

	// Async quiescence. inFlight counts drains between entry and task
	// completion; quiesceCond is signaled on every decrement.
	destroying  atomic.Bool
	aborted     atomic.Bool
	inFlight    atomic.Int64
	quiesceMu   sync.Mutex
	quiesceCond *sync.Cond

	lastRequestCount atomic.Uint32
	lastOverflow     atomic.Bool
	lastError        atomicError
}

// NewLoader constructs a loader over the given runtime. Any allocation
// failure releases everything acquired so far and returns the error.
func NewLoader(rt gpu.Runtime, opts LoaderOptions) (*Loader, error) {
	if rt == nil {
		return nil, errors.New("demandtex: nil runtime")
	}
	opts = opts.withDefaults()

	l := &Loader{
		rt:       rt,
		opts:     opts,
		records:  make([]*textureRecord, opts.MaxTextures),
		hashToID: make(map[uint64]uint32),
		srcToID:  make(map[imagesource.ImageSource]uint32),
	}
	l.quiesceCond = sync.NewCond(&l.quiesceMu)
	l.flagWords = (opts.MaxTextures + 31) / 32

	ok := false
	defer func() {
		if !ok {
			l.freeContext()
		}
	}()

	var err error
	if l.copyStream, err = rt.NewStream(true); err != nil {
		l.lastError.store(ErrDevice)
		return nil, fmt.Errorf("demandtex: create request copy stream: %w", err)
	}

	if err = l.allocContext(); err != nil {
		return nil, err
	}

	// First LaunchPrepare must upload the whole context.
	l.markAllDirtyLocked()

	l.pool = parallel.NewWorkerPool(opts.MaxThreads)
	l.pinned = pools.NewPinnedPool(rt, pinnedPoolCap)
	l.events = pools.NewEventPool(rt, eventPoolInit)
	l.worker = newAsyncWorker()

	Logger().Debug("loader: constructed",
		"maxTextures", opts.MaxTextures,
		"maxRequests", opts.MaxRequestsPerLaunch,
		"budgetBytes", opts.MaxTextureMemory,
		"workers", l.pool.Workers())

	ok = true
	return l, nil
}

// allocContext allocates the device context buffers and their pinned host
// mirrors.
func (l *Loader) allocContext() error {
	type alloc struct {
		dst  *gpu.Buffer
		size int
	}
	device := []alloc{
		{&l.dFlags, l.flagWords * 4},
		{&l.dTextures, l.opts.MaxTextures * 8},
		{&l.dRequests, l.opts.MaxRequestsPerLaunch * 4},
		{&l.dStats, 8},
	}
	for _, a := range device {
		buf, err := l.rt.AllocDevice(a.size)
		if err != nil {
			l.lastError.store(ErrOutOfMemory)
			return fmt.Errorf("demandtex: allocate device context: %w", err)
		}
		*a.dst = buf
	}

	type hostAlloc struct {
		dst  *gpu.HostBuffer
		size int
	}
	host := []hostAlloc{
		{&l.hFlags, l.flagWords * 4},
		{&l.hTextures, l.opts.MaxTextures * 8},
		{&l.hRequests, l.opts.MaxRequestsPerLaunch * 4},
		{&l.hStats, 8},
	}
	for _, a := range host {
		buf, err := l.rt.AllocHost(a.size)
		if err != nil {
			l.lastError.store(ErrOutOfMemory)
			return fmt.Errorf("demandtex: allocate host mirrors: %w", err)
		}
		*a.dst = buf
	}
	return nil
}

// freeContext releases the context buffers, mirrors, and copy stream in
// reverse allocation order. Used by the constructor's unwind and by Close.
func (l *Loader) freeContext() {
	for _, b := range []gpu.HostBuffer{l.hStats, l.hRequests, l.hTextures, l.hFlags} {
		if b != nil {
			b.Free()
		}
	}
	l.hStats, l.hRequests, l.hTextures, l.hFlags = nil, nil, nil, nil
	for _, b := range []gpu.Buffer{l.dStats, l.dRequests, l.dTextures, l.dFlags} {
		if b != nil {
			b.Free()
		}
	}
	l.dStats, l.dRequests, l.dTextures, l.dFlags = nil, nil, nil, nil
	if l.copyStream != nil {
		l.copyStream.Destroy()
		l.copyStream = nil
	}
}

// Close shuts the loader down: it waits for in-flight async drains, joins
// the worker machinery, unloads every texture, and frees the device
// context. The loader must not be used afterwards.
func (l *Loader) Close() {
	// Seq-cst store pairs with the increment-then-check in
	// ProcessRequestsAsync: once the quiescence wait below observes zero,
	// no future drain can slip past the destroying check.
	l.destroying.Store(true)
	l.waitQuiescent()

	if l.worker != nil {
		l.worker.close()
	}
	if l.pool != nil {
		l.pool.Close()
	}
	if l.pinned != nil {
		l.pinned.Close()
	}
	if l.events != nil {
		l.events.Close()
	}

	l.UnloadAll()

	l.mu.Lock()
	l.freeContext()
	l.mu.Unlock()
}

// waitQuiescent blocks until no async drain is in flight.
func (l *Loader) waitQuiescent() {
	l.quiesceMu.Lock()
	for l.inFlight.Load() != 0 {
		l.quiesceCond.Wait()
	}
	l.quiesceMu.Unlock()
}

// exitAsync decrements the in-flight counter and wakes quiescence waiters.
func (l *Loader) exitAsync() {
	l.inFlight.Add(-1)
	l.quiesceMu.Lock()
	l.quiesceCond.Broadcast()
	l.quiesceMu.Unlock()
}

// Abort halts the loader: in-flight async work is waited out, the worker
// pool and memory pools are torn down, and every texture is unloaded. The
// loader stays constructed but refuses further loads and drains.
func (l *Loader) Abort() {
	l.aborted.Store(true)
	Logger().Info("loader: abort requested")

	l.waitQuiescent()

	if l.worker != nil {
		l.worker.close()
	}
	if l.pool != nil {
		l.pool.Close()
	}
	if l.pinned != nil {
		l.pinned.Close()
	}
	if l.events != nil {
		l.events.Close()
	}

	l.UnloadAll()
	Logger().Info("loader: abort completed")
}

// IsAborted reports whether Abort has been called.
func (l *Loader) IsAborted() bool {
	return l.aborted.Load()
}

// UnloadTexture releases the GPU resources of one texture. The texture
// stays registered and reloads on its next request.
func (l *Loader) UnloadTexture(id uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id >= l.nextID {
		l.lastError.store(ErrInvalidTextureID)
		return
	}
	l.destroyTextureLocked(id)
}

// UnloadAll releases the GPU resources of every registered texture.
func (l *Loader) UnloadAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := uint32(0); id < l.nextID; id++ {
		l.destroyTextureLocked(id)
	}
}

// destroyTextureLocked tears down a resident texture's GPU resources,
// clears its mirror entries, extends the dirty intervals, and returns its
// bytes to the budget. No-op for non-resident records.
func (l *Loader) destroyTextureLocked(id uint32) {
	rec := l.records[id]
	if rec == nil || !rec.resident.Load() {
		return
	}

	if rec.texObj != nil {
		rec.texObj.Destroy()
		rec.texObj = nil
	}
	if rec.array != nil {
		rec.array.Free()
		rec.array = nil
	}

	rec.resident.Store(false)
	rec.hasMipmaps = false
	rec.numLevels = 0

	l.setTextureMirrorLocked(id, 0)
	l.clearFlagMirrorLocked(id)
	l.markTextureDirtyLocked(int(id))
	l.markFlagWordDirtyLocked(int(id) / 32)

	l.totalMemory -= rec.memoryUsage
	Logger().Debug("loader: unloaded texture", "id", id, "freedBytes", rec.memoryUsage)
	rec.memoryUsage = 0
}

// ResidentTextureCount returns the number of textures currently resident.
func (l *Loader) ResidentTextureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for id := uint32(0); id < l.nextID; id++ {
		if l.records[id].resident.Load() {
			count++
		}
	}
	return count
}

// TotalTextureMemory returns the device bytes charged by resident textures.
func (l *Loader) TotalTextureMemory() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalMemory
}

// MaxTextureMemory returns the current byte budget (0 = unlimited).
func (l *Loader) MaxTextureMemory() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opts.MaxTextureMemory
}

// SetMaxTextureMemory replaces the byte budget. Takes effect on the next
// request drain; already-resident textures are not evicted eagerly.
func (l *Loader) SetMaxTextureMemory(bytes int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bytes < 0 {
		bytes = 0
	}
	l.opts.MaxTextureMemory = bytes
}

// EnableEviction toggles the eviction policy.
func (l *Loader) EnableEviction(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opts.DisableEviction = !enable
}

// UpdateEvictionPriority changes a texture's eviction ranking.
func (l *Loader) UpdateEvictionPriority(id uint32, priority EvictionPriority) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id >= l.nextID {
		l.lastError.store(ErrInvalidTextureID)
		return
	}
	l.records[id].desc.EvictionPriority = priority
}

// RequestCount returns the request count observed by the last drain.
func (l *Loader) RequestCount() int {
	return int(l.lastRequestCount.Load())
}

// HadRequestOverflow reports whether the last drained launch overflowed
// the request ring. Recover by raising MaxRequestsPerLaunch.
func (l *Loader) HadRequestOverflow() bool {
	return l.lastOverflow.Load()
}

// LastError returns the loader's most recent error code.
func (l *Loader) LastError() Error {
	return l.lastError.load()
}

// TextureError returns the last per-texture error for id.
func (l *Loader) TextureError(id uint32) Error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id >= l.nextID {
		return ErrInvalidTextureID
	}
	return l.records[id].lastError
}
