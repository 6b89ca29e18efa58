package demandtex

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/gogpu/demandtex/gpu"
)

// ProcessRequests drains the request ring written by the last kernel
// launch on stream, loads every missed texture, and returns the number of
// textures made resident. The call blocks on the stream, the decodes, and
// the uploads; use ProcessRequestsAsync to overlap them with other work.
func (l *Loader) ProcessRequests(stream gpu.Stream, ctx DeviceContext) int {
	if l.aborted.Load() {
		return 0
	}

	copyCount := min(l.opts.MaxRequestsPerLaunch, int(ctx.MaxRequests))

	// One stream synchronize covers all three copies.
	stats := l.hStats.Bytes()
	if err := stream.CopyToHost(stats[0:4], ctx.RequestStats, 0); err != nil {
		l.lastError.store(ErrDevice)
		return 0
	}
	if err := stream.CopyToHost(stats[4:8], ctx.RequestStats, 4); err != nil {
		l.lastError.store(ErrDevice)
		return 0
	}
	reqBytes := l.hRequests.Bytes()[:copyCount*4]
	if err := stream.CopyToHost(reqBytes, ctx.Requests, 0); err != nil {
		l.lastError.store(ErrDevice)
		return 0
	}
	if err := stream.Synchronize(); err != nil {
		l.lastError.store(ErrDevice)
		return 0
	}

	count := binary.LittleEndian.Uint32(stats[0:4])
	overflow := binary.LittleEndian.Uint32(stats[4:8])
	l.publishStats(count, overflow)
	if count == 0 {
		return 0
	}

	ids := decodeRequestIDs(reqBytes, min(int(count), copyCount))
	return l.drainRequests(ids)
}

// ProcessRequestsAsync schedules the drain off the calling goroutine and
// returns a Ticket exposing its completion.
//
// The device-to-host copies run on the loader's dedicated copy stream,
// gated on an event recorded on the caller's stream so they cannot race
// the kernel that wrote the ring. A second event marks the copies
// complete; the deferred task synchronizes on it, drains, and loads.
func (l *Loader) ProcessRequestsAsync(stream gpu.Stream, ctx DeviceContext) Ticket {
	// Increment before checking the destroying flag. Both sides are
	// sequentially consistent: if the destructor's quiescence check reads
	// zero, no future call can miss the flag.
	l.inFlight.Add(1)
	committed := false
	defer func() {
		if !committed {
			l.exitAsync()
		}
	}()

	if l.destroying.Load() || l.aborted.Load() {
		return Ticket{}
	}

	copyCount := min(l.opts.MaxRequestsPerLaunch, int(ctx.MaxRequests))

	statsBuf := l.pinned.Acquire(8)
	reqBuf := l.pinned.Acquire(copyCount * 4)
	if !statsBuf.Valid() || !reqBuf.Valid() {
		statsBuf.Release()
		reqBuf.Release()
		l.lastError.store(ErrOutOfMemory)
		return Ticket{}
	}

	depsReady := l.events.Acquire()
	if depsReady == nil {
		statsBuf.Release()
		reqBuf.Release()
		l.lastError.store(ErrDevice)
		return Ticket{}
	}

	fail := func() Ticket {
		l.events.Release(depsReady)
		statsBuf.Release()
		reqBuf.Release()
		l.lastError.store(ErrDevice)
		return Ticket{}
	}

	// depsReady captures all prior work on the caller's stream, including
	// the kernel that wrote the ring.
	if err := depsReady.Record(stream); err != nil {
		return fail()
	}
	copyStream := l.copyStream
	if copyStream == nil {
		copyStream = stream
	}
	if copyStream != stream {
		if err := copyStream.WaitEvent(depsReady); err != nil {
			return fail()
		}
	}

	statsBytes := statsBuf.Bytes()
	reqBytes := reqBuf.Bytes()[:copyCount*4]
	if err := copyStream.CopyToHost(statsBytes[0:4], ctx.RequestStats, 0); err != nil {
		return fail()
	}
	if err := copyStream.CopyToHost(statsBytes[4:8], ctx.RequestStats, 4); err != nil {
		return fail()
	}
	if err := copyStream.CopyToHost(reqBytes, ctx.Requests, 0); err != nil {
		return fail()
	}

	copyDone := l.events.Acquire()
	if copyDone == nil {
		return fail()
	}
	if err := copyDone.Record(copyStream); err != nil {
		l.events.Release(copyDone)
		return fail()
	}

	impl := &ticketImpl{stream: stream, done: make(chan struct{})}
	task := func() {
		defer l.exitAsync()
		defer statsBuf.Release()
		defer reqBuf.Release()

		// Wait out the device copies, then return the events regardless
		// of what happens next.
		if err := copyDone.Synchronize(); err != nil {
			l.lastError.store(ErrDevice)
		}
		l.events.Release(copyDone)
		l.events.Release(depsReady)

		if l.destroying.Load() || l.aborted.Load() {
			return
		}

		count := binary.LittleEndian.Uint32(statsBytes[0:4])
		overflow := binary.LittleEndian.Uint32(statsBytes[4:8])
		l.publishStats(count, overflow)
		if count == 0 {
			return
		}
		ids := decodeRequestIDs(reqBytes, min(int(count), copyCount))
		l.drainRequests(ids)
	}

	if !l.worker.submit(func() { task(); impl.markDone() }) {
		// Worker already shut down (abort or destroy racing this call).
		l.events.Release(copyDone)
		l.events.Release(depsReady)
		statsBuf.Release()
		reqBuf.Release()
		return Ticket{}
	}

	// The task owns the in-flight decrement from here.
	committed = true
	return Ticket{impl: impl}
}

// publishStats exposes the drained counters to the statistics getters.
func (l *Loader) publishStats(count, overflow uint32) {
	l.lastRequestCount.Store(count)
	l.lastOverflow.Store(overflow != 0)
	if overflow != 0 {
		Logger().Warn("processRequests: request ring overflowed",
			"count", count, "capacity", l.opts.MaxRequestsPerLaunch)
	}
	Logger().Debug("processRequests: drained", "count", count)
}

// decodeRequestIDs parses the first n ring entries.
func decodeRequestIDs(raw []byte, n int) []uint32 {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return ids
}

// drainRequests deduplicates the drained IDs, makes room under the byte
// budget, and fans the loads across the worker pool. Returns the number of
// textures loaded.
func (l *Loader) drainRequests(ids []uint32) int {
	unique := make(map[uint32]struct{}, len(ids))
	toLoad := make([]uint32, 0, len(ids))
	var estimate int64

	l.mu.Lock()
	for _, id := range ids {
		if id >= l.nextID {
			continue
		}
		rec := l.records[id]
		if rec.resident.Load() {
			continue
		}
		if _, dup := unique[id]; dup {
			continue
		}
		unique[id] = struct{}{}
		toLoad = append(toLoad, id)
		estimate += rec.estimateBytes()
	}
	Logger().Debug("processRequests: unique misses",
		"count", len(toLoad), "estimatedBytes", estimate)

	if !l.opts.DisableEviction && l.opts.MaxTextureMemory > 0 && estimate > 0 {
		l.evictIfNeededLocked(estimate)
	}
	l.mu.Unlock()

	var loaded atomic.Int64
	if len(toLoad) <= 1 || l.pool == nil {
		for _, id := range toLoad {
			if l.loadTexture(id) {
				loaded.Add(1)
			}
		}
	} else {
		for _, id := range toLoad {
			l.pool.Submit(func() {
				if l.loadTexture(id) {
					loaded.Add(1)
				}
			})
		}
		l.pool.WaitAll()
	}
	return int(loaded.Load())
}
