package demandtex

import (
	"bytes"
	"testing"

	"github.com/gogpu/demandtex/backend/cpu"
	"github.com/gogpu/demandtex/gpu"
)

// newTestLoader builds a loader over a fresh cpu runtime plus a launch
// stream and a sampling shim standing in for the kernel.
func newTestLoader(t *testing.T, opts LoaderOptions) (*Loader, *cpu.Runtime, gpu.Stream, *cpu.Sampler) {
	t.Helper()

	rt := cpu.New()
	loader, err := NewLoader(rt, opts)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	stream, err := rt.NewStream(false)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	t.Cleanup(func() {
		loader.Close()
		stream.Destroy()
		_ = rt.Close()
	})

	ctx := loader.DeviceContext()
	sampler, err := cpu.NewSampler(rt, ctx.ResidentFlags, ctx.Textures, ctx.Requests,
		ctx.RequestStats, ctx.MaxTextures, ctx.MaxRequests)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	return loader, rt, stream, sampler
}

// newTestRuntime builds a cpu runtime cleaned up with the test, for tests
// that manage the loader lifetime themselves.
func newTestRuntime(t *testing.T) *cpu.Runtime {
	t.Helper()
	rt := cpu.New()
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

// newTestSampler builds a sampling shim over a loader's device context.
func newTestSampler(t *testing.T, rt *cpu.Runtime, loader *Loader) *cpu.Sampler {
	t.Helper()
	ctx := loader.DeviceContext()
	sampler, err := cpu.NewSampler(rt, ctx.ResidentFlags, ctx.Textures, ctx.Requests,
		ctx.RequestStats, ctx.MaxTextures, ctx.MaxRequests)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	return sampler
}

// solidPixels builds a w*h RGBA8 image of one color.
func solidPixels(w, h int, r, g, b, a byte) []byte {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i+0] = r
		pix[i+1] = g
		pix[i+2] = b
		pix[i+3] = a
	}
	return pix
}

// checkInvariants asserts the resident-state invariants at a stable point:
// mirror bit == mirror handle != 0 == record.resident == memoryUsage > 0,
// and the byte total matches the sum over resident records.
func checkInvariants(t *testing.T, l *Loader) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()

	var total int64
	for id := uint32(0); id < l.nextID; id++ {
		rec := l.records[id]
		resident := rec.resident.Load()
		if got := l.flagMirrorLocked(id); got != resident {
			t.Errorf("texture %d: flag mirror = %v, resident = %v", id, got, resident)
		}
		if got := l.textureMirrorLocked(id) != 0; got != resident {
			t.Errorf("texture %d: handle mirror non-zero = %v, resident = %v", id, got, resident)
		}
		if resident {
			if rec.memoryUsage <= 0 {
				t.Errorf("texture %d: resident with memoryUsage %d", id, rec.memoryUsage)
			}
			if rec.texObj == nil || rec.array == nil {
				t.Errorf("texture %d: resident with nil GPU resources", id)
			}
			total += rec.memoryUsage
		} else if rec.memoryUsage != 0 {
			t.Errorf("texture %d: non-resident with memoryUsage %d", id, rec.memoryUsage)
		}
		if rec.resident.Load() && rec.loading.Load() {
			t.Errorf("texture %d: resident and loading simultaneously", id)
		}
	}
	if total != l.totalMemory {
		t.Errorf("sum of resident memoryUsage = %d, totalMemory = %d", total, l.totalMemory)
	}
}

func TestFirstMissThenResident(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{MaxTextures: 16})

	tex := loader.CreateTextureFromMemory(solidPixels(4, 4, 255, 0, 0, 255), 4, 4, 4, TextureDesc{})
	if !tex.Valid {
		t.Fatalf("create failed: %v", tex.Error)
	}

	// Pass 1: the sample misses and records a request.
	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatalf("LaunchPrepare: %v", err)
	}
	color, resident := sampler.Sample(tex.ID, 0, 0)
	if resident {
		t.Error("texture resident before any load")
	}
	if color != cpu.DefaultFallbackColor {
		t.Errorf("miss returned %v, want fallback %v", color, cpu.DefaultFallbackColor)
	}

	loaded := loader.ProcessRequests(stream, loader.DeviceContext())
	if loaded != 1 {
		t.Errorf("ProcessRequests = %d, want 1", loaded)
	}
	if got := loader.RequestCount(); got != 1 {
		t.Errorf("RequestCount = %d, want 1", got)
	}
	if loader.HadRequestOverflow() {
		t.Error("unexpected overflow")
	}
	if got := loader.ResidentTextureCount(); got != 1 {
		t.Errorf("ResidentTextureCount = %d, want 1", got)
	}
	if got := loader.TotalTextureMemory(); got != 64 {
		t.Errorf("TotalTextureMemory = %d, want 64", got)
	}
	checkInvariants(t, loader)

	// Pass 2: the sample hits.
	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatalf("LaunchPrepare: %v", err)
	}
	color, resident = sampler.Sample(tex.ID, 0, 0)
	if !resident {
		t.Fatal("texture not resident after load")
	}
	want := [4]float32{1, 0, 0, 1}
	if color != want {
		t.Errorf("sample = %v, want %v", color, want)
	}

	if loaded := loader.ProcessRequests(stream, loader.DeviceContext()); loaded != 0 {
		t.Errorf("second ProcessRequests = %d, want 0", loaded)
	}
	if got := loader.RequestCount(); got != 0 {
		t.Errorf("RequestCount = %d, want 0", got)
	}
	if got := loader.ResidentTextureCount(); got != 1 {
		t.Errorf("ResidentTextureCount = %d, want 1", got)
	}
	checkInvariants(t, loader)
}

// runFrame launches one simulated pass sampling the given IDs and drains.
func runFrame(t *testing.T, loader *Loader, stream gpu.Stream, sampler *cpu.Sampler, ids ...uint32) int {
	t.Helper()
	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatalf("LaunchPrepare: %v", err)
	}
	for _, id := range ids {
		sampler.Sample(id, 0, 0)
	}
	return loader.ProcessRequests(stream, loader.DeviceContext())
}

// residentSet returns the IDs currently resident.
func residentSet(l *Loader) map[uint32]bool {
	set := make(map[uint32]bool)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := uint32(0); id < l.nextID; id++ {
		if l.records[id].resident.Load() {
			set[id] = true
		}
	}
	return set
}

func TestEvictionLRUWithinPriority(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{
		MaxTextures:      16,
		MaxTextureMemory: 512,
	})

	pix := solidPixels(8, 8, 10, 20, 30, 255)
	for i := range 4 {
		if tex := loader.CreateTextureFromMemory(pix, 8, 8, 4, TextureDesc{}); !tex.Valid || tex.ID != uint32(i) {
			t.Fatalf("create %d failed", i)
		}
	}

	runFrame(t, loader, stream, sampler, 0, 1) // frame 1
	runFrame(t, loader, stream, sampler, 2)    // frame 2
	runFrame(t, loader, stream, sampler, 3)    // frame 3

	if got := loader.ResidentTextureCount(); got != 2 {
		t.Errorf("ResidentTextureCount = %d, want 2", got)
	}
	set := residentSet(loader)
	if !set[2] || !set[3] || len(set) != 2 {
		t.Errorf("resident set = %v, want {2, 3}", set)
	}
	checkInvariants(t, loader)
}

func TestEvictionPriorityOverridesLRU(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{
		MaxTextures:      16,
		MaxTextureMemory: 512,
	})

	pix := solidPixels(8, 8, 10, 20, 30, 255)
	loader.CreateTextureFromMemory(pix, 8, 8, 4, TextureDesc{EvictionPriority: PriorityKeepResident})
	for range 3 {
		loader.CreateTextureFromMemory(pix, 8, 8, 4, TextureDesc{})
	}

	runFrame(t, loader, stream, sampler, 0, 1)
	runFrame(t, loader, stream, sampler, 2)
	runFrame(t, loader, stream, sampler, 3)

	set := residentSet(loader)
	if !set[0] || !set[3] || len(set) != 2 {
		t.Errorf("resident set = %v, want {0, 3}", set)
	}
	checkInvariants(t, loader)
}

func TestThrashGuard(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{
		MaxTextures:       16,
		MaxTextureMemory:  256,
		MinResidentFrames: 3,
	})

	pix := solidPixels(8, 8, 10, 20, 30, 255)
	loader.CreateTextureFromMemory(pix, 8, 8, 4, TextureDesc{})
	loader.CreateTextureFromMemory(pix, 8, 8, 4, TextureDesc{})

	runFrame(t, loader, stream, sampler, 0) // frame 1
	runFrame(t, loader, stream, sampler, 1) // frame 2

	// Texture 0 is only one frame old, so it survives and the budget
	// overruns by one texture.
	if got := loader.ResidentTextureCount(); got != 2 {
		t.Errorf("ResidentTextureCount = %d, want 2", got)
	}
	if got := loader.TotalTextureMemory(); got != 512 {
		t.Errorf("TotalTextureMemory = %d, want 512 (permitted overrun)", got)
	}
	checkInvariants(t, loader)
}

func TestRequestOverflowSticky(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{
		MaxTextures:          16,
		MaxRequestsPerLaunch: 2,
	})

	pix := solidPixels(4, 4, 1, 2, 3, 255)
	for range 5 {
		loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})
	}

	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatalf("LaunchPrepare: %v", err)
	}
	for id := uint32(0); id < 5; id++ {
		sampler.Sample(id, 0, 0)
	}
	loaded := loader.ProcessRequests(stream, loader.DeviceContext())

	if !loader.HadRequestOverflow() {
		t.Error("expected overflow flag")
	}
	if got := loader.RequestCount(); got != 5 {
		t.Errorf("RequestCount = %d, want 5 (appends count past capacity)", got)
	}
	if loaded != 2 {
		t.Errorf("loaded = %d, want 2 (ring capacity)", loaded)
	}
	set := residentSet(loader)
	if !set[0] || !set[1] || len(set) != 2 {
		t.Errorf("resident set = %v, want {0, 1} (first two appends)", set)
	}

	// Subsequent frames: the flag resets with each LaunchPrepare and the
	// remaining IDs resolve within the ring capacity.
	loaded = runFrame(t, loader, stream, sampler, 2, 3)
	if loader.HadRequestOverflow() {
		t.Error("overflow flag did not clear")
	}
	if loaded != 2 {
		t.Errorf("loaded = %d, want 2", loaded)
	}
	loaded = runFrame(t, loader, stream, sampler, 4)
	if loaded != 1 {
		t.Errorf("loaded = %d, want 1", loaded)
	}
	if got := loader.ResidentTextureCount(); got != 5 {
		t.Errorf("ResidentTextureCount = %d, want 5", got)
	}
	checkInvariants(t, loader)
}

func TestAsyncTicketOrdering(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{MaxTextures: 16})

	pix := solidPixels(4, 4, 9, 9, 9, 255)
	loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})
	loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})

	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatalf("LaunchPrepare: %v", err)
	}
	sampler.Sample(0, 0, 0)
	t1 := loader.ProcessRequestsAsync(stream, loader.DeviceContext())

	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatalf("LaunchPrepare: %v", err)
	}
	sampler.Sample(1, 0, 0)
	t2 := loader.ProcessRequestsAsync(stream, loader.DeviceContext())

	if t1.NumTasksTotal() != 1 || t2.NumTasksTotal() != 1 {
		t.Errorf("ticket totals = %d, %d, want 1, 1", t1.NumTasksTotal(), t2.NumTasksTotal())
	}

	if err := t1.Wait(nil); err != nil {
		t.Fatalf("t1.Wait: %v", err)
	}
	if got := t1.NumTasksRemaining(); got != 0 {
		t.Errorf("t1 remaining after wait = %d, want 0", got)
	}
	if err := t2.Wait(nil); err != nil {
		t.Fatalf("t2.Wait: %v", err)
	}
	if got := t2.NumTasksRemaining(); got != 0 {
		t.Errorf("t2 remaining after wait = %d, want 0", got)
	}

	// Post-wait state is a sequential drain of both requests.
	if got := loader.ResidentTextureCount(); got != 2 {
		t.Errorf("ResidentTextureCount = %d, want 2", got)
	}
	checkInvariants(t, loader)
}

func TestEmptyTicket(t *testing.T) {
	var empty Ticket
	if got := empty.NumTasksTotal(); got != -1 {
		t.Errorf("empty NumTasksTotal = %d, want -1", got)
	}
	if got := empty.NumTasksRemaining(); got != -1 {
		t.Errorf("empty NumTasksRemaining = %d, want -1", got)
	}
	if err := empty.Wait(nil); err != nil {
		t.Errorf("empty Wait returned %v", err)
	}
}

func TestLaunchPrepareUploadsMatchMirrors(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{MaxTextures: 64})

	pix := solidPixels(4, 4, 50, 60, 70, 255)
	for range 5 {
		loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})
	}
	runFrame(t, loader, stream, sampler, 0, 2, 4)
	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatalf("LaunchPrepare: %v", err)
	}

	ctx := loader.DeviceContext()
	devFlags := make([]byte, ctx.ResidentFlags.Size())
	if err := stream.CopyToHost(devFlags, ctx.ResidentFlags, 0); err != nil {
		t.Fatalf("read device flags: %v", err)
	}
	devTex := make([]byte, ctx.Textures.Size())
	if err := stream.CopyToHost(devTex, ctx.Textures, 0); err != nil {
		t.Fatalf("read device textures: %v", err)
	}
	if err := stream.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	loader.mu.Lock()
	hostFlags := loader.hFlags.Bytes()
	hostTex := loader.hTextures.Bytes()
	if !bytes.Equal(devFlags, hostFlags) {
		t.Error("device resident flags differ from host mirror")
	}
	if !bytes.Equal(devTex, hostTex) {
		t.Error("device texture table differs from host mirror")
	}
	loader.mu.Unlock()
}

func TestUnloadTexture(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{MaxTextures: 16})

	pix := solidPixels(4, 4, 1, 1, 1, 255)
	loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})
	runFrame(t, loader, stream, sampler, 0)
	if got := loader.ResidentTextureCount(); got != 1 {
		t.Fatalf("ResidentTextureCount = %d, want 1", got)
	}

	loader.UnloadTexture(0)
	if got := loader.ResidentTextureCount(); got != 0 {
		t.Errorf("ResidentTextureCount after unload = %d, want 0", got)
	}
	if got := loader.TotalTextureMemory(); got != 0 {
		t.Errorf("TotalTextureMemory after unload = %d, want 0", got)
	}
	checkInvariants(t, loader)

	// The texture reloads on the next request.
	loaded := runFrame(t, loader, stream, sampler, 0)
	if loaded != 1 {
		t.Errorf("reload count = %d, want 1", loaded)
	}
	checkInvariants(t, loader)
}

func TestAbort(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{MaxTextures: 16})

	pix := solidPixels(4, 4, 1, 1, 1, 255)
	loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})
	runFrame(t, loader, stream, sampler, 0)

	loader.Abort()
	if !loader.IsAborted() {
		t.Error("IsAborted = false after Abort")
	}
	if got := loader.ResidentTextureCount(); got != 0 {
		t.Errorf("ResidentTextureCount after abort = %d, want 0", got)
	}

	// Further drains are refused.
	if got := loader.ProcessRequests(stream, loader.DeviceContext()); got != 0 {
		t.Errorf("ProcessRequests after abort = %d, want 0", got)
	}
	ticket := loader.ProcessRequestsAsync(stream, loader.DeviceContext())
	if ticket.NumTasksTotal() != -1 {
		t.Error("ProcessRequestsAsync after abort returned a live ticket")
	}
	checkInvariants(t, loader)
}

func TestMemoryRoundTrip(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{MaxTextures: 4})

	// Distinct pixel values survive load and sample exactly (no filtering:
	// point sampling, unnormalized coordinates).
	w, h := 4, 4
	pix := make([]byte, w*h*4)
	for i := range w * h {
		pix[i*4+0] = byte(i * 16)
		pix[i*4+1] = byte(i*16 + 1)
		pix[i*4+2] = byte(i*16 + 2)
		pix[i*4+3] = 255
	}
	tex := loader.CreateTextureFromMemory(pix, w, h, 4, TextureDesc{})
	runFrame(t, loader, stream, sampler, tex.ID)
	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatalf("LaunchPrepare: %v", err)
	}

	for y := range h {
		for x := range w {
			i := y*w + x
			want := [4]float32{
				float32(pix[i*4+0]) / 255,
				float32(pix[i*4+1]) / 255,
				float32(pix[i*4+2]) / 255,
				1,
			}
			got, resident := sampler.Sample(tex.ID, float32(x), float32(y))
			if !resident {
				t.Fatalf("pixel (%d,%d): not resident", x, y)
			}
			if got != want {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}
