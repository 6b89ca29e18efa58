package demandtex

import (
	"sync"
	"testing"
	"time"
)

func TestDrainDeduplicatesRequests(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{MaxTextures: 8})

	pix := solidPixels(4, 4, 1, 1, 1, 255)
	loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})

	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatal(err)
	}
	// The same ID missed many times loads exactly once.
	for range 6 {
		sampler.Sample(0, 0, 0)
	}
	loaded := loader.ProcessRequests(stream, loader.DeviceContext())
	if loaded != 1 {
		t.Errorf("loaded = %d, want 1 (deduplicated)", loaded)
	}
	if got := loader.RequestCount(); got != 6 {
		t.Errorf("RequestCount = %d, want 6 (raw appends)", got)
	}
}

func TestDrainIgnoresInvalidIDs(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{MaxTextures: 8})

	pix := solidPixels(4, 4, 1, 1, 1, 255)
	loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})

	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatal(err)
	}
	// Unregistered IDs may appear in the ring (stale launches); they are
	// skipped without error.
	sampler.RecordRequest(5)
	sampler.RecordRequest(0)
	loaded := loader.ProcessRequests(stream, loader.DeviceContext())
	if loaded != 1 {
		t.Errorf("loaded = %d, want 1", loaded)
	}
}

func TestProcessRequestsEmpty(t *testing.T) {
	loader, _, stream, _ := newTestLoader(t, LoaderOptions{MaxTextures: 8})
	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatal(err)
	}
	if got := loader.ProcessRequests(stream, loader.DeviceContext()); got != 0 {
		t.Errorf("ProcessRequests with no samples = %d, want 0", got)
	}
	if got := loader.RequestCount(); got != 0 {
		t.Errorf("RequestCount = %d, want 0", got)
	}
}

func TestAsyncWaitRecordsEvent(t *testing.T) {
	loader, rt, stream, sampler := newTestLoader(t, LoaderOptions{MaxTextures: 8})

	pix := solidPixels(4, 4, 1, 1, 1, 255)
	loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})

	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatal(err)
	}
	sampler.Sample(0, 0, 0)
	ticket := loader.ProcessRequestsAsync(stream, loader.DeviceContext())

	event, err := rt.NewEvent()
	if err != nil {
		t.Fatal(err)
	}
	defer event.Destroy()
	if err := ticket.Wait(event); err != nil {
		t.Fatalf("Wait with event: %v", err)
	}
	// The event was recorded on the caller's stream; chaining on it works.
	if err := event.Synchronize(); err != nil {
		t.Errorf("event.Synchronize: %v", err)
	}
	if got := loader.ResidentTextureCount(); got != 1 {
		t.Errorf("ResidentTextureCount = %d, want 1", got)
	}
}

func TestConcurrentPublicCalls(t *testing.T) {
	loader, _, stream, sampler := newTestLoader(t, LoaderOptions{MaxTextures: 64})

	pix := solidPixels(4, 4, 1, 1, 1, 255)
	for range 32 {
		loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})
	}

	// Registration, statistics queries, and knob setters race drains
	// without deadlock or corruption.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := range 16 {
			if err := loader.LaunchPrepare(stream); err != nil {
				t.Errorf("LaunchPrepare: %v", err)
				return
			}
			sampler.Sample(uint32(i), 0, 0)
			loader.ProcessRequests(stream, loader.DeviceContext())
		}
	}()
	go func() {
		defer wg.Done()
		for range 64 {
			loader.ResidentTextureCount()
			loader.TotalTextureMemory()
			loader.RequestCount()
		}
	}()
	go func() {
		defer wg.Done()
		for range 16 {
			loader.SetMaxTextureMemory(1 << 20)
			loader.EnableEviction(true)
		}
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("concurrent drains deadlocked")
	}
	checkInvariants(t, loader)
}

func TestCloseWaitsForAsync(t *testing.T) {
	rt := newTestRuntime(t)
	loader, err := NewLoader(rt, LoaderOptions{MaxTextures: 8})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := rt.NewStream(false)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Destroy()

	ctx := loader.DeviceContext()
	sampler := newTestSampler(t, rt, loader)

	pix := solidPixels(4, 4, 1, 1, 1, 255)
	loader.CreateTextureFromMemory(pix, 4, 4, 4, TextureDesc{})
	if err := loader.LaunchPrepare(stream); err != nil {
		t.Fatal(err)
	}
	sampler.Sample(0, 0, 0)
	loader.ProcessRequestsAsync(stream, ctx)

	// Close must block until the drain completes; afterwards no async
	// work is in flight.
	loader.Close()
	if got := loader.inFlight.Load(); got != 0 {
		t.Errorf("inFlight after Close = %d, want 0", got)
	}
}

func TestProcessRequestsAsyncAfterClose(t *testing.T) {
	rt := newTestRuntime(t)
	loader, err := NewLoader(rt, LoaderOptions{MaxTextures: 8})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := rt.NewStream(false)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Destroy()
	ctx := loader.DeviceContext()

	loader.Close()
	ticket := loader.ProcessRequestsAsync(stream, ctx)
	if ticket.NumTasksTotal() != -1 {
		t.Error("drain after Close returned a live ticket")
	}
	if got := loader.inFlight.Load(); got != 0 {
		t.Errorf("inFlight = %d, want 0", got)
	}
}
