// Command texdemo drives the demand-loading pipeline end to end on the
// software runtime: it registers a set of procedural textures, then runs
// simulated render passes in which concurrent "waves" sample random
// textures, misses are drained, and residency converges frame over frame.
//
// Usage:
//
//	texdemo [-config demo.toml] [-v]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/demandtex"
	"github.com/gogpu/demandtex/backend"
	"github.com/gogpu/demandtex/backend/cpu"
	"github.com/gogpu/demandtex/gpu"
	"github.com/gogpu/demandtex/imagesource"
)

func main() {
	configPath := flag.String("config", "", "TOML config file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if err := run(*configPath, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "texdemo:", err)
		os.Exit(1)
	}
}

func run(configPath string, verbose bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	demandtex.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	rt, err := newRuntime(cfg.Backend)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	loader, err := demandtex.NewLoader(rt, cfg.loaderOptions())
	if err != nil {
		return err
	}
	defer loader.Close()

	stream, err := rt.NewStream(false)
	if err != nil {
		return err
	}
	defer stream.Destroy()

	// Register procedural scene content.
	ids := make([]uint32, 0, cfg.Textures.Count)
	for i := range cfg.Textures.Count {
		src := imagesource.NewCheckerboard(
			cfg.Textures.Size, cfg.Textures.Size, 8+i%24,
			[4]byte{byte(50 + i*3), byte(200 - i*2), byte(90 + i), 255},
			[4]byte{0, 0, 0, 255},
		)
		tex := loader.CreateTextureFromSource(src, demandtex.TextureDesc{
			NormalizedCoords: true,
			GenerateMipmaps:  cfg.Textures.Mipmaps,
		})
		if !tex.Valid {
			return fmt.Errorf("register texture %d: %s", i, tex.Error)
		}
		ids = append(ids, tex.ID)
	}

	// The demo "kernel" only exists for the cpu runtime; real GPU
	// backends bring their own shaders.
	cpuRT, ok := rt.(*cpu.Runtime)
	if !ok {
		return fmt.Errorf("demo kernel requires the cpu backend")
	}
	ctx := loader.DeviceContext()
	sampler, err := cpu.NewSampler(cpuRT, ctx.ResidentFlags, ctx.Textures,
		ctx.Requests, ctx.RequestStats, ctx.MaxTextures, ctx.MaxRequests)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(42))
	for frame := 1; frame <= cfg.Frames; frame++ {
		if err := loader.LaunchPrepare(stream); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}

		// Concurrent waves sample a random working set.
		var g errgroup.Group
		for w := range cfg.Workers {
			seed := rng.Int63()
			g.Go(func() error {
				local := rand.New(rand.NewSource(seed + int64(w)))
				for range 256 {
					id := ids[local.Intn(len(ids))]
					sampler.Sample(id, local.Float32(), local.Float32())
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		ticket := loader.ProcessRequestsAsync(stream, ctx)
		if err := ticket.Wait(nil); err != nil {
			return err
		}

		fmt.Printf("frame %2d: requests=%4d resident=%3d memory=%6.1f KiB overflow=%v\n",
			frame,
			loader.RequestCount(),
			loader.ResidentTextureCount(),
			float64(loader.TotalTextureMemory())/1024,
			loader.HadRequestOverflow(),
		)
	}
	return nil
}

// newRuntime resolves the configured backend name, or picks the best
// available when the name is empty.
func newRuntime(name string) (gpu.Runtime, error) {
	if name == "" {
		return backend.Default()
	}
	rt, err := backend.New(name)
	if err != nil {
		return nil, fmt.Errorf("backend %q: %w", name, err)
	}
	return rt, nil
}
