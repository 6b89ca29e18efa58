package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/gogpu/demandtex"
)

// config is the TOML-configurable demo setup.
type config struct {
	// Backend picks the runtime: "cpu", "wgpu", or "" for best available.
	Backend string `toml:"backend"`

	// Frames is the number of simulated render passes.
	Frames int `toml:"frames"`

	// Workers is the number of concurrent sampling goroutines standing in
	// for GPU waves.
	Workers int `toml:"workers"`

	// Textures describes the procedurally generated scene content.
	Textures textureConfig `toml:"textures"`

	Loader loaderConfig `toml:"loader"`
}

type textureConfig struct {
	// Count is how many checkerboard textures to register.
	Count int `toml:"count"`

	// Size is the square texture edge length in pixels.
	Size int `toml:"size"`

	// Mipmaps enables full mip chains.
	Mipmaps bool `toml:"mipmaps"`
}

type loaderConfig struct {
	MaxTextureMemory  int64 `toml:"max_texture_memory"`
	MaxTextures       int   `toml:"max_textures"`
	MaxRequests       int   `toml:"max_requests_per_launch"`
	MinResidentFrames int   `toml:"min_resident_frames"`
	DisableEviction   bool  `toml:"disable_eviction"`
	MaxThreads        int   `toml:"max_threads"`
}

// defaultConfig sizes a small demo that thrashes a tight budget.
func defaultConfig() config {
	return config{
		Backend: "cpu",
		Frames:  8,
		Workers: 4,
		Textures: textureConfig{
			Count:   64,
			Size:    128,
			Mipmaps: true,
		},
		Loader: loaderConfig{
			MaxTextureMemory: 2 << 20,
			MaxTextures:      256,
			MaxRequests:      512,
		},
	}
}

// loadConfig reads a TOML file over the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// loaderOptions translates the config into demandtex options.
func (c config) loaderOptions() demandtex.LoaderOptions {
	return demandtex.LoaderOptions{
		MaxTextureMemory:     c.Loader.MaxTextureMemory,
		MaxTextures:          c.Loader.MaxTextures,
		MaxRequestsPerLaunch: c.Loader.MaxRequests,
		DisableEviction:      c.Loader.DisableEviction,
		MaxThreads:           c.Loader.MaxThreads,
		MinResidentFrames:    uint32(c.Loader.MinResidentFrames),
	}
}
