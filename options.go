package demandtex

import "github.com/gogpu/demandtex/gpu"

// Default option values.
const (
	// DefaultMaxTextureMemory is the default device byte budget (2 GiB).
	DefaultMaxTextureMemory = 2 << 30

	// DefaultMaxTextures is the default texture ID space.
	DefaultMaxTextures = 4096

	// DefaultMaxRequestsPerLaunch is the default request ring capacity.
	DefaultMaxRequestsPerLaunch = 1024
)

// LoaderOptions configures a Loader. The zero value selects the defaults
// documented on each field, except DisableEviction which defaults to
// eviction enabled.
type LoaderOptions struct {
	// MaxTextureMemory is the device byte budget charged by resident
	// textures. 0 selects DefaultMaxTextureMemory; negative disables the
	// budget entirely (unlimited).
	MaxTextureMemory int64

	// MaxTextures is the texture ID space. 0 selects DefaultMaxTextures.
	MaxTextures int

	// MaxRequestsPerLaunch is the request ring capacity. 0 selects
	// DefaultMaxRequestsPerLaunch.
	MaxRequestsPerLaunch int

	// DisableEviction turns the eviction policy off; over-budget loads
	// then proceed unchecked.
	DisableEviction bool

	// MaxThreads is the decode worker count. 0 uses half of the available
	// CPUs, capped at 16.
	MaxThreads int

	// MinResidentFrames is the thrash guard: a texture younger than this
	// many frames is never evicted. 0 disables the guard.
	MinResidentFrames uint32
}

// withDefaults resolves zero values to the documented defaults.
func (o LoaderOptions) withDefaults() LoaderOptions {
	if o.MaxTextureMemory == 0 {
		o.MaxTextureMemory = DefaultMaxTextureMemory
	}
	if o.MaxTextureMemory < 0 {
		o.MaxTextureMemory = 0 // 0 means unlimited internally
	}
	if o.MaxTextures <= 0 {
		o.MaxTextures = DefaultMaxTextures
	}
	if o.MaxRequestsPerLaunch <= 0 {
		o.MaxRequestsPerLaunch = DefaultMaxRequestsPerLaunch
	}
	return o
}

// EvictionPriority ranks textures for eviction. Lower-priority textures
// are evicted first; within a priority the least recently used goes first.
type EvictionPriority uint8

const (
	// PriorityNormal is the default ranking.
	PriorityNormal EvictionPriority = iota

	// PriorityLow marks textures to evict before any others.
	PriorityLow

	// PriorityHigh marks textures to evict only after Low and Normal.
	PriorityHigh

	// PriorityKeepResident exempts a texture from eviction entirely.
	PriorityKeepResident
)

// String returns the priority name.
func (p EvictionPriority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityKeepResident:
		return "keep-resident"
	default:
		return "unknown"
	}
}

// bucket maps the priority to its eviction sort rank: Low first, then
// Normal, then High. KeepResident never enters the candidate list.
func (p EvictionPriority) bucket() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	default:
		return 1
	}
}

// TextureDesc configures one texture's sampling state and load behavior.
// The zero value is wrap addressing, point filtering, unnormalized
// coordinates, no mipmaps, normal priority.
type TextureDesc struct {
	// AddressModeU and AddressModeV resolve out-of-range coordinates.
	AddressModeU gpu.AddressMode
	AddressModeV gpu.AddressMode

	// FilterMode is the intra-level sampling filter.
	FilterMode gpu.FilterMode

	// MipFilterMode blends between mip levels.
	MipFilterMode gpu.FilterMode

	// NormalizedCoords selects [0,1) texture coordinates.
	NormalizedCoords bool

	// SRGB enables sRGB-to-linear conversion on fetch.
	SRGB bool

	// GenerateMipmaps builds and uploads a full mip chain on load.
	GenerateMipmaps bool

	// MaxMipLevel caps the generated chain length. 0 means the full
	// chain down to 1x1.
	MaxMipLevel int

	// EvictionPriority ranks the texture for eviction.
	EvictionPriority EvictionPriority
}

// samplerConfig translates the descriptor for the GPU runtime.
func (d TextureDesc) samplerConfig(numLevels int) gpu.SamplerConfig {
	cfg := gpu.SamplerConfig{
		AddressModeU:     d.AddressModeU,
		AddressModeV:     d.AddressModeV,
		FilterMode:       d.FilterMode,
		NormalizedCoords: d.NormalizedCoords,
		SRGB:             d.SRGB,
	}
	if numLevels > 1 {
		cfg.MipFilterMode = d.MipFilterMode
		cfg.MinMipLevel = 0
		cfg.MaxMipLevel = float32(numLevels - 1)
	}
	return cfg
}

// TextureHandle is the result of a creating call. When Valid is false the
// Error field explains why; Width, Height, and Channels are the
// provisional metadata probed at registration and may be zero when the
// probe failed.
type TextureHandle struct {
	ID       uint32
	Valid    bool
	Width    int
	Height   int
	Channels int
	Error    Error
}
