package gpu

// AddressMode controls how sampling coordinates outside [0, 1) are resolved.
type AddressMode uint8

const (
	// AddressWrap repeats the texture (coordinate modulo 1).
	AddressWrap AddressMode = iota

	// AddressClamp clamps coordinates to the edge texel.
	AddressClamp

	// AddressMirror repeats the texture with every other tile mirrored.
	AddressMirror

	// AddressBorder returns transparent black outside the texture.
	AddressBorder
)

// String returns the address mode name.
func (m AddressMode) String() string {
	switch m {
	case AddressWrap:
		return "wrap"
	case AddressClamp:
		return "clamp"
	case AddressMirror:
		return "mirror"
	case AddressBorder:
		return "border"
	default:
		return "unknown"
	}
}

// FilterMode selects the sampling filter within a mip level, or between
// levels when used as the mip filter.
type FilterMode uint8

const (
	// FilterPoint selects the nearest texel (or nearest mip level).
	FilterPoint FilterMode = iota

	// FilterLinear blends the surrounding texels (or adjacent mip levels).
	FilterLinear
)

// String returns the filter mode name.
func (m FilterMode) String() string {
	switch m {
	case FilterPoint:
		return "point"
	case FilterLinear:
		return "linear"
	default:
		return "unknown"
	}
}

// SamplerConfig describes how a texture object samples its backing array.
// The zero value is wrap addressing with point filtering and unnormalized
// coordinates; callers usually want NormalizedCoords and FilterLinear.
type SamplerConfig struct {
	// AddressModeU and AddressModeV resolve out-of-range coordinates per axis.
	AddressModeU AddressMode
	AddressModeV AddressMode

	// FilterMode is the intra-level sampling filter.
	FilterMode FilterMode

	// MipFilterMode blends between mip levels. Ignored for flat arrays.
	MipFilterMode FilterMode

	// NormalizedCoords selects [0,1) texture coordinates instead of texels.
	NormalizedCoords bool

	// SRGB enables sRGB-to-linear conversion on fetch.
	SRGB bool

	// MinMipLevel and MaxMipLevel clamp the sampled level range.
	// Both zero means no clamping beyond the array's own level count.
	MinMipLevel float32
	MaxMipLevel float32
}
