// Package mip provides mip-chain arithmetic and the box-filter downsample
// shared by the loader pipeline and the image sources.
package mip

import "math/bits"

// NumLevels returns the full mip chain length for the given base
// dimensions: 1 + floor(log2(max(w, h))).
func NumLevels(width, height int) int {
	d := max(width, height)
	if d < 1 {
		return 0
	}
	return bits.Len(uint(d))
}

// LevelSize returns the dimensions of mip level n for the given base.
func LevelSize(width, height, level int) (int, int) {
	return max(1, width>>level), max(1, height>>level)
}

// ChainBytes returns the total RGBA8 byte count of the full mip chain,
// the estimate the request pipeline charges against the budget.
func ChainBytes(width, height int) int {
	total := 0
	for level := range NumLevels(width, height) {
		w, h := LevelSize(width, height, level)
		total += w * h * 4
	}
	return total
}

// Downsample box-filters an RGBA8 image to half resolution.
//
// Each destination pixel averages the 2x2 source block under it. On odd
// dimensions the out-of-range source samples are dropped from the kernel
// and the divisor is the number of contributing samples (at least 1,
// at most 4).
func Downsample(src []byte, w, h int) (dst []byte, dw, dh int) {
	dw = max(1, w/2)
	dh = max(1, h/2)
	dst = make([]byte, dw*dh*4)

	for y := range dh {
		for x := range dw {
			sx := x * 2
			sy := y * 2
			for c := range 4 {
				sum := 0
				count := 0
				for dy := 0; dy < 2 && sy+dy < h; dy++ {
					for dx := 0; dx < 2 && sx+dx < w; dx++ {
						sum += int(src[((sy+dy)*w+(sx+dx))*4+c])
						count++
					}
				}
				dst[(y*dw+x)*4+c] = byte(sum / count)
			}
		}
	}
	return dst, dw, dh
}
