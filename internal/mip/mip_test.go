package mip

import "testing"

func TestNumLevels(t *testing.T) {
	tests := []struct {
		w, h int
		want int
	}{
		{1, 1, 1},
		{2, 2, 2},
		{4, 4, 3},
		{256, 256, 9},
		{256, 1, 9},
		{1, 256, 9},
		{5, 3, 3},  // 5x3 -> 2x1 -> 1x1
		{640, 480, 10},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := NumLevels(tt.w, tt.h); got != tt.want {
			t.Errorf("NumLevels(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestLevelSize(t *testing.T) {
	tests := []struct {
		w, h, level  int
		wantW, wantH int
	}{
		{8, 8, 0, 8, 8},
		{8, 8, 1, 4, 4},
		{8, 8, 3, 1, 1},
		{5, 3, 1, 2, 1},
		{5, 3, 2, 1, 1},
		{1, 256, 4, 1, 16},
	}
	for _, tt := range tests {
		w, h := LevelSize(tt.w, tt.h, tt.level)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("LevelSize(%d, %d, %d) = %dx%d, want %dx%d",
				tt.w, tt.h, tt.level, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestChainBytes(t *testing.T) {
	// 4x4: 64 + 2x2: 16 + 1x1: 4 = 84
	if got := ChainBytes(4, 4); got != 84 {
		t.Errorf("ChainBytes(4, 4) = %d, want 84", got)
	}
	// Flat 1x1 is just 4 bytes.
	if got := ChainBytes(1, 1); got != 4 {
		t.Errorf("ChainBytes(1, 1) = %d, want 4", got)
	}
}

func TestDownsampleEven(t *testing.T) {
	// 2x2 all-distinct gray values average into one pixel.
	src := []byte{
		10, 10, 10, 255, 20, 20, 20, 255,
		30, 30, 30, 255, 40, 40, 40, 255,
	}
	dst, w, h := Downsample(src, 2, 2)
	if w != 1 || h != 1 {
		t.Fatalf("expected 1x1, got %dx%d", w, h)
	}
	if dst[0] != 25 || dst[3] != 255 {
		t.Errorf("expected averaged pixel (25, alpha 255), got %v", dst[:4])
	}
}

func TestDownsampleOdd(t *testing.T) {
	// 5x3 level: each destination pixel averages only the contributing
	// subset of its 2x2 kernel.
	w, h := 5, 3
	src := make([]byte, w*h*4)
	for y := range h {
		for x := range w {
			v := byte(10 * (y*w + x))
			p := (y*w + x) * 4
			src[p+0] = v
			src[p+1] = v
			src[p+2] = v
			src[p+3] = 255
		}
	}
	dst, dw, dh := Downsample(src, w, h)
	if dw != 2 || dh != 1 {
		t.Fatalf("expected 2x1, got %dx%d", dw, dh)
	}

	// Destination (0,0) covers source (0,0),(1,0),(0,1),(1,1): values
	// 0, 10, 50, 60 -> 30.
	if dst[0] != 30 {
		t.Errorf("dst(0,0) = %d, want 30", dst[0])
	}
	// Destination (1,0) covers source (2,0),(3,0),(2,1),(3,1): values
	// 20, 30, 70, 80 -> 50.
	if dst[4] != 50 {
		t.Errorf("dst(1,0) = %d, want 50", dst[4])
	}
}

func TestDownsampleSingleColumn(t *testing.T) {
	// 1x4: kernel has only vertical contributions.
	src := []byte{
		100, 0, 0, 255,
		200, 0, 0, 255,
		10, 0, 0, 255,
		30, 0, 0, 255,
	}
	dst, w, h := Downsample(src, 1, 4)
	if w != 1 || h != 2 {
		t.Fatalf("expected 1x2, got %dx%d", w, h)
	}
	if dst[0] != 150 {
		t.Errorf("dst(0,0) = %d, want 150", dst[0])
	}
	if dst[4] != 20 {
		t.Errorf("dst(0,1) = %d, want 20", dst[4])
	}
}
