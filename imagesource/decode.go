package imagesource

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// Probe returns image metadata without decoding pixel data.
// The sniffing decoder runs first; on any failure the generic stdlib
// decoder registry gets a second chance.
func Probe(path string) (Info, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Info{}, fmt.Errorf("imagesource: open %q: %w", path, err)
	}

	cfg, err := probeSniffed(data)
	if err != nil {
		cfg, _, err = image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return Info{}, fmt.Errorf("imagesource: probe %q: %w", path, err)
		}
	}
	return configInfo(cfg), nil
}

// DecodeFile decodes an image file into tightly packed RGBA8 pixels.
// Channel count reports the source's native channels before expansion.
func DecodeFile(path string) (pix []byte, w, h, channels int, err error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("imagesource: open %q: %w", path, err)
	}
	pix, w, h, channels, err = DecodeBytes(data)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("imagesource: decode %q: %w", path, err)
	}
	return pix, w, h, channels, nil
}

// DecodeBytes decodes an in-memory encoded image into RGBA8 pixels.
func DecodeBytes(data []byte) (pix []byte, w, h, channels int, err error) {
	img, err := decodeSniffed(data)
	if err != nil {
		// Fallback: whatever decoders are registered.
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, 0, 0, 0, err
		}
	}
	pix, w, h = toRGBA(img)
	return pix, w, h, nativeChannels(img), nil
}

// probeSniffed picks a decoder by content sniffing and reads the header.
func probeSniffed(data []byte) (image.Config, error) {
	decode, err := sniff(data)
	if err != nil {
		return image.Config{}, err
	}
	return decode.config(bytes.NewReader(data))
}

// decodeSniffed picks a decoder by content sniffing and decodes fully.
func decodeSniffed(data []byte) (image.Image, error) {
	decode, err := sniff(data)
	if err != nil {
		return nil, err
	}
	return decode.full(bytes.NewReader(data))
}

// decoder pairs a header probe with a full decode for one format.
type decoder struct {
	config func(io.Reader) (image.Config, error)
	full   func(io.Reader) (image.Image, error)
}

var decoders = map[string]decoder{
	matchers.TypePng.Extension:  {png.DecodeConfig, png.Decode},
	matchers.TypeJpeg.Extension: {jpeg.DecodeConfig, jpeg.Decode},
	matchers.TypeGif.Extension:  {gif.DecodeConfig, gif.Decode},
	matchers.TypeBmp.Extension:  {bmp.DecodeConfig, bmp.Decode},
	matchers.TypeTiff.Extension: {tiff.DecodeConfig, tiff.Decode},
	matchers.TypeWebp.Extension: {webp.DecodeConfig, webp.Decode},
}

// sniff identifies the image format from its magic bytes.
func sniff(data []byte) (decoder, error) {
	kind, err := filetype.Image(data)
	if err != nil {
		return decoder{}, fmt.Errorf("imagesource: unrecognized image data: %w", err)
	}
	d, ok := decoders[kind.Extension]
	if !ok {
		return decoder{}, fmt.Errorf("imagesource: no decoder for %q", kind.Extension)
	}
	return d, nil
}

// toRGBA converts any image.Image into tightly packed non-premultiplied
// RGBA8 pixels.
func toRGBA(img image.Image) (pix []byte, w, h int) {
	b := img.Bounds()
	w, h = b.Dx(), b.Dy()
	if n, ok := img.(*image.NRGBA); ok && n.Stride == w*4 && b.Min == (image.Point{}) {
		return n.Pix, w, h
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst.Pix, w, h
}

// nativeChannels reports the channel count of the decoded representation.
func nativeChannels(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.YCbCr, *image.CMYK:
		return 3
	default:
		return 4
	}
}

func configInfo(cfg image.Config) Info {
	// Gray and YCbCr models report their native channel counts; every
	// other model decodes through RGBA.
	channels := 4
	switch cfg.ColorModel {
	case color.GrayModel, color.Gray16Model:
		channels = 1
	case color.YCbCrModel:
		channels = 3
	}
	return Info{Width: cfg.Width, Height: cfg.Height, Channels: channels, MipLevels: 1}
}
