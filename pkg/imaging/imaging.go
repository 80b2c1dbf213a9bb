// Package imaging validates downloaded image payloads and re-encodes them
// as JPEG for export.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // GIF decoder registration
	"image/jpeg"
	_ "image/png" // PNG decoder registration

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder registration
)

// DefaultQuality is the JPEG quality used for exports.
const DefaultQuality = 90

var (
	// ErrEmpty is returned for zero-length payloads.
	ErrEmpty = errors.New("empty image payload")

	// ErrInvalidImage is returned when a payload is not a decodable image.
	ErrInvalidImage = errors.New("invalid image payload")
)

// Info describes a decoded image header.
type Info struct {
	Format string
	Width  int
	Height int
}

// Validate checks that data carries a decodable image header and returns
// its format and dimensions. Only the header is parsed.
func Validate(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmpty
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%w: zero dimensions", ErrInvalidImage)
	}

	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Decode fully decodes data.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, format, nil
}

// JPEGOptions controls ToJPEG.
type JPEGOptions struct {
	// Quality in 1..100. Zero selects DefaultQuality.
	Quality int

	// MaxDimension downscales images whose longer side exceeds it,
	// preserving the aspect ratio. Zero disables scaling.
	MaxDimension int
}

// ToJPEG decodes data and re-encodes it as JPEG.
//
// Input that is already JPEG is still re-encoded so every exported file
// has the same encoder settings.
func ToJPEG(data []byte, opts JPEGOptions) ([]byte, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	if opts.MaxDimension > 0 {
		img = fit(img, opts.MaxDimension)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales img so its longer side is at most maxSide. Smaller images are
// returned unchanged.
func fit(img image.Image, maxSide int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxSide && height <= maxSide {
		return img
	}

	if width >= height {
		height = max(1, height*maxSide/width)
		width = maxSide
	} else {
		width = max(1, width*maxSide/height)
		height = maxSide
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
