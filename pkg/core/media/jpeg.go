package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const (
	// MaxUpstreamEdge caps the long side of images sent upstream.
	MaxUpstreamEdge = 768

	// JPEG quality bounds for upstream images.
	MinJPEGQuality = 70
	MaxJPEGQuality = 85

	// DefaultJPEGQuality matches the quality the original capture path used.
	DefaultJPEGQuality = 80
)

// ClampQuality forces a JPEG quality setting into the permitted band.
func ClampQuality(q int) int {
	if q < MinJPEGQuality {
		return MinJPEGQuality
	}
	if q > MaxJPEGQuality {
		return MaxJPEGQuality
	}
	return q
}

// EncodeJPEG encodes an image at the given (clamped) quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(ClampQuality(quality))); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes JPEG (or PNG) bytes into an image.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// NormalizeUpstreamJPEG prepares an image for the upstream service: the
// long side is reduced to at most MaxUpstreamEdge (never upscaled) and the
// result is re-encoded at the clamped quality.
func NormalizeUpstreamJPEG(img image.Image, quality int) ([]byte, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty image %dx%d", w, h)
	}

	if w > MaxUpstreamEdge || h > MaxUpstreamEdge {
		if w >= h {
			img = imaging.Resize(img, MaxUpstreamEdge, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, MaxUpstreamEdge, imaging.Lanczos)
		}
	}
	return EncodeJPEG(img, quality)
}
