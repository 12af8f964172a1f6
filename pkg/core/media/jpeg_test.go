package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func TestClampQuality(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 70}, {69, 70}, {70, 70}, {80, 80}, {85, 85}, {86, 85}, {100, 85},
	}
	for _, tc := range cases {
		if got := ClampQuality(tc.in); got != tc.want {
			t.Errorf("ClampQuality(%d)=%d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeUpstreamJPEG_ShrinksLongSide(t *testing.T) {
	data, err := NormalizeUpstreamJPEG(testImage(1920, 1080), 80)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Width != MaxUpstreamEdge {
		t.Fatalf("width=%d, want %d", cfg.Width, MaxUpstreamEdge)
	}
	if cfg.Height > MaxUpstreamEdge {
		t.Fatalf("height=%d exceeds cap", cfg.Height)
	}
}

func TestNormalizeUpstreamJPEG_PortraitUsesHeight(t *testing.T) {
	data, err := NormalizeUpstreamJPEG(testImage(600, 1200), 80)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Height != MaxUpstreamEdge {
		t.Fatalf("height=%d, want %d", cfg.Height, MaxUpstreamEdge)
	}
}

func TestNormalizeUpstreamJPEG_NeverUpscales(t *testing.T) {
	data, err := NormalizeUpstreamJPEG(testImage(320, 240), 80)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Fatalf("got %dx%d, want 320x240", cfg.Width, cfg.Height)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := EncodeJPEG(testImage(64, 48), 80)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	img, err := DecodeImage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Fatalf("bounds=%v", img.Bounds())
	}
}
