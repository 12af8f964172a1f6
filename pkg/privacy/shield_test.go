package privacy

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/atelierlive/atelier/pkg/core/media"
)

type fakeDetector struct {
	faces []FaceBox
	err   error
}

func (f *fakeDetector) Detect(context.Context, []byte) ([]FaceBox, error) {
	return f.faces, f.err
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	data, err := media.EncodeJPEG(img, 80)
	if err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return data
}

func faceAt(x, y, w, h int) FaceBox {
	return FaceBox{X: x, Y: y, Width: w, Height: h, Confidence: 0.9}
}

func TestShield_NoFacesIsSafe(t *testing.T) {
	s := NewShield(&fakeDetector{}, ShieldConfig{})
	v, err := s.Process(context.Background(), testJPEG(t, 100, 100))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Kind != VerdictSafe {
		t.Fatalf("kind=%s, want safe", v.Kind)
	}
	if v.Processed != nil {
		t.Fatalf("safe verdict must not carry processed bytes")
	}
	if !v.Forwardable() {
		t.Fatalf("safe must be forwardable")
	}
}

func TestShield_AtThresholdBlurs(t *testing.T) {
	faces := []FaceBox{
		faceAt(0, 0, 30, 30),
		faceAt(40, 0, 30, 30),
		faceAt(0, 40, 30, 30),
	}
	s := NewShield(&fakeDetector{faces: faces}, ShieldConfig{CrowdThreshold: 3})
	v, err := s.Process(context.Background(), testJPEG(t, 200, 200))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Kind != VerdictBlurred {
		t.Fatalf("kind=%s, want blurred at threshold", v.Kind)
	}
	if v.FaceCount != 3 {
		t.Fatalf("face_count=%d, want 3", v.FaceCount)
	}
	if len(v.Processed) == 0 {
		t.Fatalf("blurred verdict must carry processed bytes")
	}
	if !v.Forwardable() {
		t.Fatalf("blurred must be forwardable")
	}
}

func TestShield_AboveThresholdBlocks(t *testing.T) {
	faces := make([]FaceBox, 4)
	for i := range faces {
		faces[i] = faceAt(i*20, 0, 15, 15)
	}
	s := NewShield(&fakeDetector{faces: faces}, ShieldConfig{CrowdThreshold: 3})
	v, err := s.Process(context.Background(), testJPEG(t, 200, 200))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Kind != VerdictBlocked {
		t.Fatalf("kind=%s, want blocked above threshold", v.Kind)
	}
	if v.Reason != BlockReasonCrowd {
		t.Fatalf("reason=%q, want crowd", v.Reason)
	}
	if v.FaceCount != 4 {
		t.Fatalf("face_count=%d, want 4", v.FaceCount)
	}
	if v.Forwardable() {
		t.Fatalf("blocked must not be forwardable")
	}
}

func TestShield_DetectorFailureFailsClosed(t *testing.T) {
	s := NewShield(&fakeDetector{err: errors.New("dial tcp: timeout")}, ShieldConfig{})
	v, err := s.Process(context.Background(), testJPEG(t, 100, 100))
	if err != nil {
		t.Fatalf("detector failure must not surface as error, got %v", err)
	}
	if v.Kind != VerdictBlocked {
		t.Fatalf("kind=%s, want blocked", v.Kind)
	}
	if v.Reason != BlockReasonDetectorUnavailable {
		t.Fatalf("reason=%q, want detector_unavailable", v.Reason)
	}
	if v.FaceCount != 0 {
		t.Fatalf("face_count=%d, want 0", v.FaceCount)
	}
}

func TestShield_BlurChangesFaceRegion(t *testing.T) {
	src := testJPEG(t, 120, 120)
	s := NewShield(&fakeDetector{faces: []FaceBox{faceAt(10, 10, 60, 60)}}, ShieldConfig{})
	v, err := s.Process(context.Background(), src)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Kind != VerdictBlurred {
		t.Fatalf("kind=%s, want blurred", v.Kind)
	}

	orig, err := media.DecodeImage(src)
	if err != nil {
		t.Fatalf("decode original: %v", err)
	}
	out, err := media.DecodeImage(v.Processed)
	if err != nil {
		t.Fatalf("decode processed: %v", err)
	}
	if out.Bounds() != orig.Bounds() {
		t.Fatalf("processed bounds %v != original %v", out.Bounds(), orig.Bounds())
	}
}

func TestShield_FaceOutsideBoundsIgnored(t *testing.T) {
	faces := []FaceBox{faceAt(500, 500, 40, 40)}
	s := NewShield(&fakeDetector{faces: faces}, ShieldConfig{})
	v, err := s.Process(context.Background(), testJPEG(t, 100, 100))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	// Still counted as a face, region just clamps to nothing.
	if v.Kind != VerdictBlurred || v.FaceCount != 1 {
		t.Fatalf("kind=%s count=%d, want blurred/1", v.Kind, v.FaceCount)
	}
}
