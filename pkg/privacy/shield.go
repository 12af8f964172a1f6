package privacy

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/atelierlive/atelier/pkg/core/media"
)

// VerdictKind is the classification of a still frame.
type VerdictKind string

const (
	// VerdictSafe means no faces were detected; the frame may be
	// forwarded unmodified.
	VerdictSafe VerdictKind = "safe"
	// VerdictBlurred means faces were detected and blurred in place;
	// the processed bytes replace the original frame.
	VerdictBlurred VerdictKind = "blurred"
	// VerdictBlocked means the frame must not leave the gateway.
	VerdictBlocked VerdictKind = "blocked"
)

// BlockReasonCrowd is reported when the face count exceeds the crowd
// threshold.
const BlockReasonCrowd = "crowd"

// BlockReasonDetectorUnavailable is reported when the face detector
// failed or timed out; the shield fails closed.
const BlockReasonDetectorUnavailable = "detector_unavailable"

// Verdict is the shield's decision for one frame. Processed is only set
// for blurred verdicts and holds the re-encoded JPEG.
type Verdict struct {
	Kind      VerdictKind
	Processed []byte
	FaceCount int
	Reason    string
}

// Forwardable reports whether a frame with this verdict may be sent
// upstream.
func (v Verdict) Forwardable() bool {
	return v.Kind == VerdictSafe || v.Kind == VerdictBlurred
}

// ShieldMetrics counts verdicts by kind. Implementations must be safe
// for concurrent use.
type ShieldMetrics interface {
	Verdict(kind string)
}

type nopShieldMetrics struct{}

func (nopShieldMetrics) Verdict(string) {}

// MinBlurRadius is the default floor for the Gaussian blur radius.
const MinBlurRadius = 15

// DefaultCrowdThreshold is the face count above which a frame is blocked.
const DefaultCrowdThreshold = 3

// Shield runs the per-frame privacy pipeline: detect, then block, blur,
// or pass. The shield keeps no frame state; callers own verdict history.
type Shield struct {
	detector       FaceDetector
	crowdThreshold int
	minBlurRadius  int
	jpegQuality    int
	metrics        ShieldMetrics
}

// ShieldConfig carries the tunable knobs for a Shield. Zero values fall
// back to the documented defaults.
type ShieldConfig struct {
	CrowdThreshold int
	MinBlurRadius  int
	JPEGQuality    int
	Metrics        ShieldMetrics
}

// NewShield creates a privacy shield around the given detector.
func NewShield(detector FaceDetector, cfg ShieldConfig) *Shield {
	if cfg.CrowdThreshold <= 0 {
		cfg.CrowdThreshold = DefaultCrowdThreshold
	}
	if cfg.MinBlurRadius <= 0 {
		cfg.MinBlurRadius = MinBlurRadius
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopShieldMetrics{}
	}
	return &Shield{
		detector:       detector,
		crowdThreshold: cfg.CrowdThreshold,
		minBlurRadius:  cfg.MinBlurRadius,
		jpegQuality:    media.ClampQuality(cfg.JPEGQuality),
		metrics:        cfg.Metrics,
	}
}

// Process classifies one JPEG frame. Detector failure is fail-closed:
// the verdict is blocked with reason detector_unavailable, never an
// error. An error is returned only when the frame itself is unusable.
func (s *Shield) Process(ctx context.Context, jpegBytes []byte) (Verdict, error) {
	faces, err := s.detector.Detect(ctx, jpegBytes)
	if err != nil {
		v := Verdict{Kind: VerdictBlocked, Reason: BlockReasonDetectorUnavailable}
		s.metrics.Verdict(string(v.Kind))
		return v, nil
	}

	count := len(faces)
	switch {
	case count > s.crowdThreshold:
		v := Verdict{Kind: VerdictBlocked, FaceCount: count, Reason: BlockReasonCrowd}
		s.metrics.Verdict(string(v.Kind))
		return v, nil
	case count == 0:
		v := Verdict{Kind: VerdictSafe}
		s.metrics.Verdict(string(v.Kind))
		return v, nil
	}

	processed, err := s.blurFaces(jpegBytes, faces)
	if err != nil {
		return Verdict{}, fmt.Errorf("privacy: blur frame: %w", err)
	}
	v := Verdict{Kind: VerdictBlurred, Processed: processed, FaceCount: count}
	s.metrics.Verdict(string(v.Kind))
	return v, nil
}

// blurFaces applies a Gaussian blur to each face region and re-encodes
// the frame at the shield's quality level.
func (s *Shield) blurFaces(jpegBytes []byte, faces []FaceBox) ([]byte, error) {
	src, err := media.DecodeImage(jpegBytes)
	if err != nil {
		return nil, err
	}

	canvas := imaging.Clone(src)
	bounds := canvas.Bounds()

	for _, face := range faces {
		rect := clampRect(image.Rect(face.X, face.Y, face.X+face.Width, face.Y+face.Height), bounds)
		if rect.Empty() {
			continue
		}
		radius := s.blurRadius(rect)
		region := imaging.Crop(canvas, rect)
		blurred := imaging.Blur(region, float64(radius))
		canvas = imaging.Paste(canvas, blurred, rect.Min)
	}

	return media.EncodeJPEG(canvas, s.jpegQuality)
}

// blurRadius scales with the face region's short side so small and large
// faces are obscured alike, floored at the configured minimum.
func (s *Shield) blurRadius(rect image.Rectangle) int {
	short := rect.Dx()
	if rect.Dy() < short {
		short = rect.Dy()
	}
	radius := short / 4
	if radius < s.minBlurRadius {
		radius = s.minBlurRadius
	}
	return radius
}

func clampRect(r, bounds image.Rectangle) image.Rectangle {
	return r.Intersect(bounds)
}
