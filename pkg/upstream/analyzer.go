package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/atelierlive/atelier/pkg/core"
)

// AnalysisKind selects the spatial-reasoning mode.
type AnalysisKind string

const (
	// AnalysisIdentifySurface locates the surface under a click.
	AnalysisIdentifySurface AnalysisKind = "identify_surface"
	// AnalysisAnalyzeRoom inventories the room's structural elements.
	AnalysisAnalyzeRoom AnalysisKind = "analyze_room"
)

// AnalysisRequest is one spatial query over a still frame. X and Y are
// absolute pixels; Width and Height give the frame size for
// normalization. They are only consulted for identify_surface.
type AnalysisRequest struct {
	JPEG   []byte
	Kind   AnalysisKind
	X      int
	Y      int
	Width  int
	Height int
}

// Surface describes the surface under the queried point. BoundingBox is
// [ymin, xmin, ymax, xmax] normalized to 0..1000.
type Surface struct {
	Type        string `json:"type"`
	Material    string `json:"material"`
	Color       string `json:"color"`
	BoundingBox [4]int `json:"bounding_box"`
	Reasoning   string `json:"reasoning"`
}

// SurfaceAnalysis is the analyzer's result. Raw carries the model's
// full JSON object for analyze_room, whose shape is model-defined.
type SurfaceAnalysis struct {
	Surface Surface
	Raw     json.RawMessage
}

// SurfaceAnalyzer answers spatial queries about a still frame.
type SurfaceAnalyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (SurfaceAnalysis, error)
}

// Analyze implements SurfaceAnalyzer on the generative service.
func (g *GenAI) Analyze(ctx context.Context, req AnalysisRequest) (SurfaceAnalysis, error) {
	prompt, err := buildAnalysisPrompt(req)
	if err != nil {
		return SurfaceAnalysis{}, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.JPEG, "image/jpeg"),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.SpatialModel, contents, nil)
	if err != nil {
		return SurfaceAnalysis{}, core.NewAnalysisFailedError("spatial analysis failed")
	}

	text := resp.Text()
	raw, ok := extractJSONObject(text)
	if !ok {
		return SurfaceAnalysis{}, core.NewAnalysisFailedError("no structured result in model response")
	}
	return parseAnalysis(raw)
}

// buildAnalysisPrompt renders the model prompt for the requested kind.
func buildAnalysisPrompt(req AnalysisRequest) (string, error) {
	switch req.Kind {
	case AnalysisAnalyzeRoom:
		return roomPrompt, nil
	case AnalysisIdentifySurface:
		if req.Width <= 0 || req.Height <= 0 {
			return "", core.NewBadRequestErrorWithParam("frame dimensions are required", "width")
		}
		normX := req.X * 1000 / req.Width
		normY := req.Y * 1000 / req.Height
		return fmt.Sprintf(surfacePromptFmt, normY, normX), nil
	default:
		return "", core.NewBadRequestErrorWithParam("invalid analysis type", "type")
	}
}

const surfacePromptFmt = `Identify the architectural surface at normalized coordinate [%d, %d].
The image represents a room. Is this a wall, floor, ceiling, window, or door?

Provide:
1. The exact bounding box of the entire surface I am pointing at in [ymin, xmin, ymax, xmax] format, normalized 0-1000.
2. Its material and color.
3. Why you believe this is the surface at that point.

Return ONLY a JSON object with keys: "surface" (object with type, material, color, bounding_box), "reasoning" (string).`

const roomPrompt = `Analyze this room image for architectural transformation.
Identify the following structural elements:
1. Walls (main structural surfaces)
2. Floor and ceiling
3. Windows and doors

For each element, provide:
- Bounding box in [ymin, xmin, ymax, xmax] format (normalized 0-1000)
- Surface type
- Material (e.g., concrete, wood, plaster)
- Estimated confidence (0-1)

Also estimate:
- Room dimensions (width, height, depth in meters)
- Camera position relative to the center of the room
- Lighting quality (natural, artificial)

Return ONLY a JSON object.`

// extractJSONObject pulls the first top-level JSON object out of the
// model's text, tolerating markdown fences and prose around it.
func extractJSONObject(text string) (json.RawMessage, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	candidate := json.RawMessage(text[start : end+1])
	if !json.Valid(candidate) {
		return nil, false
	}
	return candidate, true
}

// parseAnalysis decodes the model's JSON into a SurfaceAnalysis. The
// surface key is optional for analyze_room results.
func parseAnalysis(raw json.RawMessage) (SurfaceAnalysis, error) {
	var envelope struct {
		Surface   *Surface `json:"surface"`
		Reasoning string   `json:"reasoning"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return SurfaceAnalysis{}, core.NewAnalysisFailedError("malformed model response")
	}
	out := SurfaceAnalysis{Raw: raw}
	if envelope.Surface != nil {
		out.Surface = *envelope.Surface
		if out.Surface.Reasoning == "" {
			out.Surface.Reasoning = envelope.Reasoning
		}
	}
	return out, nil
}
