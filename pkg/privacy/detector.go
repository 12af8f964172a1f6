// Package privacy classifies still frames before anything leaves the
// gateway: faces are detected by a remote collaborator, blurred in place
// when few, and the whole frame is withheld when a crowd is present.
package privacy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FaceBox is one detected face region in pixel coordinates.
type FaceBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// FaceDetector locates faces in a JPEG frame. Implementations must honor
// ctx cancellation; any failure is treated by callers as fail-closed.
type FaceDetector interface {
	Detect(ctx context.Context, jpegBytes []byte) ([]FaceBox, error)
}

// DetectorOption configures an HTTPDetector.
type DetectorOption func(*detectorOptions)

type detectorOptions struct {
	httpClient *http.Client
	timeout    time.Duration
}

// WithHTTPClient overrides the HTTP client used for detection requests.
func WithHTTPClient(client *http.Client) DetectorOption {
	return func(o *detectorOptions) { o.httpClient = client }
}

// WithTimeout overrides the per-call detection deadline.
func WithTimeout(d time.Duration) DetectorOption {
	return func(o *detectorOptions) { o.timeout = d }
}

// HTTPDetector calls a face-detection collaborator over HTTP JSON.
type HTTPDetector struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPDetector creates a detector against the collaborator's base URL.
func NewHTTPDetector(baseURL string, opts ...DetectorOption) *HTTPDetector {
	o := &detectorOptions{
		httpClient: http.DefaultClient,
		timeout:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &HTTPDetector{
		baseURL: baseURL,
		client:  o.httpClient,
		timeout: o.timeout,
	}
}

// detectRequest is the collaborator /detect request body.
type detectRequest struct {
	ImageData string `json:"image_data"`
}

// detectResponse is the collaborator /detect response body.
type detectResponse struct {
	Faces []FaceBox `json:"faces"`
}

// Detect implements FaceDetector.
func (d *HTTPDetector) Detect(ctx context.Context, jpegBytes []byte) ([]FaceBox, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	body, err := json.Marshal(detectRequest{
		ImageData: base64.StdEncoding.EncodeToString(jpegBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("detector: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detector: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("detector: status %d: %s", resp.StatusCode, string(respBody))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("detector: decode response: %w", err)
	}
	return out.Faces, nil
}
