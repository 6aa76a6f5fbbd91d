// Package faceclient calls the face service to check that a registration
// photo shows a face.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"verifyme/internal/sentinel"
)

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	FaceSize  int     `json:"face_size"`
	IsFrontal bool    `json:"is_frontal"`
}

// Detection is the face service's view of one photo.
type Detection struct {
	FacesDetected int          `json:"faces_detected"`
	Score         float64      `json:"score"`
	Quality       *FaceQuality `json:"quality"`
}

// Client calls the face recognition microservice. With Skip set every photo
// is accepted without a request.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Detect asks the service to find a face in the image at imageURL. It
// returns sentinel.ErrNoFaceDetected when none is found and wraps
// sentinel.ErrUnavailable when the service cannot answer.
func (c *Client) Detect(ctx context.Context, imageURL string) (Detection, error) {
	if c.Skip {
		return Detection{FacesDetected: 1, Score: 1}, nil
	}
	if imageURL == "" {
		return Detection{}, fmt.Errorf("%w: image url required", sentinel.ErrInvalidInput)
	}

	body, _ := json.Marshal(map[string]string{"image_url": imageURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return Detection{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Detection{}, fmt.Errorf("face service: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return Detection{}, sentinel.ErrNoFaceDetected
	case resp.StatusCode >= 300:
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Detection{}, fmt.Errorf("face service: %w: %s: %s", sentinel.ErrUnavailable, resp.Status, string(bodyBytes))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
		Detection
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Detection{}, fmt.Errorf("face service: %w: decode response: %v", sentinel.ErrUnavailable, err)
	}
	if len(out.Embedding) == 0 || out.FacesDetected == 0 {
		return out.Detection, sentinel.ErrNoFaceDetected
	}
	return out.Detection, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service: %w: %s", sentinel.ErrUnavailable, resp.Status)
	}
	return nil
}
