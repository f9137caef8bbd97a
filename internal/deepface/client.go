// Package deepface talks to a DeepFace REST API server (`deepface api`) as an inference backend.
package deepface

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/facelens/internal/frame"
	"github.com/andresmejia3/facelens/internal/types"
	"github.com/andresmejia3/facelens/internal/worker"
)

// Config for the REST client.
type Config struct {
	BaseURL         string        // e.g. http://localhost:5005
	DetectorBackend string        // "opencv", "retinaface", "mtcnn", ...
	Timeout         time.Duration // Whole-request timeout
	JPEGQuality     int
}

// DefaultConfig matches the defaults of a locally started `deepface api`.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:5005",
		DetectorBackend: "opencv",
		Timeout:         60 * time.Second,
		JPEGQuality:     90,
	}
}

// AnalyzeRequest for POST /analyze
type AnalyzeRequest struct {
	Img              string         `json:"img"` // base64 data URI
	Actions          []types.Action `json:"actions"`
	EnforceDetection bool           `json:"enforce_detection"`
	DetectorBackend  string         `json:"detector_backend,omitempty"`
}

// Client is an inference backend backed by the DeepFace HTTP API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a client. A zero JPEGQuality falls back to the default.
func NewClient(cfg Config) *Client {
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = DefaultConfig().JPEGQuality
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Analyze sends the frame as a JPEG; the server decodes it straight back into BGR for the model.
func (c *Client) Analyze(ctx context.Context, f frame.BGR, actions []types.Action, enforceDetection bool) ([]types.FaceAnalysis, error) {
	img, err := f.Image()
	if err != nil {
		return nil, err
	}
	jpg, err := frame.EncodeJPEG(img, c.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(AnalyzeRequest{
		Img:              "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpg),
		Actions:          actions,
		EnforceDetection: enforceDetection,
		DetectorBackend:  c.cfg.DetectorBackend,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepface request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read deepface response: %w", err)
	}

	faces, parseErr := worker.ParseFaces(respBody)
	if resp.StatusCode != http.StatusOK {
		// DeepFace reports detection failures as 400 with {"error": "..."}
		if parseErr != nil {
			return nil, parseErr
		}
		return nil, fmt.Errorf("deepface returned %s", resp.Status)
	}
	return faces, parseErr
}

// Close is a no-op; it lets the client share the worker pool's lifecycle.
func (c *Client) Close() error { return nil }
