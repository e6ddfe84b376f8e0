package emotion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/watchtower/internal/utils"
)

// Config holds the configuration for the emotion client
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Detector    string
	JPEGQuality int
}

// DefaultConfig returns a Config pointing at a local DeepFace API.
// The region is already a cropped face, so detection is skipped.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:5005",
		Timeout:     10 * time.Second,
		Detector:    "skip",
		JPEGQuality: 90,
	}
}

// Client classifies face regions through the DeepFace HTTP API.
type Client struct {
	httpClient *http.Client
	config     Config
}

func NewClient(config Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
	}
}

// Classify returns the dominant emotion for a face region. Errors are
// returned as-is; the caller decides whether to fall back to "unknown".
func (c *Client) Classify(ctx context.Context, region image.Image) (string, error) {
	buf, err := utils.EncodeJPEG(region, c.config.JPEGQuality)
	if err != nil {
		return "", fmt.Errorf("encode region: %w", err)
	}

	req := AnalyzeRequest{
		Img:              "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf),
		Actions:          []string{"emotion"},
		DetectorBackend:  c.config.Detector,
		EnforceDetection: false,
	}

	results, err := c.analyze(ctx, req)
	if err != nil {
		return "", err
	}
	for _, r := range results {
		if label := strings.TrimSpace(r.DominantEmotion); label != "" {
			return label, nil
		}
	}
	return "", ErrNoFace
}

func (c *Client) analyze(ctx context.Context, body AnalyzeRequest) ([]AnalyzeResult, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/analyze"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("emotion service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return decodeResults(respBody)
}

func decodeResults(data []byte) ([]AnalyzeResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrInvalidResponse
	}

	if trimmed[0] == '[' {
		var list []AnalyzeResult
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		return list, nil
	}

	var env analyzeEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if env.Results != nil {
		return env.Results, nil
	}

	// Single-object form.
	var single AnalyzeResult
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return []AnalyzeResult{single}, nil
}
