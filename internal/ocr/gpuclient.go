package ocr

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

const (
	// defaultRequestTimeout covers GPU cold starts, which can take two
	// minutes before the first page returns.
	defaultRequestTimeout = 120 * time.Second
	defaultHealthTimeout  = 10 * time.Second
)

// GPUClientConfig holds configuration for the GPU OCR client.
type GPUClientConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	HealthTimeout  time.Duration
}

// GPUClient talks to the remote GPU OCR service. One request carries one
// base64-encoded page image.
type GPUClient struct {
	baseURL       string
	apiKey        string
	healthTimeout time.Duration
	client        *http.Client
}

// NewGPUClient builds a client for the service at cfg.BaseURL.
func NewGPUClient(cfg GPUClientConfig) *GPUClient {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	return &GPUClient{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		healthTimeout: cfg.HealthTimeout,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

type gpuOCRRequest struct {
	Image string `json:"image"` // base64-encoded PNG
}

type gpuOCRResponse struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type gpuHealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelName   string `json:"model_name"`
}

type gpuErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Healthy probes the health endpoint under a short deadline. It returns nil
// only when the service responds 200 with its model loaded.
func (c *GPUClient) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}

	var health gpuHealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if !health.ModelLoaded {
		return fmt.Errorf("ocr model not loaded (status %q)", health.Status)
	}
	return nil
}

// RecognizePage sends one rendered page and returns the extracted text.
func (c *GPUClient) RecognizePage(ctx context.Context, image []byte) (string, error) {
	reqBody, err := json.Marshal(gpuOCRRequest{
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("marshal ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ocr response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp gpuErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return "", fmt.Errorf("ocr service error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return "", fmt.Errorf("ocr service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var ocrResp gpuOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return ocrResp.Text, nil
}
