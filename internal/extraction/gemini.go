// Package extraction turns linearized document text into borrower records
// using structured LLM output, with page-level and character-grounded
// provenance paths.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultFlashModel handles STANDARD documents, DefaultProModel the
	// COMPLEX tier.
	DefaultFlashModel = "gemini-2.0-flash"
	DefaultProModel   = "gemini-2.5-pro"

	// geminiTemperature is fixed by the model family for structured
	// output.
	geminiTemperature = 1.0

	defaultMaxOutputTokens = 8192
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey          string
	BaseURL         string
	FlashModel      string
	ProModel        string
	MaxOutputTokens int
	Timeout         time.Duration
}

// GeminiClient calls the generateContent REST surface directly. It holds no
// per-request state; retry counters belong to the caller.
type GeminiClient struct {
	apiKey          string
	baseURL         string
	flashModel      string
	proModel        string
	maxOutputTokens int
	httpClient      *http.Client
}

// NewGeminiClient creates a client, filling defaults for unset fields.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.FlashModel == "" {
		cfg.FlashModel = DefaultFlashModel
	}
	if cfg.ProModel == "" {
		cfg.ProModel = DefaultProModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaultMaxOutputTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &GeminiClient{
		apiKey:          cfg.APIKey,
		baseURL:         cfg.BaseURL,
		flashModel:      cfg.FlashModel,
		proModel:        cfg.ProModel,
		maxOutputTokens: cfg.MaxOutputTokens,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
	}
}

// ModelFor maps a complexity level to the model tier that handles it.
func (c *GeminiClient) ModelFor(level ComplexityLevel) string {
	if level == ComplexityComplex {
		return c.proModel
	}
	return c.flashModel
}

// Available reports whether an API key is configured.
func (c *GeminiClient) Available() bool {
	return c.apiKey != ""
}

// GenerateRequest is one structured-output call.
type GenerateRequest struct {
	Model             string
	SystemInstruction string
	Prompt            string
	ResponseSchema    map[string]any
}

// GenerateResult carries the model text plus token accounting.
type GenerateResult struct {
	Text         string
	ModelUsed    string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// GenerateStructured issues one generateContent call with response-schema
// coercion. A MAX_TOKENS finish is a fatal truncation error since a partial
// JSON document is useless.
func (c *GeminiClient) GenerateStructured(ctx context.Context, genReq *GenerateRequest) (*GenerateResult, error) {
	if c.apiKey == "" {
		return nil, &ExtractionError{
			Code:    ErrLLMAuth,
			Message: "Gemini API key not configured",
			Method:  "gemini",
		}
	}

	generationConfig := map[string]any{
		"temperature":      geminiTemperature,
		"maxOutputTokens":  c.maxOutputTokens,
		"responseMimeType": "application/json",
	}
	if genReq.ResponseSchema != nil {
		generationConfig["responseSchema"] = genReq.ResponseSchema
	}

	requestBody := map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]any{
					{"text": genReq.Prompt},
				},
			},
		},
		"generationConfig": generationConfig,
	}
	if genReq.SystemInstruction != "" {
		requestBody["systemInstruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": genReq.SystemInstruction},
			},
		}
	}

	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, genReq.Model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyGeminiHTTPError(resp.StatusCode, string(respBody))
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, &ExtractionError{
			Code:      ErrEmptyResponse,
			Message:   "no candidates in Gemini response",
			Method:    "gemini",
			Retryable: true,
		}
	}

	candidate := geminiResp.Candidates[0]
	result := &GenerateResult{
		Text:         stripFences(candidate.Content.Parts[0].Text),
		ModelUsed:    genReq.Model,
		FinishReason: candidate.FinishReason,
	}
	if geminiResp.UsageMetadata != nil {
		result.InputTokens = geminiResp.UsageMetadata.PromptTokenCount
		result.OutputTokens = geminiResp.UsageMetadata.CandidatesTokenCount
	}

	if candidate.FinishReason == "MAX_TOKENS" {
		return result, &ExtractionError{
			Code:    ErrResponseTruncated,
			Message: fmt.Sprintf("response truncated at %d output tokens", result.OutputTokens),
			Method:  "gemini",
		}
	}

	return result, nil
}

// classifyGeminiError converts network errors to ExtractionErrors.
func classifyGeminiError(err error) *ExtractionError {
	return &ExtractionError{
		Code:      ErrLLMUnavailable,
		Message:   "Gemini API request failed",
		Method:    "gemini",
		Retryable: true,
		Cause:     err,
	}
}

// classifyGeminiHTTPError converts HTTP errors to ExtractionErrors.
func classifyGeminiHTTPError(statusCode int, body string) *ExtractionError {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &ExtractionError{
			Code:      ErrLLMRateLimited,
			Message:   "Gemini API rate limited",
			Method:    "gemini",
			Retryable: true,
		}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &ExtractionError{
			Code:    ErrLLMAuth,
			Message: fmt.Sprintf("Gemini API auth rejected (HTTP %d)", statusCode),
			Method:  "gemini",
		}
	default:
		return &ExtractionError{
			Code:      ErrLLMUnavailable,
			Message:   fmt.Sprintf("Gemini API error (HTTP %d): %s", statusCode, truncateForError(body)),
			Method:    "gemini",
			Retryable: statusCode >= 500,
		}
	}
}

// stripFences removes markdown code fences some models wrap around JSON.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// extractJSON extracts the first balanced JSON object from a text response.
func extractJSON(text string, v any) error {
	start := -1
	end := -1
	braceCount := 0

	for i, c := range text {
		if c == '{' {
			if start == -1 {
				start = i
			}
			braceCount++
		} else if c == '}' {
			braceCount--
			if braceCount == 0 && start != -1 {
				end = i + 1
				break
			}
		}
	}

	if start == -1 || end == -1 {
		return fmt.Errorf("no JSON object found in response")
	}
	return json.Unmarshal([]byte(text[start:end]), v)
}

func truncateForError(s string) string {
	const max = 300
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
