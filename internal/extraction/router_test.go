package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

type scriptStep struct {
	status int
	body   string
}

// scriptedGemini serves a fixed sequence of responses and records which
// extraction path issued each call, classified by the response schema in
// the request body.
type scriptedGemini struct {
	mu    sync.Mutex
	steps []scriptStep
	calls []string
}

func (s *scriptedGemini) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	kind := "docling"
	if strings.Contains(string(body), `"extractions"`) {
		kind = "grounded"
	}

	s.mu.Lock()
	s.calls = append(s.calls, kind)
	step := scriptStep{status: http.StatusInternalServerError, body: `{"error": {"message": "script exhausted"}}`}
	if len(s.steps) > 0 {
		step = s.steps[0]
		s.steps = s.steps[1:]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(step.status)
	io.WriteString(w, step.body)
}

func (s *scriptedGemini) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// geminiEnvelope wraps a model payload in a generateContent response.
func geminiEnvelope(payload string) string {
	resp := map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"parts": []map[string]any{{"text": payload}}},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     100,
			"candidatesTokenCount": 20,
			"totalTokenCount":      120,
		},
	}
	b, err := json.Marshal(resp)
	if err != nil {
		panic(err)
	}
	return string(b)
}

const (
	groundedFixture = `{"extractions": [
		{"extraction_class": "borrower_name", "extraction_text": "Jane Doe", "attributes": {"borrower_index": "1"}},
		{"extraction_class": "ssn", "extraction_text": "123-45-6789", "attributes": {"borrower_index": "1"}}
	]}`
	doclingFixture = `{"borrowers": [{"name": "Jane Doe", "ssn": "123-45-6789"}]}`

	overloadedBody = `{"error": {"message": "The model is overloaded. Please try again later."}}`
	badKeyBody     = `{"error": {"message": "Invalid API key", "status": "UNAUTHENTICATED"}}`
)

func newTestRouter(t *testing.T, baseURL string) *Router {
	t.Helper()
	client := NewGeminiClient(GeminiConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	})
	retry := RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      4 * time.Millisecond,
		BackoffFactor: 2.0,
	}
	return NewRouter(RouterConfig{
		Grounded: NewGroundedExtractor(client, 0, 0, nil),
		Docling:  NewDoclingExtractor(client, 0, 0, nil),
		Retry:    &retry,
	})
}

func routerTestContent() *model.DocumentContent {
	return &model.DocumentContent{Text: "Borrower: Jane Doe\nSSN: 123-45-6789"}
}

func TestRouterAuto_TransientRetriesThenSuccess(t *testing.T) {
	script := &scriptedGemini{steps: []scriptStep{
		{status: http.StatusServiceUnavailable, body: overloadedBody},
		{status: http.StatusServiceUnavailable, body: overloadedBody},
		{status: http.StatusOK, body: geminiEnvelope(groundedFixture)},
	}}
	server := httptest.NewServer(http.HandlerFunc(script.handler))
	defer server.Close()

	router := newTestRouter(t, server.URL)
	out, err := router.Extract(context.Background(), routerTestContent(), "doc-1", "app.pdf", 1, model.MethodAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := script.recorded()
	if len(calls) != 3 {
		t.Fatalf("expected exactly 3 calls, got %d: %v", len(calls), calls)
	}
	for i, kind := range calls {
		if kind != "grounded" {
			t.Errorf("call %d went to the %s path; transient errors must not trigger fallback", i, kind)
		}
	}
	if out.MethodUsed != model.MethodLangExtract {
		t.Errorf("MethodUsed = %s, want langextract", out.MethodUsed)
	}
	if len(out.Borrowers) != 1 || out.Borrowers[0].Name != "Jane Doe" {
		t.Fatalf("borrowers = %+v", out.Borrowers)
	}
	if src := out.Borrowers[0].Sources[0]; src.CharStart == nil || src.CharEnd == nil {
		t.Error("grounded path must produce character offsets")
	}
	if out.InputTokens != 100 || out.OutputTokens != 20 {
		t.Errorf("tokens = (%d, %d), want only the successful attempt counted", out.InputTokens, out.OutputTokens)
	}
}

func TestRouterAuto_FatalFallsBackImmediately(t *testing.T) {
	script := &scriptedGemini{steps: []scriptStep{
		{status: http.StatusUnauthorized, body: badKeyBody},
		{status: http.StatusOK, body: geminiEnvelope(doclingFixture)},
	}}
	server := httptest.NewServer(http.HandlerFunc(script.handler))
	defer server.Close()

	router := newTestRouter(t, server.URL)
	out, err := router.Extract(context.Background(), routerTestContent(), "doc-1", "app.pdf", 1, model.MethodAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := script.recorded()
	if len(calls) != 2 || calls[0] != "grounded" || calls[1] != "docling" {
		t.Fatalf("expected [grounded docling], got %v", calls)
	}
	if out.MethodUsed != model.MethodDocling {
		t.Errorf("MethodUsed = %s, want docling", out.MethodUsed)
	}
	if len(out.Borrowers) != 1 || out.Borrowers[0].SSNLast4 != "6789" {
		t.Fatalf("borrowers = %+v", out.Borrowers)
	}
	if src := out.Borrowers[0].Sources[0]; src.CharStart != nil || src.CharEnd != nil {
		t.Error("chunked path must not fabricate character offsets")
	}
}

func TestRouterLangExtract_RaisesAfterExhaustion(t *testing.T) {
	script := &scriptedGemini{steps: []scriptStep{
		{status: http.StatusServiceUnavailable, body: overloadedBody},
		{status: http.StatusServiceUnavailable, body: overloadedBody},
		{status: http.StatusServiceUnavailable, body: overloadedBody},
	}}
	server := httptest.NewServer(http.HandlerFunc(script.handler))
	defer server.Close()

	router := newTestRouter(t, server.URL)
	_, err := router.Extract(context.Background(), routerTestContent(), "doc-1", "app.pdf", 1, model.MethodLangExtract)
	if err == nil {
		t.Fatal("expected the final transient error to be raised")
	}

	calls := script.recorded()
	if len(calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d: %v", len(calls), calls)
	}
	for _, kind := range calls {
		if kind != "grounded" {
			t.Fatalf("langextract must never fall back, got %v", calls)
		}
	}
	var extErr *ExtractionError
	if !errors.As(err, &extErr) || extErr.Code != ErrLLMUnavailable {
		t.Errorf("expected LLM_UNAVAILABLE, got %v", err)
	}
}

func TestRouterLangExtract_SchemaViolationNotRetried(t *testing.T) {
	script := &scriptedGemini{steps: []scriptStep{
		{status: http.StatusOK, body: geminiEnvelope("the document lists one borrower named Jane")},
	}}
	server := httptest.NewServer(http.HandlerFunc(script.handler))
	defer server.Close()

	router := newTestRouter(t, server.URL)
	_, err := router.Extract(context.Background(), routerTestContent(), "doc-1", "app.pdf", 1, model.MethodLangExtract)
	if err == nil {
		t.Fatal("expected a schema violation")
	}
	if calls := script.recorded(); len(calls) != 1 {
		t.Fatalf("schema violations must not be retried, got %d calls", len(calls))
	}
	var extErr *ExtractionError
	if !errors.As(err, &extErr) || extErr.Code != ErrSchemaViolation {
		t.Errorf("expected SCHEMA_VIOLATION, got %v", err)
	}
}

func TestRouterDocling_Direct(t *testing.T) {
	script := &scriptedGemini{steps: []scriptStep{
		{status: http.StatusOK, body: geminiEnvelope(doclingFixture)},
	}}
	server := httptest.NewServer(http.HandlerFunc(script.handler))
	defer server.Close()

	router := newTestRouter(t, server.URL)
	out, err := router.Extract(context.Background(), routerTestContent(), "doc-1", "app.pdf", 1, model.MethodDocling)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := script.recorded()
	if len(calls) != 1 || calls[0] != "docling" {
		t.Fatalf("expected one docling call, got %v", calls)
	}
	if out.MethodUsed != model.MethodDocling {
		t.Errorf("MethodUsed = %s", out.MethodUsed)
	}
	if out.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d, want 1", out.ChunkCount)
	}
}

func TestRouter_UnknownMethod(t *testing.T) {
	script := &scriptedGemini{}
	server := httptest.NewServer(http.HandlerFunc(script.handler))
	defer server.Close()

	router := newTestRouter(t, server.URL)
	_, err := router.Extract(context.Background(), routerTestContent(), "doc-1", "app.pdf", 1, model.ExtractionMethod("magic"))
	if err == nil || !strings.Contains(err.Error(), "unknown extraction method") {
		t.Fatalf("expected unknown-method error, got %v", err)
	}
	if calls := script.recorded(); len(calls) != 0 {
		t.Fatalf("no calls expected, got %v", calls)
	}
}
