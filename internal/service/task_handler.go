package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gregorydickson/loan-sub000/internal/model"
	"github.com/gregorydickson/loan-sub000/internal/pipeline"
)

// taskResponse is the body for both the 200 acknowledgement and the 503
// redelivery request. Status is lowercased for dispatcher consumption.
type taskResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Borrowers  int    `json:"borrowers_extracted"`
	Error      string `json:"error,omitempty"`
}

// handleProcessTask is the dispatcher-facing intake. 200 acknowledges a
// terminal or idempotent outcome; 503 asks for another delivery.
func (s *Server) handleProcessTask(w http.ResponseWriter, r *http.Request) {
	var task pipeline.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, "malformed task payload")
		return
	}
	if task.DocumentID == "" || task.Filename == "" {
		writeError(w, http.StatusBadRequest, "document_id and filename are required")
		return
	}
	if _, err := uuid.Parse(task.DocumentID); err != nil {
		writeError(w, http.StatusBadRequest, "document_id must be a UUID")
		return
	}
	if !validMethod(task.Method) {
		writeError(w, http.StatusBadRequest, "method must be docling, langextract or auto")
		return
	}
	if !validOCRMode(task.OCR) {
		writeError(w, http.StatusBadRequest, "ocr must be auto, force or skip")
		return
	}

	name := taskName(r.Header)
	retry := taskRetryCount(r.Header)
	s.log.Info("task delivery received",
		"task_name", name,
		"document_id", task.DocumentID,
		"retry_count", retry,
	)

	out := s.processor.Process(r.Context(), task, retry)
	resp := taskResponse{
		DocumentID: out.DocumentID,
		Status:     strings.ToLower(string(out.Status)),
		Borrowers:  out.BorrowersPersisted,
		Error:      out.Message,
	}
	if out.Retry {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func validMethod(m model.ExtractionMethod) bool {
	switch m {
	case "", model.MethodDocling, model.MethodLangExtract, model.MethodAuto:
		return true
	}
	return false
}

func validOCRMode(m model.OCRMode) bool {
	switch m {
	case "", model.OCRModeAuto, model.OCRModeForce, model.OCRModeSkip:
		return true
	}
	return false
}

// taskName reads the dispatcher's opaque delivery name. Cloud Tasks
// headers take precedence; the plain form serves the local dispatcher.
func taskName(h http.Header) string {
	for _, key := range []string{"X-CloudTasks-TaskName", "X-Task-Name"} {
		if v := h.Get(key); v != "" {
			return v
		}
	}
	return ""
}

// taskRetryCount reads the prior-attempt counter, zero on the first
// delivery or when the header is absent or malformed.
func taskRetryCount(h http.Header) int {
	for _, key := range []string{"X-CloudTasks-TaskRetryCount", "X-Task-Retry-Count"} {
		if v := h.Get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				return n
			}
		}
	}
	return 0
}
