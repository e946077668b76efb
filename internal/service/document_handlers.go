package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gregorydickson/loan-sub000/internal/blob"
	"github.com/gregorydickson/loan-sub000/internal/model"
	"github.com/gregorydickson/loan-sub000/internal/pipeline"
	"github.com/gregorydickson/loan-sub000/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// handleUploadDocument accepts a multipart upload, dedupes on content
// hash, stages the bytes in the bucket and enqueues a processing task.
// The 202 body is the PENDING document record.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == "/" {
		writeError(w, http.StatusBadRequest, "upload has no filename")
		return
	}

	fileType, contentType, err := sniffFileType(data, filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	method := model.ExtractionMethod(r.FormValue("method"))
	if method == "" {
		method = model.MethodDocling
	}
	if !validMethod(method) {
		writeError(w, http.StatusBadRequest, "method must be docling, langextract or auto")
		return
	}
	ocrMode := model.OCRMode(r.FormValue("ocr"))
	if ocrMode == "" {
		ocrMode = model.OCRModeAuto
	}
	if !validOCRMode(ocrMode) {
		writeError(w, http.StatusBadRequest, "ocr must be auto, force or skip")
		return
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])
	if existing, err := s.store.GetDocumentByContentHash(ctx, contentHash); err == nil {
		writeJSON(w, http.StatusConflict, duplicateBody(existing))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.log.Error("content hash lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	doc := &model.Document{
		ID:               uuid.NewString(),
		Filename:         filename,
		ContentHash:      contentHash,
		FileType:         fileType,
		SizeBytes:        int64(len(data)),
		Status:           model.StatusPending,
		ExtractionMethod: method,
		OCRMode:          ocrMode,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, store.ErrDuplicateContent) {
			// Lost a race with a concurrent upload of the same bytes.
			if existing, lookupErr := s.store.GetDocumentByContentHash(ctx, contentHash); lookupErr == nil {
				writeJSON(w, http.StatusConflict, duplicateBody(existing))
				return
			}
			writeError(w, http.StatusConflict, "duplicate document content")
			return
		}
		s.log.Error("document create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist document")
		return
	}

	objectPath := fmt.Sprintf("documents/%s/%s", doc.ID, filename)
	uri, err := s.bucket.Upload(ctx, data, objectPath, contentType)
	if err != nil {
		s.log.Error("blob upload failed", "document_id", doc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to stage document bytes")
		return
	}
	if err := s.store.SetDocumentBlobURI(ctx, doc.ID, uri); err != nil {
		s.log.Error("blob URI commit failed", "document_id", doc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist document")
		return
	}

	task := pipeline.Task{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Method:     method,
		OCR:        ocrMode,
	}
	if err := s.dispatcher.Enqueue(ctx, task); err != nil {
		s.log.Error("task enqueue failed", "document_id", doc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue processing task")
		return
	}

	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		created = doc
	}
	s.log.Info("document accepted",
		"document_id", doc.ID,
		"filename", filename,
		"file_type", string(fileType),
		"size_bytes", doc.SizeBytes,
	)
	writeJSON(w, http.StatusAccepted, created)
}

func duplicateBody(existing *model.Document) map[string]any {
	return map[string]any{
		"error":       "document with identical content already exists",
		"document_id": existing.ID,
		"status":      strings.ToLower(string(existing.Status)),
	}
}

// sniffFileType classifies the upload by magic bytes, not by the client
// supplied extension. DOCX arrives as a zip container, so the extension
// breaks the tie for that one case.
func sniffFileType(data []byte, filename string) (model.FileType, string, error) {
	switch detected := http.DetectContentType(data); detected {
	case "application/pdf":
		return model.FileTypePDF, detected, nil
	case "image/png":
		return model.FileTypePNG, detected, nil
	case "image/jpeg":
		return model.FileTypeJPG, detected, nil
	case "application/zip":
		if strings.EqualFold(filepath.Ext(filename), ".docx") {
			return model.FileTypeDOCX, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", nil
		}
		return "", "", fmt.Errorf("unsupported file type %q", detected)
	default:
		return "", "", fmt.Errorf("unsupported file type %q", detected)
	}
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	pageSize := int32(defaultPageSize)
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page_size must be a positive integer")
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		pageSize = int32(n)
	}

	token := r.URL.Query().Get("page_token")
	if token != "" {
		if _, err := store.DecodePageToken(token); err != nil {
			writeError(w, http.StatusBadRequest, "invalid page_token")
			return
		}
	}

	docs, next, err := s.store.ListDocuments(r.Context(), pageSize, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents":       docs,
		"next_page_token": next,
	})
}

// handleDeleteDocument cascades through the store first so borrower
// cleanup happens even when the blob delete fails afterwards.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		s.log.Error("document delete failed", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	if doc.BlobURI != nil && *doc.BlobURI != "" {
		if _, path, err := blob.ParseURI(*doc.BlobURI); err == nil {
			if err := s.bucket.Delete(ctx, path); err != nil && !errors.Is(err, blob.ErrObjectNotFound) {
				// The record is gone; an orphaned object is only a cost leak.
				s.log.Warn("blob cleanup failed", "document_id", id, "error", err)
			}
		}
	}
	s.log.Info("document deleted", "document_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBorrowers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if _, err := s.store.GetDocument(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	borrowers, err := s.store.ListBorrowersByDocument(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": id,
		"borrowers":   borrowers,
	})
}
