// Package pipeline drives a claimed document through download, OCR,
// extraction and borrower persistence. One Process call corresponds to
// one queue delivery; every failure is classified as permanent or
// transient so the transport layer can answer the dispatcher with an
// acknowledgement or a redelivery request without re-deriving policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gregorydickson/loan-sub000/internal/blob"
	"github.com/gregorydickson/loan-sub000/internal/extraction"
	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/model"
	"github.com/gregorydickson/loan-sub000/internal/ocr"
	"github.com/gregorydickson/loan-sub000/internal/store"
)

// DefaultMaxRetryCount is the redelivery budget counted in prior
// attempts: a transient failure on the delivery after this many retries
// fails the document instead of asking for another attempt.
const DefaultMaxRetryCount = 4

// Task is one processing request as the dispatcher delivers it. Method
// and OCR may be empty in the payload; defaults are applied before the
// pipeline runs.
type Task struct {
	DocumentID string                 `json:"document_id"`
	Filename   string                 `json:"filename"`
	Method     model.ExtractionMethod `json:"method,omitempty"`
	OCR        model.OCRMode          `json:"ocr,omitempty"`
}

// withDefaults fills the fields a payload may omit.
func (t Task) withDefaults() Task {
	if t.Method == "" {
		t.Method = model.MethodDocling
	}
	if t.OCR == "" {
		t.OCR = model.OCRModeAuto
	}
	return t
}

// Outcome is the answer for one delivery. Retry true asks the
// dispatcher for another attempt; any other outcome is final and must
// be acknowledged so the task is never delivered again.
type Outcome struct {
	DocumentID string               `json:"document_id"`
	Status     model.DocumentStatus `json:"status"`
	Retry      bool                 `json:"-"`
	Message    string               `json:"error_message,omitempty"`

	BorrowersPersisted int                    `json:"borrowers_persisted"`
	BorrowersAttempted int                    `json:"borrowers_attempted"`
	MethodUsed         model.ExtractionMethod `json:"method_used,omitempty"`
	OCRMethod          model.OCRMethod        `json:"ocr_method,omitempty"`
	InputTokens        int                    `json:"input_tokens,omitempty"`
	OutputTokens       int                    `json:"output_tokens,omitempty"`
}

// Linearizer produces page-structured text for raw document bytes.
// *ocr.Router is the production implementation.
type Linearizer interface {
	Process(ctx context.Context, data []byte, filename string, mode model.OCRMode) (*ocr.Result, error)
}

// Extractor turns linearized content into reconciled borrower records.
// *extraction.Router is the production implementation.
type Extractor interface {
	Extract(ctx context.Context, content *model.DocumentContent, docID, docName string, pageCount int, method model.ExtractionMethod) (*extraction.ExtractionOutput, error)
}

// Processor executes the document lifecycle for queue deliveries.
type Processor struct {
	store     store.Store
	bucket    blob.Bucket
	ocr       Linearizer
	extractor Extractor
	sink      *Sink
	maxRetry  int
	log       *logging.Logger
}

// ProcessorConfig assembles a Processor. MaxRetryCount zero or negative
// selects DefaultMaxRetryCount.
type ProcessorConfig struct {
	Store         store.Store
	Bucket        blob.Bucket
	OCR           Linearizer
	Extractor     Extractor
	MaxRetryCount int
	Log           *logging.Logger
}

// NewProcessor wires the lifecycle processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Log == nil {
		cfg.Log = logging.Nop()
	}
	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = DefaultMaxRetryCount
	}
	return &Processor{
		store:     cfg.Store,
		bucket:    cfg.Bucket,
		ocr:       cfg.OCR,
		extractor: cfg.Extractor,
		sink:      NewSink(cfg.Store, cfg.Log),
		maxRetry:  cfg.MaxRetryCount,
		log:       cfg.Log,
	}
}

// Process runs one delivery attempt. retryCount is the number of prior
// attempts for this task as reported by the dispatcher. Process never
// returns an error: failures are folded into the outcome so callers
// answer 200 or 503 without re-classifying anything.
func (p *Processor) Process(ctx context.Context, task Task, retryCount int) *Outcome {
	task = task.withDefaults()
	log := p.log.With("document_id", task.DocumentID, "retry_count", retryCount)
	log.Info("task claimed",
		"filename", task.Filename,
		"method", string(task.Method),
		"ocr_mode", string(task.OCR),
	)

	doc, claimed, err := p.store.ClaimDocument(ctx, task.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("document does not exist, acknowledging without retry")
			return &Outcome{
				DocumentID: task.DocumentID,
				Status:     model.StatusFailed,
				Message:    "Document not found",
			}
		}
		return p.transient(ctx, log, task.DocumentID, retryCount, fmt.Errorf("claim document: %w", err))
	}
	if doc.Status.Terminal() {
		// Duplicate delivery after the document finished; answer with
		// the recorded result and change nothing.
		log.Info("document already terminal", "status", string(doc.Status))
		return terminalOutcome(doc)
	}
	if !claimed && retryCount == 0 {
		// A first-delivery duplicate lost the claim to a live worker.
		// The winner finishes the document; this delivery only
		// acknowledges. A redelivery (retryCount > 0) of our own
		// PROCESSING document falls through and resumes the work.
		log.Info("document claimed by concurrent worker", "status", string(doc.Status))
		return &Outcome{DocumentID: doc.ID, Status: doc.Status}
	}

	if doc.BlobURI == nil || *doc.BlobURI == "" {
		// The uploader commits the URI right after creating the row; a
		// missing URI here usually means the upload is still in flight.
		return p.transient(ctx, log, doc.ID, retryCount, errors.New("blob URI not committed yet"))
	}

	data, err := blob.DownloadURI(ctx, p.bucket, *doc.BlobURI)
	if err != nil {
		return p.transient(ctx, log, doc.ID, retryCount, fmt.Errorf("download %s: %w", *doc.BlobURI, err))
	}

	ocrRes, err := p.ocr.Process(ctx, data, doc.Filename, task.OCR)
	if err != nil {
		return p.failure(ctx, log, doc.ID, retryCount, fmt.Errorf("linearize %s: %w", doc.Filename, err))
	}

	pageCount := len(ocrRes.Content.Pages)
	if pageCount == 0 {
		pageCount = 1
	}
	ocrProcessed := ocrRes.Method != model.OCRMethodNone
	if err := p.store.UpdateDocumentProcessingState(ctx, doc.ID, pageCount, ocrProcessed); err != nil {
		return p.transient(ctx, log, doc.ID, retryCount, fmt.Errorf("flush processing state: %w", err))
	}

	out, err := p.extractor.Extract(ctx, ocrRes.Content, doc.ID, doc.Filename, pageCount, task.Method)
	if err != nil {
		return p.failure(ctx, log, doc.ID, retryCount, fmt.Errorf("extract: %w", err))
	}
	log.Info("extraction complete",
		"method_used", string(out.MethodUsed),
		"model_used", out.ModelUsed,
		"borrowers", len(out.Borrowers),
		"chunks", out.ChunkCount,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)

	// Persist borrowers one by one. A rejected borrower is recorded and
	// skipped; it must not sink the document.
	persisted := 0
	var rejections []string
	for i := range out.Borrowers {
		b := &out.Borrowers[i]
		if err := p.sink.Persist(ctx, b); err != nil {
			log.Warn("borrower rejected by store", "borrower_id", b.ID, "error", err)
			rejections = append(rejections, fmt.Sprintf("borrower %s: %v", b.ID, err))
			continue
		}
		persisted++
	}

	attempted := len(out.Borrowers)
	status := model.StatusCompleted
	var message *string
	switch {
	case attempted == 0 || persisted == attempted:
		// A document without borrowers is a valid completed document.
	case persisted > 0:
		msg := fmt.Sprintf("Partial success: %d/%d borrowers persisted", persisted, attempted)
		message = &msg
	default:
		status = model.StatusFailed
		msg := fmt.Sprintf("all %d borrowers failed to persist: %s", attempted, strings.Join(rejections, "; "))
		message = &msg
	}

	return p.commitTerminal(ctx, log, doc.ID, status, message, &Outcome{
		DocumentID:         doc.ID,
		Status:             status,
		BorrowersPersisted: persisted,
		BorrowersAttempted: attempted,
		MethodUsed:         out.MethodUsed,
		OCRMethod:          ocrRes.Method,
		InputTokens:        out.InputTokens,
		OutputTokens:       out.OutputTokens,
	})
}

// failure classifies a pipeline error. A native document-processing
// failure is the one permanent class at this layer; everything else is
// treated as a shaky collaborator and handed to the retry budget.
func (p *Processor) failure(ctx context.Context, log *logging.Logger, docID string, retryCount int, cause error) *Outcome {
	if !errors.Is(cause, ocr.ErrDocumentProcessing) {
		return p.transient(ctx, log, docID, retryCount, cause)
	}
	log.Error("document unprocessable, failing without retry", "error", cause)
	msg := cause.Error()
	return p.commitTerminal(ctx, log, docID, model.StatusFailed, &msg, &Outcome{
		DocumentID: docID,
		Status:     model.StatusFailed,
	})
}

// transient answers a retryable failure: a redelivery request while
// budget remains, a FAILED document once it runs out.
func (p *Processor) transient(ctx context.Context, log *logging.Logger, docID string, retryCount int, cause error) *Outcome {
	if retryCount < p.maxRetry {
		log.Warn("transient failure, requesting redelivery", "error", cause)
		return &Outcome{
			DocumentID: docID,
			Status:     model.StatusProcessing,
			Retry:      true,
			Message:    cause.Error(),
		}
	}
	log.Error("retry budget exhausted, failing document", "error", cause)
	msg := fmt.Sprintf("Max retries exhausted: %v", cause)
	return p.commitTerminal(ctx, log, docID, model.StatusFailed, &msg, &Outcome{
		DocumentID: docID,
		Status:     model.StatusFailed,
	})
}

// commitTerminal writes the terminal status and completes the outcome.
// A concurrently finalized document wins and its recorded state is
// answered instead. A store failure on the write is still acknowledged:
// borrowers for the document may already be persisted, so a redelivery
// would duplicate them, while a stuck PROCESSING row stays diagnosable.
func (p *Processor) commitTerminal(ctx context.Context, log *logging.Logger, docID string, status model.DocumentStatus, message *string, out *Outcome) *Outcome {
	if message != nil {
		out.Message = *message
	}
	final, err := p.store.FinalizeDocument(ctx, docID, status, message)
	switch {
	case err == nil:
		log.Info("document finalized",
			"status", string(status),
			"borrowers_persisted", out.BorrowersPersisted,
			"borrowers_attempted", out.BorrowersAttempted,
		)
	case errors.Is(err, store.ErrInvalidTransition) && final != nil:
		log.Info("document finalized concurrently", "status", string(final.Status))
		return terminalOutcome(final)
	default:
		log.Error("terminal status write failed", "status", string(status), "error", err)
	}
	return out
}

func terminalOutcome(doc *model.Document) *Outcome {
	out := &Outcome{DocumentID: doc.ID, Status: doc.Status}
	if doc.ErrorMessage != nil {
		out.Message = *doc.ErrorMessage
	}
	return out
}
