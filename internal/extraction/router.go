package extraction

import (
	"context"
	"fmt"

	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/model"
	"github.com/gregorydickson/loan-sub000/internal/reconcile"
)

// ExtractionOutput is the reconciled result of one extract call.
type ExtractionOutput struct {
	Borrowers         []model.BorrowerRecord     `json:"borrowers"`
	ValidationErrors  []model.ValidationError    `json:"validation_errors,omitempty"`
	Warnings          []model.ConsistencyWarning `json:"warnings,omitempty"`
	AlignmentWarnings []string                   `json:"alignment_warnings,omitempty"`
	MethodUsed        model.ExtractionMethod     `json:"method_used"`
	ModelUsed         string                     `json:"model_used"`
	InputTokens       int                        `json:"input_tokens"`
	OutputTokens      int                        `json:"output_tokens"`
	ChunkCount        int                        `json:"chunk_count"`
}

// Router selects the extraction path for a task and owns the retry and
// fallback policy around the grounded path. Each Extract call carries its
// own retry state; nothing is shared across calls.
type Router struct {
	grounded   *GroundedExtractor
	docling    *DoclingExtractor
	reconciler *reconcile.Reconciler
	retry      RetryConfig
	log        *logging.Logger
}

// RouterConfig wires the extraction router.
type RouterConfig struct {
	Grounded   *GroundedExtractor
	Docling    *DoclingExtractor
	Reconciler *reconcile.Reconciler
	Retry      *RetryConfig
	Log        *logging.Logger
}

// NewRouter builds the router, defaulting the retry policy and logger.
func NewRouter(cfg RouterConfig) *Router {
	retry := DefaultLLMRetryConfig
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	log := cfg.Log
	if log == nil {
		log = logging.Nop()
	}
	rec := cfg.Reconciler
	if rec == nil {
		rec = reconcile.New(log)
	}
	return &Router{
		grounded:   cfg.Grounded,
		docling:    cfg.Docling,
		reconciler: rec,
		retry:      retry,
		log:        log,
	}
}

// Extract runs the requested path over one document and reconciles the
// result.
//
// docling goes straight to the chunked path. langextract runs the grounded
// path, retrying transient failures and raising anything else. auto tries
// the grounded path first and falls back to the chunked path once the
// grounded path is out of options, whether the final error was fatal or
// the retry budget ran dry.
func (r *Router) Extract(ctx context.Context, content *model.DocumentContent, docID, docName string, pageCount int, method model.ExtractionMethod) (*ExtractionOutput, error) {
	switch method {
	case model.MethodDocling:
		return r.extractDocling(ctx, content, docID, docName, pageCount)

	case model.MethodLangExtract:
		res, err := r.groundedWithRetry(ctx, content, docID, docName, pageCount)
		if err != nil {
			return nil, err
		}
		return r.finishGrounded(res), nil

	case model.MethodAuto, "":
		res, err := r.groundedWithRetry(ctx, content, docID, docName, pageCount)
		if err == nil {
			return r.finishGrounded(res), nil
		}
		r.log.Warn("grounded extraction unavailable, falling back to chunked path",
			"document_id", docID,
			"error", err.Error(),
		)
		return r.extractDocling(ctx, content, docID, docName, pageCount)

	default:
		return nil, fmt.Errorf("unknown extraction method %q", method)
	}
}

func (r *Router) groundedWithRetry(ctx context.Context, content *model.DocumentContent, docID, docName string, pageCount int) (*GroundedResult, error) {
	return WithRetry(ctx, r.retry, func(ctx context.Context) (*GroundedResult, error) {
		return r.grounded.Extract(ctx, content, docID, docName, pageCount)
	})
}

func (r *Router) extractDocling(ctx context.Context, content *model.DocumentContent, docID, docName string, pageCount int) (*ExtractionOutput, error) {
	res, err := r.docling.Extract(ctx, content, docID, docName, pageCount)
	if err != nil {
		return nil, err
	}

	rec := r.reconciler.Reconcile(res.Borrowers)
	return &ExtractionOutput{
		Borrowers:        rec.Borrowers,
		ValidationErrors: append(res.ValidationErrors, rec.ValidationErrors...),
		Warnings:         rec.Warnings,
		MethodUsed:       model.MethodDocling,
		ModelUsed:        res.ModelUsed,
		InputTokens:      res.InputTokens,
		OutputTokens:     res.OutputTokens,
		ChunkCount:       res.ChunkCount,
	}, nil
}

func (r *Router) finishGrounded(res *GroundedResult) *ExtractionOutput {
	rec := r.reconciler.Reconcile(res.Borrowers)
	return &ExtractionOutput{
		Borrowers:         rec.Borrowers,
		ValidationErrors:  append(res.ValidationErrors, rec.ValidationErrors...),
		Warnings:          rec.Warnings,
		AlignmentWarnings: res.AlignmentWarnings,
		MethodUsed:        model.MethodLangExtract,
		ModelUsed:         res.ModelUsed,
		InputTokens:       res.InputTokens,
		OutputTokens:      res.OutputTokens,
		ChunkCount:        res.ChunkCount,
	}
}
