package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/model"
)

// doclingSystemInstruction describes the extraction contract for the
// page-level path.
const doclingSystemInstruction = `You are a mortgage document analyst. Extract every borrower from the provided document text.

Rules:
- Return one entry per distinct borrower. A co-borrower or spouse is a separate borrower.
- Copy identifiers (SSN, account numbers, loan numbers) exactly as written.
- Record every income figure with its year, period, source type and employer when stated.
- Leave out fields the document does not state. Never invent values.`

// DoclingResult is the raw output of the chunked path, before
// reconciliation.
type DoclingResult struct {
	Borrowers        []model.BorrowerRecord
	ValidationErrors []model.ValidationError
	Complexity       *Complexity
	ModelUsed        string
	InputTokens      int
	OutputTokens     int
	ChunkCount       int
}

// DoclingExtractor is the chunked, page-level extraction path. It splits
// the document, issues one structured call per chunk at the tier selected
// by the complexity classifier, and converts the raw rows into records
// with page-level provenance. Chunks run sequentially so token accounting
// and record order stay deterministic.
type DoclingExtractor struct {
	client   *GeminiClient
	maxChars int
	overlap  int
	log      *logging.Logger
}

// NewDoclingExtractor wires the chunked path. Zero chunk sizes fall back
// to the defaults.
func NewDoclingExtractor(client *GeminiClient, maxChars, overlap int, log *logging.Logger) *DoclingExtractor {
	if maxChars <= 0 {
		maxChars = DefaultChunkMaxChars
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if log == nil {
		log = logging.Nop()
	}
	return &DoclingExtractor{client: client, maxChars: maxChars, overlap: overlap, log: log}
}

// Extract runs the chunked path over one document. A failed chunk fails
// the call; skipping chunks silently would drop borrowers.
func (d *DoclingExtractor) Extract(ctx context.Context, content *model.DocumentContent, docID, docName string, pageCount int) (*DoclingResult, error) {
	complexity := ClassifyComplexity(content.Text, pageCount)
	modelID := d.client.ModelFor(complexity.Level)
	chunks := SplitChunks(content.Text, d.maxChars, d.overlap)

	d.log.Info("docling extraction started",
		"document_id", docID,
		"complexity", complexity.Level,
		"model", modelID,
		"chunks", len(chunks),
	)

	out := &DoclingResult{
		Complexity: complexity,
		ModelUsed:  modelID,
		ChunkCount: len(chunks),
	}

	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Text) == "" {
			continue
		}

		res, err := d.client.GenerateStructured(ctx, &GenerateRequest{
			Model:             modelID,
			SystemInstruction: doclingSystemInstruction,
			Prompt:            doclingPrompt(chunk, docName),
			ResponseSchema:    borrowerResponseSchema(),
		})
		if res != nil {
			out.InputTokens += res.InputTokens
			out.OutputTokens += res.OutputTokens
		}
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", chunk.ChunkIndex+1, chunk.TotalChunks, err)
		}

		raws, err := ParseBorrowerPayload(res.Text)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", chunk.ChunkIndex+1, chunk.TotalChunks, err)
		}

		records, verrs := ConvertChunkBorrowers(raws, chunk, content, docID, docName, pageCount)
		out.Borrowers = append(out.Borrowers, records...)
		out.ValidationErrors = append(out.ValidationErrors, verrs...)

		d.log.Debug("chunk extracted",
			"document_id", docID,
			"chunk", chunk.ChunkIndex,
			"borrowers", len(records),
		)
	}

	return out, nil
}

func doclingPrompt(chunk TextChunk, docName string) string {
	return fmt.Sprintf("Document: %s\nSection %d of %d.\n\n%s",
		docName, chunk.ChunkIndex+1, chunk.TotalChunks, chunk.Text)
}
