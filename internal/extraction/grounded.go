package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/model"
)

// groundedSnippetMax caps the stored slice for a grounded source. Offsets
// are narrowed with the snippet so the referenced region always equals the
// stored text.
const groundedSnippetMax = 500

// Alignment statuses for grounded spans.
const (
	alignExact = "exact"
	alignFuzzy = "fuzzy"
	alignNone  = "none"
)

// groundedSystemInstruction describes the span-extraction contract.
const groundedSystemInstruction = `You are a mortgage document analyst. Extract grounded spans for every borrower in the text.

Rules:
- extraction_text must be copied character for character from the document. Never paraphrase.
- Use attributes.borrower_index ("1", "2", ...) so spans of the same borrower share an index.
- For income spans set attributes.amount, attributes.year, attributes.period, attributes.employer and attributes.source_type when the document states them.
- Extract only what is present. Never invent spans.`

// Ordered money patterns: an explicit dollar figure beats a bare number,
// which could be a year.
var (
	dollarPattern  = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d{1,2})?`)
	decimalPattern = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+\.\d{1,2}`)
	numberPattern  = regexp.MustCompile(`\d+`)
	yearPattern    = regexp.MustCompile(`(19|20)\d{2}`)
)

func firstMoney(s string) string {
	for _, p := range []*regexp.Regexp{dollarPattern, decimalPattern, numberPattern} {
		if m := p.FindString(s); m != "" {
			return m
		}
	}
	return ""
}

func firstYear(s string) string {
	return yearPattern.FindString(s)
}

// GroundedResult is the raw output of the character-grounded path, before
// reconciliation.
type GroundedResult struct {
	Borrowers         []model.BorrowerRecord
	ValidationErrors  []model.ValidationError
	AlignmentWarnings []string
	Complexity        *Complexity
	ModelUsed         string
	InputTokens       int
	OutputTokens      int
	ChunkCount        int
}

// GroundedExtractor is the character-grounded extraction path. The model
// returns verbatim spans which are aligned back into the document text, so
// every source reference carries offsets that reproduce the extracted
// text. Spans that only align after whitespace normalization are kept and
// flagged; spans that do not align at all are flagged and dropped from
// provenance.
type GroundedExtractor struct {
	client   *GeminiClient
	maxChars int
	overlap  int
	log      *logging.Logger
}

// NewGroundedExtractor wires the grounded path. Zero chunk sizes fall back
// to the defaults.
func NewGroundedExtractor(client *GeminiClient, maxChars, overlap int, log *logging.Logger) *GroundedExtractor {
	if maxChars <= 0 {
		maxChars = DefaultChunkMaxChars
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if log == nil {
		log = logging.Nop()
	}
	return &GroundedExtractor{client: client, maxChars: maxChars, overlap: overlap, log: log}
}

// Extract runs the grounded path over one document.
func (g *GroundedExtractor) Extract(ctx context.Context, content *model.DocumentContent, docID, docName string, pageCount int) (*GroundedResult, error) {
	complexity := ClassifyComplexity(content.Text, pageCount)
	modelID := g.client.ModelFor(complexity.Level)
	chunks := SplitChunks(content.Text, g.maxChars, g.overlap)

	g.log.Info("grounded extraction started",
		"document_id", docID,
		"complexity", complexity.Level,
		"model", modelID,
		"chunks", len(chunks),
	)

	out := &GroundedResult{
		Complexity: complexity,
		ModelUsed:  modelID,
		ChunkCount: len(chunks),
	}

	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Text) == "" {
			continue
		}

		res, err := g.client.GenerateStructured(ctx, &GenerateRequest{
			Model:             modelID,
			SystemInstruction: groundedSystemInstruction,
			Prompt:            doclingPrompt(chunk, docName),
			ResponseSchema:    groundedResponseSchema(),
		})
		if res != nil {
			out.InputTokens += res.InputTokens
			out.OutputTokens += res.OutputTokens
		}
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", chunk.ChunkIndex+1, chunk.TotalChunks, err)
		}

		spans, err := ParseGroundedPayload(res.Text)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", chunk.ChunkIndex+1, chunk.TotalChunks, err)
		}

		records, verrs, warns := g.assembleChunk(spans, chunk, content, docID, docName, pageCount)
		out.Borrowers = append(out.Borrowers, records...)
		out.ValidationErrors = append(out.ValidationErrors, verrs...)
		out.AlignmentWarnings = append(out.AlignmentWarnings, warns...)

		g.log.Debug("chunk extracted",
			"document_id", docID,
			"chunk", chunk.ChunkIndex,
			"spans", len(spans),
			"borrowers", len(records),
		)
	}

	return out, nil
}

// groundedGroup accumulates the spans of one borrower within a chunk.
type groundedGroup struct {
	name     string
	ssn      string
	phone    string
	email    string
	address  *RawAddress
	incomes  []RawIncome
	accounts []string
	loans    []string
	sources  []model.SourceReference
}

// assembleChunk aligns each span, groups spans by borrower index and
// builds records with character-grounded provenance.
func (g *GroundedExtractor) assembleChunk(spans []GroundedSpan, chunk TextChunk, content *model.DocumentContent, docID, docName string, pageCount int) ([]model.BorrowerRecord, []model.ValidationError, []string) {
	chunkRunes := []rune(chunk.Text)
	groups := make(map[string]*groundedGroup)
	var order []string
	var warns []string

	for _, span := range spans {
		key := span.Attr("borrower_index")
		if key == "" {
			key = "1"
		}
		grp, ok := groups[key]
		if !ok {
			grp = &groundedGroup{}
			groups[key] = grp
			order = append(order, key)
		}

		start, end, status := alignSpan(chunkRunes, chunk.StartChar, span.Text)
		switch status {
		case alignExact:
			grp.sources = append(grp.sources, groundedSource(chunkRunes, chunk.StartChar, start, end, content, docID, docName, pageCount))
		case alignFuzzy:
			grp.sources = append(grp.sources, groundedSource(chunkRunes, chunk.StartChar, start, end, content, docID, docName, pageCount))
			warns = append(warns, fmt.Sprintf("%s span %s aligned after whitespace normalization at offset %d", span.Class, spanLabel(span), start))
		case alignNone:
			warns = append(warns, fmt.Sprintf("%s span %s could not be aligned", span.Class, spanLabel(span)))
		}

		text := strings.TrimSpace(span.Text)
		switch span.Class {
		case spanBorrowerName:
			if grp.name == "" {
				grp.name = text
			}
		case spanSSN:
			if grp.ssn == "" {
				grp.ssn = text
			}
		case spanPhone:
			if grp.phone == "" {
				grp.phone = text
			}
		case spanEmail:
			if grp.email == "" {
				grp.email = text
			}
		case spanAddress:
			if grp.address == nil {
				grp.address = addressFromText(text)
			}
		case spanIncome:
			grp.incomes = append(grp.incomes, incomeFromSpan(span))
		case spanAccountNumber:
			grp.accounts = append(grp.accounts, text)
		case spanLoanNumber:
			grp.loans = append(grp.loans, text)
		}
	}

	var (
		records []model.BorrowerRecord
		verrs   []model.ValidationError
	)
	for _, key := range order {
		grp := groups[key]
		raw := RawBorrower{
			Name:           grp.name,
			SSN:            grp.ssn,
			Phone:          grp.phone,
			Email:          grp.email,
			Address:        grp.address,
			Incomes:        grp.incomes,
			AccountNumbers: grp.accounts,
			LoanNumbers:    grp.loans,
		}
		converted, cerrs := ConvertChunkBorrowers([]RawBorrower{raw}, chunk, content, docID, docName, pageCount)
		verrs = append(verrs, cerrs...)
		if len(converted) == 0 {
			continue
		}

		rec := converted[0]
		if len(grp.sources) > 0 {
			rec.Sources = grp.sources
		} else {
			// Nothing aligned for this borrower; ground it on the head of
			// the chunk it came from so provenance still points somewhere
			// real.
			rec.Sources = []model.SourceReference{chunkHeadSource(chunk, content, docID, docName, pageCount)}
		}
		records = append(records, rec)
	}
	return records, verrs, warns
}

// alignSpan locates span inside the chunk runes and returns global
// code-point offsets. Exact match is tried first, then a match with runs
// of whitespace collapsed on both sides.
func alignSpan(chunkRunes []rune, base int, span string) (int, int, string) {
	spanRunes := []rune(span)
	if len(spanRunes) == 0 {
		return 0, 0, alignNone
	}

	if i := runeIndex(chunkRunes, spanRunes); i >= 0 {
		return base + i, base + i + len(spanRunes), alignExact
	}

	collapsedChunk, idx := collapseRunes(chunkRunes)
	collapsedSpan, _ := collapseRunes(spanRunes)
	if len(collapsedSpan) == 0 {
		return 0, 0, alignNone
	}
	if i := runeIndex(collapsedChunk, collapsedSpan); i >= 0 {
		start := idx[i]
		end := idx[i+len(collapsedSpan)-1] + 1
		return base + start, base + end, alignFuzzy
	}

	return 0, 0, alignNone
}

// runeIndex returns the code-point index of needle in haystack, or -1.
func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i] != needle[0] {
			continue
		}
		j := 1
		for ; j < len(needle); j++ {
			if haystack[i+j] != needle[j] {
				break
			}
		}
		if j == len(needle) {
			return i
		}
	}
	return -1
}

// collapseRunes rewrites whitespace runs as single spaces and returns the
// collapsed runes plus a map from collapsed index to original index.
func collapseRunes(runes []rune) ([]rune, []int) {
	var out []rune
	var idx []int
	inSpace := false
	for i, r := range runes {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && len(out) > 0 {
			out = append(out, ' ')
			idx = append(idx, i-1)
		}
		inSpace = false
		out = append(out, r)
		idx = append(idx, i)
	}
	return out, idx
}

// groundedSource builds a source reference whose offsets reproduce the
// stored snippet. Oversized regions are narrowed to the snippet cap.
func groundedSource(chunkRunes []rune, base, start, end int, content *model.DocumentContent, docID, docName string, pageCount int) model.SourceReference {
	localStart := start - base
	localEnd := end - base
	if localEnd-localStart > groundedSnippetMax {
		localEnd = localStart + groundedSnippetMax
		end = start + groundedSnippetMax
	}
	cs, ce := start, end
	return model.SourceReference{
		DocumentID:   docID,
		DocumentName: docName,
		PageNumber:   OffsetToPage(content, start, pageCount),
		Snippet:      string(chunkRunes[localStart:localEnd]),
		CharStart:    &cs,
		CharEnd:      &ce,
	}
}

// chunkHeadSource grounds a borrower on the opening of its chunk.
func chunkHeadSource(chunk TextChunk, content *model.DocumentContent, docID, docName string, pageCount int) model.SourceReference {
	runes := []rune(chunk.Text)
	n := len(runes)
	if n > snippetMaxChars {
		n = snippetMaxChars
	}
	cs := chunk.StartChar
	ce := chunk.StartChar + n
	ref := model.SourceReference{
		DocumentID:   docID,
		DocumentName: docName,
		PageNumber:   OffsetToPage(content, chunk.StartChar, pageCount),
		Snippet:      string(runes[:n]),
	}
	if n > 0 {
		ref.CharStart = &cs
		ref.CharEnd = &ce
	}
	return ref
}

// spanLabel renders a span for warning messages. SSN spans are never
// echoed.
func spanLabel(s GroundedSpan) string {
	if s.Class == spanSSN {
		return "[redacted]"
	}
	return fmt.Sprintf("%q", snippet(s.Text, 80))
}

// incomeFromSpan builds a raw income line from an income span, preferring
// structured attributes and falling back to scanning the span text.
func incomeFromSpan(span GroundedSpan) RawIncome {
	amount := span.Attr("amount")
	if amount == "" {
		amount = firstMoney(span.Text)
	}
	year := span.Attr("year")
	if ParseYear(year) == 0 {
		year = firstYear(span.Text)
	}
	return RawIncome{
		Amount:     flexString(amount),
		Period:     span.Attr("period"),
		Year:       flexString(year),
		Employer:   span.Attr("employer"),
		SourceType: span.Attr("source_type"),
	}
}

// addressFromText splits a one-line address into its components. The last
// comma group is assumed to hold state and ZIP.
func addressFromText(s string) *RawAddress {
	addr := &RawAddress{Zip: zipPattern.FindString(s)}

	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch {
	case len(parts) >= 3:
		addr.Street = parts[0]
		addr.City = parts[1]
		addr.State = stateFromTail(parts[2])
	case len(parts) == 2:
		addr.Street = parts[0]
		addr.State = stateFromTail(parts[1])
	default:
		addr.Street = strings.TrimSpace(s)
	}
	return addr
}

// stateFromTail pulls a two-letter state code out of a "CA 94103" tail.
func stateFromTail(tail string) string {
	for _, f := range strings.Fields(tail) {
		if len(f) == 2 && isAlpha(f) {
			return strings.ToUpper(f)
		}
	}
	return ""
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
