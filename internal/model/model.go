package model

import (
	"fmt"
	"time"
)

// DocumentStatus is the lifecycle state of an uploaded document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusCompleted  DocumentStatus = "COMPLETED"
	StatusFailed     DocumentStatus = "FAILED"
)

// Terminal reports whether no further processing may touch the document.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FileType is the accepted upload format.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypePNG  FileType = "png"
	FileTypeJPG  FileType = "jpg"
)

// ExtractionMethod selects the extraction path for a task.
type ExtractionMethod string

const (
	MethodDocling     ExtractionMethod = "docling"
	MethodLangExtract ExtractionMethod = "langextract"
	MethodAuto        ExtractionMethod = "auto"
)

// OCRMode controls whether scanned-page OCR runs for a task.
type OCRMode string

const (
	OCRModeAuto  OCRMode = "auto"
	OCRModeForce OCRMode = "force"
	OCRModeSkip  OCRMode = "skip"
)

// OCRMethod records which OCR branch produced the document text.
type OCRMethod string

const (
	OCRMethodGPU     OCRMethod = "gpu"
	OCRMethodDocling OCRMethod = "docling"
	OCRMethodNone    OCRMethod = "none"
)

// Document is the persisted record for one uploaded loan document.
// ContentHash is unique across the store; Status transitions are driven
// only by the task lifecycle and never leave a terminal state.
type Document struct {
	ID               string           `json:"id" firestore:"id"`
	Filename         string           `json:"filename" firestore:"filename"`
	ContentHash      string           `json:"content_hash" firestore:"contentHash"`
	FileType         FileType         `json:"file_type" firestore:"fileType"`
	SizeBytes        int64            `json:"size_bytes" firestore:"sizeBytes"`
	BlobURI          *string          `json:"blob_uri,omitempty" firestore:"blobURI"`
	Status           DocumentStatus   `json:"status" firestore:"status"`
	PageCount        *int             `json:"page_count,omitempty" firestore:"pageCount"`
	ErrorMessage     *string          `json:"error_message,omitempty" firestore:"errorMessage"`
	ExtractionMethod ExtractionMethod `json:"extraction_method" firestore:"extractionMethod"`
	OCRMode          OCRMode          `json:"ocr_mode" firestore:"ocrMode"`
	OCRProcessed     *bool            `json:"ocr_processed,omitempty" firestore:"ocrProcessed"`
	CreatedAt        time.Time        `json:"created_at" firestore:"createdAt"`
	UpdatedAt        time.Time        `json:"updated_at" firestore:"updatedAt"`
}

// Page is one page of linearized document text. PageNumber is 1-indexed,
// strictly increasing and gap-free within a DocumentContent.
type Page struct {
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text"`
	Tables     []Table `json:"tables,omitempty"`
}

// Table is a best-effort grid extracted from a page.
type Table struct {
	PageNumber int        `json:"page_number"`
	Rows       [][]string `json:"rows"`
}

// DocumentContent is the transient output of the OCR router. It lives for
// one task invocation and is never persisted.
type DocumentContent struct {
	Text     string            `json:"text"`
	Pages    []Page            `json:"pages"`
	Tables   []Table           `json:"tables,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Address is the borrower mailing address composite.
type Address struct {
	Street string `json:"street,omitempty" firestore:"street"`
	City   string `json:"city,omitempty" firestore:"city"`
	State  string `json:"state,omitempty" firestore:"state"`
	Zip    string `json:"zip,omitempty" firestore:"zip"`
}

// Empty reports whether no field of the address is set.
func (a *Address) Empty() bool {
	if a == nil {
		return true
	}
	return a.Street == "" && a.City == "" && a.State == "" && a.Zip == ""
}

// IncomePeriod qualifies an income amount.
type IncomePeriod string

const (
	PeriodAnnual   IncomePeriod = "annual"
	PeriodMonthly  IncomePeriod = "monthly"
	PeriodHourly   IncomePeriod = "hourly"
	PeriodWeekly   IncomePeriod = "weekly"
	PeriodBiweekly IncomePeriod = "biweekly"
	PeriodOther    IncomePeriod = "other"
)

// IncomeRecord is one income observation for a borrower. Records are
// unique within a borrower by (AmountCents, Year, Period).
type IncomeRecord struct {
	AmountCents int64        `json:"amount_cents" firestore:"amountCents"`
	Period      IncomePeriod `json:"period" firestore:"period"`
	Year        int          `json:"year" firestore:"year"`
	SourceType  string       `json:"source_type,omitempty" firestore:"sourceType"`
	Employer    *string      `json:"employer,omitempty" firestore:"employer"`
}

// Key is the set-merge identity for income records.
func (r IncomeRecord) Key() string {
	return fmt.Sprintf("%d|%s|%d", r.Year, r.Period, r.AmountCents)
}

// SourceReference points from a borrower into the document region the data
// came from. When CharStart/CharEnd are set the referenced slice of the
// document text equals the extracted text (code-point offsets).
type SourceReference struct {
	DocumentID   string  `json:"document_id" firestore:"documentID"`
	DocumentName string  `json:"document_name" firestore:"documentName"`
	PageNumber   int     `json:"page_number" firestore:"pageNumber"`
	Section      *string `json:"section,omitempty" firestore:"section"`
	Snippet      string  `json:"snippet" firestore:"snippet"`
	CharStart    *int    `json:"char_start,omitempty" firestore:"charStart"`
	CharEnd      *int    `json:"char_end,omitempty" firestore:"charEnd"`
}

// Key is the set-merge identity for source references.
func (s SourceReference) Key() string {
	cs, ce := -1, -1
	if s.CharStart != nil {
		cs = *s.CharStart
	}
	if s.CharEnd != nil {
		ce = *s.CharEnd
	}
	return fmt.Sprintf("%s|%d|%d|%d", s.DocumentID, s.PageNumber, cs, ce)
}

// ConfidenceBreakdown preserves the individual scoring bonuses for audit.
// Total is the unclipped sum; BorrowerRecord.ConfidenceScore is the clipped
// value.
type ConfidenceBreakdown struct {
	Base              float64 `json:"base" firestore:"base"`
	RequiredFields    float64 `json:"required_fields" firestore:"requiredFields"`
	OptionalLists     float64 `json:"optional_lists" firestore:"optionalLists"`
	MultiSource       float64 `json:"multi_source" firestore:"multiSource"`
	ValidationsPassed float64 `json:"validations_passed" firestore:"validationsPassed"`
	Total             float64 `json:"total" firestore:"total"`
}

// BorrowerRecord is a reconciled borrower. The raw SSN lives only in the
// unexported-style transient field for the duration of a task; storage and
// serialization carry the hash, the last four digits, and a masked display
// form.
type BorrowerRecord struct {
	ID              string               `json:"id" firestore:"id"`
	Name            string               `json:"name" firestore:"name"`
	SSN             *string              `json:"-" firestore:"-"`
	SSNHash         string               `json:"ssn_hash,omitempty" firestore:"ssnHash"`
	SSNLast4        string               `json:"ssn_last4,omitempty" firestore:"ssnLast4"`
	SSNMasked       string               `json:"ssn_masked,omitempty" firestore:"ssnMasked"`
	Phone           string               `json:"phone,omitempty" firestore:"phone"`
	Email           string               `json:"email,omitempty" firestore:"email"`
	Address         *Address             `json:"address,omitempty" firestore:"address"`
	IncomeHistory   []IncomeRecord       `json:"income_history,omitempty" firestore:"incomeHistory"`
	AccountNumbers  []string             `json:"account_numbers,omitempty" firestore:"accountNumbers"`
	LoanNumbers     []string             `json:"loan_numbers,omitempty" firestore:"loanNumbers"`
	Sources         []SourceReference    `json:"sources" firestore:"sources"`
	DocumentRefs    []string             `json:"document_ids,omitempty" firestore:"documentIDs"`
	ConfidenceScore float64              `json:"confidence_score" firestore:"confidenceScore"`
	RequiresReview  bool                 `json:"requires_review" firestore:"requiresReview"`
	Confidence      *ConfidenceBreakdown `json:"confidence_breakdown,omitempty" firestore:"confidenceBreakdown"`
	CreatedAt       time.Time            `json:"created_at" firestore:"createdAt"`
	UpdatedAt       time.Time            `json:"updated_at" firestore:"updatedAt"`
}

// HasAddressInfo reports whether any address component is present.
func (b *BorrowerRecord) HasAddressInfo() bool {
	return !b.Address.Empty()
}

// DocumentIDs returns the distinct documents this borrower references, in
// first-seen order. Stores persist the result in DocumentRefs so borrowers
// can be looked up by document.
func (b *BorrowerRecord) DocumentIDs() []string {
	seen := make(map[string]bool, len(b.Sources))
	var ids []string
	for _, s := range b.Sources {
		if !seen[s.DocumentID] {
			seen[s.DocumentID] = true
			ids = append(ids, s.DocumentID)
		}
	}
	return ids
}

// WarningKind classifies a consistency warning.
type WarningKind string

const (
	WarnAddressConflict  WarningKind = "ADDRESS_CONFLICT"
	WarnIncomeDrop       WarningKind = "INCOME_DROP"
	WarnIncomeSpike      WarningKind = "INCOME_SPIKE"
	WarnCrossDocMismatch WarningKind = "CROSS_DOC_MISMATCH"
)

// ConsistencyWarning flags a suspicious reconciled value for human review.
// Warnings never auto-correct data.
type ConsistencyWarning struct {
	Kind       WarningKind       `json:"kind" firestore:"kind"`
	BorrowerID string            `json:"borrower_id" firestore:"borrowerID"`
	Field      string            `json:"field" firestore:"field"`
	Message    string            `json:"message" firestore:"message"`
	Details    map[string]string `json:"details,omitempty" firestore:"details"`
}

// ValidationKind classifies a field validation failure.
type ValidationKind string

const (
	ValidationFormat  ValidationKind = "FORMAT"
	ValidationRange   ValidationKind = "RANGE"
	ValidationMissing ValidationKind = "MISSING"
)

// ValidationError records a field that failed validation without
// disqualifying its record.
type ValidationError struct {
	Field   string         `json:"field"`
	Value   string         `json:"value"`
	Kind    ValidationKind `json:"kind"`
	Message string         `json:"message"`
}

// IncomeYearMin is the lower bound for a plausible income year. The upper
// bound is the current year plus one.
const IncomeYearMin = 1950

// IncomeYearMax returns the inclusive upper bound for income years.
func IncomeYearMax(now time.Time) int {
	return now.Year() + 1
}
