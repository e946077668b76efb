// Package store persists documents and reconciled borrowers. Two
// implementations exist: Firestore for deployments and an in-memory store
// for local mode and tests. Both enforce the same semantics: unique
// content hashes, compare-and-set status transitions that never re-open a
// terminal document, and cascade deletes that keep every borrower holding
// at least one source reference.
package store

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

var (
	// ErrNotFound is returned when a document or borrower does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateContent is returned when a document with the same
	// content hash already exists.
	ErrDuplicateContent = errors.New("store: duplicate content hash")

	// ErrInvalidTransition is returned when a status write would leave or
	// re-open a terminal state.
	ErrInvalidTransition = errors.New("store: invalid status transition")

	// ErrInvalidBorrower is returned when a borrower write violates the
	// persistence invariants (no sources, unknown document reference).
	ErrInvalidBorrower = errors.New("store: invalid borrower record")
)

// Store is the record-store surface the pipeline and handlers consume.
type Store interface {
	// Document operations.
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	GetDocumentByContentHash(ctx context.Context, hash string) (*model.Document, error)
	ListDocuments(ctx context.Context, pageSize int32, pageToken string) ([]*model.Document, string, error)
	SetDocumentBlobURI(ctx context.Context, id, uri string) error

	// ClaimDocument performs the PENDING to PROCESSING compare-and-set.
	// claimed is false when the document was in any other state; the
	// returned document reflects the state observed inside the
	// transaction either way.
	ClaimDocument(ctx context.Context, id string) (doc *model.Document, claimed bool, err error)

	// UpdateDocumentProcessingState flushes mid-pipeline progress so a
	// crash leaves a diagnosable record.
	UpdateDocumentProcessingState(ctx context.Context, id string, pageCount int, ocrProcessed bool) error

	// FinalizeDocument moves a PROCESSING document to COMPLETED or
	// FAILED. Finalizing an already terminal document fails with
	// ErrInvalidTransition.
	FinalizeDocument(ctx context.Context, id string, status model.DocumentStatus, errorMessage *string) (*model.Document, error)

	// DeleteDocument removes the document and cascades into borrower
	// references: sources pointing at the document are dropped, and
	// borrowers left without any source are deleted.
	DeleteDocument(ctx context.Context, id string) error

	// Borrower operations.
	CreateBorrower(ctx context.Context, b *model.BorrowerRecord) error
	UpdateBorrower(ctx context.Context, b *model.BorrowerRecord) error
	GetBorrower(ctx context.Context, id string) (*model.BorrowerRecord, error)
	ListBorrowersByDocument(ctx context.Context, documentID string) ([]*model.BorrowerRecord, error)
	FindBorrowersBySSNHash(ctx context.Context, ssnHash string) ([]*model.BorrowerRecord, error)
	FindBorrowersByAccountNumber(ctx context.Context, account string) ([]*model.BorrowerRecord, error)
}

// EncodePageToken encodes a document ID into a page token.
func EncodePageToken(docID string) string {
	if docID == "" {
		return ""
	}
	return base64.URLEncoding.EncodeToString([]byte(docID))
}

// DecodePageToken decodes a page token back to a document ID.
func DecodePageToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// validateBorrower checks the persistence invariants shared by both
// implementations. lookup resolves a document ID to existence.
func validateBorrower(ctx context.Context, b *model.BorrowerRecord, exists func(ctx context.Context, documentID string) (bool, error)) error {
	if b.ID == "" || b.Name == "" {
		return ErrInvalidBorrower
	}
	if len(b.Sources) == 0 {
		return ErrInvalidBorrower
	}
	for _, id := range b.DocumentIDs() {
		ok, err := exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidBorrower
		}
	}
	return nil
}
