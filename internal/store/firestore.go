package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

const (
	documentsCollection = "documents"
	borrowersCollection = "borrowers"
)

// FirestoreStore implements the Store interface using Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a new Firestore-backed store.
func NewFirestoreStore(client *firestore.Client) Store {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef {
	return s.client.Collection(documentsCollection).Doc(id)
}

func (s *FirestoreStore) borrowerRef(id string) *firestore.DocumentRef {
	return s.client.Collection(borrowersCollection).Doc(id)
}

// CreateDocument creates the document row, enforcing content-hash
// uniqueness inside a transaction. The query-then-create pair serializes
// concurrent uploads of identical bytes.
func (s *FirestoreStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	now := time.Now().UTC()
	stored := copyDocument(doc)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		q := s.client.Collection(documentsCollection).
			Where("contentHash", "==", stored.ContentHash).
			Limit(1)
		dup, err := tx.Documents(q).GetAll()
		if err != nil {
			return fmt.Errorf("hash uniqueness check: %w", err)
		}
		if len(dup) > 0 {
			return ErrDuplicateContent
		}
		return tx.Create(s.docRef(stored.ID), stored)
	})
}

func (s *FirestoreStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	snap, err := s.docRef(id).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: document %s: %v", ErrNotFound, id, err)
	}
	var doc model.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &doc, nil
}

func (s *FirestoreStore) GetDocumentByContentHash(ctx context.Context, hash string) (*model.Document, error) {
	docs, err := s.client.Collection(documentsCollection).
		Where("contentHash", "==", hash).
		Limit(1).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("hash lookup: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	var doc model.Document
	if err := docs[0].DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns documents newest first. Firestore needs the cursor
// document's createdAt for a composite StartAfter, so the cursor doc is
// fetched before the query runs.
func (s *FirestoreStore) ListDocuments(ctx context.Context, pageSize int32, pageToken string) ([]*model.Document, string, error) {
	query := s.client.Collection(documentsCollection).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc)

	if pageToken != "" {
		cursorID, err := DecodePageToken(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token: %w", err)
		}
		cursorDoc, err := s.docRef(cursorID).Get(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch cursor document: %w", err)
		}
		query = query.StartAfter(cursorDoc.Data()["createdAt"], cursorID)
	}

	if pageSize <= 0 {
		pageSize = 100
	}
	query = query.Limit(int(pageSize) + 1) // +1 to detect next page

	var out []*model.Document
	it := query.Documents(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("list documents: %w", err)
		}
		var doc model.Document
		if err := snap.DataTo(&doc); err != nil {
			return nil, "", fmt.Errorf("failed to parse document: %w", err)
		}
		out = append(out, &doc)
	}

	nextToken := ""
	if int32(len(out)) > pageSize {
		out = out[:pageSize]
		nextToken = EncodePageToken(out[len(out)-1].ID)
	}
	return out, nextToken, nil
}

func (s *FirestoreStore) SetDocumentBlobURI(ctx context.Context, id, uri string) error {
	_, err := s.docRef(id).Update(ctx, []firestore.Update{
		{Path: "blobURI", Value: uri},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("%w: document %s: %v", ErrNotFound, id, err)
	}
	return nil
}

func (s *FirestoreStore) ClaimDocument(ctx context.Context, id string) (*model.Document, bool, error) {
	var (
		out     *model.Document
		claimed bool
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		out, claimed = nil, false
		snap, err := tx.Get(s.docRef(id))
		if err != nil {
			return fmt.Errorf("%w: document %s: %v", ErrNotFound, id, err)
		}
		var doc model.Document
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("failed to parse document: %w", err)
		}
		if doc.Status != model.StatusPending {
			out = &doc
			return nil
		}
		doc.Status = model.StatusProcessing
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Update(s.docRef(id), []firestore.Update{
			{Path: "status", Value: model.StatusProcessing},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}); err != nil {
			return err
		}
		out, claimed = &doc, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, claimed, nil
}

func (s *FirestoreStore) UpdateDocumentProcessingState(ctx context.Context, id string, pageCount int, ocrProcessed bool) error {
	_, err := s.docRef(id).Update(ctx, []firestore.Update{
		{Path: "pageCount", Value: pageCount},
		{Path: "ocrProcessed", Value: ocrProcessed},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("flush processing state for %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) FinalizeDocument(ctx context.Context, id string, status model.DocumentStatus, errorMessage *string) (*model.Document, error) {
	if !status.Terminal() {
		return nil, ErrInvalidTransition
	}

	var out *model.Document
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		out = nil
		snap, err := tx.Get(s.docRef(id))
		if err != nil {
			return fmt.Errorf("%w: document %s: %v", ErrNotFound, id, err)
		}
		var doc model.Document
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("failed to parse document: %w", err)
		}
		if doc.Status.Terminal() {
			out = &doc
			return ErrInvalidTransition
		}
		doc.Status = status
		doc.ErrorMessage = errorMessage
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Update(s.docRef(id), []firestore.Update{
			{Path: "status", Value: status},
			{Path: "errorMessage", Value: errorMessage},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}); err != nil {
			return err
		}
		out = &doc
		return nil
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

// DeleteDocument removes the row, then repairs or removes borrowers that
// referenced it. Borrowers are fixed before the document row goes away so
// readers never observe a source pointing at a missing document.
func (s *FirestoreStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.GetDocument(ctx, id); err != nil {
		return err
	}

	borrowers, err := s.ListBorrowersByDocument(ctx, id)
	if err != nil {
		return err
	}
	for _, b := range borrowers {
		var kept []model.SourceReference
		for _, src := range b.Sources {
			if src.DocumentID != id {
				kept = append(kept, src)
			}
		}
		if len(kept) == 0 {
			if _, err := s.borrowerRef(b.ID).Delete(ctx); err != nil {
				return fmt.Errorf("cascade delete borrower %s: %w", b.ID, err)
			}
			continue
		}
		b.Sources = kept
		b.DocumentRefs = b.DocumentIDs()
		b.UpdatedAt = time.Now().UTC()
		if _, err := s.borrowerRef(b.ID).Set(ctx, b); err != nil {
			return fmt.Errorf("cascade update borrower %s: %w", b.ID, err)
		}
	}

	if _, err := s.docRef(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) CreateBorrower(ctx context.Context, b *model.BorrowerRecord) error {
	if err := validateBorrower(ctx, b, s.documentExists); err != nil {
		return err
	}
	now := time.Now().UTC()
	stored := copyBorrower(b)
	stored.SSN = nil // firestore:"-" already blocks it; cleared anyway
	stored.DocumentRefs = stored.DocumentIDs()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	_, err := s.borrowerRef(stored.ID).Set(ctx, stored)
	return err
}

func (s *FirestoreStore) UpdateBorrower(ctx context.Context, b *model.BorrowerRecord) error {
	if err := validateBorrower(ctx, b, s.documentExists); err != nil {
		return err
	}
	stored := copyBorrower(b)
	stored.SSN = nil
	stored.DocumentRefs = stored.DocumentIDs()
	stored.UpdatedAt = time.Now().UTC()

	_, err := s.borrowerRef(stored.ID).Set(ctx, stored)
	return err
}

func (s *FirestoreStore) GetBorrower(ctx context.Context, id string) (*model.BorrowerRecord, error) {
	snap, err := s.borrowerRef(id).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: borrower %s: %v", ErrNotFound, id, err)
	}
	var b model.BorrowerRecord
	if err := snap.DataTo(&b); err != nil {
		return nil, fmt.Errorf("failed to parse borrower: %w", err)
	}
	return &b, nil
}

func (s *FirestoreStore) ListBorrowersByDocument(ctx context.Context, documentID string) ([]*model.BorrowerRecord, error) {
	return s.queryBorrowers(ctx, s.client.Collection(borrowersCollection).
		Where("documentIDs", "array-contains", documentID))
}

func (s *FirestoreStore) FindBorrowersBySSNHash(ctx context.Context, ssnHash string) ([]*model.BorrowerRecord, error) {
	if ssnHash == "" {
		return nil, nil
	}
	return s.queryBorrowers(ctx, s.client.Collection(borrowersCollection).
		Where("ssnHash", "==", ssnHash))
}

// FindBorrowersByAccountNumber runs one query per array field; Firestore
// has no OR across two array-contains filters.
func (s *FirestoreStore) FindBorrowersByAccountNumber(ctx context.Context, account string) ([]*model.BorrowerRecord, error) {
	if account == "" {
		return nil, nil
	}
	byAccount, err := s.queryBorrowers(ctx, s.client.Collection(borrowersCollection).
		Where("accountNumbers", "array-contains", account))
	if err != nil {
		return nil, err
	}
	byLoan, err := s.queryBorrowers(ctx, s.client.Collection(borrowersCollection).
		Where("loanNumbers", "array-contains", account))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(byAccount))
	out := byAccount
	for _, b := range byAccount {
		seen[b.ID] = true
	}
	for _, b := range byLoan {
		if !seen[b.ID] {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FirestoreStore) queryBorrowers(ctx context.Context, q firestore.Query) ([]*model.BorrowerRecord, error) {
	var out []*model.BorrowerRecord
	it := q.Documents(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query borrowers: %w", err)
		}
		var b model.BorrowerRecord
		if err := snap.DataTo(&b); err != nil {
			return nil, fmt.Errorf("failed to parse borrower: %w", err)
		}
		out = append(out, &b)
	}
	return out, nil
}

func (s *FirestoreStore) documentExists(ctx context.Context, id string) (bool, error) {
	if _, err := s.docRef(id).Get(ctx); err != nil {
		return false, nil
	}
	return true, nil
}
