package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

// MemoryStore implements Store with in-memory maps. It backs local mode
// and is the test double everywhere a store is needed.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*model.Document
	borrowers map[string]*model.BorrowerRecord
	hashIndex map[string]string // content hash -> document ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*model.Document),
		borrowers: make(map[string]*model.BorrowerRecord),
		hashIndex: make(map[string]string),
	}
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.hashIndex[doc.ContentHash]; dup {
		return ErrDuplicateContent
	}
	now := time.Now().UTC()
	stored := copyDocument(doc)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.documents[stored.ID] = stored
	m.hashIndex[stored.ContentHash] = stored.ID
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (m *MemoryStore) GetDocumentByContentHash(_ context.Context, hash string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.hashIndex[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(m.documents[id]), nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, pageSize int32, pageToken string) ([]*model.Document, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*model.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		all = append(all, doc)
	}
	// Newest first, ID as tiebreaker for a stable order.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	start := 0
	if pageToken != "" {
		cursorID, err := DecodePageToken(pageToken)
		if err != nil {
			return nil, "", err
		}
		for i, doc := range all {
			if doc.ID == cursorID {
				start = i + 1
				break
			}
		}
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	end := start + int(pageSize)
	if end > len(all) {
		end = len(all)
	}
	out := make([]*model.Document, 0, end-start)
	for _, doc := range all[start:end] {
		out = append(out, copyDocument(doc))
	}

	nextToken := ""
	if end < len(all) && len(out) > 0 {
		nextToken = EncodePageToken(out[len(out)-1].ID)
	}
	return out, nextToken, nil
}

func (m *MemoryStore) SetDocumentBlobURI(_ context.Context, id, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.BlobURI = &uri
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ClaimDocument(_ context.Context, id string) (*model.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if doc.Status != model.StatusPending {
		return copyDocument(doc), false, nil
	}
	doc.Status = model.StatusProcessing
	doc.UpdatedAt = time.Now().UTC()
	return copyDocument(doc), true, nil
}

func (m *MemoryStore) UpdateDocumentProcessingState(_ context.Context, id string, pageCount int, ocrProcessed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.PageCount = &pageCount
	doc.OCRProcessed = &ocrProcessed
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) FinalizeDocument(_ context.Context, id string, status model.DocumentStatus, errorMessage *string) (*model.Document, error) {
	if !status.Terminal() {
		return nil, ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	if doc.Status.Terminal() {
		return copyDocument(doc), ErrInvalidTransition
	}
	doc.Status = status
	doc.ErrorMessage = errorMessage
	doc.UpdatedAt = time.Now().UTC()
	return copyDocument(doc), nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.documents, id)
	delete(m.hashIndex, doc.ContentHash)

	for bid, b := range m.borrowers {
		if !containsString(b.DocumentRefs, id) {
			continue
		}
		var kept []model.SourceReference
		for _, src := range b.Sources {
			if src.DocumentID != id {
				kept = append(kept, src)
			}
		}
		if len(kept) == 0 {
			delete(m.borrowers, bid)
			continue
		}
		b.Sources = kept
		b.DocumentRefs = b.DocumentIDs()
		b.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStore) CreateBorrower(ctx context.Context, b *model.BorrowerRecord) error {
	if err := validateBorrower(ctx, b, m.documentExists); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	stored := copyBorrower(b)
	stored.SSN = nil // raw SSN never persists
	stored.DocumentRefs = stored.DocumentIDs()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.borrowers[stored.ID] = stored
	return nil
}

func (m *MemoryStore) UpdateBorrower(ctx context.Context, b *model.BorrowerRecord) error {
	if err := validateBorrower(ctx, b, m.documentExists); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.borrowers[b.ID]; !ok {
		return ErrNotFound
	}
	stored := copyBorrower(b)
	stored.SSN = nil
	stored.DocumentRefs = stored.DocumentIDs()
	stored.UpdatedAt = time.Now().UTC()
	m.borrowers[stored.ID] = stored
	return nil
}

func (m *MemoryStore) GetBorrower(_ context.Context, id string) (*model.BorrowerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.borrowers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBorrower(b), nil
}

func (m *MemoryStore) ListBorrowersByDocument(_ context.Context, documentID string) ([]*model.BorrowerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.BorrowerRecord
	for _, b := range m.borrowers {
		if containsString(b.DocumentRefs, documentID) {
			out = append(out, copyBorrower(b))
		}
	}
	sortBorrowers(out)
	return out, nil
}

func (m *MemoryStore) FindBorrowersBySSNHash(_ context.Context, ssnHash string) ([]*model.BorrowerRecord, error) {
	if ssnHash == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.BorrowerRecord
	for _, b := range m.borrowers {
		if b.SSNHash == ssnHash {
			out = append(out, copyBorrower(b))
		}
	}
	sortBorrowers(out)
	return out, nil
}

func (m *MemoryStore) FindBorrowersByAccountNumber(_ context.Context, account string) ([]*model.BorrowerRecord, error) {
	if account == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.BorrowerRecord
	for _, b := range m.borrowers {
		if containsString(b.AccountNumbers, account) || containsString(b.LoanNumbers, account) {
			out = append(out, copyBorrower(b))
		}
	}
	sortBorrowers(out)
	return out, nil
}

func (m *MemoryStore) documentExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.documents[id]
	return ok, nil
}

func sortBorrowers(bs []*model.BorrowerRecord) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].ID < bs[j].ID })
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func copyDocument(doc *model.Document) *model.Document {
	out := *doc
	out.BlobURI = copyStringPtr(doc.BlobURI)
	out.PageCount = copyIntPtr(doc.PageCount)
	out.ErrorMessage = copyStringPtr(doc.ErrorMessage)
	out.OCRProcessed = copyBoolPtr(doc.OCRProcessed)
	return &out
}

func copyBorrower(b *model.BorrowerRecord) *model.BorrowerRecord {
	out := *b
	out.SSN = copyStringPtr(b.SSN)
	if b.Address != nil {
		addr := *b.Address
		out.Address = &addr
	}
	if b.Confidence != nil {
		conf := *b.Confidence
		out.Confidence = &conf
	}
	out.IncomeHistory = make([]model.IncomeRecord, len(b.IncomeHistory))
	for i, inc := range b.IncomeHistory {
		out.IncomeHistory[i] = inc
		out.IncomeHistory[i].Employer = copyStringPtr(inc.Employer)
	}
	out.AccountNumbers = append([]string(nil), b.AccountNumbers...)
	out.LoanNumbers = append([]string(nil), b.LoanNumbers...)
	out.DocumentRefs = append([]string(nil), b.DocumentRefs...)
	out.Sources = make([]model.SourceReference, len(b.Sources))
	for i, src := range b.Sources {
		out.Sources[i] = src
		out.Sources[i].Section = copyStringPtr(src.Section)
		out.Sources[i].CharStart = copyIntPtr(src.CharStart)
		out.Sources[i].CharEnd = copyIntPtr(src.CharEnd)
	}
	return &out
}

func copyStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyBoolPtr(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
