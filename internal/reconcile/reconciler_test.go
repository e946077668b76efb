package reconcile

import (
	"testing"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

func TestReconcile_Empty(t *testing.T) {
	res := New(nil).Reconcile(nil)
	if len(res.Borrowers) != 0 || len(res.Warnings) != 0 || len(res.ValidationErrors) != 0 {
		t.Errorf("empty input produced %+v", res)
	}
}

func TestReconcile_MergesSSNVariants(t *testing.T) {
	// The same person appears under three name spellings across two
	// documents; a fourth record is someone else.
	jane1 := withSSN("Jane Doe", "123-45-6789")
	jane1.ID = "r1"
	jane1.IncomeHistory = []model.IncomeRecord{{AmountCents: 8500000, Period: model.PeriodAnnual, Year: 2022}}
	jane1.Sources = []model.SourceReference{{DocumentID: "doc-1", DocumentName: "w2-2022.pdf", PageNumber: 1, Snippet: "a"}}

	jane2 := withSSN("Jane E. Doe", "123 45 6789")
	jane2.ID = "r2"
	jane2.IncomeHistory = []model.IncomeRecord{{AmountCents: 9100000, Period: model.PeriodAnnual, Year: 2023}}
	jane2.Sources = []model.SourceReference{{DocumentID: "doc-2", DocumentName: "w2-2023.pdf", PageNumber: 1, Snippet: "b"}}

	jane3 := withSSN("JANE DOE", "123456789")
	jane3.ID = "r3"
	jane3.Phone = "+12125550123"
	jane3.Sources = []model.SourceReference{{DocumentID: "doc-2", DocumentName: "w2-2023.pdf", PageNumber: 2, Snippet: "c"}}

	robert := withSSN("Robert Roe", "987-65-4321")
	robert.ID = "r4"
	robert.Sources = []model.SourceReference{{DocumentID: "doc-1", DocumentName: "w2-2022.pdf", PageNumber: 3, Snippet: "d"}}

	res := New(nil).Reconcile([]model.BorrowerRecord{jane1, jane2, jane3, robert})

	if len(res.Borrowers) != 2 {
		t.Fatalf("expected 2 borrowers, got %d", len(res.Borrowers))
	}

	jane := res.Borrowers[0]
	if jane.SSNLast4 != "6789" {
		t.Fatalf("first borrower = %+v, want the merged Jane", jane)
	}
	if len(jane.IncomeHistory) != 2 {
		t.Errorf("IncomeHistory = %+v, want both years", jane.IncomeHistory)
	}
	if jane.Phone != "+12125550123" {
		t.Errorf("Phone = %q, want adopted from the variant that had it", jane.Phone)
	}
	if len(jane.Sources) != 3 {
		t.Errorf("Sources = %d, want all three retained", len(jane.Sources))
	}
	if len(jane.DocumentRefs) != 2 {
		t.Errorf("DocumentRefs = %v, want both documents", jane.DocumentRefs)
	}
	if jane.Confidence == nil || jane.Confidence.MultiSource == 0 {
		t.Error("merged borrower should earn the multi-source bonus")
	}
	if jane.RequiresReview {
		t.Errorf("merged borrower at %v should clear the review threshold", jane.ConfidenceScore)
	}

	if res.Borrowers[1].Name != "Robert Roe" {
		t.Errorf("second borrower = %q", res.Borrowers[1].Name)
	}
	if len(res.ValidationErrors) != 0 {
		t.Errorf("unexpected validation errors: %+v", res.ValidationErrors)
	}
}

func TestReconcile_ValidationErrorsLowerConfidence(t *testing.T) {
	bad := model.BorrowerRecord{
		ID:      "r1",
		Name:    "Robert Roe",
		Phone:   "12345",
		Sources: []model.SourceReference{{DocumentID: "doc-1", PageNumber: 1}},
	}

	res := New(nil).Reconcile([]model.BorrowerRecord{bad})
	if len(res.ValidationErrors) != 1 || res.ValidationErrors[0].Field != "phone" {
		t.Fatalf("expected a phone validation error, got %+v", res.ValidationErrors)
	}

	b := res.Borrowers[0]
	if b.Confidence.ValidationsPassed != 0 {
		t.Error("failed validations must not earn the validations bonus")
	}
	// base 0.5 + name 0.1 = 0.60
	if !b.RequiresReview {
		t.Errorf("borrower at %v should require review", b.ConfidenceScore)
	}
}

func TestReconcile_BadIncomeYearFlagged(t *testing.T) {
	b := model.BorrowerRecord{
		Name:          "Jane Doe",
		IncomeHistory: []model.IncomeRecord{{AmountCents: 100000, Period: model.PeriodAnnual, Year: 1890}},
		Sources:       []model.SourceReference{{DocumentID: "doc-1"}},
	}

	res := New(nil).Reconcile([]model.BorrowerRecord{b})
	if len(res.ValidationErrors) != 1 || res.ValidationErrors[0].Kind != model.ValidationRange {
		t.Fatalf("expected a RANGE error, got %+v", res.ValidationErrors)
	}
	// The income itself is kept; validation reports, it does not drop.
	if len(res.Borrowers[0].IncomeHistory) != 1 {
		t.Error("out-of-range income was dropped")
	}
}

func TestReconcile_DistinctPeopleSharingNameWarn(t *testing.T) {
	// Same name, different SSNs, nothing else shared: they stay separate
	// and the disagreement is surfaced.
	a := withSSN("Jane Doe", "123-45-6789")
	a.ID = "a"
	a.Sources = []model.SourceReference{{DocumentID: "doc-1"}}
	b := withSSN("Jane Doe", "987-65-1111")
	b.ID = "b"
	b.Sources = []model.SourceReference{{DocumentID: "doc-2"}}

	res := New(nil).Reconcile([]model.BorrowerRecord{a, b})
	if len(res.Borrowers) != 2 {
		t.Fatalf("different SSNs must not merge, got %d borrowers", len(res.Borrowers))
	}

	var found bool
	for _, w := range res.Warnings {
		if w.Kind == model.WarnCrossDocMismatch {
			found = true
		}
	}
	if !found {
		t.Errorf("expected CROSS_DOC_MISMATCH, got %+v", res.Warnings)
	}
}
