package reconcile

import (
	"strings"
	"testing"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

func annual(year int, cents int64) model.IncomeRecord {
	return model.IncomeRecord{AmountCents: cents, Period: model.PeriodAnnual, Year: year}
}

func warnKinds(warns []model.ConsistencyWarning) []model.WarningKind {
	kinds := make([]model.WarningKind, len(warns))
	for i, w := range warns {
		kinds[i] = w.Kind
	}
	return kinds
}

func TestIncomeTrendWarnings_DropBoundary(t *testing.T) {
	// Exactly half is tolerated; anything below is flagged.
	ok := model.BorrowerRecord{IncomeHistory: []model.IncomeRecord{
		annual(2022, 10000000),
		annual(2023, 5000000),
	}}
	if warns := incomeTrendWarnings(&ok); len(warns) != 0 {
		t.Errorf("exactly half flagged: %v", warnKinds(warns))
	}

	drop := model.BorrowerRecord{IncomeHistory: []model.IncomeRecord{
		annual(2022, 10000000),
		annual(2023, 4999999),
	}}
	warns := incomeTrendWarnings(&drop)
	if len(warns) != 1 || warns[0].Kind != model.WarnIncomeDrop {
		t.Fatalf("expected INCOME_DROP, got %v", warnKinds(warns))
	}
	if warns[0].Details["prev_cents"] != "10000000" || warns[0].Details["curr_cents"] != "4999999" {
		t.Errorf("details = %v", warns[0].Details)
	}
}

func TestIncomeTrendWarnings_SpikeBoundary(t *testing.T) {
	ok := model.BorrowerRecord{IncomeHistory: []model.IncomeRecord{
		annual(2022, 1000000),
		annual(2023, 3000000),
	}}
	if warns := incomeTrendWarnings(&ok); len(warns) != 0 {
		t.Errorf("exactly triple flagged: %v", warnKinds(warns))
	}

	spike := model.BorrowerRecord{IncomeHistory: []model.IncomeRecord{
		annual(2022, 1000000),
		annual(2023, 3000001),
	}}
	warns := incomeTrendWarnings(&spike)
	if len(warns) != 1 || warns[0].Kind != model.WarnIncomeSpike {
		t.Fatalf("expected INCOME_SPIKE, got %v", warnKinds(warns))
	}
}

func TestIncomeTrendWarnings_PeriodsNeverCompared(t *testing.T) {
	// An annual figure one year and a monthly figure the next would look
	// like a 90% drop if the periods were conflated.
	b := model.BorrowerRecord{IncomeHistory: []model.IncomeRecord{
		annual(2022, 8400000),
		{AmountCents: 700000, Period: model.PeriodMonthly, Year: 2023},
	}}
	if warns := incomeTrendWarnings(&b); len(warns) != 0 {
		t.Errorf("cross-period comparison happened: %v", warnKinds(warns))
	}
}

func TestIncomeTrendWarnings_SkipsUnsetYearsAndGaps(t *testing.T) {
	b := model.BorrowerRecord{IncomeHistory: []model.IncomeRecord{
		annual(0, 100),         // year unknown
		annual(2020, 10000000), // gap to 2022, never compared
		annual(2022, 1000000),
	}}
	if warns := incomeTrendWarnings(&b); len(warns) != 0 {
		t.Errorf("gap years compared: %v", warnKinds(warns))
	}
}

func TestIncomeTrendWarnings_RepeatedYearKeepsLarger(t *testing.T) {
	// Two figures for 2022; the larger is the year's value, so 2023 is not
	// a spike relative to the smaller one.
	b := model.BorrowerRecord{IncomeHistory: []model.IncomeRecord{
		annual(2022, 2000000),
		annual(2022, 8000000),
		annual(2023, 9000000),
	}}
	if warns := incomeTrendWarnings(&b); len(warns) != 0 {
		t.Errorf("repeated year not collapsed: %v", warnKinds(warns))
	}
}

func TestCheckRecord_AddressConflict(t *testing.T) {
	multi := model.BorrowerRecord{
		Name:    "Jane Doe",
		Address: &model.Address{Street: "1 Main St"},
		Sources: []model.SourceReference{
			{DocumentID: "doc-1", PageNumber: 1},
			{DocumentID: "doc-2", PageNumber: 2},
		},
	}
	warns := checkRecord(&multi)
	if len(warns) != 1 || warns[0].Kind != model.WarnAddressConflict {
		t.Fatalf("expected ADDRESS_CONFLICT, got %v", warnKinds(warns))
	}

	single := model.BorrowerRecord{
		Name:    "Jane Doe",
		Address: &model.Address{Street: "1 Main St"},
		Sources: []model.SourceReference{{DocumentID: "doc-1"}},
	}
	if warns := checkRecord(&single); len(warns) != 0 {
		t.Errorf("single source flagged: %v", warnKinds(warns))
	}

	noAddr := model.BorrowerRecord{
		Name: "Jane Doe",
		Sources: []model.SourceReference{
			{DocumentID: "doc-1"},
			{DocumentID: "doc-2"},
		},
	}
	if warns := checkRecord(&noAddr); len(warns) != 0 {
		t.Errorf("record without address flagged: %v", warnKinds(warns))
	}
}

func TestCrossDocMismatch(t *testing.T) {
	a := withSSN("Jane Doe", "123-45-6789")
	a.ID = "a"
	b := withSSN("jane  doe", "987-65-4321")
	b.ID = "b"
	c := withSSN("Robert Roe", "111-22-3333")
	c.ID = "c"

	warns := crossDocMismatch([]model.BorrowerRecord{a, b, c})
	if len(warns) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnKinds(warns))
	}
	w := warns[0]
	if w.Kind != model.WarnCrossDocMismatch || w.BorrowerID != "a" {
		t.Errorf("warning = %+v", w)
	}
	if w.Details["distinct_last4"] != "2" {
		t.Errorf("details = %v", w.Details)
	}
	// The warning counts endings without echoing them.
	for _, leak := range []string{"6789", "4321"} {
		if strings.Contains(w.Message, leak) {
			t.Errorf("ssn ending leaked into message %q", w.Message)
		}
	}
}

func TestCrossDocMismatch_SameSSNNotFlagged(t *testing.T) {
	a := withSSN("Jane Doe", "123-45-6789")
	b := withSSN("Jane Doe", "123-45-6789")
	if warns := crossDocMismatch([]model.BorrowerRecord{a, b}); len(warns) != 0 {
		t.Errorf("matching endings flagged: %v", warnKinds(warns))
	}
}

func TestCrossDocMismatch_MissingSSNIgnored(t *testing.T) {
	a := withSSN("Jane Doe", "123-45-6789")
	b := model.BorrowerRecord{Name: "Jane Doe"}
	if warns := crossDocMismatch([]model.BorrowerRecord{a, b}); len(warns) != 0 {
		t.Errorf("record without ssn counted: %v", warnKinds(warns))
	}
}
