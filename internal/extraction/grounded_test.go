package extraction

import (
	"strings"
	"testing"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

func TestAlignSpan_Exact(t *testing.T) {
	chunk := []rune("Borrower: Jane Doe\nSSN: 123-45-6789")
	start, end, status := alignSpan(chunk, 100, "Jane Doe")

	if status != alignExact {
		t.Fatalf("status = %s, want exact", status)
	}
	if start != 110 || end != 118 {
		t.Errorf("offsets = [%d,%d), want [110,118)", start, end)
	}
	if got := string(chunk[start-100 : end-100]); got != "Jane Doe" {
		t.Errorf("aligned slice = %q", got)
	}
}

func TestAlignSpan_Fuzzy(t *testing.T) {
	chunk := []rune("Borrower:\n  Jane\n  Doe earns $85,000")
	start, end, status := alignSpan(chunk, 0, "Jane Doe")

	if status != alignFuzzy {
		t.Fatalf("status = %s, want fuzzy", status)
	}
	// The resolved region is the original text with its whitespace, so the
	// referenced slice is still verbatim document text.
	got := string(chunk[start:end])
	if !strings.HasPrefix(got, "Jane") || !strings.HasSuffix(got, "Doe") {
		t.Errorf("aligned slice = %q", got)
	}
}

func TestAlignSpan_None(t *testing.T) {
	chunk := []rune("Borrower: Jane Doe")
	if _, _, status := alignSpan(chunk, 0, "Robert Smith"); status != alignNone {
		t.Errorf("status = %s, want none", status)
	}
	if _, _, status := alignSpan(chunk, 0, ""); status != alignNone {
		t.Errorf("empty span: status = %s, want none", status)
	}
}

func TestAssembleChunk_GroundedProvenance(t *testing.T) {
	text := "Borrower: Jane Doe\nSSN: 123-45-6789\nIncome: $85,000 in 2023\nCo-Borrower: John Doe"
	content := &model.DocumentContent{Text: text}
	chunk := TextChunk{Text: text, StartChar: 0, EndChar: len([]rune(text)), TotalChunks: 1}
	spans := []GroundedSpan{
		{Class: "borrower_name", Text: "Jane Doe", Attributes: map[string]any{"borrower_index": "1"}},
		{Class: "ssn", Text: "123-45-6789", Attributes: map[string]any{"borrower_index": "1"}},
		{Class: "income", Text: "$85,000 in 2023", Attributes: map[string]any{"borrower_index": "1", "period": "annual"}},
		{Class: "borrower_name", Text: "John Doe", Attributes: map[string]any{"borrower_index": "2"}},
	}

	g := NewGroundedExtractor(nil, 0, 0, nil)
	records, verrs, warns := g.assembleChunk(spans, chunk, content, "doc-1", "app.pdf", 1)
	if len(verrs) != 0 {
		t.Fatalf("unexpected validation errors: %+v", verrs)
	}
	if len(warns) != 0 {
		t.Fatalf("unexpected warnings: %v", warns)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 borrowers, got %d", len(records))
	}

	jane := records[0]
	if jane.Name != "Jane Doe" || jane.SSNLast4 != "6789" {
		t.Errorf("first borrower = %+v", jane)
	}
	if len(jane.IncomeHistory) != 1 || jane.IncomeHistory[0].AmountCents != 8500000 || jane.IncomeHistory[0].Year != 2023 {
		t.Errorf("income = %+v", jane.IncomeHistory)
	}
	if len(jane.Sources) != 3 {
		t.Fatalf("expected 3 grounded sources, got %d", len(jane.Sources))
	}

	docRunes := []rune(text)
	for i, src := range jane.Sources {
		if src.CharStart == nil || src.CharEnd == nil {
			t.Fatalf("source %d missing offsets", i)
		}
		if got := string(docRunes[*src.CharStart:*src.CharEnd]); got != src.Snippet {
			t.Errorf("source %d: document slice %q != snippet %q", i, got, src.Snippet)
		}
	}

	if records[1].Name != "John Doe" {
		t.Errorf("second borrower = %q", records[1].Name)
	}
}

func TestAssembleChunk_FuzzyWarnsButGrounds(t *testing.T) {
	text := "Borrower:\nJane\nDoe\nIncome: $85,000"
	content := &model.DocumentContent{Text: text}
	chunk := TextChunk{Text: text, StartChar: 0, EndChar: len([]rune(text)), TotalChunks: 1}
	spans := []GroundedSpan{
		{Class: "borrower_name", Text: "Jane Doe"},
	}

	g := NewGroundedExtractor(nil, 0, 0, nil)
	records, _, warns := g.assembleChunk(spans, chunk, content, "doc-1", "app.pdf", 1)
	if len(records) != 1 {
		t.Fatalf("expected 1 borrower, got %d", len(records))
	}
	if len(warns) != 1 || !strings.Contains(warns[0], "whitespace normalization") {
		t.Fatalf("expected a fuzzy-alignment warning, got %v", warns)
	}

	src := records[0].Sources[0]
	if src.CharStart == nil || src.CharEnd == nil {
		t.Fatal("fuzzy-aligned source missing offsets")
	}
	docRunes := []rune(text)
	if got := string(docRunes[*src.CharStart:*src.CharEnd]); got != src.Snippet {
		t.Errorf("document slice %q != snippet %q", got, src.Snippet)
	}
}

func TestAssembleChunk_UnalignedFallsBackToChunkHead(t *testing.T) {
	text := "Applicant information appears on this page.\nJane Doe is the borrower."
	content := &model.DocumentContent{Text: text}
	chunk := TextChunk{Text: text, StartChar: 0, EndChar: len([]rune(text)), TotalChunks: 1}
	spans := []GroundedSpan{
		// Paraphrased, so it exists nowhere in the text.
		{Class: "borrower_name", Text: "Ms. J. Doe"},
	}

	g := NewGroundedExtractor(nil, 0, 0, nil)
	records, _, warns := g.assembleChunk(spans, chunk, content, "doc-1", "app.pdf", 1)
	if len(records) != 1 {
		t.Fatalf("expected 1 borrower, got %d", len(records))
	}
	if len(warns) != 1 || !strings.Contains(warns[0], "could not be aligned") {
		t.Fatalf("expected an alignment warning, got %v", warns)
	}

	if len(records[0].Sources) != 1 {
		t.Fatalf("expected the chunk-head fallback source, got %d sources", len(records[0].Sources))
	}
	src := records[0].Sources[0]
	if src.CharStart == nil || *src.CharStart != 0 {
		t.Errorf("fallback source start = %v, want 0", src.CharStart)
	}
	docRunes := []rune(text)
	if got := string(docRunes[*src.CharStart:*src.CharEnd]); got != src.Snippet {
		t.Errorf("document slice %q != snippet %q", got, src.Snippet)
	}
}

func TestAssembleChunk_SSNNeverInWarnings(t *testing.T) {
	text := "Borrower: Jane Doe"
	content := &model.DocumentContent{Text: text}
	chunk := TextChunk{Text: text, StartChar: 0, EndChar: len([]rune(text)), TotalChunks: 1}
	spans := []GroundedSpan{
		{Class: "borrower_name", Text: "Jane Doe"},
		{Class: "ssn", Text: "987-65-4321"}, // not present in the text
	}

	g := NewGroundedExtractor(nil, 0, 0, nil)
	_, _, warns := g.assembleChunk(spans, chunk, content, "doc-1", "app.pdf", 1)
	if len(warns) != 1 {
		t.Fatalf("expected 1 warning, got %v", warns)
	}
	if strings.Contains(warns[0], "4321") {
		t.Fatal("ssn digits leaked into an alignment warning")
	}
	if !strings.Contains(warns[0], "[redacted]") {
		t.Errorf("warning should carry the redaction placeholder: %q", warns[0])
	}
}

func TestIncomeFromSpan(t *testing.T) {
	structured := GroundedSpan{
		Class: "income",
		Text:  "Base salary $90,000 (2022)",
		Attributes: map[string]any{
			"amount": "$90,000", "year": "2022", "period": "annual",
			"employer": "Acme Corp", "source_type": "w2",
		},
	}
	inc := incomeFromSpan(structured)
	if inc.Amount.String() != "$90,000" || inc.Year.String() != "2022" || inc.Employer != "Acme Corp" {
		t.Errorf("structured span: %+v", inc)
	}

	bare := GroundedSpan{Class: "income", Text: "earned $85,000 during 2023"}
	inc = incomeFromSpan(bare)
	if inc.Amount.String() != "$85,000" {
		t.Errorf("fallback amount = %q, want the dollar figure", inc.Amount)
	}
	if inc.Year.String() != "2023" {
		t.Errorf("fallback year = %q", inc.Year)
	}
}

func TestAddressFromText(t *testing.T) {
	tests := []struct {
		in    string
		want  RawAddress
		label string
	}{
		{
			in:    "1 Main St, Springfield, IL 62701",
			want:  RawAddress{Street: "1 Main St", City: "Springfield", State: "IL", Zip: "62701"},
			label: "full address",
		},
		{
			in:    "1 Main St, IL 62701",
			want:  RawAddress{Street: "1 Main St", State: "IL", Zip: "62701"},
			label: "no city",
		},
		{
			in:    "1 Main St",
			want:  RawAddress{Street: "1 Main St"},
			label: "street only",
		},
	}

	for _, tt := range tests {
		got := addressFromText(tt.in)
		if *got != tt.want {
			t.Errorf("%s: addressFromText(%q) = %+v, want %+v", tt.label, tt.in, *got, tt.want)
		}
	}
}

func TestFirstMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"salary of $85,000 in 2023", "$85,000"},
		{"85,000.00 for 2023", "85,000.00"},
		{"paid 2023 dollars", "2023"}, // bare number is the last resort
		{"no figures here", ""},
	}
	for _, tt := range tests {
		if got := firstMoney(tt.in); got != tt.want {
			t.Errorf("firstMoney(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
