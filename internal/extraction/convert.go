package extraction

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

// snippetMaxChars caps the provenance snippet attached by the docling path.
const snippetMaxChars = 200

// OffsetToPage maps a code-point offset in the joined document text to a
// 1-indexed page number. Page-level text is walked cumulatively when it is
// available; otherwise the page is estimated assuming uniform page length.
// Empty documents map everything to page 1.
func OffsetToPage(content *model.DocumentContent, charPos, pageCount int) int {
	if content == nil || content.Text == "" {
		return 1
	}
	if len(content.Pages) > 0 {
		cum := 0
		for i, p := range content.Pages {
			cum += utf8.RuneCountInString(p.Text)
			if i < len(content.Pages)-1 {
				cum++ // joining newline
			}
			if cum > charPos {
				return p.PageNumber
			}
		}
		return content.Pages[len(content.Pages)-1].PageNumber
	}

	if pageCount < 1 {
		pageCount = 1
	}
	total := utf8.RuneCountInString(content.Text)
	if total == 0 {
		return 1
	}
	page := charPos*pageCount/total + 1
	if page > pageCount {
		page = pageCount
	}
	return page
}

// snippet returns the first max code points of text.
func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

// ConvertChunkBorrowers maps the raw model output for one chunk onto
// BorrowerRecords with page-level provenance. Records with an unusable name
// are dropped and reported as validation errors rather than failing the
// chunk.
func ConvertChunkBorrowers(raws []RawBorrower, chunk TextChunk, content *model.DocumentContent, docID, docName string, pageCount int) ([]model.BorrowerRecord, []model.ValidationError) {
	var (
		records []model.BorrowerRecord
		verrs   []model.ValidationError
	)
	page := OffsetToPage(content, chunk.StartChar, pageCount)
	snip := snippet(chunk.Text, snippetMaxChars)

	for _, raw := range raws {
		name := CleanPersonName(raw.Name)
		if name == "" {
			verrs = append(verrs, model.ValidationError{
				Field:   "name",
				Value:   raw.Name,
				Kind:    model.ValidationMissing,
				Message: "borrower dropped: empty name",
			})
			continue
		}

		rec := model.BorrowerRecord{
			ID:   uuid.New().String(),
			Name: name,
		}
		if raw.SSN != "" && !rec.SetSSN(raw.SSN) {
			verrs = append(verrs, model.ValidationError{
				Field:   "ssn",
				Kind:    model.ValidationFormat,
				Message: fmt.Sprintf("ssn for %s does not contain nine digits", name),
			})
		}
		if raw.Phone != "" {
			rec.Phone, _ = NormalizePhone(raw.Phone)
		}
		rec.Email = strings.TrimSpace(raw.Email)
		if raw.Address != nil {
			state := strings.TrimSpace(raw.Address.State)
			if len(state) == 2 {
				state = strings.ToUpper(state)
			}
			addr := &model.Address{
				Street: strings.TrimSpace(raw.Address.Street),
				City:   strings.TrimSpace(raw.Address.City),
				State:  state,
				Zip:    NormalizeZip(raw.Address.Zip),
			}
			if !addr.Empty() {
				rec.Address = addr
			}
		}

		for _, inc := range raw.Incomes {
			cents, ok := ParseMoneyCents(inc.Amount.String())
			if !ok || cents <= 0 {
				verrs = append(verrs, model.ValidationError{
					Field:   "income.amount",
					Value:   inc.Amount.String(),
					Kind:    model.ValidationFormat,
					Message: fmt.Sprintf("unparseable income amount for %s", name),
				})
				continue
			}
			income := model.IncomeRecord{
				AmountCents: cents,
				Period:      NormalizePeriod(inc.Period),
				Year:        ParseYear(inc.Year.String()),
				SourceType:  strings.ToLower(strings.TrimSpace(inc.SourceType)),
			}
			if emp := strings.TrimSpace(inc.Employer); emp != "" {
				income.Employer = &emp
			}
			rec.IncomeHistory = append(rec.IncomeHistory, income)
		}

		rec.AccountNumbers = cleanIdentifiers(raw.AccountNumbers)
		rec.LoanNumbers = cleanIdentifiers(raw.LoanNumbers)

		rec.Sources = []model.SourceReference{{
			DocumentID:   docID,
			DocumentName: docName,
			PageNumber:   page,
			Snippet:      snip,
		}}
		records = append(records, rec)
	}
	return records, verrs
}

// cleanIdentifiers trims and dedupes account or loan numbers, preserving
// first-seen order.
func cleanIdentifiers(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
