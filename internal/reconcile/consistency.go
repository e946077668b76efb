package reconcile

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

// Year-over-year ratios outside these bounds are flagged.
const (
	incomeDropRatio  = 0.5
	incomeSpikeRatio = 3.0
)

// checkRecord emits per-record consistency warnings. Warnings flag, they
// never correct.
func checkRecord(b *model.BorrowerRecord) []model.ConsistencyWarning {
	var warns []model.ConsistencyWarning

	if len(b.Sources) >= 2 && b.HasAddressInfo() {
		warns = append(warns, model.ConsistencyWarning{
			Kind:       model.WarnAddressConflict,
			BorrowerID: b.ID,
			Field:      "address",
			Message:    "address assembled from multiple sources; verify it is not a merge artifact",
		})
	}

	warns = append(warns, incomeTrendWarnings(b)...)
	return warns
}

// incomeTrendWarnings flags year-over-year swings. Amounts are compared
// within one period class so a monthly figure never screens an annual one,
// and the larger amount wins when a year repeats.
func incomeTrendWarnings(b *model.BorrowerRecord) []model.ConsistencyWarning {
	byPeriod := make(map[model.IncomePeriod]map[int]int64)
	for _, inc := range b.IncomeHistory {
		if inc.Year == 0 {
			continue
		}
		m := byPeriod[inc.Period]
		if m == nil {
			m = make(map[int]int64)
			byPeriod[inc.Period] = m
		}
		if inc.AmountCents > m[inc.Year] {
			m[inc.Year] = inc.AmountCents
		}
	}

	periods := make([]model.IncomePeriod, 0, len(byPeriod))
	for p := range byPeriod {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })

	var warns []model.ConsistencyWarning
	for _, p := range periods {
		amounts := byPeriod[p]
		years := make([]int, 0, len(amounts))
		for y := range amounts {
			years = append(years, y)
		}
		sort.Ints(years)

		for _, y := range years {
			prev := amounts[y]
			curr, ok := amounts[y+1]
			if !ok || prev <= 0 {
				continue
			}
			details := map[string]string{
				"period":     string(p),
				"prev_cents": strconv.FormatInt(prev, 10),
				"curr_cents": strconv.FormatInt(curr, 10),
			}
			ratio := float64(curr) / float64(prev)
			switch {
			case ratio < incomeDropRatio:
				warns = append(warns, model.ConsistencyWarning{
					Kind:       model.WarnIncomeDrop,
					BorrowerID: b.ID,
					Field:      "income_history",
					Message:    fmt.Sprintf("income for %d is less than half of %d", y+1, y),
					Details:    details,
				})
			case ratio > incomeSpikeRatio:
				warns = append(warns, model.ConsistencyWarning{
					Kind:       model.WarnIncomeSpike,
					BorrowerID: b.ID,
					Field:      "income_history",
					Message:    fmt.Sprintf("income for %d is more than triple that of %d", y+1, y),
					Details:    details,
				})
			}
		}
	}
	return warns
}

// crossDocMismatch flags name groups whose members carry different SSNs.
// It runs on the post-dedup set: records that survived deduplication as
// distinct people yet share a name and disagree on SSN endings deserve a
// human look.
func crossDocMismatch(records []model.BorrowerRecord) []model.ConsistencyWarning {
	groups := make(map[string][]int)
	var order []string
	for i, b := range records {
		key := NormalizeName(b.Name)
		if key == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var warns []model.ConsistencyWarning
	for _, key := range order {
		idxs := groups[key]
		last4 := make(map[string]bool)
		var withSSN []int
		for _, i := range idxs {
			if records[i].SSNLast4 != "" {
				last4[records[i].SSNLast4] = true
				withSSN = append(withSSN, i)
			}
		}
		if len(withSSN) >= 2 && len(last4) > 1 {
			first := records[withSSN[0]]
			warns = append(warns, model.ConsistencyWarning{
				Kind:       model.WarnCrossDocMismatch,
				BorrowerID: first.ID,
				Field:      "ssn",
				Message:    fmt.Sprintf("%d different ssn endings share the name %q", len(last4), first.Name),
				Details:    map[string]string{"distinct_last4": strconv.Itoa(len(last4))},
			})
		}
	}
	return warns
}
