package reconcile

import (
	"github.com/gregorydickson/loan-sub000/internal/model"
)

// mergeCluster folds one equivalence cluster into a single record. The
// highest-confidence member is the base; ties keep the earliest record.
func mergeCluster(records []model.BorrowerRecord, cluster []int) model.BorrowerRecord {
	baseIdx := cluster[0]
	for _, i := range cluster[1:] {
		if records[i].ConfidenceScore > records[baseIdx].ConfidenceScore {
			baseIdx = i
		}
	}

	merged := cloneRecord(&records[baseIdx])
	for _, i := range cluster {
		if i == baseIdx {
			continue
		}
		mergeInto(merged, &records[i])
	}
	merged.DocumentRefs = merged.DocumentIDs()
	return *merged
}

// cloneRecord copies a record deeply enough that merging never aliases the
// input slices.
func cloneRecord(b *model.BorrowerRecord) *model.BorrowerRecord {
	out := *b
	if b.SSN != nil {
		v := *b.SSN
		out.SSN = &v
	}
	if b.Address != nil {
		a := *b.Address
		out.Address = &a
	}
	if b.Confidence != nil {
		c := *b.Confidence
		out.Confidence = &c
	}
	out.IncomeHistory = append([]model.IncomeRecord(nil), b.IncomeHistory...)
	out.AccountNumbers = append([]string(nil), b.AccountNumbers...)
	out.LoanNumbers = append([]string(nil), b.LoanNumbers...)
	out.Sources = append([]model.SourceReference(nil), b.Sources...)
	out.DocumentRefs = append([]string(nil), b.DocumentRefs...)
	return &out
}

// mergeInto adopts other's values for scalar fields the base lacks and
// unions the list fields as sets. Confidence takes the max of the pair;
// scoring recomputes it afterwards.
func mergeInto(base, other *model.BorrowerRecord) {
	if base.Name == "" {
		base.Name = other.Name
	}
	if base.SSNHash == "" && other.SSNHash != "" {
		base.SSNHash = other.SSNHash
		base.SSNLast4 = other.SSNLast4
		base.SSNMasked = other.SSNMasked
		if other.SSN != nil {
			v := *other.SSN
			base.SSN = &v
		}
	}
	if base.Phone == "" {
		base.Phone = other.Phone
	}
	if base.Email == "" {
		base.Email = other.Email
	}
	if base.Address.Empty() && !other.Address.Empty() {
		a := *other.Address
		base.Address = &a
	}

	base.IncomeHistory = unionIncomes(base.IncomeHistory, other.IncomeHistory)
	base.AccountNumbers = unionStrings(base.AccountNumbers, other.AccountNumbers)
	base.LoanNumbers = unionStrings(base.LoanNumbers, other.LoanNumbers)
	base.Sources = unionSources(base.Sources, other.Sources)

	if other.ConfidenceScore > base.ConfidenceScore {
		base.ConfidenceScore = other.ConfidenceScore
	}
	if base.CreatedAt.IsZero() || (!other.CreatedAt.IsZero() && other.CreatedAt.Before(base.CreatedAt)) {
		base.CreatedAt = other.CreatedAt
	}
}

func unionIncomes(base, other []model.IncomeRecord) []model.IncomeRecord {
	seen := make(map[string]bool, len(base))
	for _, r := range base {
		seen[r.Key()] = true
	}
	for _, r := range other {
		if !seen[r.Key()] {
			seen[r.Key()] = true
			base = append(base, r)
		}
	}
	return base
}

func unionSources(base, other []model.SourceReference) []model.SourceReference {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[s.Key()] = true
	}
	for _, s := range other {
		if !seen[s.Key()] {
			seen[s.Key()] = true
			base = append(base, s)
		}
	}
	return base
}

func unionStrings(base, other []string) []string {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[s] = true
	}
	for _, s := range other {
		if !seen[s] {
			seen[s] = true
			base = append(base, s)
		}
	}
	return base
}
