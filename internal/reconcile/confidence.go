package reconcile

import (
	"unicode/utf8"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

// Weights for the additive confidence model.
const (
	confidenceBase     = 0.5
	requiredFieldBonus = 0.1
	requiredFieldCap   = 0.2
	optionalListBonus  = 0.05
	optionalListCap    = 0.15
	multiSourceBonus   = 0.10
	validationsBonus   = 0.15

	// ReviewThreshold is the confidence below which a borrower is routed
	// to manual review.
	ReviewThreshold = 0.70
)

// scoreRecord fills ConfidenceScore, Confidence and RequiresReview on a
// merged record. The breakdown total stays unclipped so an auditor can see
// how a maxed-out score was reached; only the headline score clips to
// [0, 1].
func scoreRecord(b *model.BorrowerRecord, validationsPassed bool) {
	bd := model.ConfidenceBreakdown{Base: confidenceBase}

	if utf8.RuneCountInString(b.Name) >= 2 {
		bd.RequiredFields += requiredFieldBonus
	}
	if !b.Address.Empty() {
		bd.RequiredFields += requiredFieldBonus
	}
	if bd.RequiredFields > requiredFieldCap {
		bd.RequiredFields = requiredFieldCap
	}

	if len(b.IncomeHistory) > 0 {
		bd.OptionalLists += optionalListBonus
	}
	if len(b.AccountNumbers) > 0 {
		bd.OptionalLists += optionalListBonus
	}
	if len(b.LoanNumbers) > 0 {
		bd.OptionalLists += optionalListBonus
	}
	if bd.OptionalLists > optionalListCap {
		bd.OptionalLists = optionalListCap
	}

	if len(b.Sources) >= 2 {
		bd.MultiSource = multiSourceBonus
	}
	if validationsPassed {
		bd.ValidationsPassed = validationsBonus
	}

	bd.Total = bd.Base + bd.RequiredFields + bd.OptionalLists + bd.MultiSource + bd.ValidationsPassed

	score := bd.Total
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	b.ConfidenceScore = score
	b.Confidence = &bd
	b.RequiresReview = score < ReviewThreshold
}
