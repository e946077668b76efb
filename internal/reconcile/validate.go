package reconcile

import (
	"fmt"
	"regexp"
	"time"

	"github.com/nyaruka/phonenumbers"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

var zipValidPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// validateRecord checks field formats on a merged record. Failures are
// reported, never fatal: a borrower with a bad phone number is still a
// borrower.
func validateRecord(b *model.BorrowerRecord, now time.Time) []model.ValidationError {
	var errs []model.ValidationError

	if b.SSN != nil && !model.ValidSSN(*b.SSN) {
		errs = append(errs, model.ValidationError{
			Field:   "ssn",
			Kind:    model.ValidationFormat,
			Message: "ssn is not in canonical form",
		})
	}

	if b.Phone != "" && !validPhone(b.Phone) {
		errs = append(errs, model.ValidationError{
			Field:   "phone",
			Value:   b.Phone,
			Kind:    model.ValidationFormat,
			Message: "phone is not parseable and has fewer than 10 digits",
		})
	}

	if b.Address != nil && b.Address.Zip != "" && !zipValidPattern.MatchString(b.Address.Zip) {
		errs = append(errs, model.ValidationError{
			Field:   "address.zip",
			Value:   b.Address.Zip,
			Kind:    model.ValidationFormat,
			Message: "zip is not a 5 or 9 digit code",
		})
	}

	maxYear := model.IncomeYearMax(now)
	for _, inc := range b.IncomeHistory {
		if inc.Year < model.IncomeYearMin || inc.Year > maxYear {
			errs = append(errs, model.ValidationError{
				Field:   "income.year",
				Value:   fmt.Sprintf("%d", inc.Year),
				Kind:    model.ValidationRange,
				Message: fmt.Sprintf("income year %d outside [%d, %d]", inc.Year, model.IncomeYearMin, maxYear),
			})
		}
	}

	return errs
}

// validPhone accepts numbers the library parses as valid, or any input
// carrying at least ten digits.
func validPhone(phone string) bool {
	num, err := phonenumbers.Parse(phone, "US")
	if err == nil && phonenumbers.IsValidNumber(num) {
		return true
	}
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10
}
