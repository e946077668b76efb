package extraction

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/gregorydickson/loan-sub000/internal/model"
)

var zipPattern = regexp.MustCompile(`\d{5}(-\d{4})?`)

// ParseMoneyCents extracts a dollar amount from strings like "$85,000" or
// "1,234.56" and returns it in cents.
func ParseMoneyCents(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, false
	}

	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(amount * 100)), true
}

// NormalizePhone parses a phone number, defaulting to the US region, and
// returns it in E.164 form. When the library rejects the number the trimmed
// input is returned with ok=false so the raw value is not lost.
func NormalizePhone(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	num, err := phonenumbers.Parse(trimmed, "US")
	if err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164), true
	}
	return trimmed, false
}

// CleanPersonName collapses whitespace and title-cases a borrower name.
func CleanPersonName(raw string) string {
	cleaned := strings.Join(strings.Fields(raw), " ")
	cleaned = strings.Trim(cleaned, " ,;:")
	if cleaned == "" {
		return ""
	}

	caser := cases.Title(language.English)
	words := strings.Fields(cleaned)
	for i, word := range words {
		words[i] = caser.String(strings.ToLower(word))
	}
	return strings.Join(words, " ")
}

// NormalizePeriod maps the free-form period strings models emit onto the
// canonical income periods. Loan files state salaries without a qualifier,
// so an empty period reads as annual.
func NormalizePeriod(raw string) model.IncomePeriod {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "annual", "annually", "yearly", "year", "per year", "yr", "/yr":
		return model.PeriodAnnual
	case "monthly", "month", "per month", "mo", "/mo":
		return model.PeriodMonthly
	case "hourly", "hour", "per hour", "hr", "/hr":
		return model.PeriodHourly
	case "weekly", "week", "per week", "wk", "/wk":
		return model.PeriodWeekly
	case "biweekly", "bi-weekly", "every two weeks":
		return model.PeriodBiweekly
	default:
		return model.PeriodOther
	}
}

// ParseYear reads a four-digit year out of a string, tolerating stray
// punctuation. Returns 0 when no year is present.
func ParseYear(raw string) int {
	digits := digitsOnly(raw)
	if len(digits) < 4 {
		return 0
	}
	year, err := strconv.Atoi(digits[:4])
	if err != nil {
		return 0
	}
	return year
}

// NormalizeZip pulls the first ZIP or ZIP+4 group out of a string. When no
// group is found the trimmed input is returned unchanged.
func NormalizeZip(raw string) string {
	if m := zipPattern.FindString(raw); m != "" {
		return m
	}
	return strings.TrimSpace(raw)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}
