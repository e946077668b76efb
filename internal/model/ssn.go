package model

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var ssnPattern = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)

// NormalizeSSN reduces raw to the canonical XXX-XX-XXXX form. It accepts
// any input containing exactly nine digits once separators are removed and
// reports false otherwise. Normalization is idempotent.
func NormalizeSSN(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) != 9 {
		return "", false
	}
	return d[0:3] + "-" + d[3:5] + "-" + d[5:9], true
}

// ValidSSN reports whether s is already in canonical form.
func ValidSSN(s string) bool {
	return ssnPattern.MatchString(s)
}

// HashSSN returns the SHA-256 hex digest of a normalized SSN. This is the
// only form of the SSN that ever reaches storage.
func HashSSN(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// MaskSSN returns the display form XXX-XX-1234 for a normalized SSN.
func MaskSSN(normalized string) string {
	if !ValidSSN(normalized) {
		return ""
	}
	return "XXX-XX-" + normalized[7:]
}

// SSNLast4 returns the last four digits of a normalized SSN.
func SSNLast4(normalized string) string {
	if !ValidSSN(normalized) {
		return ""
	}
	return normalized[7:]
}

// SetSSN normalizes raw and installs the transient value plus the derived
// persisted fields on the record. It reports whether raw was usable.
func (b *BorrowerRecord) SetSSN(raw string) bool {
	normalized, ok := NormalizeSSN(raw)
	if !ok {
		return false
	}
	b.SSN = &normalized
	b.SSNHash = HashSSN(normalized)
	b.SSNLast4 = SSNLast4(normalized)
	b.SSNMasked = MaskSSN(normalized)
	return true
}

// ClearTransientSSN drops the raw SSN before the record crosses a
// persistence or serialization boundary.
func (b *BorrowerRecord) ClearTransientSSN() {
	b.SSN = nil
}
