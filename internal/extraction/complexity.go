package extraction

import (
	"fmt"
	"regexp"
	"strings"
)

// ComplexityLevel routes a document to a model tier.
type ComplexityLevel string

const (
	ComplexityStandard ComplexityLevel = "STANDARD"
	ComplexityComplex  ComplexityLevel = "COMPLEX"
)

// Complexity is the classifier verdict for one document.
type Complexity struct {
	Level              ComplexityLevel `json:"level"`
	Reasons            []string        `json:"reasons"`
	EstimatedBorrowers int             `json:"estimated_borrowers"`
	HasHandwritten     bool            `json:"has_handwritten"`
	HasPoorQuality     bool            `json:"has_poor_quality"`
	PageCount          int             `json:"page_count"`
}

const (
	complexPageThreshold    = 10
	complexQualityThreshold = 3
)

var (
	multiBorrowerPattern = regexp.MustCompile(`(?i)co-borrower|joint applicant|spouse|borrower 2|second borrower`)
	handwrittenPattern   = regexp.MustCompile(`(?i)\[handwritten\]|signature:|signed:`)
	qualityPatterns      = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\[illegible\]`),
		regexp.MustCompile(`(?i)\[unclear\]`),
		regexp.MustCompile(`\?\?\?`),
		regexp.MustCompile(`[^\w\s]{5,}`),
	}
)

// ClassifyComplexity decides which model tier a document needs. Long
// documents, multi-borrower applications, handwritten sections and noisy
// OCR output all route to the pro tier.
func ClassifyComplexity(text string, pageCount int) *Complexity {
	c := &Complexity{
		Level:              ComplexityStandard,
		Reasons:            []string{},
		EstimatedBorrowers: 1,
		PageCount:          pageCount,
	}

	markers := distinctMatches(multiBorrowerPattern, text)
	if len(markers) > 0 {
		c.Level = ComplexityComplex
		c.EstimatedBorrowers += len(markers)
		c.Reasons = append(c.Reasons, fmt.Sprintf("multi-borrower markers: %s", strings.Join(markers, ", ")))
	}

	if pageCount > complexPageThreshold {
		c.Level = ComplexityComplex
		c.Reasons = append(c.Reasons, fmt.Sprintf("page count %d exceeds %d", pageCount, complexPageThreshold))
	}

	quality := 0
	for _, p := range qualityPatterns {
		quality += len(p.FindAllStringIndex(text, -1))
	}
	if quality > complexQualityThreshold {
		c.Level = ComplexityComplex
		c.HasPoorQuality = true
		c.Reasons = append(c.Reasons, fmt.Sprintf("%d quality indicators", quality))
	}

	if handwrittenPattern.MatchString(text) {
		c.Level = ComplexityComplex
		c.HasHandwritten = true
		c.Reasons = append(c.Reasons, "handwritten content markers")
	}

	return c
}

// distinctMatches returns the unique lowercase matches in first-seen order.
func distinctMatches(p *regexp.Regexp, text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range p.FindAllString(text, -1) {
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}
