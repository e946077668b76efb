// Package eval scores borrower extraction strategies against ground-truth
// fixtures, so changes to chunking, prompting or reconciliation can be
// compared on the same documents.
package eval

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gregorydickson/loan-sub000/internal/model"
	"github.com/gregorydickson/loan-sub000/internal/reconcile"
)

// GroundTruth is the expected borrower set for one fixture document.
type GroundTruth struct {
	Name      string     `json:"name"`
	Borrowers []Borrower `json:"borrowers"`
}

// Borrower is one expected borrower. SSN is kept in ground truth as written
// in the document; comparisons always go through the hash.
type Borrower struct {
	Name           string   `json:"name"`
	SSN            string   `json:"ssn,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Email          string   `json:"email,omitempty"`
	Incomes        []Income `json:"incomes,omitempty"`
	AccountNumbers []string `json:"account_numbers,omitempty"`
	LoanNumbers    []string `json:"loan_numbers,omitempty"`
}

// Income is one expected income line, already normalized to cents.
type Income struct {
	AmountCents int64  `json:"amount_cents"`
	Period      string `json:"period"`
	Year        int    `json:"year"`
}

// EvalResult holds metrics from running one strategy on one fixture.
type EvalResult struct {
	Strategy        string
	Fixture         string
	Borrowers       CountMetrics
	SSNAccuracy     float64
	IncomeRecall    float64
	ContactAccuracy float64
	NameSim         float64
	OverallScore    float64
	Duration        time.Duration
	Error           string // non-empty if the strategy failed
}

// CountMetrics measures borrower detection performance.
type CountMetrics struct {
	Expected  int
	Extracted int
	Matched   int
	Precision float64
	Recall    float64
	F1        float64
}

// borrowerPair is a matched pair of extracted and ground-truth borrowers.
type borrowerPair struct {
	extracted *model.BorrowerRecord
	truth     Borrower
}

// StrategyFunc is the signature for an extraction strategy under test. It
// maps a fixture to the borrower set the strategy would persist.
type StrategyFunc func(ctx context.Context, fixture *Fixture) ([]model.BorrowerRecord, error)

// --- Metric Functions ---

// ComputeMetrics compares extracted borrowers against ground truth.
func ComputeMetrics(
	strategy string,
	fixture string,
	extracted []model.BorrowerRecord,
	truth *GroundTruth,
	duration time.Duration,
) *EvalResult {
	result := &EvalResult{
		Strategy: strategy,
		Fixture:  fixture,
		Duration: duration,
	}

	matched, unmatchedExtracted, unmatchedTruth := matchBorrowers(extracted, truth.Borrowers)

	result.Borrowers = CountMetrics{
		Expected:  len(truth.Borrowers),
		Extracted: len(extracted),
		Matched:   len(matched),
	}

	if len(extracted) > 0 {
		result.Borrowers.Precision = float64(len(matched)) / float64(len(extracted))
	}
	if len(truth.Borrowers) > 0 {
		result.Borrowers.Recall = float64(len(matched)) / float64(len(truth.Borrowers))
	}
	p := result.Borrowers.Precision
	r := result.Borrowers.Recall
	if p+r > 0 {
		result.Borrowers.F1 = 2 * p * r / (p + r)
	}

	// Per-field accuracy on matched pairs.
	if len(matched) > 0 {
		var ssnOK, contactOK int
		var incomeSum, nameSimSum float64

		for _, pair := range matched {
			if ssnFieldMatch(pair.extracted, pair.truth.SSN) {
				ssnOK++
			}
			if phoneMatch(pair.extracted.Phone, pair.truth.Phone) && emailMatch(pair.extracted.Email, pair.truth.Email) {
				contactOK++
			}
			incomeSum += incomeRecall(pair.extracted.IncomeHistory, pair.truth.Incomes)
			nameSimSum += reconcile.NameSimilarity(pair.extracted.Name, pair.truth.Name)
		}

		result.SSNAccuracy = float64(ssnOK) / float64(len(matched))
		result.ContactAccuracy = float64(contactOK) / float64(len(matched))
		result.IncomeRecall = incomeSum / float64(len(matched))
		result.NameSim = nameSimSum / float64(len(matched))
	}

	result.OverallScore = 0.30*result.Borrowers.F1 +
		0.25*result.SSNAccuracy +
		0.15*result.IncomeRecall +
		0.15*result.ContactAccuracy +
		0.15*result.NameSim

	_ = unmatchedExtracted
	_ = unmatchedTruth

	return result
}

// matchBorrowers pairs extracted borrowers to ground truth greedily. A pair
// is admissible when the names are close or the SSN hashes agree; among
// admissible candidates an SSN match dominates, then phone agreement breaks
// ties.
func matchBorrowers(
	extracted []model.BorrowerRecord,
	truth []Borrower,
) (matched []borrowerPair, unmatchedExtracted, unmatchedTruth int) {
	truthUsed := make([]bool, len(truth))

	for i := range extracted {
		ext := &extracted[i]
		bestIdx := -1
		bestScore := -1.0

		for j, tr := range truth {
			if truthUsed[j] {
				continue
			}
			sim := reconcile.NameSimilarity(ext.Name, tr.Name)
			ssnOK := ssnHashEqual(ext, tr.SSN)
			if sim < 0.80 && !ssnOK {
				continue
			}
			score := sim
			if ssnOK {
				score += 1.0
			}
			if ext.Phone != "" && tr.Phone != "" && phoneMatch(ext.Phone, tr.Phone) {
				score += 0.25
			}

			if score > bestScore {
				bestScore = score
				bestIdx = j
			}
		}

		if bestIdx >= 0 {
			truthUsed[bestIdx] = true
			matched = append(matched, borrowerPair{
				extracted: ext,
				truth:     truth[bestIdx],
			})
		}
	}

	unmatchedExtracted = len(extracted) - len(matched)
	for _, used := range truthUsed {
		if !used {
			unmatchedTruth++
		}
	}

	return matched, unmatchedExtracted, unmatchedTruth
}

// ssnHashEqual reports whether the extracted record and the ground-truth SSN
// carry the same number. Both sides must be present.
func ssnHashEqual(ext *model.BorrowerRecord, truthSSN string) bool {
	if ext.SSNHash == "" || truthSSN == "" {
		return false
	}
	norm, ok := model.NormalizeSSN(truthSSN)
	if !ok {
		return false
	}
	return ext.SSNHash == model.HashSSN(norm)
}

// ssnFieldMatch grades the SSN field: absent on both sides counts as
// correct, present on exactly one side as wrong.
func ssnFieldMatch(ext *model.BorrowerRecord, truthSSN string) bool {
	if truthSSN == "" {
		return ext.SSNHash == ""
	}
	return ssnHashEqual(ext, truthSSN)
}

// phoneMatch compares phone numbers digit-wise, treating a leading country
// code 1 as noise. Absent on both sides counts as a match.
func phoneMatch(a, b string) bool {
	da, db := phoneDigits(a), phoneDigits(b)
	return da == db
}

func phoneDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	d := sb.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	return d
}

// emailMatch compares emails case-insensitively. Absent on both sides
// counts as a match.
func emailMatch(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// incomeRecall is the fraction of expected income lines present on the
// extracted record, keyed by year, period and cents. An empty expectation
// scores 1.
func incomeRecall(extracted []model.IncomeRecord, truth []Income) float64 {
	if len(truth) == 0 {
		return 1.0
	}
	have := make(map[string]bool, len(extracted))
	for _, r := range extracted {
		have[r.Key()] = true
	}
	found := 0
	for _, tr := range truth {
		key := fmt.Sprintf("%d|%s|%d", tr.Year, tr.Period, tr.AmountCents)
		if have[key] {
			found++
		}
	}
	return float64(found) / float64(len(truth))
}

// --- Runner ---

// RunEval executes all strategies against all fixtures and returns results.
func RunEval(
	ctx context.Context,
	strategies map[string]StrategyFunc,
	fixtures []*Fixture,
) []*EvalResult {
	var results []*EvalResult

	for _, fixture := range fixtures {
		for name, strategy := range strategies {
			start := time.Now()
			borrowers, err := strategy(ctx, fixture)
			elapsed := time.Since(start)

			if err != nil {
				results = append(results, &EvalResult{
					Strategy: name,
					Fixture:  fixture.Name,
					Duration: elapsed,
					Error:    err.Error(),
				})
				continue
			}

			results = append(results, ComputeMetrics(
				name,
				fixture.Name,
				borrowers,
				fixture.GroundTruth,
				elapsed,
			))
		}
	}

	return results
}

// --- Summary Printer ---

// PrintSummary outputs a formatted comparison table to an io.Writer.
func PrintSummary(w io.Writer, results []*EvalResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "Strategy\tFixture\tF1\tSSN%\tInc%\tCont%\tName~\tScore\tTime\tMatch\tError")
	fmt.Fprintln(tw, "--------\t-------\t--\t----\t----\t-----\t-----\t-----\t----\t-----\t-----")

	for _, r := range results {
		errStr := ""
		if r.Error != "" {
			errStr = truncate(r.Error, 30)
		}

		matchStr := fmt.Sprintf("%d/%d", r.Borrowers.Matched, r.Borrowers.Expected)

		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.0f%%\t%.0f%%\t%.0f%%\t%.2f\t%.2f\t%s\t%s\t%s\n",
			r.Strategy,
			r.Fixture,
			r.Borrowers.F1,
			r.SSNAccuracy*100,
			r.IncomeRecall*100,
			r.ContactAccuracy*100,
			r.NameSim,
			r.OverallScore,
			r.Duration.Round(time.Millisecond),
			matchStr,
			errStr,
		)
	}

	tw.Flush()

	// Per-strategy averages.
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Strategy Averages ===")

	strategyScores := make(map[string][]float64)
	strategyF1s := make(map[string][]float64)
	for _, r := range results {
		if r.Error == "" {
			strategyScores[r.Strategy] = append(strategyScores[r.Strategy], r.OverallScore)
			strategyF1s[r.Strategy] = append(strategyF1s[r.Strategy], r.Borrowers.F1)
		}
	}

	tw2 := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw2, "Strategy\tAvg Score\tAvg F1\tFixtures")
	fmt.Fprintln(tw2, "--------\t---------\t------\t--------")

	for strategy, scores := range strategyScores {
		fmt.Fprintf(tw2, "%s\t%.3f\t%.3f\t%d/%d\n",
			strategy, avg(scores), avg(strategyF1s[strategy]), len(scores), len(results)/len(strategyScores))
	}
	tw2.Flush()
}

func avg(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
