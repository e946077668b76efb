// Package reconcile merges per-chunk borrower records into a deduplicated,
// scored and validated result set.
package reconcile

import "strings"

// NormalizeName lowercases and whitespace-collapses a name for comparison.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// NameSimilarity returns a normalized edit-distance ratio in [0, 1] over
// the comparison forms of two names.
func NameSimilarity(a, b string) float64 {
	return levenshteinRatio(NormalizeName(a), NormalizeName(b))
}

// levenshteinRatio converts edit distance to a similarity ratio.
func levenshteinRatio(a, b string) float64 {
	ar, br := []rune(a), []rune(b)
	d := levenshteinDistance(ar, br)
	maxLen := len(ar)
	if len(br) > maxLen {
		maxLen = len(br)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(d)/float64(maxLen)
}

// levenshteinDistance computes edit distance over code points with the
// two-row method.
func levenshteinDistance(a, b []rune) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
