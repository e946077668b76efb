package reconcile

import (
	"github.com/gregorydickson/loan-sub000/internal/model"
)

// Similarity thresholds for the name-based strategies.
const (
	zipNameThreshold     = 0.90
	addressNameThreshold = 0.95
	last4NameThreshold   = 0.80
)

// matchStrategy reports the first strategy that declares two records the
// same borrower, or "" when none does. Strategies run strongest first:
// shared SSN, shared financial identifier, then progressively looser name
// matches anchored by location or partial SSN.
func matchStrategy(a, b *model.BorrowerRecord) string {
	if a.SSNHash != "" && a.SSNHash == b.SSNHash {
		return "ssn"
	}
	if sharesIdentifier(a, b) {
		return "identifier"
	}

	sim := NameSimilarity(a.Name, b.Name)
	if sim >= zipNameThreshold && zip5(a) != "" && zip5(a) == zip5(b) {
		return "name+zip"
	}
	if sim >= addressNameThreshold && (a.HasAddressInfo() || b.HasAddressInfo()) {
		return "name+address"
	}
	if sim >= last4NameThreshold && a.SSNLast4 != "" && a.SSNLast4 == b.SSNLast4 {
		return "name+ssn4"
	}
	return ""
}

// sharesIdentifier reports whether the records share an account or loan
// number.
func sharesIdentifier(a, b *model.BorrowerRecord) bool {
	ids := make(map[string]bool, len(a.AccountNumbers)+len(a.LoanNumbers))
	for _, n := range a.AccountNumbers {
		ids[n] = true
	}
	for _, n := range a.LoanNumbers {
		ids[n] = true
	}
	for _, n := range b.AccountNumbers {
		if ids[n] {
			return true
		}
	}
	for _, n := range b.LoanNumbers {
		if ids[n] {
			return true
		}
	}
	return false
}

// zip5 returns the five-digit ZIP prefix, or "" when unavailable.
func zip5(b *model.BorrowerRecord) string {
	if b.Address == nil || len(b.Address.Zip) < 5 {
		return ""
	}
	return b.Address.Zip[:5]
}

// unionFind tracks equivalence classes with path compression. Equivalence
// is transitive: if any strategy links A-B and B-C, all three merge.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// groupRecords partitions record indices into equivalence clusters. Both
// the cluster order and the order within a cluster follow first
// appearance, keeping the result deterministic.
func groupRecords(records []model.BorrowerRecord) [][]int {
	uf := newUnionFind(len(records))
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if matchStrategy(&records[i], &records[j]) != "" {
				uf.union(i, j)
			}
		}
	}

	clusters := make(map[int][]int)
	var roots []int
	for i := range records {
		r := uf.find(i)
		if _, ok := clusters[r]; !ok {
			roots = append(roots, r)
		}
		clusters[r] = append(clusters[r], i)
	}

	out := make([][]int, 0, len(roots))
	for _, r := range roots {
		out = append(out, clusters[r])
	}
	return out
}
