package eval

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gregorydickson/loan-sub000/internal/extraction"
	"github.com/gregorydickson/loan-sub000/internal/model"
)

//go:embed fixtures/*.txt fixtures/*.json
var fixtureFS embed.FS

// Fixture bundles document text with simulated chunk-level extraction
// output and the expected borrower set.
type Fixture struct {
	Name        string
	Text        string // raw text (simulates linearizer output)
	DocumentID  string
	PageCount   int
	Candidates  []model.BorrowerRecord // pre-reconciliation records
	GroundTruth *GroundTruth
}

// candidate is one raw borrower as a model would emit it for a chunk, plus
// the page it was found on and the extraction confidence.
type candidate struct {
	extraction.RawBorrower
	Page       int     `json:"page"`
	Confidence float64 `json:"confidence"`
}

// fixtureFile is the on-disk JSON shape: ground truth plus candidates.
type fixtureFile struct {
	GroundTruth
	Candidates []candidate `json:"candidates"`
}

// LoadFixtures loads all embedded fixture pairs (txt + json).
func LoadFixtures() ([]*Fixture, error) {
	names := []struct {
		name      string
		pageCount int
	}{
		{"uniform_application", 2},
		{"joint_application", 3},
		{"w2_stack", 3},
	}

	var fixtures []*Fixture
	for _, n := range names {
		f, err := loadFixture(n.name, n.pageCount)
		if err != nil {
			return nil, fmt.Errorf("load fixture %q: %w", n.name, err)
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, nil
}

func loadFixture(name string, pageCount int) (*Fixture, error) {
	textBytes, err := fixtureFS.ReadFile("fixtures/" + name + ".txt")
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}

	jsonBytes, err := fixtureFS.ReadFile("fixtures/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("read ground truth: %w", err)
	}

	var ff fixtureFile
	if err := json.Unmarshal(jsonBytes, &ff); err != nil {
		return nil, fmt.Errorf("parse ground truth: %w", err)
	}

	f := &Fixture{
		Name:        name,
		Text:        string(textBytes),
		DocumentID:  uuid.New().String(),
		PageCount:   pageCount,
		GroundTruth: &ff.GroundTruth,
	}

	// Run each candidate through the real conversion path so fixtures cover
	// name cleaning, SSN hashing and money parsing exactly as production
	// does. Page and confidence come from the fixture, not the converter.
	chunk := extraction.TextChunk{Text: f.Text, EndChar: len([]rune(f.Text)), TotalChunks: 1}
	for i, c := range ff.Candidates {
		recs, verrs := extraction.ConvertChunkBorrowers(
			[]extraction.RawBorrower{c.RawBorrower}, chunk, nil, f.DocumentID, name+".pdf", pageCount)
		if len(verrs) > 0 {
			return nil, fmt.Errorf("candidate %d: %s", i, verrs[0].Message)
		}
		if len(recs) != 1 {
			return nil, fmt.Errorf("candidate %d: converted to %d records", i, len(recs))
		}
		rec := recs[0]
		rec.Sources[0].PageNumber = c.Page
		rec.ConfidenceScore = c.Confidence
		f.Candidates = append(f.Candidates, rec)
	}

	return f, nil
}
