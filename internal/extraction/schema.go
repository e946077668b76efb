package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Span classes emitted by the grounding prompt.
const (
	spanBorrowerName  = "borrower_name"
	spanSSN           = "ssn"
	spanPhone         = "phone"
	spanEmail         = "email"
	spanAddress       = "address"
	spanIncome        = "income"
	spanAccountNumber = "account_number"
	spanLoanNumber    = "loan_number"
)

// RawAddress is the address object as returned by the model.
type RawAddress struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// RawIncome is one income line as returned by the model. Amount and Year
// stay as strings until normalization because models emit both quoted and
// bare numbers.
type RawIncome struct {
	Amount     flexString `json:"amount"`
	Period     string     `json:"period"`
	Year       flexString `json:"year"`
	Employer   string     `json:"employer"`
	SourceType string     `json:"source_type"`
}

// RawBorrower is one borrower object as returned by the model, before
// normalization and conversion into a model.BorrowerRecord.
type RawBorrower struct {
	Name           string      `json:"name"`
	SSN            string      `json:"ssn"`
	Phone          string      `json:"phone"`
	Email          string      `json:"email"`
	Address        *RawAddress `json:"address"`
	Incomes        []RawIncome `json:"incomes"`
	AccountNumbers []string    `json:"account_numbers"`
	LoanNumbers    []string    `json:"loan_numbers"`
}

type borrowerPayload struct {
	Borrowers []RawBorrower `json:"borrowers"`
}

// GroundedSpan is one classed span returned by the grounding prompt. The
// model must copy ExtractionText verbatim from the source so the span can
// be located again by exact search.
type GroundedSpan struct {
	Class      string         `json:"extraction_class"`
	Text       string         `json:"extraction_text"`
	Attributes map[string]any `json:"attributes"`
}

type groundedPayload struct {
	Extractions []GroundedSpan `json:"extractions"`
}

// Attr returns a string attribute, tolerating numeric values.
func (s GroundedSpan) Attr(key string) string {
	v, ok := s.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// flexString accepts both quoted strings and bare JSON numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(b, &out); err != nil {
			return err
		}
		*f = flexString(out)
		return nil
	}
	*f = flexString(s)
	return nil
}

func (f flexString) String() string { return string(f) }

// borrowerResponseSchema is the structured-output schema sent with
// generationConfig on the docling path. Types use the generativelanguage
// REST enum names.
func borrowerResponseSchema() map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"borrowers": map[string]any{
				"type": "ARRAY",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"name":  map[string]any{"type": "STRING"},
						"ssn":   map[string]any{"type": "STRING", "nullable": true},
						"phone": map[string]any{"type": "STRING", "nullable": true},
						"email": map[string]any{"type": "STRING", "nullable": true},
						"address": map[string]any{
							"type":     "OBJECT",
							"nullable": true,
							"properties": map[string]any{
								"street": map[string]any{"type": "STRING", "nullable": true},
								"city":   map[string]any{"type": "STRING", "nullable": true},
								"state":  map[string]any{"type": "STRING", "nullable": true},
								"zip":    map[string]any{"type": "STRING", "nullable": true},
							},
						},
						"incomes": map[string]any{
							"type": "ARRAY",
							"items": map[string]any{
								"type": "OBJECT",
								"properties": map[string]any{
									"amount":      map[string]any{"type": "STRING", "description": "Dollar amount as written, e.g. \"$85,000\""},
									"period":      map[string]any{"type": "STRING", "description": "annual, monthly, hourly or ytd", "nullable": true},
									"year":        map[string]any{"type": "STRING", "nullable": true},
									"employer":    map[string]any{"type": "STRING", "nullable": true},
									"source_type": map[string]any{"type": "STRING", "description": "w2, self_employment, rental, pension, social_security or other", "nullable": true},
								},
								"required": []string{"amount"},
							},
						},
						"account_numbers": map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
						"loan_numbers":    map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
					},
					"required": []string{"name"},
				},
			},
		},
		"required": []string{"borrowers"},
	}
}

// groundedResponseSchema is the structured-output schema for the grounding
// prompt. Every span carries the exact source text plus attributes linking
// it to a borrower group.
func groundedResponseSchema() map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"extractions": map[string]any{
				"type": "ARRAY",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"extraction_class": map[string]any{
							"type": "STRING",
							"enum": []string{
								spanBorrowerName, spanSSN, spanPhone, spanEmail,
								spanAddress, spanIncome, spanAccountNumber, spanLoanNumber,
							},
						},
						"extraction_text": map[string]any{"type": "STRING", "description": "Verbatim text copied from the document"},
						"attributes": map[string]any{
							"type":     "OBJECT",
							"nullable": true,
							"properties": map[string]any{
								"borrower_index": map[string]any{"type": "STRING", "description": "1-based index of the borrower this span belongs to"},
								"amount":         map[string]any{"type": "STRING", "nullable": true},
								"year":           map[string]any{"type": "STRING", "nullable": true},
								"period":         map[string]any{"type": "STRING", "nullable": true},
								"employer":       map[string]any{"type": "STRING", "nullable": true},
								"source_type":    map[string]any{"type": "STRING", "nullable": true},
							},
						},
					},
					"required": []string{"extraction_class", "extraction_text"},
				},
			},
		},
		"required": []string{"extractions"},
	}
}

// Canonical schemas used for local validation of decoded responses. These
// are deliberately looser than the generation schemas: models behind the
// structured-output flag still occasionally emit bare numbers or nulls.
const borrowerSchemaJSON = `{
  "type": "object",
  "required": ["borrowers"],
  "properties": {
    "borrowers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "ssn": {"type": ["string", "null"]},
          "phone": {"type": ["string", "null"]},
          "email": {"type": ["string", "null"]},
          "address": {
            "type": ["object", "null"],
            "properties": {
              "street": {"type": ["string", "null"]},
              "city": {"type": ["string", "null"]},
              "state": {"type": ["string", "null"]},
              "zip": {"type": ["string", "null"]}
            }
          },
          "incomes": {
            "type": ["array", "null"],
            "items": {
              "type": "object",
              "required": ["amount"],
              "properties": {
                "amount": {"type": ["string", "number"]},
                "period": {"type": ["string", "null"]},
                "year": {"type": ["string", "integer", "null"]},
                "employer": {"type": ["string", "null"]},
                "source_type": {"type": ["string", "null"]}
              }
            }
          },
          "account_numbers": {"type": ["array", "null"], "items": {"type": "string"}},
          "loan_numbers": {"type": ["array", "null"], "items": {"type": "string"}}
        }
      }
    }
  }
}`

const groundedSchemaJSON = `{
  "type": "object",
  "required": ["extractions"],
  "properties": {
    "extractions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["extraction_class", "extraction_text"],
        "properties": {
          "extraction_class": {
            "type": "string",
            "enum": ["borrower_name", "ssn", "phone", "email", "address", "income", "account_number", "loan_number"]
          },
          "extraction_text": {"type": "string"},
          "attributes": {"type": ["object", "null"]}
        }
      }
    }
  }
}`

type compiledSchema struct {
	source string
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

func (c *compiledSchema) get() (*jsonschema.Schema, error) {
	c.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(c.source))); err != nil {
			c.err = fmt.Errorf("failed to load response schema: %w", err)
			return
		}
		c.schema, c.err = compiler.Compile("schema.json")
	})
	return c.schema, c.err
}

var (
	borrowerSchema = &compiledSchema{source: borrowerSchemaJSON}
	groundedSchema = &compiledSchema{source: groundedSchemaJSON}
)

// decodeResponseJSON pulls the first JSON object out of a model response.
// Fences are stripped upstream; this also tolerates surrounding prose by
// cutting the first balanced object.
func decodeResponseJSON(text string) (any, []byte, error) {
	trimmed := strings.TrimSpace(stripFences(text))
	if json.Valid([]byte(trimmed)) {
		var doc any
		if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
			return nil, nil, err
		}
		return doc, []byte(trimmed), nil
	}
	var obj map[string]any
	if err := extractJSON(trimmed, &obj); err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, err
	}
	return obj, raw, nil
}

// ParseBorrowerPayload validates and decodes a docling-path model response.
// Schema violations are not retryable: resending the same prompt tends to
// reproduce the same malformed shape.
func ParseBorrowerPayload(text string) ([]RawBorrower, error) {
	doc, raw, err := decodeResponseJSON(text)
	if err != nil {
		return nil, &ExtractionError{
			Code:      ErrSchemaViolation,
			Message:   fmt.Sprintf("response is not a JSON object: %v", err),
			Method:    "docling",
			Retryable: false,
			Cause:     err,
		}
	}
	schema, err := borrowerSchema.get()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &ExtractionError{
			Code:      ErrSchemaViolation,
			Message:   fmt.Sprintf("borrower payload failed schema validation: %v", err),
			Method:    "docling",
			Retryable: false,
			Cause:     err,
		}
	}
	var payload borrowerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ExtractionError{
			Code:      ErrSchemaViolation,
			Message:   fmt.Sprintf("failed to decode borrower payload: %v", err),
			Method:    "docling",
			Retryable: false,
			Cause:     err,
		}
	}
	return payload.Borrowers, nil
}

// ParseGroundedPayload validates and decodes a grounding-prompt response.
func ParseGroundedPayload(text string) ([]GroundedSpan, error) {
	doc, raw, err := decodeResponseJSON(text)
	if err != nil {
		return nil, &ExtractionError{
			Code:      ErrSchemaViolation,
			Message:   fmt.Sprintf("response is not a JSON object: %v", err),
			Method:    "langextract",
			Retryable: false,
			Cause:     err,
		}
	}
	schema, err := groundedSchema.get()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &ExtractionError{
			Code:      ErrSchemaViolation,
			Message:   fmt.Sprintf("grounded payload failed schema validation: %v", err),
			Method:    "langextract",
			Retryable: false,
			Cause:     err,
		}
	}
	var payload groundedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ExtractionError{
			Code:      ErrSchemaViolation,
			Message:   fmt.Sprintf("failed to decode grounded payload: %v", err),
			Method:    "langextract",
			Retryable: false,
			Cause:     err,
		}
	}
	return payload.Extractions, nil
}
