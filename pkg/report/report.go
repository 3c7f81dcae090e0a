// Package report requests a structured Ascentis ESOL Level 2 assessment of
// a finished conversation. Each call makes exactly one request and either
// returns a fully valid report or none at all.
package report

import (
	"encoding/json"
	"fmt"
)

// Status is the judgement for one rubric line.
type Status string

const (
	StatusMet       Status = "Met"
	StatusPartlyMet Status = "Partly Met"
	StatusNotYetMet Status = "Not Yet Met"
)

// Valid reports whether s is one of the three rubric judgements.
func (s Status) Valid() bool {
	switch s {
	case StatusMet, StatusPartlyMet, StatusNotYetMet:
		return true
	}
	return false
}

// Criterion is one assessed rubric line.
type Criterion struct {
	Label       string `json:"label"`
	Status      Status `json:"status"`
	Explanation string `json:"explanation"`
	Evidence    string `json:"evidence"`
}

// Report is the learner's feedback.
type Report struct {
	Criteria     []Criterion `json:"criteria"`
	Strengths    []string    `json:"strengths"`
	Improvements []string    `json:"improvements"`
	SpokenScript string      `json:"spokenScript"`
}

// rawReport mirrors Report with pointers so missing and null fields can be
// told apart from empty ones.
type rawReport struct {
	Criteria     *[]rawCriterion `json:"criteria"`
	Strengths    *[]string       `json:"strengths"`
	Improvements *[]string       `json:"improvements"`
	SpokenScript *string         `json:"spokenScript"`
}

type rawCriterion struct {
	Label       *string `json:"label"`
	Status      *string `json:"status"`
	Explanation *string `json:"explanation"`
	Evidence    *string `json:"evidence"`
}

// Parse decodes and validates model output. Every required field must be
// present and non-null, criteria must be non-empty and each status must be
// a known judgement.
func Parse(data []byte) (*Report, error) {
	var raw rawReport
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}

	switch {
	case raw.Criteria == nil:
		return nil, missing("criteria")
	case raw.Strengths == nil:
		return nil, missing("strengths")
	case raw.Improvements == nil:
		return nil, missing("improvements")
	case raw.SpokenScript == nil:
		return nil, missing("spokenScript")
	case len(*raw.Criteria) == 0:
		return nil, fmt.Errorf("%w: criteria is empty", ErrInvalidReport)
	}

	r := &Report{
		Criteria:     make([]Criterion, 0, len(*raw.Criteria)),
		Strengths:    *raw.Strengths,
		Improvements: *raw.Improvements,
		SpokenScript: *raw.SpokenScript,
	}
	for i, c := range *raw.Criteria {
		switch {
		case c.Label == nil:
			return nil, missing(fmt.Sprintf("criteria[%d].label", i))
		case c.Status == nil:
			return nil, missing(fmt.Sprintf("criteria[%d].status", i))
		case c.Explanation == nil:
			return nil, missing(fmt.Sprintf("criteria[%d].explanation", i))
		case c.Evidence == nil:
			return nil, missing(fmt.Sprintf("criteria[%d].evidence", i))
		}
		status := Status(*c.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("%w: criteria[%d].status %q", ErrInvalidReport, i, status)
		}
		r.Criteria = append(r.Criteria, Criterion{
			Label:       *c.Label,
			Status:      status,
			Explanation: *c.Explanation,
			Evidence:    *c.Evidence,
		})
	}
	return r, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrInvalidReport, field)
}
