package report

import (
	"context"
	"sync"

	"github.com/teslashibe/go-esol/pkg/transcript"
)

// Mock is a Generator for tests.
type Mock struct {
	mu    sync.Mutex
	calls [][]transcript.Turn

	// GenerateFunc overrides Generate. When nil, Generate returns Report.
	GenerateFunc func(ctx context.Context, turns []transcript.Turn) (*Report, error)

	// Report is returned when GenerateFunc is nil.
	Report *Report
}

// NewMock creates a Mock returning a minimal valid report.
func NewMock() *Mock {
	return &Mock{
		Report: &Report{
			Criteria: []Criterion{{
				Label:       "Listening & Understanding",
				Status:      StatusMet,
				Explanation: "Followed the discussion.",
				Evidence:    "Answered each question.",
			}},
			Strengths:    []string{"Clear answers"},
			Improvements: []string{"Ask more questions"},
			SpokenScript: "Well done.",
		},
	}
}

// Generate records the call and returns the configured result.
func (m *Mock) Generate(ctx context.Context, turns []transcript.Turn) (*Report, error) {
	m.mu.Lock()
	cp := make([]transcript.Turn, len(turns))
	copy(cp, turns)
	m.calls = append(m.calls, cp)
	fn, rep := m.GenerateFunc, m.Report
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, turns)
	}
	return rep, nil
}

// Calls returns the transcripts passed to Generate.
func (m *Mock) Calls() [][]transcript.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]transcript.Turn, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Generate was called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
