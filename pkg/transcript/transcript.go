// Package transcript defines the committed turns of a practice conversation
// and their plain-text rendering.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	Learner Speaker = "learner"
	Partner Speaker = "partner"
)

// Label returns the capitalised name used in rendered transcripts.
func (s Speaker) Label() string {
	switch s {
	case Learner:
		return "Learner"
	case Partner:
		return "Partner"
	default:
		return string(s)
	}
}

// UnmarshalText accepts "learner"/"partner" as well as the "user"/"model"
// role names used by the Gemini API.
func (s *Speaker) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "learner", "user":
		*s = Learner
	case "partner", "model":
		*s = Partner
	default:
		return fmt.Errorf("transcript: unknown speaker %q", string(b))
	}
	return nil
}

// Turn is one committed utterance.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Render formats turns as "<Label>: <text>" lines joined by newlines.
func Render(turns []Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.Speaker.Label() + ": " + t.Text
	}
	return strings.Join(lines, "\n")
}

// Decode reads a JSON array of turns. Every turn must name its speaker.
func Decode(r io.Reader) ([]Turn, error) {
	var turns []Turn
	if err := json.NewDecoder(r).Decode(&turns); err != nil {
		return nil, fmt.Errorf("transcript: decode: %w", err)
	}
	// A missing speaker key never reaches UnmarshalText.
	for i, t := range turns {
		if t.Speaker == "" {
			return nil, fmt.Errorf("transcript: turn %d has no speaker", i)
		}
	}
	return turns, nil
}

// Count returns how many turns each speaker committed.
func Count(turns []Turn) (learner, partner int) {
	for _, t := range turns {
		switch t.Speaker {
		case Learner:
			learner++
		case Partner:
			partner++
		}
	}
	return learner, partner
}
