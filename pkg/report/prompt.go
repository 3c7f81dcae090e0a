package report

import "github.com/teslashibe/go-esol/pkg/transcript"

// FeedbackPrompt is the system instruction for the assessment request.
const FeedbackPrompt = `You are a senior ESOL teacher assessing a learner's performance against Ascentis ESOL Skills for Life Level 2 standards.
Based on the provided conversation transcript, generate a structured feedback report.

ASSESSMENT CRITERIA:
1. Listening & Understanding: Follow gist, obtain detail.
2. Speaking Accuracy & Control: Pronunciation (infer from transcript if possible, or focus on grammar/register), appropriate register.
3. Conveying Information: Logical sequencing, confident account, relevant detail.
4. Discussion Skills: Constructive contributions, expressing views, moving discussion forward, asking questions.

LOOK FOR EVIDENCE OF:
Logical structure, discourse markers, modal verbs, passive voice, complex sentences, conditionals, reported speech, formal/informal register, moving discussion forward phrases.

RESPONSE FORMAT (JSON):
{
  "criteria": [
    { "label": "Listening & Understanding", "status": "Met|Partly Met|Not Yet Met", "explanation": "...", "evidence": "..." },
    ... (for all 4 categories)
  ],
  "strengths": ["...", "...", "..."],
  "improvements": ["...", "...", "...", "..."],
  "spokenScript": "..."
}`

const userPrefix = "Analyze this conversation transcript for Ascentis Level 2 ESOL assessment:\n\n"

// RenderTranscript formats turns as "<Label>: <text>" lines.
func RenderTranscript(turns []transcript.Turn) string {
	return transcript.Render(turns)
}

// UserPrompt is the user content sent with the feedback instruction.
func UserPrompt(turns []transcript.Turn) string {
	return userPrefix + RenderTranscript(turns)
}

// schema is the subset of the Gemini OpenAPI schema object we need.
type schema struct {
	Type       string             `json:"type"`
	Properties map[string]*schema `json:"properties,omitempty"`
	Items      *schema            `json:"items,omitempty"`
	Enum       []string           `json:"enum,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

func stringSchema() *schema { return &schema{Type: "STRING"} }

// responseSchema constrains the model to the Report shape.
func responseSchema() *schema {
	criterion := &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"label": stringSchema(),
			"status": {
				Type: "STRING",
				Enum: []string{string(StatusMet), string(StatusPartlyMet), string(StatusNotYetMet)},
			},
			"explanation": stringSchema(),
			"evidence":    stringSchema(),
		},
		Required: []string{"label", "status", "explanation", "evidence"},
	}
	return &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"criteria":     {Type: "ARRAY", Items: criterion},
			"strengths":    {Type: "ARRAY", Items: stringSchema()},
			"improvements": {Type: "ARRAY", Items: stringSchema()},
			"spokenScript": stringSchema(),
		},
		Required: []string{"criteria", "strengths", "improvements", "spokenScript"},
	}
}
