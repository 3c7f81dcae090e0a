package export

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

// FormatReport renders a report and its transcript as plain document text.
func FormatReport(title string, turns []transcript.Turn, rep *report.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", title)

	b.WriteString("Assessment\n")
	for _, c := range rep.Criteria {
		fmt.Fprintf(&b, "%s: %s\n", c.Label, c.Status)
		if c.Explanation != "" {
			fmt.Fprintf(&b, "  %s\n", c.Explanation)
		}
		if c.Evidence != "" {
			fmt.Fprintf(&b, "  Evidence: %q\n", c.Evidence)
		}
	}
	b.WriteString("\n")

	writeList(&b, "Strengths", rep.Strengths)
	writeList(&b, "Areas to improve", rep.Improvements)

	if rep.SpokenScript != "" {
		fmt.Fprintf(&b, "Spoken feedback\n%s\n\n", rep.SpokenScript)
	}

	b.WriteString("Transcript\n")
	if len(turns) == 0 {
		b.WriteString("(empty)\n")
	} else {
		b.WriteString(transcript.Render(turns))
		b.WriteString("\n")
	}

	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(heading + "\n")
	for _, item := range items {
		fmt.Fprintf(b, "• %s\n", item)
	}
	b.WriteString("\n")
}
