package events

import (
	"time"

	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

// SessionCompleted is published once a conversation has ended with the
// partner's sentinel and its report request has settled.
type SessionCompleted struct {
	SessionID   string            `json:"sessionId"`
	TopicID     int               `json:"topicId"`
	Topic       string            `json:"topic"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt time.Time         `json:"completedAt"`
	Transcript  []transcript.Turn `json:"transcript"`
	Report      *report.Report    `json:"report,omitempty"`
	ReportError string            `json:"reportError,omitempty"`
}
