package conversation

import (
	"time"

	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/topic"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

// Turn and Speaker are shared with the report package.
type (
	Turn    = transcript.Turn
	Speaker = transcript.Speaker
)

const (
	Learner = transcript.Learner
	Partner = transcript.Partner
)

// State is the lifecycle state of one conversation attempt.
type State int

const (
	// StateIdle has no buffers and no turns.
	StateIdle State = iota
	// StateConnecting is waiting for the channel to open.
	StateConnecting
	// StateActive is assembling turns.
	StateActive
	// StateEnding saw the end sentinel and discards further events.
	StateEnding
	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// UpdateKind tags an Update.
type UpdateKind int

const (
	UpdateState UpdateKind = iota + 1
	UpdatePartial
	UpdateTurn
	UpdateAudio
	UpdateInterrupted
	UpdateReportLoading
	UpdateReport
	UpdateReportFailed
	UpdateError
)

// String returns the kind name.
func (k UpdateKind) String() string {
	switch k {
	case UpdateState:
		return "state"
	case UpdatePartial:
		return "partial"
	case UpdateTurn:
		return "turn"
	case UpdateAudio:
		return "audio"
	case UpdateInterrupted:
		return "interrupted"
	case UpdateReportLoading:
		return "report_loading"
	case UpdateReport:
		return "report"
	case UpdateReportFailed:
		return "report_failed"
	case UpdateError:
		return "error"
	default:
		return "unknown"
	}
}

// Update is delivered to the session Observer.
type Update struct {
	Kind      UpdateKind
	SessionID string
	State     State

	// Learner and Partner are the in-progress partials for UpdatePartial.
	Learner string
	Partner string

	// Turn is set for UpdateTurn.
	Turn Turn

	// AudioStart and AudioDuration are set for UpdateAudio.
	AudioStart    time.Duration
	AudioDuration time.Duration

	// Report and Transcript are set for UpdateReport.
	Report     *report.Report
	Transcript []Turn

	// Err is set for UpdateError and UpdateReportFailed.
	Err error
}

// Observer receives session updates in order. It is called with the
// session lock held and must not call back into the Session.
type Observer func(Update)

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID    string
	Topic topic.Topic
	State State

	Learner string
	Partner string

	// Transcript holds the committed turns. After a finished conversation
	// has been handed off it holds the finalized transcript.
	Transcript []Turn

	ReportLoading bool
	Report        *report.Report

	Err       error
	StartedAt time.Time
}
