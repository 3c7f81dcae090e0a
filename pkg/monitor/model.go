// Package monitor is a terminal console for supervisors. It follows the
// session events a practice server streams on /ws/monitor.
package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/teslashibe/go-esol/pkg/protocol"
)

// maxLog bounds the event log.
const maxLog = 200

// Model is the bubbletea model of the console.
type Model struct {
	url  string
	dial Dialer

	stream     Stream
	connecting bool
	err        error

	spinner  spinner.Model
	sessions map[string]protocol.SessionEvent
	order    []string
	log      []string

	width  int
	height int
}

// New creates a console for the monitor endpoint at url.
func New(url string, dial Dialer) Model {
	if dial == nil {
		dial = DialWebSocket
	}
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle
	return Model{
		url:        url,
		dial:       dial,
		connecting: true,
		spinner:    sp,
		sessions:   make(map[string]protocol.SessionEvent),
	}
}

// Run starts the console on the alternate screen and blocks until quit.
func Run(url string) error {
	p := tea.NewProgram(New(url, DialWebSocket), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, connect(m.dial, m.url))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if m.stream != nil {
				m.stream.Close()
				m.stream = nil
			}
			return m, tea.Quit
		case key.Matches(msg, keys.Reconnect):
			if m.stream != nil || m.connecting {
				return m, nil
			}
			m.connecting = true
			m.err = nil
			return m, tea.Batch(m.spinner.Tick, connect(m.dial, m.url))
		case key.Matches(msg, keys.Clear):
			m.log = nil
		}
		return m, nil

	case spinner.TickMsg:
		if !m.connecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case connectedMsg:
		m.stream = msg.stream
		m.connecting = false
		m.err = nil
		// The server replays every live session on join.
		m.sessions = make(map[string]protocol.SessionEvent)
		m.order = nil
		m.appendLog(dimStyle.Render("connected to " + m.url))
		return m, next(msg.stream)

	case eventMsg:
		if msg.stream != m.stream {
			return m, nil
		}
		m.apply(msg.event)
		return m, next(msg.stream)

	case disconnectedMsg:
		if msg.stream != nil && msg.stream != m.stream {
			return m, nil
		}
		if m.stream != nil {
			m.stream.Close()
		}
		m.stream = nil
		m.connecting = false
		m.err = msg.err
		m.appendLog(errorStyle.Render(fmt.Sprintf("disconnected: %v", msg.err)))
		return m, nil
	}
	return m, nil
}

func (m *Model) apply(ev protocol.SessionEvent) {
	if ev.Event == protocol.EventDisconnected {
		delete(m.sessions, ev.SessionID)
		for i, id := range m.order {
			if id == ev.SessionID {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	} else {
		if _, ok := m.sessions[ev.SessionID]; !ok {
			m.order = append(m.order, ev.SessionID)
		}
		m.sessions[ev.SessionID] = ev
	}
	m.appendLog(describe(ev))
}

func (m *Model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLog {
		m.log = m.log[len(m.log)-maxLog:]
	}
}

// describe renders one event as a log line.
func describe(ev protocol.SessionEvent) string {
	id := shortID(ev.SessionID)
	switch ev.Event {
	case protocol.EventConnected:
		return fmt.Sprintf("%s joined %q", id, ev.Topic)
	case protocol.EventState:
		return fmt.Sprintf("%s → %s", id, stateStyle(ev.State).Render(ev.State))
	case protocol.EventTurn:
		return fmt.Sprintf("%s %s: %s", id, ev.Speaker, ev.Text)
	case protocol.EventReport:
		return fmt.Sprintf("%s report ready after %d turns", id, ev.Turns)
	case protocol.EventReportFailed:
		return fmt.Sprintf("%s no report: %s", id, ev.Error)
	case protocol.EventError:
		return errorStyle.Render(fmt.Sprintf("%s error: %s", id, ev.Error))
	case protocol.EventDisconnected:
		return dimStyle.Render(id + " left")
	default:
		return fmt.Sprintf("%s %s", id, ev.Event)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ESOL sessions"))
	b.WriteString("  ")
	switch {
	case m.connecting:
		b.WriteString(m.spinner.View() + " connecting to " + m.url)
	case m.stream != nil:
		b.WriteString(dimStyle.Render(m.url))
	default:
		msg := "offline"
		if m.err != nil {
			msg = "offline: " + m.err.Error()
		}
		b.WriteString(errorStyle.Render(msg))
	}
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render(m.sessionTable()))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Events"))
	b.WriteString("\n")
	for _, line := range m.visibleLog() {
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render(m.helpLine()))
	return b.String()
}

func (m Model) sessionTable() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-8s  %-28s  %-10s  %5s", "SESSION", "TOPIC", "STATE", "TURNS")))
	if len(m.order) == 0 {
		b.WriteString("\n" + dimStyle.Render("no active sessions"))
		return b.String()
	}
	for _, id := range m.order {
		ev := m.sessions[id]
		state := stateStyle(ev.State).Render(fmt.Sprintf("%-10s", ev.State))
		fmt.Fprintf(&b, "\n%-8s  %-28s  %s  %5d", shortID(id), truncate(ev.Topic, 28), state, ev.Turns)
	}
	return b.String()
}

// visibleLog returns the tail of the log that fits below the table.
func (m Model) visibleLog() []string {
	if m.height == 0 {
		return m.log
	}
	used := lipgloss.Height(m.sessionTable()) + 2 + 6
	room := m.height - used
	if room < 1 {
		room = 1
	}
	if len(m.log) <= room {
		return m.log
	}
	return m.log[len(m.log)-room:]
}

func (m Model) helpLine() string {
	parts := make([]string, 0, 3)
	for _, k := range []key.Binding{keys.Reconnect, keys.Clear, keys.Quit} {
		h := k.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
