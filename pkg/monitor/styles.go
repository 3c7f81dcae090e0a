package monitor

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	statusBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("236")).Padding(0, 1)
	sectionStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)

	stateStyles = map[string]lipgloss.Style{
		"idle":       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		"connecting": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"active":     lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		"ending":     lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"closed":     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
)

func stateStyle(state string) lipgloss.Style {
	if s, ok := stateStyles[state]; ok {
		return s
	}
	return dimStyle
}

type keyMap struct {
	Quit      key.Binding
	Reconnect key.Binding
	Clear     key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Reconnect: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reconnect"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear log"),
	),
}
