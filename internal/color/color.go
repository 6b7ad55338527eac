package color

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"})

	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#6C6C6C", Dark: "#8A8A8A"})

	StatusMsgRunningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#007700", Dark: "#5FD75F"})

	StatusMsgInitializingStyle = lipgloss.NewStyle().
					Foreground(lipgloss.AdaptiveColor{Light: "#AF8700", Dark: "#FFD75F"})

	StatusMsgErrorStyle = lipgloss.NewStyle().Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#AF0000", Dark: "#FF5F5F"})

	StatusMsgStoppedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#585858", Dark: "#A8A8A8"})

	SummaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"}).
			Padding(0, 1)

	ErrorBoxStyle = SummaryBoxStyle.
			BorderForeground(lipgloss.AdaptiveColor{Light: "#AF0000", Dark: "#FF5F5F"})
)

// Initialize tells lipgloss which background the adaptive colors render
// against. NO_COLOR disables color entirely.
func Initialize(isDarkMode bool) {
	lipgloss.SetHasDarkBackground(isDarkMode)
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ThemeFromEnv reads STACKCTL_THEME ("dark" or "light"), falling back to
// the terminal's reported background.
func ThemeFromEnv() bool {
	switch os.Getenv("STACKCTL_THEME") {
	case "dark":
		return true
	case "light":
		return false
	}
	return lipgloss.HasDarkBackground()
}

// StateStyle picks the style for a run or service state name.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "Healthy", "Completed":
		return StatusMsgRunningStyle
	case "Starting", "Pending", "Initializing", "Running":
		return StatusMsgInitializingStyle
	case "Failed", "RolledBack", "StopFailed":
		return StatusMsgErrorStyle
	case "Stopped":
		return StatusMsgStoppedStyle
	}
	return lipgloss.NewStyle()
}

// RenderState renders a state name in its style.
func RenderState(state string) string {
	return StateStyle(state).Render(state)
}
