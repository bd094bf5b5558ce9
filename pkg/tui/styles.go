package tui

import "github.com/charmbracelet/lipgloss"

// Color is an alias for lipgloss.Color for convenience
type Color = lipgloss.Color

const (
	ColorPrimary   Color = "99"  // Purple - app name, titles
	ColorSecondary Color = "86"  // Cyan - headings
	ColorError     Color = "196" // Bright red
	ColorWarning   Color = "214" // Orange - unavailable metrics
	ColorGood      Color = "2"   // Green
	ColorMuted     Color = "241" // Gray - secondary text
	ColorSelected  Color = "255" // White - cursor row
	ColorSpinner   Color = "205" // Pink
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	mutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	errorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	warningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	goodStyle = lipgloss.NewStyle().
			Foreground(ColorGood)

	cursorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSelected)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(ColorSpinner)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1)
)
