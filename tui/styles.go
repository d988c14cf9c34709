package tui

import "github.com/charmbracelet/lipgloss"

// Palette
var (
	colorPrimary   = lipgloss.Color("#7D56F4")
	colorSecondary = lipgloss.Color("#F4A956")
	colorText      = lipgloss.Color("#FAFAFA")
	colorSubtext   = lipgloss.Color("#777777")
	colorSuccess   = lipgloss.Color("#43BF6D")
	colorError     = lipgloss.Color("#FF5F5F")
)

func thickBox(border lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Border(lipgloss.ThickBorder()).BorderForeground(border)
}

func badge(bg lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Background(bg).Foreground(colorText).Padding(0, 1).Bold(true)
}

var (
	// No padding so split panels touch the outer border
	styleWindow = thickBox(colorPrimary).Align(lipgloss.Center)

	// Panels carry their title on the first line
	stylePanelTitled = thickBox(colorSubtext).Padding(0, 1)

	styleTitle    = badge(colorPrimary)
	styleAppTitle = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true).Padding(0, 1)

	styleSelected = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	styleLabel    = lipgloss.NewStyle().Foreground(colorSubtext).Width(12)
	styleValue    = lipgloss.NewStyle().Foreground(colorText)
	styleSubtext  = lipgloss.NewStyle().Foreground(colorSubtext)
	styleError    = lipgloss.NewStyle().Foreground(colorError)

	styleRecordingBadge = badge(colorError)
	styleProfileBadge   = badge(colorSecondary)

	// Source cards
	styleMenuContainer    = lipgloss.NewStyle().Padding(1)
	styleMenuItem         = thickBox(colorSubtext).Foreground(colorText).Padding(1, 3).Margin(0, 1).Width(20).Align(lipgloss.Center)
	styleMenuItemSelected = styleMenuItem.BorderForeground(colorSecondary).Bold(true)

	styleScreenTooSmall = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				Align(lipgloss.Center, lipgloss.Center)

	scrollbarTrack = lipgloss.NewStyle().Foreground(colorSubtext)
	scrollbarThumb = lipgloss.NewStyle().Foreground(colorPrimary)
)
