package ui

import "github.com/charmbracelet/lipgloss"

// Colors
var (
	ColorPrimary = lipgloss.Color("#7D56F4")
	ColorSuccess = lipgloss.Color("#73F59F")
	ColorWarning = lipgloss.Color("#F5A623")
	ColorDanger  = lipgloss.Color("#F56565")
	ColorMuted   = lipgloss.Color("#6B7280")
	ColorBorder  = lipgloss.Color("#3F3F46")
	ColorText    = lipgloss.Color("#E4E4E7")
)

// Styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#1F1F23")).
			Foreground(ColorText).
			Padding(0, 1)

	AppNameStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(1, 2)

	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true).
			MarginBottom(1)

	ItemStyle = lipgloss.NewStyle().
			Foreground(ColorText).
			PaddingLeft(1).
			PaddingRight(1)

	ItemSelected = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(ColorPrimary).
			Bold(true).
			PaddingLeft(1).
			PaddingRight(1)

	MutedStyle = lipgloss.NewStyle().Foreground(ColorMuted)

	CleanStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	InfectedStyle = lipgloss.NewStyle().
			Foreground(ColorDanger).
			Bold(true)

	BannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(ColorDanger).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Width(22)

	ValueStyle = lipgloss.NewStyle().Foreground(ColorText)

	OnStyle  = lipgloss.NewStyle().Foreground(ColorSuccess)
	OffStyle = lipgloss.NewStyle().Foreground(ColorWarning)
)
