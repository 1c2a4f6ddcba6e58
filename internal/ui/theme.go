package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Catalog colors, each with a light and a dark terminal variant.
var (
	gold  = lipgloss.AdaptiveColor{Light: "#9A6B00", Dark: "#E0B341"}
	green = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	red   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	amber = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	slate = lipgloss.AdaptiveColor{Light: "#57606A", Dark: "#8B949E"}
)

var theme = newTheme()

// catalogTheme holds the styles the views render with.
type catalogTheme struct {
	heading lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	caution lipgloss.Style
	muted   lipgloss.Style
	figure  lipgloss.Style
}

func newTheme() catalogTheme {
	return catalogTheme{
		heading: fg(gold).Bold(true).MarginBottom(1),
		success: fg(green).Bold(true),
		failure: fg(red).Bold(true),
		caution: fg(amber),
		muted:   fg(slate).Italic(true),
		figure:  fg(gold).Bold(true).PaddingRight(1),
	}
}

func fg(c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}
