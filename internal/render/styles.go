package render

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorWhite  = lipgloss.Color("#F8F8F2")
	colorGray   = lipgloss.Color("#6272A4")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	nameStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	labelStyle  = lipgloss.NewStyle().Foreground(colorGray)
	highStyle   = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	mediumStyle = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	lowStyle    = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
)
