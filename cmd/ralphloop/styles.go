package main

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	colorPrimary = lipgloss.Color("#ff1cf0")
	colorSuccess = lipgloss.Color("#50fa7b")
	colorWarning = lipgloss.Color("#f9e2af")
	colorError   = lipgloss.Color("#f38ba8")
	colorInfo    = lipgloss.Color("#00d9ff")
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).MarginBottom(1)
	subTitleStyle = lipgloss.NewStyle().Foreground(colorPrimary)
	infoStyle     = lipgloss.NewStyle().Foreground(colorInfo)
	successStyle  = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle    = lipgloss.NewStyle().Foreground(colorError)
)
