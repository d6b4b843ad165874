package ui

import "github.com/charmbracelet/lipgloss"

var (
	// Status colors
	GreenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	RedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	YellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	CyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	BoldStyle   = lipgloss.NewStyle().Bold(true)

	// Progress states
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	PendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	// Help text
	HelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Padding(0, 1)
)
