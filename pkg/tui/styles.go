// Package tui implements the interactive notebook terminal UI: a step list,
// a code editor, rendered outputs and a chat pane, driven by a Bubble Tea
// program on top of a notebook session.
package tui

import "github.com/charmbracelet/lipgloss"

// Step status glyphs convey meaning without relying on color alone.
const (
	GlyphPending   = "○"
	GlyphRunning   = "◐"
	GlyphCompleted = "✓"
	GlyphFailed    = "✗"
	GlyphBlocked   = "⧗"
	GlyphEdited    = "*"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorBlue   = lipgloss.Color("39")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

// --- Header ---

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var kernelBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("0")).
	Padding(0, 1)

// --- Step list ---

var (
	stepNormal = lipgloss.NewStyle().
			Foreground(colorWhite)

	stepRunning = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorYellow)

	stepPassed = lipgloss.NewStyle().
			Foreground(colorGreen)

	stepFailed = lipgloss.NewStyle().
			Foreground(colorRed)

	stepBlocked = lipgloss.NewStyle().
			Faint(true)
)

// --- Panels ---

var (
	panelBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim)

	panelFocused = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan)

	panelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan).
			Padding(0, 1)

	blockTitleStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	stderrStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	timingStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Italic(true)
)

// --- Chat ---

var (
	chatUserStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	chatAssistantStyle = lipgloss.NewStyle().
				Foreground(colorWhite)
)

// --- Detail bar ---

var (
	detailBarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorBlue)

	detailValueStyle = lipgloss.NewStyle().
				Foreground(colorWhite)

	statusPassedStyle = lipgloss.NewStyle().
				Foreground(colorGreen).
				Bold(true)

	statusFailedStyle = lipgloss.NewStyle().
				Foreground(colorRed).
				Bold(true)

	statusRunningStyle = lipgloss.NewStyle().
				Foreground(colorYellow)
)

// --- Key bar ---

var (
	keyStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	keyDescStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	keyBarStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

var errorStyle = lipgloss.NewStyle().
	Foreground(colorRed).
	Bold(true)

var flashStyle = lipgloss.NewStyle().
	Foreground(colorYellow)

var spinnerStyle = lipgloss.NewStyle().
	Foreground(colorYellow)
