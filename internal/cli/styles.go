// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/troopy/troopy/internal/ui/styles"
)

// init points lipgloss at the detected color profile, so NO_COLOR,
// FORCE_COLOR, and piped output all render correctly.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

var (
	// Prompt style
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Green).
			Bold(true)

	// Welcome banner style
	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	// Agent name in reply headers
	agentStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	// Info style
	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	// Command acknowledgement style
	commandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)

	// Busy status line
	statusStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	// Warning style
	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	// Error and cancelled-marker style
	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose)

	// Section header style
	headerStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	// Hints and keyboard tips
	hintStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)

	// Horizontal separators
	separatorStyle = lipgloss.NewStyle().
			Foreground(styles.Overlay)
)
