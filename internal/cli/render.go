// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer is the shared glamour renderer for assistant replies.
var markdownRenderer *glamour.TermRenderer

func init() {
	width := GetTerminalWidth()
	if width > 100 {
		width = 100
	}

	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		// Fall back to plain text when the renderer cannot initialize.
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown for terminal display, returning the input
// unchanged when rendering is unavailable or fails.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayReply prints an assistant reply, rendered as markdown only when
// stdout is a TTY and the config allows it; piped output stays verbatim.
func displayReply(reply string, markdown bool) {
	if markdown && IsStdoutTTY() {
		fmt.Print(renderMarkdown(reply))
		return
	}
	fmt.Println(reply)
}
