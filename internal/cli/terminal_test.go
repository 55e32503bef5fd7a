// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"testing"

	"github.com/muesli/termenv"
)

func TestGetColorProfileFollowsColorSwitch(t *testing.T) {
	// Test binaries run without a TTY, so plain detection lands on
	// colors-off; restore that state when done.
	t.Cleanup(func() { ForceColorsEnabled(false) })

	ForceColorsEnabled(false)
	if ColorsEnabled() {
		t.Error("ColorsEnabled() = true after forcing off")
	}
	if got := GetColorProfile(); got != termenv.Ascii {
		t.Errorf("GetColorProfile() = %v with colors off, want Ascii", got)
	}

	ForceColorsEnabled(true)
	if !ColorsEnabled() {
		t.Error("ColorsEnabled() = false after forcing on")
	}
}

func TestGetTerminalWidthFallsBack(t *testing.T) {
	// No TTY in tests, so detection falls back to the default.
	if got := GetTerminalWidth(); got != DefaultTerminalWidth {
		t.Errorf("GetTerminalWidth() = %d, want %d", got, DefaultTerminalWidth)
	}
}
