// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across troopy: width-aware
// string truncation for terminal display and crash-safe atomic file writes.
package util
