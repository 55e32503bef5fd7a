// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent provides conversational agents: a transcript of role-tagged
// messages plus a remote client, with send/cancel semantics that keep the
// transcript consistent under cancellation.
package agent

import "time"

// Message roles. The transcript holds at most one system message, always
// first.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single transcript entry. Immutable once appended.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// NewUserMessage creates a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// NewAssistantMessage creates an assistant message stamped with the current time.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, CreatedAt: time.Now()}
}

// NewSystemMessage creates a system message stamped with the current time.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, CreatedAt: time.Now()}
}
