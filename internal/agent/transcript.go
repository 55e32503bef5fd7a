// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import "sync"

// Transcript is the ordered conversation history fed to the model as
// context. It is owned by exactly one Agent; callers inspect it through
// Snapshot, never through the live slice.
//
// Invariant: at most one system message, and if present it sits at index 0
// and survives Clear.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
}

// NewTranscript creates a transcript. A non-empty systemPrompt becomes the
// leading system message.
func NewTranscript(systemPrompt string) *Transcript {
	t := &Transcript{}
	if systemPrompt != "" {
		t.messages = append(t.messages, NewSystemMessage(systemPrompt))
	}
	return t
}

// Append adds a message to the end of the transcript.
func (t *Transcript) Append(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
}

// popIfLastUser removes the final message if it is a user message. Used to
// unwind the provisional user entry after a cancelled send. Reports whether
// a message was removed.
func (t *Transcript) popIfLastUser() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.messages)
	if n == 0 || t.messages[n-1].Role != RoleUser {
		return false
	}
	t.messages[n-1] = Message{}
	t.messages = t.messages[:n-1]
	return true
}

// Clear resets the transcript, keeping the leading system message if one
// exists.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) > 0 && t.messages[0].Role == RoleSystem {
		t.messages = t.messages[:1]
		return
	}
	t.messages = nil
}

// Snapshot returns a copy of the ordered message sequence.
func (t *Transcript) Snapshot() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// replace swaps the transcript contents wholesale. Used when loading a
// persisted conversation.
func (t *Transcript) replace(messages []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = messages
}
