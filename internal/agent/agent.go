// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/troopy/troopy/internal/llm"
)

// Agent owns one transcript and one remote client. Created once per persona
// at startup and kept for the process lifetime.
type Agent struct {
	// ID identifies the agent across the runtime.
	ID uuid.UUID

	// Name is the display name shown in the prompt and reply header.
	Name string

	// Role is the persona's role label.
	Role string

	transcript *Transcript
	client     llm.Client
}

// New creates an agent with the given persona and client. A non-empty
// systemPrompt seeds the transcript.
func New(name, role, systemPrompt string, client llm.Client) *Agent {
	return &Agent{
		ID:         uuid.New(),
		Name:       name,
		Role:       role,
		transcript: NewTranscript(systemPrompt),
		client:     client,
	}
}

// Send appends text as a user message, asks the remote model for a reply
// with the full transcript as context, and appends the reply on success.
//
// On cancellation the provisional user message is removed so the transcript
// is exactly as it was before the call, and the error satisfies
// errors.Is(err, llm.ErrCancelled) so the caller can suppress it. On
// transport failure the user message stays (the question was asked; no
// answer arrived).
func (a *Agent) Send(ctx context.Context, text string) (string, error) {
	a.transcript.Append(NewUserMessage(text))

	reply, err := a.client.Chat(ctx, a.wireMessages(), llm.DefaultOptions())
	if err != nil {
		if errors.Is(err, llm.ErrCancelled) {
			a.transcript.popIfLastUser()
			return "", fmt.Errorf("send %q: %w", a.Name, err)
		}
		return "", fmt.Errorf("send %q: %w", a.Name, err)
	}

	a.transcript.Append(NewAssistantMessage(reply))
	return reply, nil
}

// Cancel aborts the in-flight request, if any. Idempotent.
func (a *Agent) Cancel() {
	a.client.Cancel()
}

// History returns a copy of the transcript.
func (a *Agent) History() []Message {
	return a.transcript.Snapshot()
}

// Clear resets the transcript to the leading system message, if any.
func (a *Agent) Clear() {
	a.transcript.Clear()
}

// HistoryLen returns the number of transcript messages.
func (a *Agent) HistoryLen() int {
	return a.transcript.Len()
}

// ReplaceHistory swaps in a loaded transcript.
func (a *Agent) ReplaceHistory(messages []Message) {
	a.transcript.replace(messages)
}

// wireMessages converts the transcript snapshot to the client's wire type.
func (a *Agent) wireMessages() []llm.ChatMessage {
	snapshot := a.transcript.Snapshot()
	out := make([]llm.ChatMessage, len(snapshot))
	for i, m := range snapshot {
		out[i] = llm.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
