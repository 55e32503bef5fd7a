// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/troopy/troopy/internal/agent"
)

func newTestStore(t *testing.T) *TranscriptStore {
	t.Helper()
	store, err := NewTranscriptStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func TestTranscriptStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)

	messages := []agent.Message{
		agent.NewSystemMessage("be terse"),
		agent.NewUserMessage("2+2?"),
		agent.NewAssistantMessage("4"),
	}

	path, err := store.Save("math", messages)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !strings.HasSuffix(path, "math.json") {
		t.Errorf("path = %q, want a math.json suffix", path)
	}

	loaded, err := store.Load("math")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != len(messages) {
		t.Fatalf("loaded %d messages, want %d", len(loaded), len(messages))
	}
	for i := range messages {
		if loaded[i].Role != messages[i].Role || loaded[i].Content != messages[i].Content {
			t.Errorf("message %d = %+v, want %+v", i, loaded[i], messages[i])
		}
	}
}

func TestTranscriptStore_WireFormat(t *testing.T) {
	store := newTestStore(t)

	path, err := store.Save("fmt", []agent.Message{agent.NewUserMessage("hi")})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// The on-disk shape is an ordered array of {role, content}; timestamps
	// and other fields stay out of the interchange format.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(strings.TrimSpace(text), "[") {
		t.Errorf("transcript is not a JSON array: %s", text)
	}
	if strings.Contains(text, "created") || strings.Contains(text, "timestamp") {
		t.Errorf("interchange format leaked extra fields: %s", text)
	}
}

func TestTranscriptStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load("nope"); err == nil {
		t.Error("expected error for missing transcript")
	}
}

func TestTranscriptStore_LoadRejectsBadRole(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.BaseDir, "bad.json")
	os.WriteFile(path, []byte(`[{"role":"wizard","content":"zap"}]`), 0600)

	if _, err := store.Load("bad"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestTranscriptStore_LoadRejectsMisplacedSystem(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.BaseDir, "mid.json")
	os.WriteFile(path, []byte(`[{"role":"user","content":"hi"},{"role":"system","content":"late"}]`), 0600)

	if _, err := store.Load("mid"); err == nil {
		t.Error("expected error for a system message after index 0")
	}
}

func TestTranscriptStore_ExplicitPath(t *testing.T) {
	store := newTestStore(t)
	other := t.TempDir()
	explicit := filepath.Join(other, "elsewhere.json")

	path, err := store.Save(explicit, []agent.Message{agent.NewUserMessage("hi")})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if path != explicit {
		t.Errorf("path = %q, want %q", path, explicit)
	}
	if _, err := store.Load(explicit); err != nil {
		t.Errorf("Load by explicit path failed: %v", err)
	}
}
