// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides transcript persistence for troopy.
//
// A transcript is stored as an ordered JSON array of {role, content}
// objects, the interchange format the shell's save/load commands use.
// Files land in ~/.troopy/transcripts unless an explicit path is given.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/troopy/troopy/internal/agent"
	"github.com/troopy/troopy/internal/util"
)

// storedMessage is the on-disk message shape.
type storedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TranscriptStore reads and writes transcripts under a base directory.
type TranscriptStore struct {
	// BaseDir anchors bare file names. Paths with a separator are used
	// as given.
	BaseDir string
}

// NewTranscriptStore creates a store rooted at ~/.troopy/transcripts.
func NewTranscriptStore() (*TranscriptStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return NewTranscriptStoreWithDir(filepath.Join(home, ".troopy", "transcripts"))
}

// NewTranscriptStoreWithDir creates a store rooted at baseDir.
func NewTranscriptStoreWithDir(baseDir string) (*TranscriptStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	return &TranscriptStore{BaseDir: baseDir}, nil
}

// Save writes messages to name atomically and returns the resolved path.
func (s *TranscriptStore) Save(name string, messages []agent.Message) (string, error) {
	path := s.resolve(name)

	stored := make([]storedMessage, len(messages))
	for i, m := range messages {
		stored[i] = storedMessage{Role: m.Role, Content: m.Content}
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}

// Load reads a transcript from name. Roles are validated; unknown roles or
// a system message anywhere but first reject the file rather than producing
// a transcript that violates the ordering invariant.
func (s *TranscriptStore) Load(name string) ([]agent.Message, error) {
	path := s.resolve(name)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var stored []storedMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}

	messages := make([]agent.Message, len(stored))
	for i, m := range stored {
		switch m.Role {
		case agent.RoleSystem:
			if i != 0 {
				return nil, fmt.Errorf("transcript %s: system message at index %d, want 0", path, i)
			}
		case agent.RoleUser, agent.RoleAssistant:
		default:
			return nil, fmt.Errorf("transcript %s: unknown role %q", path, m.Role)
		}
		messages[i] = agent.Message{Role: m.Role, Content: m.Content}
	}
	return messages, nil
}

// resolve anchors bare names in BaseDir and appends .json when no extension
// was given.
func (s *TranscriptStore) resolve(name string) string {
	path := name
	if !strings.ContainsRune(name, os.PathSeparator) {
		path = filepath.Join(s.BaseDir, name)
	}
	if filepath.Ext(path) == "" {
		path += ".json"
	}
	return path
}
