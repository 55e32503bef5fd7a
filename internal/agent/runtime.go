// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/troopy/troopy/internal/llm"
)

// Persona describes a built-in agent configuration.
type Persona struct {
	Name         string
	Role         string
	SystemPrompt string
}

// BuiltinPersonas returns the persona set registered at startup. The first
// entry is the default active agent.
func BuiltinPersonas() []Persona {
	return []Persona{
		{
			Name: "PythonAssistant",
			Role: "assistant",
			SystemPrompt: "You are an expert Python programming assistant. " +
				"Answer questions precisely, prefer idiomatic solutions, and " +
				"include short runnable examples when they help.",
		},
		{
			Name: "Mr.YesOrNo",
			Role: "assistant",
			SystemPrompt: "No matter what you are asked, you answer only " +
				"\"yes\", \"no\", or \"or\". Say yes when you are certain it is " +
				"true, no when you are certain it is false, and or when you " +
				"cannot tell.",
		},
	}
}

// Runtime holds the agents created at startup and tracks the active one.
// It is constructed explicitly and passed to the shell loop; there is no
// package-level instance.
type Runtime struct {
	mu     sync.RWMutex
	agents []*Agent
	active *Agent
}

// NewRuntime creates the built-in agents, each with its own client from the
// factory, and activates the first one.
func NewRuntime(newClient func() llm.Client) *Runtime {
	rt := &Runtime{}
	for _, p := range BuiltinPersonas() {
		rt.agents = append(rt.agents, New(p.Name, p.Role, p.SystemPrompt, newClient()))
	}
	rt.active = rt.agents[0]
	return rt
}

// Active returns the agent currently receiving free-text input.
func (rt *Runtime) Active() *Agent {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.active
}

// Agents returns the registered agents, sorted by name.
func (rt *Runtime) Agents() []*Agent {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*Agent, len(rt.agents))
	copy(out, rt.agents)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// retargetable is the optional client capability of moving to a new
// endpoint at runtime.
type retargetable interface {
	SetTarget(apiBase, apiKey, model string)
}

// Retarget points every agent's client at a new endpoint, key, and model.
// Used on config reload; clients without the capability are left alone.
func (rt *Runtime) Retarget(apiBase, apiKey, model string) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, a := range rt.agents {
		if rc, ok := a.client.(retargetable); ok {
			rc.SetTarget(apiBase, apiKey, model)
		}
	}
}

// Switch activates the agent with the given name (case-insensitive).
func (rt *Runtime) Switch(name string) (*Agent, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, a := range rt.agents {
		if strings.EqualFold(a.Name, name) {
			rt.active = a
			return a, nil
		}
	}
	return nil, fmt.Errorf("no agent named %q", name)
}
