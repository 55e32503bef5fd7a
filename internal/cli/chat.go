// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - The interactive chat shell.
//
// Reads one line at a time with liner, dispatches built-in commands, and
// forwards free text to the active agent. Every agent call is bracketed by
// arming and disarming the cancel coordinator, so the ESC key (read by a
// raw-mode watcher while the request blocks) or a SIGINT can abort it. A
// cancelled request leaves the transcript untouched and the shell ready.
//
// Interactive commands:
//   help              Show available commands
//   status            Show session status
//   context           Print the conversation history
//   clear             Clear the conversation (keeps the system prompt)
//   agents            List agents
//   agent <name>      Switch the active agent
//   save <file>       Save the transcript as JSON
//   load <file>       Load a transcript
//   exit, quit        Leave the shell
//   Esc               Cancel the request in flight
//   Ctrl+C            Clear the current input line
//   Ctrl+D            Leave the shell
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/troopy/troopy/internal/agent"
	"github.com/troopy/troopy/internal/config"
	"github.com/troopy/troopy/internal/interrupt"
	"github.com/troopy/troopy/internal/llm"
	"github.com/troopy/troopy/internal/storage"
	"github.com/troopy/troopy/internal/util"
)

// shellCommands feeds liner's word completion.
var shellCommands = []string{
	"help", "status", "context", "clear", "agents", "agent",
	"save", "load", "exit", "quit",
}

// =============================================================================
// INPUT
// =============================================================================

// ChatCLI wraps liner with persistent history and command completion.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates the input handler and loads prior history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string
		for _, cmd := range shellCommands {
			if strings.HasPrefix(cmd, strings.ToLower(prefix)) {
				out = append(out, cmd)
			}
		}
		return out
	})

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	cli.loadHistory()
	return cli
}

func (c *ChatCLI) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line with the given prompt, recording non-empty lines
// in the history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and releases the terminal.
func (c *ChatCLI) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession holds the state for one interactive shell run.
type ChatSession struct {
	Runtime     *agent.Runtime
	Coordinator *interrupt.Coordinator
	Store       *storage.TranscriptStore
	Config      *config.Config
	InputCLI    *ChatCLI
	Quiet       bool

	// ModelOverride is the -m flag; it wins over the config file even
	// across reloads.
	ModelOverride string

	StartTime time.Time
	Turns     int
	Cancelled int

	// processing is true while a request is in flight; the SIGINT handler
	// routes interrupts to the coordinator only then.
	processing atomic.Bool

	// cfgMu guards Config, which the reload watcher swaps from its own
	// goroutine.
	cfgMu sync.RWMutex
}

// NewChatSession builds a session from the global config and CLI args.
func NewChatSession(args Args) (*ChatSession, error) {
	cfg := config.Global()

	model := args.Model
	if model == "" {
		model = cfg.Model
	}

	runtime := agent.NewRuntime(func() llm.Client {
		return llm.NewOpenAIClient(cfg.APIURL, cfg.APIKey, model)
	})

	store, err := storage.NewTranscriptStore()
	if err != nil {
		return nil, fmt.Errorf("open transcript store: %w", err)
	}

	return &ChatSession{
		Runtime:       runtime,
		Coordinator:   interrupt.New(os.Stdin),
		Store:         store,
		Config:        cfg,
		Quiet:         args.Quiet,
		ModelOverride: args.Model,
		StartTime:     time.Now(),
	}, nil
}

// currentConfig returns the latest configuration, which may have been
// swapped in by the reload watcher.
func (s *ChatSession) currentConfig() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.Config
}

// applyConfig installs a reloaded configuration: the session's own copy for
// display and rendering decisions, and the agents' clients for the endpoint
// the next request hits. The -m override keeps precedence over the file.
func (s *ChatSession) applyConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	s.Config = cfg
	s.cfgMu.Unlock()

	model := s.ModelOverride
	if model == "" {
		model = cfg.Model
	}
	s.Runtime.Retarget(cfg.APIURL, cfg.APIKey, model)
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the interactive shell until exit/quit or end of input.
func HandleChat(args Args) error {
	session, err := NewChatSession(args)
	if err != nil {
		return err
	}

	if !IsTTY() {
		return errors.New("stdin is not a terminal; the chat shell needs interactive input")
	}

	if !session.Quiet {
		printWelcome(session)
	}

	// Pick up config edits without restarting the shell: the session and
	// every agent's client move to the new endpoint for later requests.
	if stopWatch, err := config.Watch(session.applyConfig); err == nil {
		defer stopWatch()
	}

	session.InputCLI = NewChatCLI()
	defer session.InputCLI.Close()

	// SIGINT during a request converges on the same cancel trigger as the
	// ESC watcher. At the prompt, liner owns Ctrl+C and clears the line.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if session.processing.Load() {
				session.Coordinator.Trigger()
			}
		}
	}()

	for {
		prompt := promptStyle.Render(fmt.Sprintf("[%s]>>> ", session.Runtime.Active().Name))
		input, err := session.InputCLI.ReadInput(prompt)
		if err != nil {
			if err == liner.ErrPromptAborted {
				// Ctrl+C clears the line and keeps the shell running.
				continue
			}
			// Ctrl+D or closed stdin: leave gracefully.
			fmt.Println()
			printGoodbye(session)
			return nil
		}

		keepGoing, err := session.dispatch(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
		if !keepGoing {
			printGoodbye(session)
			return nil
		}
	}
}

// dispatch routes one line of input. It returns false when the shell should
// exit. Command errors leave agent and transcript state untouched.
func (s *ChatSession) dispatch(input string) (bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return true, nil
	}

	fields := strings.Fields(input)
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "exit", "quit":
		return false, nil

	case "help":
		printHelp()
		return true, nil

	case "status":
		printStatus(s)
		return true, nil

	case "context":
		printContext(s.Runtime.Active())
		return true, nil

	case "clear":
		s.Runtime.Active().Clear()
		fmt.Println(commandStyle.Render("[Conversation cleared]"))
		return true, nil

	case "agents":
		printAgents(s)
		return true, nil

	case "agent":
		if len(args) != 1 {
			return true, errors.New("usage: agent <name>")
		}
		a, err := s.Runtime.Switch(args[0])
		if err != nil {
			return true, err
		}
		fmt.Printf("%s Switched to %s\n", commandStyle.Render("[OK]"), agentStyle.Render(a.Name))
		return true, nil

	case "save":
		if len(args) != 1 {
			return true, errors.New("usage: save <file>")
		}
		path, err := s.Store.Save(args[0], s.Runtime.Active().History())
		if err != nil {
			return true, err
		}
		fmt.Printf("%s Transcript saved to %s\n", commandStyle.Render("[OK]"), path)
		return true, nil

	case "load":
		if len(args) != 1 {
			return true, errors.New("usage: load <file>")
		}
		messages, err := s.Store.Load(args[0])
		if err != nil {
			return true, err
		}
		s.Runtime.Active().ReplaceHistory(messages)
		fmt.Printf("%s Loaded %d messages\n", commandStyle.Render("[OK]"), len(messages))
		return true, nil

	default:
		return true, s.askAgent(input)
	}
}

// askAgent forwards free text to the active agent with cancellation armed
// for the duration of the call.
func (s *ChatSession) askAgent(text string) error {
	active := s.Runtime.Active()

	s.processing.Store(true)
	defer s.processing.Store(false)

	if !s.Quiet {
		fmt.Fprintln(os.Stderr, statusStyle.Render("[Status]")+
			infoStyle.Render(" waiting for "+active.Name+" | press Esc to cancel"))
	}

	// The watcher owns the terminal until the reply resolves; Disarm
	// restores it before liner reads again, on every outcome.
	if err := s.Coordinator.Arm(active.Cancel); err != nil {
		return err
	}
	defer s.Coordinator.Disarm()

	reply, err := active.Send(context.Background(), text)
	if err != nil {
		if errors.Is(err, llm.ErrCancelled) {
			// User-initiated abort: not a fault, nothing to show but the
			// marker. The agent already unwound the transcript.
			s.Cancelled++
			fmt.Fprintln(os.Stderr, errorStyle.Render("\n[Request cancelled]"))
			return nil
		}
		return err
	}

	s.Turns++
	fmt.Println()
	fmt.Printf("%s\n", agentStyle.Render(active.Name+":"))
	displayReply(reply, s.currentConfig().UI.Markdown)
	fmt.Println()
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func printWelcome(s *ChatSession) {
	cfg := s.currentConfig()

	fmt.Println()
	fmt.Println(welcomeStyle.Render("troopy " + Version))
	fmt.Println(separatorStyle.Render(strings.Repeat("─", 30)))
	fmt.Printf("%s %s\n", infoStyle.Render("Model:"), commandStyle.Render(cfg.Model))
	fmt.Printf("%s %s\n", infoStyle.Render("Agent:"), agentStyle.Render(s.Runtime.Active().Name))
	if cfg.APIKey == "" {
		fmt.Println(warningStyle.Render("[Warning]") +
			infoStyle.Render(" no API key configured; set TROOPY_API_KEY or api_key in config.toml"))
	}
	fmt.Println()
	fmt.Println(hintStyle.Render("Type your message and press Enter. Commands: help, exit"))
	fmt.Println()
}

func printHelp() {
	fmt.Println()
	fmt.Println(headerStyle.Render("Available Commands"))
	fmt.Println(separatorStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"help", "Show this help"},
		{"status", "Show session status"},
		{"context", "Print the conversation history"},
		{"clear", "Clear the conversation history"},
		{"agents", "List available agents"},
		{"agent <name>", "Switch the active agent"},
		{"save <file>", "Save the transcript as JSON"},
		{"load <file>", "Load a transcript"},
		{"exit, quit", "Leave the shell"},
	}
	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-14s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(hintStyle.Render("Tip: Esc cancels a request in flight, Ctrl+D exits"))
	fmt.Println()
}

func printStatus(s *ChatSession) {
	elapsed := time.Since(s.StartTime).Round(time.Second)

	fmt.Println()
	fmt.Println(headerStyle.Render("Session Status"))
	fmt.Println(separatorStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()
	fmt.Printf("  %s %s\n", infoStyle.Render("Agent:"), agentStyle.Render(s.Runtime.Active().Name))
	cfg := s.currentConfig()
	fmt.Printf("  %s %s\n", infoStyle.Render("Model:"), commandStyle.Render(cfg.Model))
	fmt.Printf("  %s %s\n", infoStyle.Render("Endpoint:"), cfg.APIURL)
	fmt.Printf("  %s %s\n", infoStyle.Render("Duration:"), elapsed.String())
	fmt.Printf("  %s %d messages\n", infoStyle.Render("History:"), s.Runtime.Active().HistoryLen())
	fmt.Printf("  %s %d completed, %d cancelled\n", infoStyle.Render("Requests:"), s.Turns, s.Cancelled)
	fmt.Println()
}

// printContext prints the stored messages in order without mutating them.
func printContext(a *agent.Agent) {
	history := a.History()
	if len(history) == 0 {
		fmt.Println(infoStyle.Render("[No messages yet]"))
		return
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Conversation History"))
	fmt.Println(separatorStyle.Render(strings.Repeat("─", 25)))
	fmt.Println()
	for i, msg := range history {
		fmt.Printf("  %d. %s %s\n", i+1, agentStyle.Render(msg.Role+":"), msg.Content)
	}
	fmt.Println()
}

func printAgents(s *ChatSession) {
	active := s.Runtime.Active()

	fmt.Println()
	fmt.Println(headerStyle.Render("Agents"))
	fmt.Println(separatorStyle.Render(strings.Repeat("─", 10)))
	fmt.Println()
	for _, a := range s.Runtime.Agents() {
		marker := " "
		if a == active {
			marker = "*"
		}
		prompt := ""
		if history := a.History(); len(history) > 0 && history[0].Role == agent.RoleSystem {
			prompt = util.TruncateWidth(history[0].Content, 60)
		}
		// Pad by display width, not byte count, so wide names stay aligned.
		pad := 18 - util.StringWidth(a.Name)
		if pad < 2 {
			pad = 2
		}
		fmt.Printf("  %s %s%s%s\n", marker, agentStyle.Render(a.Name), strings.Repeat(" ", pad), infoStyle.Render(prompt))
	}
	fmt.Println()
}

func printGoodbye(s *ChatSession) {
	if s.Turns == 0 && s.Cancelled == 0 {
		fmt.Println(infoStyle.Render("Goodbye!"))
		return
	}

	elapsed := time.Since(s.StartTime).Round(time.Second)
	fmt.Println()
	fmt.Printf("%s %d turns, %d cancelled, %s\n",
		infoStyle.Render("Session:"), s.Turns, s.Cancelled, elapsed)
	fmt.Println(infoStyle.Render("Goodbye!"))
}
