// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the troopy command line interface: argument
// parsing and the interactive chat shell.
package cli

import (
	"fmt"
	"os"
)

// Version information (set at build time).
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command identifies the top-level command to run.
type Command int

const (
	// CmdChat starts the interactive shell. It is the default.
	CmdChat Command = iota
	// CmdVersion prints version information.
	CmdVersion
	// CmdHelp prints usage.
	CmdHelp
)

// Args holds parsed command-line options.
type Args struct {
	// Model overrides the configured model name.
	Model string
	// Quiet suppresses the banner and status chatter.
	Quiet bool
}

// Parse reads os.Args and returns the command plus its options.
func Parse() (Command, Args) {
	return parseFrom(os.Args[1:])
}

func parseFrom(args []string) (Command, Args) {
	var parsed Args

	cmd := CmdChat
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "chat":
			cmd = CmdChat
		case "version", "-v", "--version":
			cmd = CmdVersion
		case "help", "-h", "--help":
			cmd = CmdHelp
		case "-m", "--model":
			if i+1 < len(args) {
				i++
				parsed.Model = args[i]
			}
		case "-q", "--quiet":
			parsed.Quiet = true
		default:
			fmt.Fprintf(os.Stderr, "unknown argument: %s\n\n", args[i])
			cmd = CmdHelp
		}
	}
	return cmd, parsed
}

// PrintUsage prints top-level usage to stdout.
func PrintUsage() {
	fmt.Println(`troopy - interactive LLM chat shell

Usage:
  troopy [chat] [flags]    Start the interactive shell (default)
  troopy version           Print version information
  troopy help              Show this help

Flags:
  -m, --model NAME   Override the configured model
  -q, --quiet        Skip the startup banner

Environment:
  TROOPY_API_URL         Chat completions base URL
  TROOPY_API_KEY         Bearer token for the endpoint
  TROOPY_DEFAULT_MODEL   Model name

Configuration is read from ~/.troopy/config.toml; environment
variables take precedence.`)
}

// PrintVersion prints version information to stdout.
func PrintVersion() {
	fmt.Printf("troopy %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}
